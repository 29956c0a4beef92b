package ladder

import (
	"context"
	"sync"
	"testing"

	"github.com/betbot/ladderbot/internal/domain"
	"github.com/betbot/ladderbot/internal/ports"
)

// fakePort 记录所有订单通道调用，按序分配新订单 ID。
type fakePort struct {
	mu       sync.Mutex
	nextID   int64
	submits  []*domain.Order
	cancels  []int64
	replaces []replaceCall

	failSubmit bool
}

type replaceCall struct {
	orderID int64
	price   float64
	qty     float64
}

func newFakePort() *fakePort { return &fakePort{nextID: 1000} }

func (f *fakePort) SubmitOrder(_ context.Context, o *domain.Order) (*ports.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubmit {
		return nil, context.DeadlineExceeded
	}
	f.nextID++
	cp := *o
	cp.OrderID = f.nextID
	f.submits = append(f.submits, &cp)
	return &ports.OrderAck{OrderID: f.nextID, Status: domain.OrderStatusSubmitted}, nil
}

func (f *fakePort) CancelOrder(_ context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, orderID)
	return nil
}

func (f *fakePort) ReplaceOrder(_ context.Context, orderID int64, price, qty float64) (*ports.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaces = append(f.replaces, replaceCall{orderID: orderID, price: price, qty: qty})
	return &ports.OrderAck{OrderID: orderID, Status: domain.OrderStatusSubmitted}, nil
}

func newTestSession(t *testing.T, port ports.OrderPort) *Session {
	t.Helper()
	spec := domain.LadderOrderSpec{
		Account:        "DU1",
		Symbol:         "AAPL",
		Qty:            7,
		Side:           domain.SideBuy,
		EntryType:      domain.OrderTypeLimit,
		EntryPrice:     10,
		TakeProfits:    []float64{11, 12, 13},
		TakeProfitQtys: []int{4, 2, 1},
		StopPrice:      9,
		StopUpdates:    []float64{10, 11},
		ClientTag:      "breakout:AAPL:10",
	}
	s := NewSession(spec, domain.ModeDetached, port)
	// 腿对订单 ID：tp=1,3,5 stop=2,4,6
	for i := 0; i < 3; i++ {
		if err := s.BindPairOrders(i, int64(1+2*i), int64(2+2*i)); err != nil {
			t.Fatalf("BindPairOrders: %v", err)
		}
	}
	return s
}

func fill(id int64) *domain.Order {
	return &domain.Order{OrderID: id, Status: domain.OrderStatusFilled}
}

func TestSession_TakeProfitFillTriggersReprice(t *testing.T) {
	port := newFakePort()
	s := newTestSession(t, port)

	// 第一条止盈腿成交 → 里程碑 0：剩余腿对止损改到 10
	if err := s.OnOrderUpdate(context.Background(), fill(1)); err != nil {
		t.Fatalf("OnOrderUpdate: %v", err)
	}
	if len(port.replaces) != 2 {
		t.Fatalf("expected 2 stop replaces, got %d", len(port.replaces))
	}
	for i, rc := range port.replaces {
		if rc.price != 10 {
			t.Fatalf("replace %d price = %v, want 10", i, rc.price)
		}
	}
	if port.replaces[0].orderID != 4 || port.replaces[1].orderID != 6 {
		t.Fatalf("unexpected replace targets: %+v", port.replaces)
	}

	// 同一状态重放：里程碑已生效，不再改价
	if err := s.OnOrderUpdate(context.Background(), fill(1)); err != nil {
		t.Fatalf("OnOrderUpdate replay: %v", err)
	}
	if len(port.replaces) != 2 {
		t.Fatalf("replay must not reprice again, got %d replaces", len(port.replaces))
	}

	// 第二条止盈腿成交 → 里程碑 1：最后一腿止损改到 11
	if err := s.OnOrderUpdate(context.Background(), fill(3)); err != nil {
		t.Fatalf("OnOrderUpdate: %v", err)
	}
	if len(port.replaces) != 3 {
		t.Fatalf("expected 3 replaces total, got %d", len(port.replaces))
	}
	if rc := port.replaces[2]; rc.orderID != 6 || rc.price != 11 {
		t.Fatalf("milestone 1 replace wrong: %+v", rc)
	}

	// 最后一腿成交 → 会话终结
	if err := s.OnOrderUpdate(context.Background(), fill(5)); err != nil {
		t.Fatalf("OnOrderUpdate: %v", err)
	}
	if !s.Ended() {
		t.Fatalf("session should end after all take profits fill")
	}
}

func TestSession_StopFillTerminatesAndCancelsRemaining(t *testing.T) {
	port := newFakePort()
	s := newTestSession(t, port)

	// 腿对 0 的止损成交 → 终结会话，撤掉其余腿对的存活腿
	if err := s.OnOrderUpdate(context.Background(), fill(2)); err != nil {
		t.Fatalf("OnOrderUpdate: %v", err)
	}
	if !s.Ended() {
		t.Fatalf("session should end on stop fill")
	}
	// 其余两腿对各撤止盈 + 止损 = 4 次
	if len(port.cancels) != 4 {
		t.Fatalf("expected 4 cancels, got %d (%v)", len(port.cancels), port.cancels)
	}
}

func TestSession_IncidentRemediationSingleFlight(t *testing.T) {
	port := newFakePort()
	s := newTestSession(t, port)

	// 止损腿被拒（201）→ 无条件事故 → 重新挂止损
	msg := &ports.GatewayMessage{OrderID: 2, Code: CodeOrderRejected}
	if err := s.OnGatewayMessage(context.Background(), msg); err != nil {
		t.Fatalf("OnGatewayMessage: %v", err)
	}
	if len(port.submits) != 1 {
		t.Fatalf("expected 1 remediation submit, got %d", len(port.submits))
	}
	re := port.submits[0]
	if re.OrderType != domain.OrderTypeStop || re.StopPrice != 9 || re.Qty != 4 {
		t.Fatalf("remediation order wrong: %+v", re)
	}
	// 补救成功后腿对回到 OPEN，新订单 ID 被认领
	pairs := s.Pairs()
	if pairs[0].Phase != PairOpen {
		t.Fatalf("pair should be OPEN after remediation, got %s", pairs[0].Phase)
	}
	if !s.Owns(pairs[0].StopID) || pairs[0].StopID == 2 {
		t.Fatalf("stop leg should be rebound to new order id, got %d", pairs[0].StopID)
	}

	// 旧订单 ID 不再认领：同样的通知不会二次补救
	if err := s.OnGatewayMessage(context.Background(), msg); err != nil {
		t.Fatalf("OnGatewayMessage replay: %v", err)
	}
	if len(port.submits) != 1 {
		t.Fatalf("replay must not remediate again, got %d submits", len(port.submits))
	}
}

func TestSession_AmbiguousCancelSuppressedAfterOpposingFill(t *testing.T) {
	port := newFakePort()
	s := newTestSession(t, port)

	// 止盈腿先成交
	if err := s.OnOrderUpdate(context.Background(), fill(1)); err != nil {
		t.Fatalf("OnOrderUpdate: %v", err)
	}
	// 同腿对止损被取消（202）→ OCA 预期副作用，抑制
	if err := s.OnGatewayMessage(context.Background(), &ports.GatewayMessage{OrderID: 2, Code: CodeOrderCancelled}); err != nil {
		t.Fatalf("OnGatewayMessage: %v", err)
	}
	if len(port.submits) != 0 {
		t.Fatalf("OCA side-effect cancel must not remediate, got %d submits", len(port.submits))
	}

	// 对腿未完成的腿对：202 判定事故并补救
	if err := s.OnGatewayMessage(context.Background(), &ports.GatewayMessage{OrderID: 4, Code: CodeOrderCancelled}); err != nil {
		t.Fatalf("OnGatewayMessage: %v", err)
	}
	if len(port.submits) != 1 {
		t.Fatalf("real cancel should remediate, got %d submits", len(port.submits))
	}
}

func TestSession_UnknownOrderAndBenignCodeIgnored(t *testing.T) {
	port := newFakePort()
	s := newTestSession(t, port)

	if err := s.OnGatewayMessage(context.Background(), &ports.GatewayMessage{OrderID: 999, Code: CodeOrderRejected}); err != nil {
		t.Fatalf("unknown order: %v", err)
	}
	if err := s.OnGatewayMessage(context.Background(), &ports.GatewayMessage{OrderID: 2, Code: 2104}); err != nil {
		t.Fatalf("benign code: %v", err)
	}
	if len(port.submits) != 0 || len(port.cancels) != 0 {
		t.Fatalf("nothing should happen: submits=%d cancels=%d", len(port.submits), len(port.cancels))
	}
}

func TestSession_RemediationFailureKeepsIncident(t *testing.T) {
	port := newFakePort()
	port.failSubmit = true
	s := newTestSession(t, port)

	if err := s.OnGatewayMessage(context.Background(), &ports.GatewayMessage{OrderID: 2, Code: CodeOrderRejected}); err != nil {
		t.Fatalf("OnGatewayMessage: %v", err)
	}
	pairs := s.Pairs()
	if pairs[0].Phase != PairIncident {
		t.Fatalf("pair should stay INCIDENT after failed remediation, got %s", pairs[0].Phase)
	}

	// 下一条通知到达时重试（active/inflight 已清空）
	port.failSubmit = false
	if err := s.OnGatewayMessage(context.Background(), &ports.GatewayMessage{OrderID: 2, Code: CodeOrderRejected}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(port.submits) != 1 {
		t.Fatalf("retry should submit, got %d", len(port.submits))
	}
	if got := s.Pairs()[0].Phase; got != PairOpen {
		t.Fatalf("pair should be OPEN after retry, got %s", got)
	}
}
