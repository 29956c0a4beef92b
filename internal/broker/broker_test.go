package broker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/betbot/ladderbot/internal/domain"
	"github.com/betbot/ladderbot/internal/ports"
)

func TestWireOrderToDomain(t *testing.T) {
	raw := `{
		"orderId": 42,
		"parentId": 40,
		"account": "DU100",
		"symbol": "AAPL",
		"side": "SELL",
		"orderType": "STP",
		"qty": "7",
		"filledQty": "0",
		"remaining": "7",
		"stopPrice": "9.50",
		"status": "Submitted",
		"clientTag": "breakout:AAPL:abc"
	}`
	var w wireOrder
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	o := w.toDomain()
	if o.OrderID != 42 || o.ParentID != 40 {
		t.Fatalf("订单 ID 解析异常: %+v", o)
	}
	if o.Side != domain.SideSell || o.OrderType != domain.OrderTypeStop {
		t.Fatalf("方向/类型解析异常: %+v", o)
	}
	if o.Remaining != 7 || o.StopPrice != 9.5 {
		t.Fatalf("十进制字段解析异常: remaining=%v stop=%v", o.Remaining, o.StopPrice)
	}
	if !o.IsActive() || !o.IsProtectiveStop() {
		t.Fatalf("谓词异常: %+v", o)
	}
}

func TestParseDecMalformed(t *testing.T) {
	if got := parseDec("not-a-number"); got != 0 {
		t.Fatalf("非法输入应解析为 0, got %v", got)
	}
	if got := parseDec(""); got != 0 {
		t.Fatalf("空输入应解析为 0, got %v", got)
	}
	if got := parseDec("10.25"); got != 10.25 {
		t.Fatalf("parseDec(10.25) = %v", got)
	}
}

type captureOrderHandler struct {
	orders []*domain.Order
}

func (c *captureOrderHandler) OnOrderUpdate(_ context.Context, o *domain.Order) error {
	c.orders = append(c.orders, o)
	return nil
}

type captureGatewayHandler struct {
	msgs []*ports.GatewayMessage
}

func (c *captureGatewayHandler) OnGatewayMessage(_ context.Context, m *ports.GatewayMessage) error {
	c.msgs = append(c.msgs, m)
	return nil
}

func TestDispatchOrderStatus(t *testing.T) {
	s := NewEventStream(Config{StreamURL: "ws://unused"})
	oh := &captureOrderHandler{}
	s.OnOrderUpdate(oh)

	s.dispatch(context.Background(), []byte(`{
		"type": "orderStatus",
		"payload": {"orderId": 7, "symbol": "AAPL", "side": "SELL", "orderType": "LMT", "remaining": "0", "filledQty": "4", "qty": "4", "status": "Filled"}
	}`))

	if len(oh.orders) != 1 {
		t.Fatalf("分发次数 = %d, want 1", len(oh.orders))
	}
	if oh.orders[0].OrderID != 7 || oh.orders[0].Status != domain.OrderStatusFilled {
		t.Fatalf("分发内容异常: %+v", oh.orders[0])
	}
}

func TestDispatchGatewayMessage(t *testing.T) {
	s := NewEventStream(Config{StreamURL: "ws://unused"})
	gh := &captureGatewayHandler{}
	s.OnGatewayMessage(gh)

	s.dispatch(context.Background(), []byte(`{
		"type": "gatewayMessage",
		"payload": {"orderId": 9, "code": 201, "text": "Order rejected - reason: margin"}
	}`))

	if len(gh.msgs) != 1 {
		t.Fatalf("分发次数 = %d, want 1", len(gh.msgs))
	}
	if gh.msgs[0].Code != 201 || gh.msgs[0].OrderID != 9 {
		t.Fatalf("分发内容异常: %+v", gh.msgs[0])
	}
}

func TestDispatchIgnoresUnknownAndMalformed(t *testing.T) {
	s := NewEventStream(Config{StreamURL: "ws://unused"})
	oh := &captureOrderHandler{}
	s.OnOrderUpdate(oh)

	s.dispatch(context.Background(), []byte(`{"type": "heartbeat"}`))
	s.dispatch(context.Background(), []byte(`not json`))

	if len(oh.orders) != 0 {
		t.Fatalf("未知/非法消息不应分发: %d", len(oh.orders))
	}
}
