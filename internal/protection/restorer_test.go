package protection

import (
	"testing"

	"github.com/betbot/ladderbot/internal/domain"
)

func tpOrder(id int64, account, symbol string, remaining float64, tag string) *domain.Order {
	return &domain.Order{
		OrderID:    id,
		Account:    account,
		Symbol:     symbol,
		Side:       domain.SideSell,
		OrderType:  domain.OrderTypeLimit,
		Qty:        remaining,
		Remaining:  remaining,
		LimitPrice: 11,
		Status:     domain.OrderStatusSubmitted,
		ClientTag:  tag,
	}
}

func TestRestoreSessions_ProtectedDetached70(t *testing.T) {
	positions := []*domain.Position{
		{Account: "DU1", Symbol: "AAPL", Qty: 100},
	}
	orders := []*domain.Order{
		stopOrder(101, "DU1", "AAPL", 100, "breakout:AAPL:10"),
		tpOrder(102, "DU1", "AAPL", 70, "breakout:AAPL:10"),
		tpOrder(103, "DU1", "AAPL", 30, "breakout:AAPL:10"),
	}
	tags := tagFor(map[string]string{"DU1/AAPL": "breakout:AAPL:10"})

	restored, sum := RestoreSessions(positions, orders, tags, nil, tagPrefix)
	if len(restored) != 1 {
		t.Fatalf("expected 1 restored session, got %d", len(restored))
	}
	rs := restored[0]
	if rs.State != StateProtected {
		t.Fatalf("state = %s, want protected (reason=%s)", rs.State, rs.Reason)
	}
	if rs.Mode != domain.ModeDetached70 {
		t.Fatalf("mode = %s, want detached70", rs.Mode)
	}
	if rs.ProtectedQty != 100 {
		t.Fatalf("protectedQty = %v, want 100", rs.ProtectedQty)
	}
	if len(rs.TakeProfitOrderIDs) != 2 || len(rs.StopOrderIDs) != 1 {
		t.Fatalf("leg ids wrong: %+v", rs)
	}
	if sum.Restored != 1 || sum.Protected != 1 || sum.Unprotected != 0 {
		t.Fatalf("summary wrong: %+v", sum)
	}
}

func TestRestoreSessions_NoStopOrders(t *testing.T) {
	positions := []*domain.Position{
		{Account: "DU1", Symbol: "AAPL", Qty: 100},
	}
	orders := []*domain.Order{
		tpOrder(102, "DU1", "AAPL", 70, "breakout:AAPL:10"),
	}
	tags := tagFor(map[string]string{"DU1/AAPL": "breakout:AAPL:10"})

	restored, sum := RestoreSessions(positions, orders, tags, nil, tagPrefix)
	if len(restored) != 1 {
		t.Fatalf("expected 1 restored session, got %d", len(restored))
	}
	rs := restored[0]
	if rs.State != StateUnprotected || rs.Reason != ReasonNoStopOrders {
		t.Fatalf("expected unprotected/no_stop_orders, got %s/%s", rs.State, rs.Reason)
	}
	if sum.Unprotected != 1 {
		t.Fatalf("summary wrong: %+v", sum)
	}
}

func TestRestoreSessions_InsufficientStopQty(t *testing.T) {
	positions := []*domain.Position{
		{Account: "DU1", Symbol: "AAPL", Qty: 100},
	}
	orders := []*domain.Order{
		stopOrder(101, "DU1", "AAPL", 40, "breakout:AAPL:10"),
	}
	tags := tagFor(map[string]string{"DU1/AAPL": "breakout:AAPL:10"})

	restored, _ := RestoreSessions(positions, orders, tags, nil, tagPrefix)
	if len(restored) != 1 {
		t.Fatalf("expected 1 restored session, got %d", len(restored))
	}
	rs := restored[0]
	if rs.State != StateUnprotected || rs.Reason != ReasonInsufficientStops {
		t.Fatalf("expected unprotected/insufficient_stop_qty, got %s/%s", rs.State, rs.Reason)
	}
}

func TestRestoreSessions_ModeFromLookupWinsOverObserved(t *testing.T) {
	positions := []*domain.Position{
		{Account: "DU1", Symbol: "AAPL", Qty: 100},
	}
	// 观察到 1 条止盈腿（其余已成交），lookup 提示原始会话是 3 腿
	orders := []*domain.Order{
		stopOrder(101, "DU1", "AAPL", 100, "breakout:AAPL:10"),
		tpOrder(102, "DU1", "AAPL", 10, "breakout:AAPL:10"),
	}
	tags := tagFor(map[string]string{"DU1/AAPL": "breakout:AAPL:10"})
	tpCount := func(account, symbol string) (int, bool) { return 3, true }

	restored, _ := RestoreSessions(positions, orders, tags, tpCount, tagPrefix)
	if restored[0].Mode != domain.ModeDetached {
		t.Fatalf("mode = %s, want detached (from lookup)", restored[0].Mode)
	}

	// lookup 缺失时回退到观察腿数
	restored, _ = RestoreSessions(positions, orders, tags, nil, tagPrefix)
	if restored[0].Mode != domain.ModeDetached {
		t.Fatalf("1 observed leg should fall back to detached, got %s", restored[0].Mode)
	}
}
