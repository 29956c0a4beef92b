package protection

import (
	"reflect"
	"testing"

	"github.com/betbot/ladderbot/internal/domain"
)

const tagPrefix = "breakout:"

func tagFor(tags map[string]string) TagLookupFunc {
	return func(account, symbol string) (string, bool) {
		tag, ok := tags[account+"/"+symbol]
		return tag, ok
	}
}

func stopOrder(id int64, account, symbol string, remaining float64, tag string) *domain.Order {
	return &domain.Order{
		OrderID:   id,
		Account:   account,
		Symbol:    symbol,
		Side:      domain.SideSell,
		OrderType: domain.OrderTypeStop,
		Qty:       remaining,
		Remaining: remaining,
		StopPrice: 9,
		Status:    domain.OrderStatusSubmitted,
		ClientTag: tag,
	}
}

func TestReconcileCoverage_PartialGap(t *testing.T) {
	positions := []*domain.Position{
		{Account: "DU1", Symbol: "AAPL", Qty: 100, AvgCost: 10},
	}
	orders := []*domain.Order{
		stopOrder(101, "DU1", "AAPL", 70, "breakout:AAPL:10"),
	}
	tags := tagFor(map[string]string{"DU1/AAPL": "breakout:AAPL:10"})

	gaps, sum := ReconcileCoverage(positions, orders, tags, tagPrefix)
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(gaps))
	}
	g := gaps[0]
	if g.UncoveredQty != 30 {
		t.Fatalf("uncoveredQty = %v, want 30", g.UncoveredQty)
	}
	if g.ProtectedQty != 70 || g.PositionQty != 100 {
		t.Fatalf("qty figures wrong: %+v", g)
	}
	if !reflect.DeepEqual(g.StopOrderIDs, []int64{101}) {
		t.Fatalf("stopOrderIDs = %v, want [101]", g.StopOrderIDs)
	}
	if sum.GapCount != 1 || sum.Inspected != 1 || sum.Covered != 0 {
		t.Fatalf("summary wrong: %+v", sum)
	}
}

func TestReconcileCoverage_FullyCovered(t *testing.T) {
	positions := []*domain.Position{
		{Account: "DU1", Symbol: "AAPL", Qty: 100},
	}
	orders := []*domain.Order{
		stopOrder(101, "DU1", "AAPL", 100, "breakout:AAPL:10"),
	}
	tags := tagFor(map[string]string{"DU1/AAPL": "breakout:AAPL:10"})

	gaps, sum := ReconcileCoverage(positions, orders, tags, tagPrefix)
	if len(gaps) != 0 {
		t.Fatalf("expected no gaps, got %v", gaps)
	}
	if sum.Covered != 1 || sum.Inspected != 1 || sum.GapCount != 0 {
		t.Fatalf("summary wrong: %+v", sum)
	}
}

func TestReconcileCoverage_SymbolFallback(t *testing.T) {
	// 子订单上的 account 字符串偶尔不一致：按 symbol 兜底匹配
	positions := []*domain.Position{
		{Account: "DU1", Symbol: "AAPL", Qty: 50},
	}
	orders := []*domain.Order{
		stopOrder(201, "", "AAPL", 50, "breakout:AAPL:10"),
	}
	tags := tagFor(map[string]string{"DU1/AAPL": "breakout:AAPL:10"})

	gaps, sum := ReconcileCoverage(positions, orders, tags, tagPrefix)
	if len(gaps) != 0 || sum.Covered != 1 {
		t.Fatalf("symbol fallback should cover: gaps=%v sum=%+v", gaps, sum)
	}
}

func TestReconcileCoverage_IgnoresForeignPositions(t *testing.T) {
	positions := []*domain.Position{
		{Account: "DU1", Symbol: "MSFT", Qty: 10}, // 无 tag
		{Account: "DU1", Symbol: "TSLA", Qty: 10}, // tag 前缀不符
		{Account: "DU1", Symbol: "NVDA", Qty: 0},  // 无持仓
	}
	tags := tagFor(map[string]string{"DU1/TSLA": "manual:x"})

	gaps, sum := ReconcileCoverage(positions, nil, tags, tagPrefix)
	if len(gaps) != 0 || sum.Inspected != 0 {
		t.Fatalf("foreign positions must be skipped: gaps=%v sum=%+v", gaps, sum)
	}
}

func TestReconcileCoverage_InactiveAndWrongTypeOrdersExcluded(t *testing.T) {
	positions := []*domain.Position{
		{Account: "DU1", Symbol: "AAPL", Qty: 100},
	}
	cancelled := stopOrder(301, "DU1", "AAPL", 100, "breakout:AAPL:10")
	cancelled.Status = domain.OrderStatusCancelled
	limit := stopOrder(302, "DU1", "AAPL", 100, "breakout:AAPL:10")
	limit.OrderType = domain.OrderTypeLimit
	buyStop := stopOrder(303, "DU1", "AAPL", 100, "breakout:AAPL:10")
	buyStop.Side = domain.SideBuy

	tags := tagFor(map[string]string{"DU1/AAPL": "breakout:AAPL:10"})
	gaps, sum := ReconcileCoverage(positions, []*domain.Order{cancelled, limit, buyStop}, tags, tagPrefix)
	if len(gaps) != 1 || sum.GapCount != 1 {
		t.Fatalf("no qualifying stop: expected 1 gap, got %v (%+v)", gaps, sum)
	}
	if gaps[0].UncoveredQty != 100 {
		t.Fatalf("uncoveredQty = %v, want 100", gaps[0].UncoveredQty)
	}
}
