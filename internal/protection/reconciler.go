// Package protection contains the stateless batch primitives that run after a
// broker reconnect: coverage reconciliation (detect positions no longer fully
// protected by a live stop) and session restoration (rebuild ladder session
// records from broker-side orders when local state has been lost).
//
// Both operate on already-fetched snapshots, submit nothing themselves, and
// never fail on malformed snapshot data — absent fields are treated as "not
// found" / zero and surface as a gap or an unprotected session instead of an
// error. Remediation policy (automatic vs. operator-triggered) lives above.
package protection

import (
	"strings"

	"github.com/betbot/ladderbot/internal/domain"
)

// TagLookupFunc resolves which breakout session opened a position.
type TagLookupFunc func(account, symbol string) (string, bool)

// Gap reports one under-protected position.
type Gap struct {
	Account      string
	Symbol       string
	ClientTag    string
	PositionQty  float64
	ProtectedQty float64
	UncoveredQty float64
	StopOrderIDs []int64
}

// CoverageSummary aggregates one reconciliation run.
type CoverageSummary struct {
	Inspected int
	Covered   int
	GapCount  int
}

type stopIndex struct {
	byAccountSymbol map[[2]string][]*domain.Order
	bySymbol        map[string][]*domain.Order
}

// indexProtectiveStops indexes SELL-side, active, protective-stop orders carrying
// the required tag prefix by (account, symbol), and by symbol alone as fallback.
//
// The symbol-only fallback exists because broker-reported account strings on
// child orders are occasionally inconsistent. It is a documented tolerance, not
// a correctness guarantee: when the same symbol trades under multiple accounts
// with overlapping tags it can overcount protection.
func indexProtectiveStops(orders []*domain.Order, requiredTagPrefix string) *stopIndex {
	idx := &stopIndex{
		byAccountSymbol: make(map[[2]string][]*domain.Order),
		bySymbol:        make(map[string][]*domain.Order),
	}
	for _, o := range orders {
		if o == nil || o.Side != domain.SideSell || !o.IsActive() || !o.IsProtectiveStop() {
			continue
		}
		if !strings.HasPrefix(o.ClientTag, requiredTagPrefix) {
			continue
		}
		idx.byAccountSymbol[[2]string{o.Account, o.Symbol}] = append(idx.byAccountSymbol[[2]string{o.Account, o.Symbol}], o)
		idx.bySymbol[o.Symbol] = append(idx.bySymbol[o.Symbol], o)
	}
	return idx
}

func (idx *stopIndex) lookup(account, symbol string) []*domain.Order {
	if stops := idx.byAccountSymbol[[2]string{account, symbol}]; len(stops) > 0 {
		return stops
	}
	return idx.bySymbol[symbol]
}

// ReconcileCoverage compares current positions against current active orders and
// reports protection gaps. Detection only: the caller decides what to do with
// each gap (publish events, journal, page an operator).
func ReconcileCoverage(positions []*domain.Position, activeOrders []*domain.Order,
	tagLookup TagLookupFunc, requiredTagPrefix string) ([]Gap, CoverageSummary) {

	idx := indexProtectiveStops(activeOrders, requiredTagPrefix)

	var gaps []Gap
	var sum CoverageSummary
	for _, pos := range positions {
		if pos == nil || !pos.HasQty() {
			continue
		}
		tag, ok := tagLookup(pos.Account, pos.Symbol)
		if !ok || !strings.HasPrefix(tag, requiredTagPrefix) {
			continue
		}
		sum.Inspected++

		var protected float64
		var stopIDs []int64
		for _, o := range idx.lookup(pos.Account, pos.Symbol) {
			protected += o.Remaining
			stopIDs = append(stopIDs, o.OrderID)
		}

		uncovered := pos.Qty - protected
		if uncovered < 0 {
			uncovered = 0
		}
		if uncovered > domain.QtyEpsilon {
			sum.GapCount++
			gaps = append(gaps, Gap{
				Account:      pos.Account,
				Symbol:       pos.Symbol,
				ClientTag:    tag,
				PositionQty:  pos.Qty,
				ProtectedQty: protected,
				UncoveredQty: uncovered,
				StopOrderIDs: stopIDs,
			})
		} else {
			sum.Covered++
		}
	}
	return gaps, sum
}
