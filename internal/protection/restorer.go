package protection

import (
	"strings"

	"github.com/betbot/ladderbot/internal/domain"
)

// Session state after restoration.
const (
	StateProtected   = "protected"
	StateUnprotected = "unprotected"
)

// Unprotected reason codes.
const (
	ReasonNoStopOrders      = "no_stop_orders"
	ReasonInsufficientStops = "insufficient_stop_qty"
)

// TakeProfitCountFunc is an optional hint: how many take-profit legs the
// originating session was created with.
type TakeProfitCountFunc func(account, symbol string) (int, bool)

// RestoredSession is one reconstructed ladder session record.
type RestoredSession struct {
	Account            string
	Symbol             string
	ClientTag          string
	Mode               domain.ExecutionMode
	State              string
	Reason             string
	PositionQty        float64
	ProtectedQty       float64
	StopOrderIDs       []int64
	TakeProfitOrderIDs []int64
	StopOrders         []*domain.Order
	TakeProfitOrders   []*domain.Order
}

// RestoreSummary aggregates one restoration run.
type RestoreSummary struct {
	Restored    int
	Protected   int
	Unprotected int
}

// RestoreSessions reconstructs ladder session records from broker-side orders
// and positions after a reconnect, when local in-memory session state has been
// lost, and classifies each as protected/unprotected.
//
// Mode inference: an expected take-profit count from the lookup wins
// (2→detached70, 3→detached); otherwise fall back to the count of observed
// live take-profit legs (2→detached70, else detached).
func RestoreSessions(positions []*domain.Position, activeOrders []*domain.Order,
	tagLookup TagLookupFunc, tpCountLookup TakeProfitCountFunc,
	requiredTagPrefix string) ([]RestoredSession, RestoreSummary) {

	// Index active SELL orders with the required tag prefix by (account, symbol, tag),
	// with the same symbol-only fallback as the reconciler (documented tolerance).
	byAccount := make(map[[3]string][]*domain.Order)
	bySymbolTag := make(map[[2]string][]*domain.Order)
	for _, o := range activeOrders {
		if o == nil || o.Side != domain.SideSell || !o.IsActive() {
			continue
		}
		if !strings.HasPrefix(o.ClientTag, requiredTagPrefix) {
			continue
		}
		byAccount[[3]string{o.Account, o.Symbol, o.ClientTag}] = append(byAccount[[3]string{o.Account, o.Symbol, o.ClientTag}], o)
		bySymbolTag[[2]string{o.Symbol, o.ClientTag}] = append(bySymbolTag[[2]string{o.Symbol, o.ClientTag}], o)
	}

	var out []RestoredSession
	var sum RestoreSummary
	for _, pos := range positions {
		if pos == nil || !pos.HasQty() {
			continue
		}
		tag, ok := tagLookup(pos.Account, pos.Symbol)
		if !ok || !strings.HasPrefix(tag, requiredTagPrefix) {
			continue
		}

		legs := byAccount[[3]string{pos.Account, pos.Symbol, tag}]
		if len(legs) == 0 {
			legs = bySymbolTag[[2]string{pos.Symbol, tag}]
		}

		rs := RestoredSession{
			Account:     pos.Account,
			Symbol:      pos.Symbol,
			ClientTag:   tag,
			PositionQty: pos.Qty,
		}
		for _, o := range legs {
			if o.IsProtectiveStop() {
				rs.StopOrders = append(rs.StopOrders, o)
				rs.StopOrderIDs = append(rs.StopOrderIDs, o.OrderID)
				rs.ProtectedQty += o.Remaining
			} else if o.IsTakeProfit() {
				rs.TakeProfitOrders = append(rs.TakeProfitOrders, o)
				rs.TakeProfitOrderIDs = append(rs.TakeProfitOrderIDs, o.OrderID)
			}
		}

		rs.Mode = inferRestoredMode(pos.Account, pos.Symbol, len(rs.TakeProfitOrders), tpCountLookup)

		switch {
		case len(rs.StopOrders) == 0:
			rs.State = StateUnprotected
			rs.Reason = ReasonNoStopOrders
			sum.Unprotected++
		case rs.ProtectedQty+domain.QtyEpsilon < pos.Qty:
			rs.State = StateUnprotected
			rs.Reason = ReasonInsufficientStops
			sum.Unprotected++
		default:
			rs.State = StateProtected
			sum.Protected++
		}
		sum.Restored++
		out = append(out, rs)
	}
	return out, sum
}

func inferRestoredMode(account, symbol string, observedTPLegs int, tpCountLookup TakeProfitCountFunc) domain.ExecutionMode {
	if tpCountLookup != nil {
		if n, ok := tpCountLookup(account, symbol); ok {
			if n == 2 {
				return domain.ModeDetached70
			}
			if n == 3 {
				return domain.ModeDetached
			}
		}
	}
	if observedTPLegs == 2 {
		return domain.ModeDetached70
	}
	return domain.ModeDetached
}
