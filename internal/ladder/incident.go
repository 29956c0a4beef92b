package ladder

// 网关事件码（按订单 ID 上报，不带腿对信息）。
// 201/404 属于明确失败；202 是模糊取消——可能是真实撤单，
// 也可能只是 OCA 对腿成交后的正常副作用，需要结合对腿状态仲裁。
const (
	CodeOrderRejected  = 201 // 订单被拒
	CodeOrderCancelled = 202 // 订单被取消（原因模糊）
	CodeOrderNotFound  = 404 // 订单不存在
)

type codeClass int

const (
	codeBenign codeClass = iota
	codeHardFailure
	codeAmbiguousCancel
)

func classifyGatewayCode(code int) codeClass {
	switch code {
	case CodeOrderRejected, CodeOrderNotFound:
		return codeHardFailure
	case CodeOrderCancelled:
		return codeAmbiguousCancel
	}
	return codeBenign
}

// LegKind 腿类型
type LegKind string

const (
	LegTakeProfit LegKind = "take_profit"
	LegStop       LegKind = "stop"
)

type legRef struct {
	kind LegKind
	pair int
}

// selectIncidentPairLocked 把一条 (orderID, code) 网关通知仲裁为至多一个需要补救的腿对。
// 调用方必须持有 s.mu。
//
// 规则：
// - 未知订单 ID → 无事故（忽略）
// - 腿对已在 active ∪ inflight 集合中 → 无事故（去重，补救单飞）
// - 明确失败码（201/404）→ 无条件判定该腿对事故
// - 模糊取消码（202）→ 仅当同腿对的对腿尚未成交时判定事故；
//   对腿已成交说明取消是 OCA 的预期副作用，必须抑制
// - 其他码 → 无事故
//
// 注意：模糊取消的仲裁依赖推断的对腿成交状态（券商不上报取消与成交的因果关联），
// 这是一个刻意隔离在此处的启发式，便于后续单独收紧。
func (s *Session) selectIncidentPairLocked(orderID int64, code int) (int, bool) {
	ref, known := s.orderToPair[orderID]
	if !known {
		return 0, false
	}
	if s.activeIncidents[ref.pair] || s.inflightIncidents[ref.pair] {
		return 0, false
	}

	switch classifyGatewayCode(code) {
	case codeHardFailure:
		return ref.pair, true
	case codeAmbiguousCancel:
		p := s.pairs[ref.pair]
		switch ref.kind {
		case LegStop:
			if p.tpFilled || p.Phase == PairCompleted {
				return 0, false
			}
		case LegTakeProfit:
			if p.stopFilled || p.Phase == PairStopFilled {
				return 0, false
			}
		}
		return ref.pair, true
	}
	return 0, false
}
