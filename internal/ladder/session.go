// Package ladder 实现阶梯会话状态机：每个在场的突破持仓一个实例，
// 跟踪 (止盈腿, 止损腿) OCA 配对、按里程碑恰好一次地改价止损、
// 并把模糊的券商事故通知仲裁为单飞的补救动作。
package ladder

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/ladderbot/internal/domain"
	"github.com/betbot/ladderbot/internal/ports"
)

var log = logrus.WithField("component", "ladder_session")

// PairPhase 腿对状态。只向前迁移：
// OPEN → COMPLETED（止盈成交）/ STOP_FILLED（止损成交，终结整个会话）/
// INCIDENT（券商拒单或取消，需补救）→ 补救成功后回到 OPEN。
type PairPhase string

const (
	PairOpen       PairPhase = "open"
	PairCompleted  PairPhase = "completed"
	PairStopFilled PairPhase = "stop_filled"
	PairIncident   PairPhase = "incident"
)

// PairState 一个 (止盈腿, 止损腿) 配对
type PairState struct {
	Index           int
	Qty             int
	TakeProfitPrice float64
	StopPrice       float64 // 当前生效的止损价，随里程碑改价更新
	TakeProfitID    int64
	StopID          int64
	Phase           PairPhase

	tpFilled   bool
	stopFilled bool
}

// Session 阶梯会话。生命周期与持仓一致：全部退出或显式取消后销毁。
// 所有内部状态仅在 mu 下修改；券商调用一律在锁外执行（见 runActions）。
type Session struct {
	Account   string
	Symbol    string
	ClientTag string
	Mode      domain.ExecutionMode

	spec domain.LadderOrderSpec
	port ports.OrderPort

	mu                sync.Mutex
	pairs             []*PairState
	orderToPair       map[int64]legRef
	milestones        []domain.RepriceMilestone
	applied           []bool // 与 milestones 等长的固定数组，创建后不再扩缩
	completed         map[int]bool
	activeIncidents   map[int]bool // 补救进行中的腿对
	inflightIncidents map[int]bool // 补救已排定但尚未开始的腿对
	ended             bool
}

// NewSession 按校验过的请求创建会话。腿对订单 ID 由调用方在下单后通过 BindPairOrders 绑定。
func NewSession(spec domain.LadderOrderSpec, mode domain.ExecutionMode, port ports.OrderPort) *Session {
	s := &Session{
		Account:           spec.Account,
		Symbol:            spec.Symbol,
		ClientTag:         spec.ClientTag,
		Mode:              mode,
		spec:              spec,
		port:              port,
		orderToPair:       make(map[int64]legRef),
		completed:         make(map[int]bool),
		activeIncidents:   make(map[int]bool),
		inflightIncidents: make(map[int]bool),
	}
	for i := range spec.TakeProfits {
		s.pairs = append(s.pairs, &PairState{
			Index:           i,
			Qty:             spec.TakeProfitQtys[i],
			TakeProfitPrice: spec.TakeProfits[i],
			StopPrice:       spec.StopPrice,
			Phase:           PairOpen,
		})
	}
	s.milestones = MilestonesFromStopUpdates(spec.StopUpdates, len(s.pairs))
	s.applied = make([]bool, len(s.milestones))
	return s
}

// NewSessionFromLegs 重连恢复路径：用券商侧存活的腿订单重建会话。
// 改价序列在进程重启中丢失，恢复后的会话只维持保护，不再执行里程碑改价。
func NewSessionFromLegs(account, symbol, tag string, mode domain.ExecutionMode,
	takeProfits, stops []*domain.Order, port ports.OrderPort) *Session {

	s := &Session{
		Account:           account,
		Symbol:            symbol,
		ClientTag:         tag,
		Mode:              mode,
		port:              port,
		orderToPair:       make(map[int64]legRef),
		completed:         make(map[int]bool),
		activeIncidents:   make(map[int]bool),
		inflightIncidents: make(map[int]bool),
	}
	n := len(takeProfits)
	if len(stops) > n {
		n = len(stops)
	}
	for i := 0; i < n; i++ {
		p := &PairState{Index: i, Phase: PairOpen}
		if i < len(takeProfits) {
			tp := takeProfits[i]
			p.TakeProfitID = tp.OrderID
			p.TakeProfitPrice = tp.LimitPrice
			p.Qty = int(tp.Remaining + 0.5)
			s.orderToPair[tp.OrderID] = legRef{kind: LegTakeProfit, pair: i}
		}
		if i < len(stops) {
			st := stops[i]
			p.StopID = st.OrderID
			p.StopPrice = st.StopPrice
			if p.Qty == 0 {
				p.Qty = int(st.Remaining + 0.5)
			}
			s.orderToPair[st.OrderID] = legRef{kind: LegStop, pair: i}
		}
		s.pairs = append(s.pairs, p)
	}
	s.applied = make([]bool, 0)
	return s
}

// BindPairOrders 把券商返回的腿订单 ID 绑定到腿对。
func (s *Session) BindPairOrders(pairIndex int, takeProfitID, stopID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pairIndex < 0 || pairIndex >= len(s.pairs) {
		return fmt.Errorf("pair index %d out of range (pairs=%d)", pairIndex, len(s.pairs))
	}
	p := s.pairs[pairIndex]
	p.TakeProfitID = takeProfitID
	p.StopID = stopID
	s.orderToPair[takeProfitID] = legRef{kind: LegTakeProfit, pair: pairIndex}
	s.orderToPair[stopID] = legRef{kind: LegStop, pair: pairIndex}
	return nil
}

// Owns 该会话是否认领这个订单 ID（services 用于路由事件）。
func (s *Session) Owns(orderID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.orderToPair[orderID]
	return ok
}

// Ended 会话是否已终结（止损成交或全部止盈完成）。
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Pairs 返回腿对状态快照（只读副本）。
func (s *Session) Pairs() []PairState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PairState, 0, len(s.pairs))
	for _, p := range s.pairs {
		out = append(out, *p)
	}
	return out
}

// ---------------------------------------------------------------------------
// 事件入口。关键不变量（锁作用域规则）：
// 券商 cancel/replace 可能同步触发新的状态回调并重入同一把锁，
// 因此所有动作一律「锁内计算、锁外执行」。
// ---------------------------------------------------------------------------

type actionKind int

const (
	actReplaceStop actionKind = iota
	actCancelOrder
)

type action struct {
	kind    actionKind
	orderID int64
	price   float64
	qty     float64
}

// OnOrderUpdate 处理一条订单状态更新（到达顺序处理，不重排不合批）。
func (s *Session) OnOrderUpdate(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return nil
	}
	s.mu.Lock()
	acts := s.applyOrderUpdateLocked(o)
	s.mu.Unlock()

	s.runActions(ctx, acts)
	return nil
}

func (s *Session) applyOrderUpdateLocked(o *domain.Order) []action {
	ref, known := s.orderToPair[o.OrderID]
	if !known || s.ended {
		return nil
	}
	if o.Status != domain.OrderStatusFilled {
		return nil
	}
	p := s.pairs[ref.pair]

	switch ref.kind {
	case LegTakeProfit:
		if p.tpFilled {
			return nil
		}
		p.tpFilled = true
		p.Phase = PairCompleted
		s.completed[ref.pair] = true
		log.Infof("✅ [%s %s] 止盈腿成交: pair=%d qty=%d price=%.2f", s.Symbol, s.ClientTag, ref.pair, p.Qty, p.TakeProfitPrice)

		var acts []action
		for _, d := range CollectRepriceDecisions(s.milestones, s.applied, s.completed) {
			for _, t := range d.TargetPairs {
				tp := s.pairs[t]
				if tp.Phase == PairCompleted || tp.Phase == PairStopFilled || tp.StopID == 0 {
					continue
				}
				tp.StopPrice = d.NewStopPrice
				acts = append(acts, action{kind: actReplaceStop, orderID: tp.StopID, price: d.NewStopPrice, qty: float64(tp.Qty)})
			}
			log.Infof("🪜 [%s %s] 里程碑 %d 触发止损改价: newStop=%.2f targets=%v",
				s.Symbol, s.ClientTag, d.MilestoneIndex, d.NewStopPrice, d.TargetPairs)
		}
		s.updateEndedLocked()
		return acts

	case LegStop:
		if p.stopFilled {
			return nil
		}
		p.stopFilled = true
		p.Phase = PairStopFilled
		s.ended = true
		log.Warnf("🛑 [%s %s] 保护性止损成交: pair=%d qty=%d，终结会话", s.Symbol, s.ClientTag, ref.pair, p.Qty)

		// 撤掉其余腿对仍存活的腿（本腿对的止盈由 OCA 撤销，这里不重复撤）
		var acts []action
		for _, other := range s.pairs {
			if other.Index == ref.pair {
				continue
			}
			if !other.tpFilled && other.TakeProfitID != 0 && other.Phase != PairCompleted {
				acts = append(acts, action{kind: actCancelOrder, orderID: other.TakeProfitID})
			}
			if !other.stopFilled && other.StopID != 0 && other.Phase != PairStopFilled {
				acts = append(acts, action{kind: actCancelOrder, orderID: other.StopID})
			}
		}
		return acts
	}
	return nil
}

func (s *Session) updateEndedLocked() {
	for _, p := range s.pairs {
		if p.Phase != PairCompleted {
			return
		}
	}
	s.ended = true
	log.Infof("🏁 [%s %s] 全部止盈腿完成，会话终结", s.Symbol, s.ClientTag)
}

func (s *Session) runActions(ctx context.Context, acts []action) {
	for _, a := range acts {
		switch a.kind {
		case actReplaceStop:
			if _, err := s.port.ReplaceOrder(ctx, a.orderID, a.price, a.qty); err != nil {
				// 改价被拒时券商会回报 201，走事故仲裁按当前 StopPrice 重新挂腿
				log.Warnf("⚠️ [%s %s] 止损改价失败: orderID=%d newStop=%.2f err=%v", s.Symbol, s.ClientTag, a.orderID, a.price, err)
			}
		case actCancelOrder:
			if err := s.port.CancelOrder(ctx, a.orderID); err != nil {
				log.Warnf("⚠️ [%s %s] 撤单失败: orderID=%d err=%v", s.Symbol, s.ClientTag, a.orderID, err)
			}
		}
	}
}

// OnGatewayMessage 处理一条网关错误/取消通知，必要时执行单飞补救。
func (s *Session) OnGatewayMessage(ctx context.Context, msg *ports.GatewayMessage) error {
	if msg == nil {
		return nil
	}
	s.mu.Lock()
	pairIdx, ok := s.selectIncidentPairLocked(msg.OrderID, msg.Code)
	if !ok || s.ended {
		s.mu.Unlock()
		return nil
	}
	ref := s.orderToPair[msg.OrderID]
	p := s.pairs[pairIdx]
	p.Phase = PairIncident
	// 排定补救：先进 inflight，开始执行时转 active。
	// selectIncidentPairLocked 同时查两个集合，排定未开始期间的重复通知也会被去重。
	s.inflightIncidents[pairIdx] = true
	resubmit := s.remediationOrderLocked(p, ref.kind)
	s.mu.Unlock()

	log.Warnf("🚨 [%s %s] 腿对事故: pair=%d leg=%s orderID=%d code=%d，执行补救", s.Symbol, s.ClientTag, pairIdx, ref.kind, msg.OrderID, msg.Code)
	s.remediate(ctx, pairIdx, ref.kind, msg.OrderID, resubmit)
	return nil
}

// remediationOrderLocked 构造补救订单：被拒/被撤的腿按当前腿对参数重新提交。
// 失败的旧订单在券商侧已死，无需先撤。
func (s *Session) remediationOrderLocked(p *PairState, kind LegKind) *domain.Order {
	o := &domain.Order{
		Account:   s.Account,
		Symbol:    s.Symbol,
		Side:      domain.SideSell,
		Qty:       float64(p.Qty),
		Remaining: float64(p.Qty),
		ClientTag: s.ClientTag,
	}
	if kind == LegStop {
		o.OrderType = domain.OrderTypeStop
		o.StopPrice = p.StopPrice
	} else {
		o.OrderType = domain.OrderTypeLimit
		o.LimitPrice = p.TakeProfitPrice
	}
	return o
}

func (s *Session) remediate(ctx context.Context, pairIdx int, kind LegKind, oldOrderID int64, resubmit *domain.Order) {
	s.mu.Lock()
	delete(s.inflightIncidents, pairIdx)
	s.activeIncidents[pairIdx] = true
	s.mu.Unlock()

	// 券商调用在锁外：SubmitOrder 可能同步触发状态回调重入会话锁
	ack, err := s.port.SubmitOrder(ctx, resubmit)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeIncidents, pairIdx)
	if err != nil {
		// 留在 INCIDENT，下一条相关通知到达时重试；本层没有重试计数器
		log.Errorf("❌ [%s %s] 补救失败: pair=%d leg=%s err=%v", s.Symbol, s.ClientTag, pairIdx, kind, err)
		return
	}
	delete(s.orderToPair, oldOrderID)
	s.orderToPair[ack.OrderID] = legRef{kind: kind, pair: pairIdx}
	p := s.pairs[pairIdx]
	if kind == LegStop {
		p.StopID = ack.OrderID
	} else {
		p.TakeProfitID = ack.OrderID
	}
	p.Phase = PairOpen
	log.Infof("🔁 [%s %s] 补救完成: pair=%d leg=%s newOrderID=%d", s.Symbol, s.ClientTag, pairIdx, kind, ack.OrderID)
}
