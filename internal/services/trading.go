// Package services 把核心引擎（allocation / ladder / protection）与外部协作方
// （订单通道、快照查询、标签存储、审计日志）装配为一个交易服务。
// 每条券商连接一个实例，随连接创建与销毁，不使用进程级全局状态。
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ladderbot/internal/allocation"
	"github.com/betbot/ladderbot/internal/domain"
	"github.com/betbot/ladderbot/internal/events"
	"github.com/betbot/ladderbot/internal/ladder"
	"github.com/betbot/ladderbot/internal/ports"
)

var log = logrus.WithField("component", "trading_service")

// TagStore 标签存储：记录 (account, symbol) → 会话标签与预期止盈腿数。
// 必须在进程重启间持久，恢复路径全靠它识别持仓归属。
type TagStore interface {
	ports.TagLookup
	RecordSession(account, symbol, tag string, takeProfitCount int) error
	DeleteSession(account, symbol string) error
}

// Journal 审计日志（可选依赖，nil 时跳过落盘）
type Journal interface {
	RecordLadderSubmitted(ctx context.Context, e *events.LadderSubmittedEvent) error
	RecordGap(ctx context.Context, e *events.ProtectionGapEvent) error
	RecordRestoredSession(ctx context.Context, e *events.SessionRestoredEvent) error
	RecordRunSummary(ctx context.Context, kind string, counts [3]int) error
}

// ProtectionObserver 保护相关事件的观察者。
// 显式注册（AddProtectionObserver），绝不在运行时重绑方法。
type ProtectionObserver interface {
	OnProtectionGap(ctx context.Context, e *events.ProtectionGapEvent)
	OnReconcileCompleted(ctx context.Context, e *events.ReconcileCompletedEvent)
	OnSessionRestored(ctx context.Context, e *events.SessionRestoredEvent)
	OnRestoreCompleted(ctx context.Context, e *events.RestoreCompletedEvent)
}

// Options 服务级配置
type Options struct {
	TagPrefix    string // 客户端标签前缀，默认 breakout:
	CustomRatios string // 自定义分配比例串（如 "0.6-0.3-0.1"），不合法时回退默认比例
}

// TradingService 每条连接一个
type TradingService struct {
	port         ports.OrderPort
	snapshots    ports.SnapshotSource
	tags         TagStore
	journal      Journal
	tagPrefix    string
	customRatios string

	mu       sync.RWMutex
	sessions []*ladder.Session

	obsMu     sync.RWMutex
	observers []ProtectionObserver
}

var _ ports.OrderUpdateHandler = (*TradingService)(nil)
var _ ports.GatewayMessageHandler = (*TradingService)(nil)

func NewTradingService(port ports.OrderPort, snapshots ports.SnapshotSource, tags TagStore, journal Journal, opts Options) *TradingService {
	if opts.TagPrefix == "" {
		opts.TagPrefix = "breakout:"
	}
	return &TradingService{
		port:         port,
		snapshots:    snapshots,
		tags:         tags,
		journal:      journal,
		tagPrefix:    opts.TagPrefix,
		customRatios: opts.CustomRatios,
	}
}

// AddProtectionObserver 注册保护事件观察者
func (t *TradingService) AddProtectionObserver(o ProtectionObserver) {
	if o == nil {
		return
	}
	t.obsMu.Lock()
	t.observers = append(t.observers, o)
	t.obsMu.Unlock()
}

func (t *TradingService) observerSnapshot() []ProtectionObserver {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	out := make([]ProtectionObserver, len(t.observers))
	copy(out, t.observers)
	return out
}

// SubmitLadderOrder 消费一条阶梯订单请求：补全缺省分配 → 校验 → 下入场单与各腿 →
// 建立会话并持久化标签。校验错误同步返回，此前不会有任何券商调用。
func (t *TradingService) SubmitLadderOrder(ctx context.Context, spec domain.LadderOrderSpec) (*ladder.Session, error) {
	if err := t.fillAllocationDefaults(&spec); err != nil {
		return nil, err
	}
	if err := allocation.ValidateSpec(&spec); err != nil {
		return nil, err
	}
	mode := allocation.InferExecutionMode(spec.Mode, spec.Qty, spec.TakeProfits, spec.TakeProfitQtys)

	if spec.ClientTag == "" {
		spec.ClientTag = fmt.Sprintf("%s%s:%s", t.tagPrefix, spec.Symbol, uuid.NewString()[:8])
	} else if !strings.HasPrefix(spec.ClientTag, t.tagPrefix) {
		return nil, fmt.Errorf("客户端标签必须以 %q 开头（收到 %q）", t.tagPrefix, spec.ClientTag)
	}

	// 标签先于任何下单落盘：腿单中途失败时入场单可能已（或即将）成交，
	// 对账必须能通过标签找到这个持仓并报告缺口
	tpCount := len(spec.TakeProfits)
	if mode == domain.ModeAttached {
		tpCount = 0
	}
	if err := t.tags.RecordSession(spec.Account, spec.Symbol, spec.ClientTag, tpCount); err != nil {
		log.Warnf("⚠️ 标签持久化失败（恢复路径将无法识别该持仓）: %v", err)
	}

	// 入场单
	entryAck, err := t.port.SubmitOrder(ctx, &domain.Order{
		Account:    spec.Account,
		Symbol:     spec.Symbol,
		Side:       spec.Side,
		OrderType:  spec.EntryType,
		Qty:        float64(spec.Qty),
		Remaining:  float64(spec.Qty),
		LimitPrice: spec.EntryPrice,
		ClientTag:  spec.ClientTag,
	})
	if err != nil {
		return nil, fmt.Errorf("入场单提交失败: %w", err)
	}
	log.Infof("📈 [%s %s] 入场单已提交: orderID=%d qty=%d mode=%s", spec.Symbol, spec.ClientTag, entryAck.OrderID, spec.Qty, mode)

	if mode == domain.ModeAttached {
		// attached：止损挂在入场单下，由券商原生 bracket 管理，不建会话
		_, err := t.port.SubmitOrder(ctx, &domain.Order{
			Account:   spec.Account,
			Symbol:    spec.Symbol,
			ParentID:  entryAck.OrderID,
			Side:      domain.SideSell,
			OrderType: domain.OrderTypeStop,
			Qty:       float64(spec.Qty),
			Remaining: float64(spec.Qty),
			StopPrice: spec.StopPrice,
			ClientTag: spec.ClientTag,
		})
		if err != nil {
			return nil, fmt.Errorf("attached 止损提交失败: %w", err)
		}
		t.publishSubmitted(ctx, &spec, mode)
		return nil, nil
	}

	session := ladder.NewSession(spec, mode, t.port)
	// 腿单中途失败的回滚：撤掉已提交的腿（尽力而为），入场单保留，
	// 持仓成形后由覆盖对账兜底报告缺口
	var legIDs []int64
	cancelLegs := func() {
		for _, id := range legIDs {
			if cerr := t.port.CancelOrder(ctx, id); cerr != nil {
				log.Warnf("⚠️ [%s %s] 回滚撤单失败: orderID=%d err=%v", spec.Symbol, spec.ClientTag, id, cerr)
			}
		}
	}
	for i := range spec.TakeProfits {
		tpAck, err := t.port.SubmitOrder(ctx, &domain.Order{
			Account:    spec.Account,
			Symbol:     spec.Symbol,
			Side:       domain.SideSell,
			OrderType:  domain.OrderTypeLimit,
			Qty:        float64(spec.TakeProfitQtys[i]),
			Remaining:  float64(spec.TakeProfitQtys[i]),
			LimitPrice: spec.TakeProfits[i],
			ClientTag:  spec.ClientTag,
		})
		if err != nil {
			cancelLegs()
			return nil, fmt.Errorf("止盈腿 %d 提交失败: %w", i, err)
		}
		legIDs = append(legIDs, tpAck.OrderID)
		stopAck, err := t.port.SubmitOrder(ctx, &domain.Order{
			Account:   spec.Account,
			Symbol:    spec.Symbol,
			Side:      domain.SideSell,
			OrderType: domain.OrderTypeStop,
			Qty:       float64(spec.TakeProfitQtys[i]),
			Remaining: float64(spec.TakeProfitQtys[i]),
			StopPrice: spec.StopPrice,
			ClientTag: spec.ClientTag,
		})
		if err != nil {
			cancelLegs()
			return nil, fmt.Errorf("止损腿 %d 提交失败: %w", i, err)
		}
		legIDs = append(legIDs, stopAck.OrderID)
		if err := session.BindPairOrders(i, tpAck.OrderID, stopAck.OrderID); err != nil {
			cancelLegs()
			return nil, err
		}
	}

	t.mu.Lock()
	t.sessions = append(t.sessions, session)
	t.mu.Unlock()

	log.Infof("✅ [%s %s] 阶梯会话已建立: legs=%d stop=%.2f updates=%v", spec.Symbol, spec.ClientTag, len(spec.TakeProfits), spec.StopPrice, spec.StopUpdates)
	t.publishSubmitted(ctx, &spec, mode)
	return session, nil
}

func (t *TradingService) publishSubmitted(ctx context.Context, spec *domain.LadderOrderSpec, mode domain.ExecutionMode) {
	if t.journal == nil {
		return
	}
	ev := &events.LadderSubmittedEvent{
		Account:   spec.Account,
		Symbol:    spec.Symbol,
		ClientTag: spec.ClientTag,
		Mode:      mode,
		Qty:       spec.Qty,
		Timestamp: time.Now(),
	}
	if err := t.journal.RecordLadderSubmitted(ctx, ev); err != nil {
		log.Warnf("⚠️ 提交记录落盘失败: %v", err)
	}
}

// fillAllocationDefaults 补全缺省分配：腿数量按默认比例（或自定义比例串）拆分，
// 止损改价序列按突破位推导。
func (t *TradingService) fillAllocationDefaults(spec *domain.LadderOrderSpec) error {
	if len(spec.TakeProfits) == 0 {
		return nil
	}
	if len(spec.TakeProfitQtys) == 0 {
		qtys, err := SplitWithCustomRatios(spec.Qty, len(spec.TakeProfits), t.customRatios)
		if err != nil {
			return err
		}
		spec.TakeProfitQtys = qtys
	}
	if len(spec.StopUpdates) == 0 && len(spec.TakeProfits) > 1 {
		updates, err := allocation.StopUpdatesForTakeProfits(spec.TakeProfits, spec.EntryPrice)
		if err != nil {
			return err
		}
		spec.StopUpdates = updates
	}
	return nil
}

// SplitWithCustomRatios 优先自定义比例串，不合法时回退默认比例。
func SplitWithCustomRatios(totalQty int, legCount int, custom string) ([]int, error) {
	if ratios, ok := allocation.ParseCustomRatios(custom, legCount); ok {
		return allocation.SplitQtyByRatios(totalQty, ratios)
	}
	ratios, err := allocation.RatiosForLegCount(legCount)
	if err != nil {
		return nil, err
	}
	return allocation.SplitQtyByRatios(totalQty, ratios)
}

func (t *TradingService) sessionSnapshot() []*ladder.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ladder.Session, len(t.sessions))
	copy(out, t.sessions)
	return out
}

// Sessions 返回当前存活会话
func (t *TradingService) Sessions() []*ladder.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	live := make([]*ladder.Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		if !s.Ended() {
			live = append(live, s)
		}
	}
	return live
}

// OnOrderUpdate 按到达顺序把订单状态路由到认领该订单的会话。
func (t *TradingService) OnOrderUpdate(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return nil
	}
	for _, s := range t.sessionSnapshot() {
		if s.Owns(o.OrderID) {
			err := s.OnOrderUpdate(ctx, o)
			if s.Ended() {
				t.pruneEnded()
			}
			return err
		}
	}
	return nil
}

// OnGatewayMessage 把网关通知路由到认领该订单的会话。
func (t *TradingService) OnGatewayMessage(ctx context.Context, msg *ports.GatewayMessage) error {
	if msg == nil {
		return nil
	}
	for _, s := range t.sessionSnapshot() {
		if s.Owns(msg.OrderID) {
			return s.OnGatewayMessage(ctx, msg)
		}
	}
	return nil
}

// pruneEnded 摘除已终结的会话并清除其标签映射，
// 否则同标的的后续手工持仓会被误判为突破会话并触发假缺口告警。
func (t *TradingService) pruneEnded() {
	t.mu.Lock()
	live := t.sessions[:0]
	var ended []*ladder.Session
	for _, s := range t.sessions {
		if s.Ended() {
			ended = append(ended, s)
		} else {
			live = append(live, s)
		}
	}
	t.sessions = live
	t.mu.Unlock()

	for _, s := range ended {
		if err := t.tags.DeleteSession(s.Account, s.Symbol); err != nil {
			log.Warnf("⚠️ [%s %s] 会话终结后清除标签失败: %v", s.Symbol, s.ClientTag, err)
		}
	}
}
