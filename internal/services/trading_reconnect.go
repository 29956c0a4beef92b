package services

import (
	"context"
	"time"

	"github.com/betbot/ladderbot/internal/events"
	"github.com/betbot/ladderbot/internal/ladder"
	"github.com/betbot/ladderbot/internal/protection"
)

// ResyncAfterReconnect 重连后的恢复与对账：
//  1. 拉取券商侧订单/持仓快照；
//  2. 用持久化标签重建阶梯会话（内存状态在断连期间已丢失）；
//  3. 对账所有带标签持仓的止损覆盖，缺口逐个上报。
//
// 整个流程只读快照 + 重建本地状态，不向券商下任何单；
// 补救动作由观察者（告警、人工面板）决定，这里绝不自作主张。
func (t *TradingService) ResyncAfterReconnect(ctx context.Context, account string) error {
	orders, err := t.snapshots.ActiveOrders(ctx, account)
	if err != nil {
		return err
	}
	positions, err := t.snapshots.Positions(ctx, account)
	if err != nil {
		return err
	}

	restored, restoreSum := protection.RestoreSessions(positions, orders,
		t.tags.TagForPosition, t.tags.ExpectedTakeProfitCount, t.tagPrefix)

	observers := t.observerSnapshot()
	nowTs := time.Now()

	rebuilt := make([]*ladder.Session, 0, len(restored))
	for i := range restored {
		r := &restored[i]
		if r.State == protection.StateProtected {
			rebuilt = append(rebuilt, ladder.NewSessionFromLegs(
				r.Account, r.Symbol, r.ClientTag, r.Mode,
				r.TakeProfitOrders, r.StopOrders, t.port))
		}

		ev := &events.SessionRestoredEvent{
			Account:      r.Account,
			Symbol:       r.Symbol,
			ClientTag:    r.ClientTag,
			Mode:         r.Mode,
			State:        r.State,
			Reason:       r.Reason,
			PositionQty:  r.PositionQty,
			ProtectedQty: r.ProtectedQty,
			LegOrderIDs:  append(append([]int64{}, r.StopOrderIDs...), r.TakeProfitOrderIDs...),
			Timestamp:    nowTs,
		}
		if t.journal != nil {
			if jerr := t.journal.RecordRestoredSession(ctx, ev); jerr != nil {
				log.Warnf("⚠️ 恢复记录落盘失败: %v", jerr)
			}
		}
		for _, o := range observers {
			o.OnSessionRestored(ctx, ev)
		}
	}

	t.mu.Lock()
	t.sessions = append(t.sessions, rebuilt...)
	t.mu.Unlock()

	restoreEv := &events.RestoreCompletedEvent{
		Restored:    restoreSum.Restored,
		Protected:   restoreSum.Protected,
		Unprotected: restoreSum.Unprotected,
		Timestamp:   nowTs,
	}
	for _, o := range observers {
		o.OnRestoreCompleted(ctx, restoreEv)
	}
	if t.journal != nil {
		if jerr := t.journal.RecordRunSummary(ctx, "restore",
			[3]int{restoreSum.Restored, restoreSum.Protected, restoreSum.Unprotected}); jerr != nil {
			log.Warnf("⚠️ 恢复汇总落盘失败: %v", jerr)
		}
	}
	log.Infof("🔄 会话恢复完成: restored=%d protected=%d unprotected=%d",
		restoreSum.Restored, restoreSum.Protected, restoreSum.Unprotected)

	gaps, covSum := protection.ReconcileCoverage(positions, orders, t.tags.TagForPosition, t.tagPrefix)
	for i := range gaps {
		g := &gaps[i]
		ev := &events.ProtectionGapEvent{
			Account:      g.Account,
			Symbol:       g.Symbol,
			ClientTag:    g.ClientTag,
			PositionQty:  g.PositionQty,
			ProtectedQty: g.ProtectedQty,
			UncoveredQty: g.UncoveredQty,
			StopOrderIDs: g.StopOrderIDs,
			Timestamp:    nowTs,
		}
		log.Warnf("🚨 [%s %s] 保护缺口: pos=%.0f protected=%.0f uncovered=%.0f stops=%v",
			g.Symbol, g.ClientTag, g.PositionQty, g.ProtectedQty, g.UncoveredQty, g.StopOrderIDs)
		if t.journal != nil {
			if jerr := t.journal.RecordGap(ctx, ev); jerr != nil {
				log.Warnf("⚠️ 缺口记录落盘失败: %v", jerr)
			}
		}
		for _, o := range observers {
			o.OnProtectionGap(ctx, ev)
		}
	}

	recEv := &events.ReconcileCompletedEvent{
		Inspected: covSum.Inspected,
		Covered:   covSum.Covered,
		GapCount:  covSum.GapCount,
		Timestamp: nowTs,
	}
	for _, o := range observers {
		o.OnReconcileCompleted(ctx, recEv)
	}
	if t.journal != nil {
		if jerr := t.journal.RecordRunSummary(ctx, "reconcile",
			[3]int{covSum.Inspected, covSum.Covered, covSum.GapCount}); jerr != nil {
			log.Warnf("⚠️ 对账汇总落盘失败: %v", jerr)
		}
	}
	log.Infof("🔍 覆盖对账完成: inspected=%d covered=%d gaps=%d",
		covSum.Inspected, covSum.Covered, covSum.GapCount)
	return nil
}
