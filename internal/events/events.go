package events

import (
	"time"

	"github.com/betbot/ladderbot/internal/domain"
)

// LadderSubmittedEvent 阶梯订单提交事件
type LadderSubmittedEvent struct {
	Account   string
	Symbol    string
	ClientTag string
	Mode      domain.ExecutionMode
	Qty       int
	Timestamp time.Time
}

// ProtectionGapEvent 保护缺口事件：一个持仓的止损覆盖不足
type ProtectionGapEvent struct {
	Account      string
	Symbol       string
	ClientTag    string
	PositionQty  float64
	ProtectedQty float64
	UncoveredQty float64
	StopOrderIDs []int64
	Timestamp    time.Time
}

// ReconcileCompletedEvent 一次覆盖对账完成
type ReconcileCompletedEvent struct {
	Inspected int
	Covered   int
	GapCount  int
	Timestamp time.Time
}

// SessionRestoredEvent 一个会话在重连后被重建
type SessionRestoredEvent struct {
	Account      string
	Symbol       string
	ClientTag    string
	Mode         domain.ExecutionMode
	State        string // protected / unprotected
	Reason       string
	PositionQty  float64
	ProtectedQty float64
	LegOrderIDs  []int64
	Timestamp    time.Time
}

// RestoreCompletedEvent 一次会话恢复完成
type RestoreCompletedEvent struct {
	Restored    int
	Protected   int
	Unprotected int
	Timestamp   time.Time
}
