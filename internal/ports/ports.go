package ports

import (
	"context"

	"github.com/betbot/ladderbot/internal/domain"
)

// Small capability interfaces shared across layers (ladder/services/broker).
// Callers depend on these, never on the concrete broker adapter.

// OrderAck 下单/改单的确认结果
type OrderAck struct {
	OrderID int64
	Status  domain.OrderStatus
}

// OrderPort 抽象订单通道：提交、取消、改单。
// 实现方（券商适配器）负责传输层重试；本引擎只消费确认或错误。
type OrderPort interface {
	SubmitOrder(ctx context.Context, order *domain.Order) (*OrderAck, error)
	CancelOrder(ctx context.Context, orderID int64) error
	ReplaceOrder(ctx context.Context, orderID int64, newStopPrice float64, newQty float64) (*OrderAck, error)
}

// SnapshotSource 券商侧快照查询（订单簿 + 持仓）。
// account 为空时返回全部账户。
type SnapshotSource interface {
	ActiveOrders(ctx context.Context, account string) ([]*domain.Order, error)
	Positions(ctx context.Context, account string) ([]*domain.Position, error)
}

// TagLookup 策略来源查询：某持仓由哪个突破会话开仓、预期几条止盈腿。
// 重连后本地会话状态已丢失，恢复依赖这里的持久化数据。
type TagLookup interface {
	TagForPosition(account, symbol string) (string, bool)
	ExpectedTakeProfitCount(account, symbol string) (int, bool)
}
