package domain

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit     OrderType = "LMT"
	OrderTypeMarket    OrderType = "MKT"
	OrderTypeStop      OrderType = "STP"
	OrderTypeStopLimit OrderType = "STP_LMT"
)

// OrderStatus 券商侧订单状态
type OrderStatus string

const (
	OrderStatusPendingSubmit OrderStatus = "PendingSubmit"
	OrderStatusPreSubmitted  OrderStatus = "PreSubmitted"
	OrderStatusSubmitted     OrderStatus = "Submitted"
	OrderStatusFilled        OrderStatus = "Filled"
	OrderStatusCancelled     OrderStatus = "Cancelled"
	OrderStatusInactive      OrderStatus = "Inactive"
)

// Order 券商侧活跃订单快照（只读输入，由订单查询接口提供）。
// 本引擎不持久化快照，需要时重新拉取。
type Order struct {
	OrderID   int64       // 券商订单 ID
	ParentID  int64       // 父订单 ID（子腿挂在入场单下时非 0）
	Account   string      // 账户
	Symbol    string      // 标的
	Side      Side        // 方向
	OrderType OrderType   // 类型
	Qty       float64     // 原始数量
	FilledQty float64     // 已成交数量
	Remaining float64     // 剩余数量
	LimitPrice float64    // 限价（LMT/STP_LMT）
	StopPrice  float64    // 止损触发价（STP/STP_LMT）
	Status    OrderStatus // 状态
	ClientTag string      // 客户端标签（orderRef），标记订单来源的策略会话
}

// IsActive 订单是否仍在券商侧存活（可成交或待成交）
func (o *Order) IsActive() bool {
	if o == nil {
		return false
	}
	switch o.Status {
	case OrderStatusPendingSubmit, OrderStatusPreSubmitted, OrderStatusSubmitted:
		return true
	}
	return false
}

// IsProtectiveStop 是否为保护性止损单
func (o *Order) IsProtectiveStop() bool {
	if o == nil {
		return false
	}
	return o.OrderType == OrderTypeStop || o.OrderType == OrderTypeStopLimit
}

// IsTakeProfit 是否为止盈腿（卖出限价单）
func (o *Order) IsTakeProfit() bool {
	if o == nil {
		return false
	}
	return o.OrderType == OrderTypeLimit
}
