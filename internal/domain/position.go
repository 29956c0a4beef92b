package domain

// Position 券商侧持仓快照（只读输入）
type Position struct {
	Account       string  // 账户
	Symbol        string  // 标的
	Qty           float64 // 持仓数量（多头为正）
	AvgCost       float64 // 平均成本
	RealizedPnL   float64 // 已实现盈亏
	UnrealizedPnL float64 // 未实现盈亏
}

// QtyEpsilon 数量比较的容差（shares）。
// 券商接口偶尔返回极小的残余数量，低于该值视为无持仓。
const QtyEpsilon = 1e-4

// HasQty 持仓数量是否大于容差
func (p *Position) HasQty() bool {
	return p != nil && p.Qty > QtyEpsilon
}
