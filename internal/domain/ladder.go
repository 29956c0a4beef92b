package domain

// ExecutionMode 阶梯订单执行模式
// - attached：使用券商原生 bracket（不拆腿），禁止自定义止盈腿
// - detached：止盈/止损作为独立订单由引擎协调，固定 3 条止盈腿
// - detached70：两腿变体，数量按 70/30 拆分
type ExecutionMode string

const (
	ModeAttached   ExecutionMode = "attached"
	ModeDetached   ExecutionMode = "detached"
	ModeDetached70 ExecutionMode = "detached70"
)

// LadderOrderSpec 一次带保护的入场请求：入场单 + 多条止盈腿 + 单一保护性止损。
// 由策略层构造，分配策略（allocation）校验后一次性消费。
type LadderOrderSpec struct {
	Account  string
	Symbol   string
	Qty      int  // 总数量（shares）
	Side     Side // 入场方向

	EntryType  OrderType // 入场单类型（LMT/MKT）
	EntryPrice float64   // 入场限价（EntryType=LMT 时有效）

	TakeProfits    []float64 // 止盈价格（升序，由信号层计算，本引擎不生成）
	TakeProfitQtys []int     // 每条止盈腿的数量，sum == Qty

	StopPrice   float64   // 初始止损价
	StopUpdates []float64 // 止损改价序列，len == len(TakeProfits)-1

	Mode      ExecutionMode // 执行模式（可为空，由 allocation 推断）
	ClientTag string        // 客户端标签（orderRef），用于重连后识别会话归属
}

// RepriceMilestone 止损改价里程碑：当 RequiredPairs 全部完成后，
// 将剩余止损腿改价到 NewStopPrice，保护 TargetPairs。
// 每个里程碑实例至多生效一次（幂等由外部 applied 标志数组跟踪）。
type RepriceMilestone struct {
	RequiredPairs []int   // 必须已完成的腿对下标
	TargetPairs   []int   // 改价后止损保护的腿对下标
	NewStopPrice  float64 // 新止损价
}
