// Package allocation 阶梯订单的分配策略：把策略层请求（总量、腿数、可选自定义比例）
// 转换为校验过的每腿数量和止损改价序列。无状态，纯函数。
package allocation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/betbot/ladderbot/internal/domain"
)

var (
	ErrInvalidLegCount = fmt.Errorf("invalid leg count")
	ErrQtyTooSmall     = fmt.Errorf("qty too small for allocation")
)

// RatiosForLegCount 返回给定腿数的默认分配比例。
// 1 腿 → [1.0]；2 腿 → [0.7, 0.3]；3 腿 → [0.6, 0.3, 0.1]；其他腿数报错。
func RatiosForLegCount(n int) ([]float64, error) {
	switch n {
	case 1:
		return []float64{1.0}, nil
	case 2:
		return []float64{0.7, 0.3}, nil
	case 3:
		return []float64{0.6, 0.3, 0.1}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrInvalidLegCount, n)
}

// ParseCustomRatios 解析用户给的自定义比例（如 "70-30" 或 "0.6-0.3-0.1"）。
// 接受两种形式：
// - 小数之和约等于 1.0（容差 0.05）
// - 之和大于 1.5，按百分比处理并归一化
// 解析失败、数量不匹配、存在非正数、或和不可接受时返回 (nil, false)，
// 调用方回退到 RatiosForLegCount 的默认比例。
func ParseCustomRatios(text string, expectedCount int) ([]float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" || expectedCount <= 0 {
		return nil, false
	}
	parts := strings.Split(text, "-")
	if len(parts) != expectedCount {
		return nil, false
	}
	vals := make([]float64, 0, len(parts))
	sum := 0.0
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v <= 0 {
			return nil, false
		}
		vals = append(vals, v)
		sum += v
	}
	switch {
	case math.Abs(sum-1.0) <= 0.05:
		// 小数形式，直接使用
	case sum > 1.5:
		// 百分比形式，归一化
		for i := range vals {
			vals[i] /= sum
		}
	default:
		return nil, false
	}
	return vals, true
}

// SplitQtyByRatios 按比例拆分总量：每腿先取 floor(totalQty*ratio)，
// 余数按小数部分从大到小逐个 +1（相同小数部分时低下标优先）。
// 任意腿分到 0 或负数时报 ErrQtyTooSmall。
func SplitQtyByRatios(totalQty int, ratios []float64) ([]int, error) {
	if totalQty <= 0 {
		return nil, fmt.Errorf("%w: totalQty=%d", ErrQtyTooSmall, totalQty)
	}
	if len(ratios) == 0 {
		return nil, ErrInvalidLegCount
	}
	sum := 0.0
	for _, r := range ratios {
		if r <= 0 {
			return nil, fmt.Errorf("ratio must be positive: %v", r)
		}
		sum += r
	}

	qtys := make([]int, len(ratios))
	fracs := make([]float64, len(ratios))
	assigned := 0
	for i, r := range ratios {
		exact := float64(totalQty) * (r / sum)
		qtys[i] = int(math.Floor(exact))
		fracs[i] = exact - float64(qtys[i])
		assigned += qtys[i]
	}

	// 余数分配：小数部分大的先拿，平局时低下标优先
	order := make([]int, len(ratios))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if fracs[order[a]] != fracs[order[b]] {
			return fracs[order[a]] > fracs[order[b]]
		}
		return order[a] < order[b]
	})
	for rem := totalQty - assigned; rem > 0; rem-- {
		qtys[order[(totalQty-assigned)-rem]]++
	}

	for _, q := range qtys {
		if q <= 0 {
			return nil, fmt.Errorf("%w: totalQty=%d legs=%d", ErrQtyTooSmall, totalQty, len(ratios))
		}
	}
	return qtys, nil
}

// StopUpdatesForTakeProfits 根据止盈价格序列生成止损改价序列：
// - 2 腿：第一腿完成后止损提到突破位
// - 3 腿：第一腿完成后提到突破位，第二腿完成后提到第一止盈位
func StopUpdatesForTakeProfits(levels []float64, breakoutLevel float64) ([]float64, error) {
	switch len(levels) {
	case 2:
		return []float64{breakoutLevel}, nil
	case 3:
		return []float64{breakoutLevel, levels[0]}, nil
	}
	return nil, fmt.Errorf("%w: %d take profits", ErrInvalidLegCount, len(levels))
}

// InferExecutionMode 推断执行模式。显式指定的模式优先；
// 否则：无止盈腿 → attached；2 腿且数量正好是 70/30 默认拆分 → detached70；
// 其余 2/3 腿形态 → detached。
func InferExecutionMode(explicit domain.ExecutionMode, qty int, takeProfits []float64, takeProfitQtys []int) domain.ExecutionMode {
	if explicit != "" {
		return explicit
	}
	if len(takeProfits) == 0 {
		return domain.ModeAttached
	}
	if len(takeProfits) == 2 && matchesCanonical7030(qty, takeProfitQtys) {
		return domain.ModeDetached70
	}
	return domain.ModeDetached
}

func matchesCanonical7030(qty int, qtys []int) bool {
	if len(qtys) != 2 {
		return false
	}
	canonical, err := SplitQtyByRatios(qty, []float64{0.7, 0.3})
	if err != nil {
		return false
	}
	return qtys[0] == canonical[0] && qtys[1] == canonical[1]
}

// ValidateExecutionMode 校验模式与腿形态是否匹配。
// 错误信息面向用户，指出具体未满足的要求。
func ValidateExecutionMode(mode domain.ExecutionMode, qty int, takeProfits []float64, takeProfitQtys []int) error {
	switch mode {
	case domain.ModeAttached:
		if len(takeProfits) > 0 {
			return fmt.Errorf("attached 模式不允许自定义止盈腿（收到 %d 条）", len(takeProfits))
		}
		return nil
	case domain.ModeDetached:
		if len(takeProfits) != 3 || len(takeProfitQtys) != 3 {
			return fmt.Errorf("detached 模式要求恰好 3 条止盈腿（收到 %d 条）", len(takeProfits))
		}
		return nil
	case domain.ModeDetached70:
		if len(takeProfits) != 2 || len(takeProfitQtys) != 2 {
			return fmt.Errorf("detached70 模式要求恰好 2 条止盈腿（收到 %d 条）", len(takeProfits))
		}
		if !matchesCanonical7030(qty, takeProfitQtys) {
			canonical, _ := SplitQtyByRatios(qty, []float64{0.7, 0.3})
			return fmt.Errorf("detached70 模式要求数量按 70/30 拆分（qty=%d 应为 %v，收到 %v）",
				qty, canonical, takeProfitQtys)
		}
		return nil
	}
	return fmt.Errorf("未知的执行模式: %q", mode)
}

// ValidateSpec 对完整的阶梯订单请求做入场前校验（同步，在任何券商调用之前）。
func ValidateSpec(spec *domain.LadderOrderSpec) error {
	if spec == nil {
		return fmt.Errorf("spec 不能为空")
	}
	if spec.Qty <= 0 {
		return fmt.Errorf("总数量必须大于 0（收到 %d）", spec.Qty)
	}
	if len(spec.TakeProfits) != len(spec.TakeProfitQtys) {
		return fmt.Errorf("止盈价格数量 (%d) 与止盈腿数量 (%d) 不一致",
			len(spec.TakeProfits), len(spec.TakeProfitQtys))
	}
	if len(spec.TakeProfits) > 0 {
		sum := 0
		for _, q := range spec.TakeProfitQtys {
			if q <= 0 {
				return fmt.Errorf("止盈腿数量必须大于 0（收到 %v）", spec.TakeProfitQtys)
			}
			sum += q
		}
		if sum != spec.Qty {
			return fmt.Errorf("止盈腿数量之和 (%d) 必须等于总数量 (%d)", sum, spec.Qty)
		}
		if len(spec.StopUpdates) != len(spec.TakeProfits)-1 {
			return fmt.Errorf("止损改价序列长度 (%d) 必须等于止盈腿数 - 1 (%d)",
				len(spec.StopUpdates), len(spec.TakeProfits)-1)
		}
	}
	mode := InferExecutionMode(spec.Mode, spec.Qty, spec.TakeProfits, spec.TakeProfitQtys)
	return ValidateExecutionMode(mode, spec.Qty, spec.TakeProfits, spec.TakeProfitQtys)
}
