package ladder

import (
	"fmt"

	"github.com/betbot/ladderbot/internal/domain"
)

// RepriceDecision 一次止损改价动作：把 TargetPairs 的止损腿改到 NewStopPrice。
type RepriceDecision struct {
	MilestoneIndex int
	TargetPairs    []int
	NewStopPrice   float64
}

// CollectRepriceDecisions 根据当前完成集评估里程碑。
// 对每个未生效且 RequiredPairs ⊆ completed 的里程碑：就地标记 applied 并产出一条改价决策。
// 已生效的里程碑即使条件仍然满足也会跳过——保证每次物理改价恰好发生一次。
//
// applied 是与 milestones 等长的固定数组（arena+index），长度不一致属于编程错误，直接 panic。
func CollectRepriceDecisions(milestones []domain.RepriceMilestone, applied []bool, completed map[int]bool) []RepriceDecision {
	if len(applied) != len(milestones) {
		panic(fmt.Sprintf("ladder: applied flags length %d != milestones length %d", len(applied), len(milestones)))
	}

	var decisions []RepriceDecision
	for i, m := range milestones {
		if applied[i] {
			continue
		}
		satisfied := true
		for _, p := range m.RequiredPairs {
			if !completed[p] {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		applied[i] = true
		decisions = append(decisions, RepriceDecision{
			MilestoneIndex: i,
			TargetPairs:    append([]int(nil), m.TargetPairs...),
			NewStopPrice:   m.NewStopPrice,
		})
	}
	return decisions
}

// MilestonesFromStopUpdates 把分配策略生成的止损改价序列翻译为里程碑列表：
// 第 i 条改价要求腿对 0..i 全部完成，改价保护剩余腿对 i+1..n-1。
func MilestonesFromStopUpdates(stopUpdates []float64, pairCount int) []domain.RepriceMilestone {
	milestones := make([]domain.RepriceMilestone, 0, len(stopUpdates))
	for i, price := range stopUpdates {
		m := domain.RepriceMilestone{NewStopPrice: price}
		for p := 0; p <= i; p++ {
			m.RequiredPairs = append(m.RequiredPairs, p)
		}
		for p := i + 1; p < pairCount; p++ {
			m.TargetPairs = append(m.TargetPairs, p)
		}
		milestones = append(milestones, m)
	}
	return milestones
}
