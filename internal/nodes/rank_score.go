package nodes

import (
	"fmt"
	"sort"

	"recipe_recommend/internal/workflow"
)

// ScoreRankNode 按预测分降序排序，分数相同时按请求的决胜规则排序，然后截断为 N 条
type ScoreRankNode struct {
	name string
	// limit 是节点级的硬上限，0 表示只受请求 N 约束
	limit int
}

func NewScoreRankNode(cfg workflow.NodeConfig) (workflow.Node, error) {
	n := &ScoreRankNode{name: cfg.Name}
	if v, ok := cfg.Config["limit"]; ok {
		limit, ok := toInt(v)
		if !ok || limit < 0 {
			return nil, fmt.Errorf("rank node %s: invalid limit %v", cfg.Name, v)
		}
		n.limit = limit
	}
	return n, nil
}

func (n *ScoreRankNode) Name() string { return n.name }
func (n *ScoreRankNode) Type() string { return TypeRankScore }

func (n *ScoreRankNode) Execute(ctx *workflow.Context) error {
	candidates := ctx.Candidates
	if len(candidates) == 0 {
		return nil
	}

	policy := ctx.TieBreak
	sort.SliceStable(candidates, func(i, j int) bool {
		return policy.Less(candidates[i], candidates[j])
	})

	// 截断，不足 N 条时不补齐
	limit := ctx.N
	if n.limit > 0 && n.limit < limit {
		limit = n.limit
	}
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	ctx.SetCandidates(candidates)
	ctx.AddLog("Rank (%s) completed. Tie-break: %s, Result count: %d", n.name, policy, len(candidates))
	return nil
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), t == float64(int(t))
	}
	return 0, false
}
