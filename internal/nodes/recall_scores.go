package nodes

import (
	"recipe_recommend/internal/model"
	"recipe_recommend/internal/workflow"
)

// RecallScoresNode 从快照中召回用户在指定变体下的全部打分行
type RecallScoresNode struct {
	name string
}

func NewRecallScoresNode(cfg workflow.NodeConfig) (workflow.Node, error) {
	return &RecallScoresNode{name: cfg.Name}, nil
}

func (n *RecallScoresNode) Name() string { return n.name }
func (n *RecallScoresNode) Type() string { return TypeRecallScores }

func (n *RecallScoresNode) Execute(ctx *workflow.Context) error {
	rows := ctx.Tables.Scores(ctx.Variant, ctx.UserID)
	// 快照内的切片是共享只读的，排序前必须复制
	candidates := make([]model.UserItemScore, len(rows))
	copy(candidates, rows)

	ctx.SetCandidates(candidates)
	ctx.AddLog("Recall (%s) completed. Result count: %d", n.name, len(candidates))
	return nil
}
