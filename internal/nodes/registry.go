package nodes

import "recipe_recommend/internal/workflow"

const (
	TypeRecallScores = "recall_scores"
	TypeRankScore    = "rank_score"
	TypeJoinCatalog  = "join_catalog"
)

// NewRegistry 注册查询流水线所需的全部节点类型
func NewRegistry(onMiss MissHook) *workflow.Registry {
	r := workflow.NewRegistry()
	r.Register(TypeRecallScores, NewRecallScoresNode)
	r.Register(TypeRankScore, NewScoreRankNode)
	r.Register(TypeJoinCatalog, func(cfg workflow.NodeConfig) (workflow.Node, error) {
		return NewJoinCatalogNode(cfg, onMiss)
	})
	return r
}

// DefaultPipeline 召回 -> 排序截断 -> 关联目录
func DefaultPipeline() []workflow.NodeConfig {
	return []workflow.NodeConfig{
		{Name: "recall_scores", Type: TypeRecallScores},
		{Name: "rank_score", Type: TypeRankScore},
		{Name: "join_catalog", Type: TypeJoinCatalog},
	}
}
