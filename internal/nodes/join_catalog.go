package nodes

import (
	"recipe_recommend/internal/model"
	"recipe_recommend/internal/workflow"
)

// MissHook 在目录关联失败时被调用，用于日志与计数
type MissHook func(variant model.ModelVariant, userID string, recipeID int64)

// JoinCatalogNode 把排好序的打分行与菜谱目录做左连接
type JoinCatalogNode struct {
	name   string
	onMiss MissHook
}

func NewJoinCatalogNode(cfg workflow.NodeConfig, onMiss MissHook) (workflow.Node, error) {
	return &JoinCatalogNode{name: cfg.Name, onMiss: onMiss}, nil
}

func (n *JoinCatalogNode) Name() string { return n.name }
func (n *JoinCatalogNode) Type() string { return TypeJoinCatalog }

func (n *JoinCatalogNode) Execute(ctx *workflow.Context) error {
	items := make([]model.Recommendation, 0, len(ctx.Candidates))
	misses := 0
	for i, s := range ctx.Candidates {
		rec := model.Recommendation{Rank: i + 1, Score: s}
		if recipe, ok := ctx.Tables.Recipe(s.RecipeID); ok {
			rec.Recipe = recipe
		} else {
			rec.Recipe = model.PlaceholderRecipe(s.RecipeID)
			rec.Placeholder = true
			misses++
			if n.onMiss != nil {
				n.onMiss(ctx.Variant, ctx.UserID, s.RecipeID)
			}
		}
		items = append(items, rec)
	}

	ctx.Items = items
	ctx.AddLog("Join (%s) completed. Result count: %d, catalog misses: %d", n.name, len(items), misses)
	return nil
}
