package nodes

import (
	"context"
	"testing"

	"recipe_recommend/internal/model"
	"recipe_recommend/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTables struct {
	scores  map[string][]model.UserItemScore
	recipes map[int64]model.RecipeSummary
}

func (f *fakeTables) Scores(variant model.ModelVariant, userID string) []model.UserItemScore {
	return f.scores[string(variant)+"/"+userID]
}

func (f *fakeTables) Recipe(id int64) (model.RecipeSummary, bool) {
	r, ok := f.recipes[id]
	return r, ok
}

func newTables() *fakeTables {
	return &fakeTables{
		scores: map[string][]model.UserItemScore{
			"simple/7": {
				{UserID: "7", RecipeID: 12, PredictedScore: 3.1, ModelVariant: model.VariantSimple, Seq: 0},
				{UserID: "7", RecipeID: 11, PredictedScore: 4.9, ModelVariant: model.VariantSimple, Seq: 1},
				{UserID: "7", RecipeID: 10, PredictedScore: 4.9, ModelVariant: model.VariantSimple, Seq: 2},
			},
		},
		recipes: map[int64]model.RecipeSummary{
			10: {RecipeID: 10, Name: "Pie", Tags: []string{}, Ingredients: []string{}},
			11: {RecipeID: 11, Name: "Cake", Tags: []string{}, Ingredients: []string{}},
		},
	}
}

func newEngine(t *testing.T, onMiss MissHook) *workflow.Engine {
	t.Helper()
	e, err := workflow.NewEngine(DefaultPipeline(), NewRegistry(onMiss), nil)
	require.NoError(t, err)
	return e
}

func TestPipelineTopN(t *testing.T) {
	tables := newTables()
	e := newEngine(t, nil)

	ctx := workflow.NewContext(context.Background(), tables, model.VariantSimple, "7", 2, model.TieBreakRecipeIDAsc)
	require.NoError(t, e.Run(ctx))

	require.Len(t, ctx.Items, 2)
	assert.Equal(t, 1, ctx.Items[0].Rank)
	assert.Equal(t, int64(10), ctx.Items[0].Score.RecipeID)
	assert.Equal(t, "Pie", ctx.Items[0].Recipe.Name)
	assert.Equal(t, int64(11), ctx.Items[1].Score.RecipeID)
	assert.Equal(t, "Cake", ctx.Items[1].Recipe.Name)
	assert.NotEmpty(t, ctx.TraceLog)

	// 召回阶段复制了快照数据，排序不应修改源切片
	assert.Equal(t, int64(12), tables.scores["simple/7"][0].RecipeID)
}

func TestPipelineTieBreakPolicies(t *testing.T) {
	e := newEngine(t, nil)
	tests := []struct {
		policy model.TieBreakPolicy
		want   []int64
	}{
		{model.TieBreakRecipeIDAsc, []int64{10, 11, 12}},
		{model.TieBreakRecipeIDDesc, []int64{11, 10, 12}},
		{model.TieBreakSourceOrder, []int64{11, 10, 12}},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			ctx := workflow.NewContext(context.Background(), newTables(), model.VariantSimple, "7", 10, tt.policy)
			require.NoError(t, e.Run(ctx))
			got := make([]int64, len(ctx.Items))
			for i, it := range ctx.Items {
				got[i] = it.Score.RecipeID
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPipelineCatalogMiss(t *testing.T) {
	var missed []int64
	e := newEngine(t, func(_ model.ModelVariant, _ string, id int64) { missed = append(missed, id) })

	ctx := workflow.NewContext(context.Background(), newTables(), model.VariantSimple, "7", 3, model.TieBreakRecipeIDAsc)
	require.NoError(t, e.Run(ctx))

	require.Len(t, ctx.Items, 3)
	last := ctx.Items[2]
	assert.True(t, last.Placeholder)
	assert.Equal(t, "Recipe 12", last.Recipe.Name)
	assert.Equal(t, []string{}, last.Recipe.Tags)
	assert.Equal(t, []int64{12}, missed)
}

func TestPipelineUnknownUser(t *testing.T) {
	e := newEngine(t, nil)
	ctx := workflow.NewContext(context.Background(), newTables(), model.VariantHybrid, "7", 3, model.TieBreakRecipeIDAsc)
	require.NoError(t, e.Run(ctx))
	assert.Empty(t, ctx.Items)
}

func TestPipelineCancelled(t *testing.T) {
	e := newEngine(t, nil)
	c, cancel := context.WithCancel(context.Background())
	cancel()
	ctx := workflow.NewContext(c, newTables(), model.VariantSimple, "7", 3, model.TieBreakRecipeIDAsc)
	assert.ErrorIs(t, e.Run(ctx), context.Canceled)
}

func TestRankNodeLimit(t *testing.T) {
	node, err := NewScoreRankNode(workflow.NodeConfig{Name: "rank", Config: map[string]any{"limit": 1}})
	require.NoError(t, err)

	ctx := workflow.NewContext(context.Background(), newTables(), model.VariantSimple, "7", 3, model.TieBreakRecipeIDAsc)
	ctx.SetCandidates(newTables().scores["simple/7"])
	require.NoError(t, node.Execute(ctx))
	require.Len(t, ctx.Candidates, 1)
	assert.Equal(t, int64(10), ctx.Candidates[0].RecipeID)

	_, err = NewScoreRankNode(workflow.NodeConfig{Name: "rank", Config: map[string]any{"limit": "x"}})
	assert.Error(t, err)
}

func TestUnknownNodeType(t *testing.T) {
	_, err := workflow.NewEngine([]workflow.NodeConfig{{Name: "x", Type: "recall_llm"}}, NewRegistry(nil), nil)
	assert.Error(t, err)
}
