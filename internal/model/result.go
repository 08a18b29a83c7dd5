package model

// ResultStatus 区分"有结果"与"用户没有任何打分"
type ResultStatus string

const (
	StatusOK                ResultStatus = "ok"
	StatusNoRecommendations ResultStatus = "no_recommendations"
)

// Recommendation 一条排好序的推荐结果
type Recommendation struct {
	Rank   int           `json:"rank"`
	Score  UserItemScore `json:"score"`
	Recipe RecipeSummary `json:"recipe"`
	// Placeholder 为 true 表示目录中找不到该菜谱
	Placeholder bool `json:"placeholder"`
}

// Result 是一次 Top-N 查询的完整输出
type Result struct {
	Variant  ModelVariant     `json:"variant"`
	UserID   string           `json:"user_id"`
	TieBreak TieBreakPolicy   `json:"tie_break"`
	Status   ResultStatus     `json:"status"`
	Items    []Recommendation `json:"items"`
}

// NoRecommendations 用户在该变体下没有任何打分行
func (r *Result) NoRecommendations() bool {
	return r.Status == StatusNoRecommendations
}

// CatalogMisses 统计结果中占位菜谱的数量
func (r *Result) CatalogMisses() int {
	n := 0
	for _, it := range r.Items {
		if it.Placeholder {
			n++
		}
	}
	return n
}
