package snapshot

import (
	"math"

	"recipe_recommend/internal/model"
)

// VariantStats 单个模型变体的打分分布
type VariantStats struct {
	Variant  model.ModelVariant `json:"variant"`
	Users    int                `json:"users"`
	Rows     int                `json:"rows"`
	MinScore float64            `json:"min_score"`
	MaxScore float64            `json:"max_score"`
	Mean     float64            `json:"mean"`
	StdDev   float64            `json:"stddev"`
}

// CatalogStats 目录规模及与打分表的覆盖情况
type CatalogStats struct {
	Recipes           int     `json:"recipes"`
	NamedRecipes      int     `json:"named_recipes"`
	ReferencedRecipes int     `json:"referenced_recipes"`
	CoveredRecipes    int     `json:"covered_recipes"`
	Coverage          float64 `json:"coverage"`
}

// Stats 快照的概要统计
type Stats struct {
	Variants []VariantStats `json:"variants"`
	Catalog  CatalogStats   `json:"catalog"`
}

// Stats 首次调用时计算，之后复用结果
func (s *Snapshot) Stats() Stats {
	s.statsOnce.Do(func() { s.stats = s.computeStats() })
	return s.stats
}

func (s *Snapshot) computeStats() Stats {
	var st Stats
	referenced := make(map[int64]struct{})

	for _, variant := range model.Variants() {
		byUser, ok := s.scores[variant]
		if !ok {
			continue
		}
		vs := VariantStats{Variant: variant, Users: len(byUser)}
		// Welford 在线算法，按用户字典序累计保证结果可复现
		var mean, m2 float64
		first := true
		for _, uid := range s.users[variant] {
			for _, r := range byUser[uid] {
				referenced[r.RecipeID] = struct{}{}
				x := r.PredictedScore
				if first {
					vs.MinScore, vs.MaxScore = x, x
					first = false
				}
				vs.MinScore = math.Min(vs.MinScore, x)
				vs.MaxScore = math.Max(vs.MaxScore, x)

				vs.Rows++
				delta := x - mean
				mean += delta / float64(vs.Rows)
				m2 += delta * (x - mean)
			}
		}
		vs.Mean = mean
		if vs.Rows > 0 {
			vs.StdDev = math.Sqrt(m2 / float64(vs.Rows))
		}
		st.Variants = append(st.Variants, vs)
	}

	st.Catalog.Recipes = len(s.recipes)
	for _, r := range s.recipes {
		if r.Name != "" {
			st.Catalog.NamedRecipes++
		}
	}
	st.Catalog.ReferencedRecipes = len(referenced)
	for id := range referenced {
		if _, ok := s.recipes[id]; ok {
			st.Catalog.CoveredRecipes++
		}
	}
	if st.Catalog.ReferencedRecipes > 0 {
		st.Catalog.Coverage = float64(st.Catalog.CoveredRecipes) / float64(st.Catalog.ReferencedRecipes)
	}
	return st
}
