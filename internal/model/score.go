package model

import (
	"errors"
	"fmt"
	"strings"
)

// ModelVariant 模型变体标识
type ModelVariant string

const (
	// VariantSimple 纯隐因子 (SVD) 打分
	VariantSimple ModelVariant = "simple"
	// VariantHybrid 隐因子与内容相似度的加权混合
	VariantHybrid ModelVariant = "hybrid"
)

// Variants 返回全部已知变体，顺序固定
func Variants() []ModelVariant {
	return []ModelVariant{VariantSimple, VariantHybrid}
}

// ErrUnknownVariant 表示无法识别的模型变体
var ErrUnknownVariant = errors.New("unknown model variant")

// ParseVariant 解析变体名 (大小写不敏感)，不会回退到默认模型
func ParseVariant(s string) (ModelVariant, error) {
	switch ModelVariant(strings.ToLower(strings.TrimSpace(s))) {
	case VariantSimple:
		return VariantSimple, nil
	case VariantHybrid:
		return VariantHybrid, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// UserItemScore 一条预计算的用户-菜谱打分
type UserItemScore struct {
	UserID         string       `json:"user_id"`
	RecipeID       int64        `json:"recipe_id"`
	PredictedScore float64      `json:"predicted_score"`
	ModelVariant   ModelVariant `json:"model_variant"`

	// Seq 是该行在源数据中的顺序，仅用于 source_order 决胜
	Seq int `json:"-"`
}

// TieBreakPolicy 分数相同时的确定性排序规则
type TieBreakPolicy string

const (
	TieBreakRecipeIDAsc  TieBreakPolicy = "recipe_id_asc"
	TieBreakRecipeIDDesc TieBreakPolicy = "recipe_id_desc"
	TieBreakSourceOrder  TieBreakPolicy = "source_order"
)

// ErrUnknownTieBreak 表示无法识别的决胜规则
var ErrUnknownTieBreak = errors.New("unknown tie-break policy")

// ParseTieBreak 解析决胜规则，空串返回 fallback
func ParseTieBreak(s string, fallback TieBreakPolicy) (TieBreakPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return fallback, nil
	}
	switch p := TieBreakPolicy(s); p {
	case TieBreakRecipeIDAsc, TieBreakRecipeIDDesc, TieBreakSourceOrder:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTieBreak, s)
}

// Less 判断 a 是否应排在 b 之前：分数降序，相同分数按规则决胜
func (p TieBreakPolicy) Less(a, b UserItemScore) bool {
	if a.PredictedScore != b.PredictedScore {
		return a.PredictedScore > b.PredictedScore
	}
	switch p {
	case TieBreakRecipeIDDesc:
		if a.RecipeID != b.RecipeID {
			return a.RecipeID > b.RecipeID
		}
	case TieBreakSourceOrder:
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
	}
	// recipe_id_asc，同时作为其他规则的最终兜底
	return a.RecipeID < b.RecipeID
}
