package model

import "strconv"

// RecipeSummary 代表菜谱目录中的一条描述信息
type RecipeSummary struct {
	RecipeID    int64    `json:"recipe_id"`
	Name        string   `json:"name"`
	Ingredients []string `json:"ingredients"`
	Tags        []string `json:"tags"`

	// 以下字段在源数据中可能缺失
	Calories *float64 `json:"calories,omitempty"`
	Fat      *float64 `json:"fat,omitempty"`
	Protein  *float64 `json:"protein,omitempty"`
	Minutes  *int     `json:"minutes,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// PlaceholderName 目录中缺失的菜谱使用的展示名
func PlaceholderName(recipeID int64) string {
	return "Recipe " + strconv.FormatInt(recipeID, 10)
}

// PlaceholderRecipe 构造目录关联失败时的占位菜谱
func PlaceholderRecipe(recipeID int64) RecipeSummary {
	return RecipeSummary{
		RecipeID:    recipeID,
		Name:        PlaceholderName(recipeID),
		Ingredients: []string{},
		Tags:        []string{},
	}
}

// DisplayName 返回展示用名称，名称缺失时退化为占位名
func (r RecipeSummary) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return PlaceholderName(r.RecipeID)
}
