package artifact

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"recipe_recommend/internal/model"

	"go.uber.org/zap"
)

var (
	catalogIDCols = []string{"recipe_id", "id"}
	nameCols      = []string{"name", "title"}
	fatCols       = []string{"fat", "total_fat"}
	imageCols     = []string{"image_url", "image"}
)

// nutrition 列沿用 Food.com 的顺序：
// [calories, total fat, sugar, sodium, protein, saturated fat, carbohydrates]
const (
	nutritionCalories = 0
	nutritionFat      = 1
	nutritionProtein  = 4
)

// LoadCatalog 读取菜谱目录，recipe_id 重复视为制品损坏
func (l *Loader) LoadCatalog(ctx context.Context, src Source) ([]model.RecipeSummary, error) {
	records, err := l.readCatalogRecords(ctx, src)
	if err != nil {
		return nil, withSource(err, "catalog", src.Path)
	}

	seen := make(map[int64]int, len(records))
	out := make([]model.RecipeSummary, 0, len(records))
	for _, r := range records {
		recipe, err := recipeFromRecord(r)
		if err != nil {
			return nil, &LoadError{Kind: "catalog", Path: src.Path, Line: r.line, Err: err}
		}
		if prev, dup := seen[recipe.RecipeID]; dup {
			return nil, &LoadError{Kind: "catalog", Path: src.Path, Line: r.line,
				Err: fmt.Errorf("duplicate recipe_id %d (first seen at line %d)", recipe.RecipeID, prev)}
		}
		seen[recipe.RecipeID] = r.line
		out = append(out, recipe)
	}

	l.logger.Debug("catalog artifact loaded",
		zap.String("path", src.Path),
		zap.Int("recipes", len(out)))
	return out, nil
}

func (l *Loader) readCatalogRecords(ctx context.Context, src Source) ([]record, error) {
	format, err := DetectFormat(src.Path, src.Format)
	if err != nil {
		return nil, err
	}

	if format == FormatSQLite {
		path, cleanup, err := l.localFile(ctx, src.Path)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		return readSQLiteTable(ctx, path, "recipe_catalog")
	}

	data, err := l.ReadBytes(ctx, src.Path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatCSV:
		return readCSV(data)
	case FormatJSONL:
		return readJSONL(data)
	default:
		return readCatalogJSON(data)
	}
}

// readCatalogJSON 接受对象数组，或以 recipe_id 为 key 的对象
func readCatalogJSON(data []byte) ([]record, error) {
	var arr []map[string]any
	if err := decodeJSON(data, &arr); err == nil {
		records := make([]record, len(arr))
		for i, obj := range arr {
			if obj == nil {
				return nil, &LoadError{Line: i + 1, Err: errors.New("entry must be an object")}
			}
			records[i] = objectRecord(i+1, obj)
		}
		return records, nil
	}

	var keyed map[string]map[string]any
	if err := decodeJSON(data, &keyed); err != nil {
		return nil, errors.New("catalog json must be an array of objects or an object keyed by recipe_id")
	}
	keys := sortedKeys(keyed)
	records := make([]record, 0, len(keys))
	for i, k := range keys {
		obj := keyed[k]
		if obj == nil {
			return nil, &LoadError{Line: i + 1, Err: fmt.Errorf("recipe %s: entry must be an object", k)}
		}
		if _, ok := obj["recipe_id"]; !ok {
			if _, ok := obj["id"]; !ok {
				obj["recipe_id"] = k
			}
		}
		records = append(records, objectRecord(i+1, obj))
	}
	return records, nil
}

func recipeFromRecord(r record) (model.RecipeSummary, error) {
	id, ok, err := r.id(catalogIDCols...)
	if err != nil {
		return model.RecipeSummary{}, err
	}
	if !ok {
		return model.RecipeSummary{}, errors.New("missing recipe_id")
	}

	recipe := model.RecipeSummary{
		RecipeID:    id,
		Ingredients: []string{},
		Tags:        []string{},
	}
	recipe.Name, _ = r.get(nameCols...)
	recipe.ImageURL, _ = r.get(imageCols...)
	if items, ok := r.list("ingredients"); ok {
		recipe.Ingredients = items
	}
	if items, ok := r.list("tags"); ok {
		recipe.Tags = dedupe(items)
	}

	if v, ok := r.get("minutes"); ok {
		m, err := strconv.Atoi(v)
		if err != nil {
			f, ferr := strconv.ParseFloat(v, 64)
			if ferr != nil {
				return recipe, fmt.Errorf("column minutes: invalid number %q", v)
			}
			m = int(f)
		}
		recipe.Minutes = &m
	}

	if values, ok := r.list("nutrition"); ok {
		if err := applyNutrition(&recipe, values); err != nil {
			return recipe, err
		}
	}
	// 显式列优先于 nutrition 列表
	if recipe.Calories, err = override(r, recipe.Calories, "calories"); err != nil {
		return recipe, err
	}
	if recipe.Fat, err = override(r, recipe.Fat, fatCols...); err != nil {
		return recipe, err
	}
	if recipe.Protein, err = override(r, recipe.Protein, "protein"); err != nil {
		return recipe, err
	}
	return recipe, nil
}

func override(r record, current *float64, cols ...string) (*float64, error) {
	v, err := r.float(cols...)
	if err != nil {
		return nil, err
	}
	if v != nil {
		return v, nil
	}
	return current, nil
}

func applyNutrition(recipe *model.RecipeSummary, values []string) error {
	pick := func(idx int) (*float64, error) {
		if idx >= len(values) {
			return nil, nil
		}
		f, err := strconv.ParseFloat(values[idx], 64)
		if err != nil {
			return nil, fmt.Errorf("column nutrition: invalid number %q", values[idx])
		}
		return &f, nil
	}
	var err error
	if recipe.Calories, err = pick(nutritionCalories); err != nil {
		return err
	}
	if recipe.Fat, err = pick(nutritionFat); err != nil {
		return err
	}
	recipe.Protein, err = pick(nutritionProtein)
	return err
}

// dedupe 标签是集合语义，保留首次出现的顺序
func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
