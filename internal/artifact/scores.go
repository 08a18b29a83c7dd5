package artifact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"recipe_recommend/internal/model"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// 上游不同笔记本导出的列名并不统一，这里统一收敛
var (
	userCols    = []string{"user_id", "uid", "user"}
	recipeCols  = []string{"recipe_id", "iid", "item_id", "id"}
	scoreCols   = []string{"predicted_score", "est", "predicted_rating", "score"}
	latentCols  = []string{"latent_score", "cf_score", "svd_score"}
	contentCols = []string{"content_score", "cb_score", "similarity"}
	variantCols = []string{"model_variant", "model", "variant"}
)

// IDResolver 把原始用户标识映射为规范标识
type IDResolver interface {
	Resolve(raw string) string
}

// Normalizer 把各种形态的打分行转换为规范的 UserItemScore
type Normalizer struct {
	// HybridAlpha 是 hybrid 模型的混合权重，0 表示未配置
	HybridAlpha float64
	Users       IDResolver
}

type scoreRow struct {
	line     int
	variant  string
	userID   string
	recipeID int64
	score    *float64
	latent   *float64
	content  *float64
}

func (n Normalizer) apply(row scoreRow, defaultVariant string) (model.UserItemScore, error) {
	vname := row.variant
	if vname == "" {
		vname = defaultVariant
	}
	if vname == "" {
		return model.UserItemScore{}, errors.New("row has no model_variant and source has no default variant")
	}
	variant, err := model.ParseVariant(vname)
	if err != nil {
		return model.UserItemScore{}, err
	}

	uid := model.NormalizeUserID(row.userID)
	if n.Users != nil && uid != "" {
		uid = n.Users.Resolve(uid)
	}
	if uid == "" {
		return model.UserItemScore{}, errors.New("empty user_id")
	}

	score, err := n.resolveScore(variant, row)
	if err != nil {
		return model.UserItemScore{}, err
	}

	return model.UserItemScore{
		UserID:         uid,
		RecipeID:       row.recipeID,
		PredictedScore: score,
		ModelVariant:   variant,
	}, nil
}

func (n Normalizer) resolveScore(variant model.ModelVariant, row scoreRow) (float64, error) {
	if row.score != nil {
		return *row.score, nil
	}
	switch {
	case variant == model.VariantHybrid && row.latent != nil && row.content != nil:
		if n.HybridAlpha <= 0 || n.HybridAlpha >= 1 {
			return 0, errors.New("hybrid row needs blending but models.hybrid.alpha is not configured")
		}
		return n.HybridAlpha*(*row.latent) + (1-n.HybridAlpha)*(*row.content), nil
	case variant == model.VariantSimple && row.latent != nil:
		return *row.latent, nil
	}
	return 0, errors.New("row has no predicted score")
}

func scoreRowFromRecord(r record) (scoreRow, error) {
	row := scoreRow{line: r.line}
	row.userID, _ = r.get(userCols...)
	row.variant, _ = r.get(variantCols...)

	id, ok, err := r.id(recipeCols...)
	if err != nil {
		return row, err
	}
	if !ok {
		return row, errors.New("missing recipe_id")
	}
	row.recipeID = id

	if row.score, err = r.float(scoreCols...); err != nil {
		return row, err
	}
	if row.latent, err = r.float(latentCols...); err != nil {
		return row, err
	}
	if row.content, err = r.float(contentCols...); err != nil {
		return row, err
	}
	return row, nil
}

// LoadScores 读取一个打分制品并规范化
func (l *Loader) LoadScores(ctx context.Context, src Source, norm Normalizer) ([]model.UserItemScore, error) {
	rows, err := l.readScoreRows(ctx, src)
	if err != nil {
		return nil, withSource(err, "scores", src.Path)
	}

	out := make([]model.UserItemScore, 0, len(rows))
	for _, row := range rows {
		s, err := norm.apply(row, src.Variant)
		if err != nil {
			return nil, &LoadError{Kind: "scores", Path: src.Path, Line: row.line, Err: err}
		}
		s.Seq = len(out)
		out = append(out, s)
	}

	l.logger.Debug("score artifact loaded",
		zap.String("path", src.Path),
		zap.Int("rows", len(out)))
	return out, nil
}

func (l *Loader) readScoreRows(ctx context.Context, src Source) ([]scoreRow, error) {
	format, err := DetectFormat(src.Path, src.Format)
	if err != nil {
		return nil, err
	}

	var records []record
	switch format {
	case FormatJSON:
		data, err := l.ReadBytes(ctx, src.Path)
		if err != nil {
			return nil, err
		}
		return parseNestedScores(data)
	case FormatCSV, FormatJSONL:
		data, err := l.ReadBytes(ctx, src.Path)
		if err != nil {
			return nil, err
		}
		if format == FormatCSV {
			records, err = readCSV(data)
		} else {
			records, err = readJSONL(data)
		}
		if err != nil {
			return nil, err
		}
	case FormatSQLite:
		path, cleanup, err := l.localFile(ctx, src.Path)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		if records, err = readSQLiteTable(ctx, path, "user_item_scores"); err != nil {
			return nil, err
		}
	}

	rows := make([]scoreRow, 0, len(records))
	for _, r := range records {
		row, err := scoreRowFromRecord(r)
		if err != nil {
			return nil, &LoadError{Line: r.line, Err: err}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseNestedScores 解析 {variant: {user_id: 排序列表}} 形态
//
// 排序列表支持三种写法：
//   - [10, 11, 12]：只有名次，分数按 len-rank 合成，保持原顺序
//   - [{"recipe_id": 10, "score": 4.9}, ...]
//   - {"10": 4.9, "11": 4.9}
func parseNestedScores(data []byte) ([]scoreRow, error) {
	var doc map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid nested score document: %w", err)
	}

	var rows []scoreRow
	for _, variant := range sortedKeys(doc) {
		users := doc[variant]
		for _, uid := range sortedKeys(users) {
			userRows, err := parseRankedList(users[uid])
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", variant, uid, err)
			}
			for i := range userRows {
				userRows[i].variant = variant
				userRows[i].userID = uid
				userRows[i].line = len(rows) + i + 1
			}
			rows = append(rows, userRows...)
		}
	}
	return rows, nil
}

func parseRankedList(raw json.RawMessage) ([]scoreRow, error) {
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err == nil {
		rows := make([]scoreRow, len(ids))
		for i, id := range ids {
			s := float64(len(ids) - i)
			rows[i] = scoreRow{recipeID: id, score: &s}
		}
		return rows, nil
	}

	var objs []map[string]any
	if err := decodeJSON(raw, &objs); err == nil {
		rows := make([]scoreRow, 0, len(objs))
		for i, obj := range objs {
			row, err := scoreRowFromRecord(objectRecord(i+1, obj))
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			if row.score == nil && row.latent == nil {
				return nil, fmt.Errorf("entry %d: missing score", i)
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	var byRecipe map[string]float64
	if err := json.Unmarshal(raw, &byRecipe); err != nil {
		return nil, errors.New("ranked list must be an id array, an object array or a recipe->score map")
	}
	type kv struct {
		id    int64
		score float64
	}
	pairs := make([]kv, 0, len(byRecipe))
	for k, v := range byRecipe {
		id, err := parseID(k)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, kv{id, v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	rows := make([]scoreRow, len(pairs))
	for i, p := range pairs {
		s := p.score
		rows[i] = scoreRow{recipeID: p.id, score: &s}
	}
	return rows, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		// 数字型 key 按数值排序且排在前面，保证 "9" 在 "10" 之前
		a, errA := strconv.ParseInt(keys[i], 10, 64)
		b, errB := strconv.ParseInt(keys[j], 10, 64)
		switch {
		case errA == nil && errB == nil:
			if a != b {
				return a < b
			}
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}
