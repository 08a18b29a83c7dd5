package artifact

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"recipe_recommend/internal/model"
	"recipe_recommend/pkg/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type mapResolver map[string]string

func (m mapResolver) Resolve(raw string) string {
	if v, ok := m[raw]; ok {
		return v
	}
	return raw
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path     string
		explicit Format
		want     Format
	}{
		{"models/recs.csv", "", FormatCSV},
		{"models/recs.JSONL", "", FormatJSONL},
		{"models/recs.ndjson", "", FormatJSONL},
		{"models/recs.json", "", FormatJSON},
		{"models/recs.sqlite3", "", FormatSQLite},
		{"https://bucket/recs.json?sig=abc", "", FormatJSON},
		{"models/recs.pkl", FormatCSV, FormatCSV},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path, tt.explicit)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}

	_, err := DetectFormat("models/recs.pkl", "")
	assert.Error(t, err)
	_, err = DetectFormat("models/recs.csv", "parquet")
	assert.Error(t, err)
}

func TestLoadScoresCSV(t *testing.T) {
	path := writeFile(t, "scores.csv", "uid,iid,est\n7,10,4.9\n7,11,4.9\n 7.0 ,12,3.1\nA1B2,10,2.0\n")
	l := NewLoader(nil, nil)

	rows, err := l.LoadScores(context.Background(), Source{Path: path, Variant: "simple"}, Normalizer{})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, model.UserItemScore{UserID: "7", RecipeID: 10, PredictedScore: 4.9, ModelVariant: model.VariantSimple, Seq: 0}, rows[0])
	assert.Equal(t, "7", rows[2].UserID)
	assert.Equal(t, 2, rows[2].Seq)
	assert.Equal(t, "A1B2", rows[3].UserID)
}

func TestLoadScoresVariantColumnAndUserMap(t *testing.T) {
	path := writeFile(t, "scores.csv", "model_variant,user_id,recipe_id,predicted_score\nhybrid,0,10,1.5\nsimple,1,11,2.5\n")
	l := NewLoader(nil, nil)

	rows, err := l.LoadScores(context.Background(), Source{Path: path}, Normalizer{Users: mapResolver{"0": "u-alpha"}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.VariantHybrid, rows[0].ModelVariant)
	assert.Equal(t, "u-alpha", rows[0].UserID)
	assert.Equal(t, "1", rows[1].UserID)
}

func TestLoadScoresHybridBlend(t *testing.T) {
	path := writeFile(t, "hybrid.jsonl", `{"user_id": 7, "recipe_id": 10, "latent_score": 4.0, "content_score": 2.0}

{"user_id": "7", "recipe_id": 11, "predicted_score": 3.3}
`)
	l := NewLoader(nil, nil)
	src := Source{Path: path, Variant: "hybrid"}

	rows, err := l.LoadScores(context.Background(), src, Normalizer{HybridAlpha: 0.7})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.InDelta(t, 0.7*4.0+0.3*2.0, rows[0].PredictedScore, 1e-9)
	assert.Equal(t, 3.3, rows[1].PredictedScore)

	_, err = l.LoadScores(context.Background(), src, Normalizer{})
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 1, le.Line)
	assert.Contains(t, le.Error(), "alpha")
}

func TestLoadScoresNestedJSON(t *testing.T) {
	path := writeFile(t, "recs.json", `{
  "simple": {
    "10": [5, 6, 7],
    "9": [{"recipe_id": 1, "est": 4.5}, {"iid": 2, "score": 3.0}]
  },
  "hybrid": {
    "ghost": [],
    "7": {"12": 3.1, "10": 4.9, "11": 4.9}
  }
}`)
	l := NewLoader(nil, nil)

	rows, err := l.LoadScores(context.Background(), Source{Path: path}, Normalizer{})
	require.NoError(t, err)
	require.Len(t, rows, 8)

	// 变体按 key 排序：hybrid 在前；用户 "7" 在 "ghost" 之前；map 形态按 recipe_id 排序
	assert.Equal(t, model.VariantHybrid, rows[0].ModelVariant)
	assert.Equal(t, []int64{10, 11, 12}, []int64{rows[0].RecipeID, rows[1].RecipeID, rows[2].RecipeID})
	assert.Equal(t, "9", rows[3].UserID)
	assert.Equal(t, 4.5, rows[3].PredictedScore)

	// 纯 id 列表：分数按名次合成
	assert.Equal(t, "10", rows[5].UserID)
	assert.Equal(t, []float64{3, 2, 1}, []float64{rows[5].PredictedScore, rows[6].PredictedScore, rows[7].PredictedScore})
}

func TestLoadScoresFailures(t *testing.T) {
	l := NewLoader(nil, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		file    string
		content string
		src     Source
		wantErr string
	}{
		{"missing file", "", "", Source{Path: "/nonexistent/scores.csv", Variant: "simple"}, "failed to read"},
		{"bad number", "s.csv", "user_id,recipe_id,est\n7,10,abc\n", Source{Variant: "simple"}, "invalid number"},
		{"nan score", "s.csv", "user_id,recipe_id,est\n7,10,inf\n", Source{Variant: "simple"}, "non-finite"},
		{"no variant", "s.csv", "user_id,recipe_id,est\n7,10,1\n", Source{}, "no model_variant"},
		{"unknown variant", "s.csv", "model,user_id,recipe_id,est\nsvd,7,10,1\n", Source{}, "unknown model variant"},
		{"missing recipe", "s.csv", "user_id,est\n7,1\n", Source{Variant: "simple"}, "missing recipe_id"},
		{"empty user", "s.csv", "user_id,recipe_id,est\n ,10,1\n", Source{Variant: "simple"}, "empty user_id"},
		{"bad nested", "s.json", `{"simple": {"7": "oops"}}`, Source{}, "ranked list"},
		{"empty csv", "s.csv", "", Source{Variant: "simple"}, "header required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src
			if tt.file != "" {
				src.Path = writeFile(t, tt.file, tt.content)
			}
			_, err := l.LoadScores(ctx, src, Normalizer{})
			require.Error(t, err)

			var le *LoadError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, "scores", le.Kind)
			assert.Equal(t, src.Path, le.Path)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func createSQLite(t *testing.T, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifacts.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return path
}

func TestLoadSQLite(t *testing.T) {
	path := createSQLite(t,
		`CREATE TABLE user_item_scores (model_variant TEXT, user_id TEXT, recipe_id INTEGER, predicted_score REAL)`,
		`INSERT INTO user_item_scores VALUES ('simple', '7', 10, 4.9), ('simple', '7', 12, 3.1), ('hybrid', '8', 11, 2.0)`,
		`CREATE TABLE recipe_catalog (id INTEGER, name TEXT, tags TEXT, minutes INTEGER)`,
		`INSERT INTO recipe_catalog VALUES (10, 'Pie', '["dessert","baked"]', 45), (11, NULL, NULL, NULL)`,
	)
	l := NewLoader(nil, nil)

	rows, err := l.LoadScores(context.Background(), Source{Path: path}, Normalizer{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(12), rows[1].RecipeID)
	assert.Equal(t, model.VariantHybrid, rows[2].ModelVariant)

	recipes, err := l.LoadCatalog(context.Background(), Source{Path: path})
	require.NoError(t, err)
	require.Len(t, recipes, 2)
	assert.Equal(t, "Pie", recipes[0].Name)
	assert.Equal(t, []string{"dessert", "baked"}, recipes[0].Tags)
	require.NotNil(t, recipes[0].Minutes)
	assert.Equal(t, 45, *recipes[0].Minutes)
	assert.Equal(t, "", recipes[1].Name)
	assert.Nil(t, recipes[1].Minutes)
}

func TestLoadCatalogFoodComCSV(t *testing.T) {
	path := writeFile(t, "RAW_recipes.csv", `name,id,minutes,contributor_id,tags,nutrition,ingredients
arriba baked winter squash mexican style,137739,55,47892,"['60-minutes-or-less', 'time-to-make', 'time-to-make']","[51.5, 0.0, 13.0, 0.0, 2.0, 0.0, 4.0]","['winter squash', 'mexican seasoning', ""chef's salt""]"
plain toast,10,,1,,,bread|butter
`)
	l := NewLoader(nil, nil)

	recipes, err := l.LoadCatalog(context.Background(), Source{Path: path})
	require.NoError(t, err)
	require.Len(t, recipes, 2)

	r := recipes[0]
	assert.Equal(t, int64(137739), r.RecipeID)
	assert.Equal(t, "arriba baked winter squash mexican style", r.Name)
	assert.Equal(t, []string{"60-minutes-or-less", "time-to-make"}, r.Tags)
	assert.Equal(t, []string{"winter squash", "mexican seasoning", "chef's salt"}, r.Ingredients)
	require.NotNil(t, r.Calories)
	assert.Equal(t, 51.5, *r.Calories)
	assert.Equal(t, 0.0, *r.Fat)
	assert.Equal(t, 2.0, *r.Protein)
	assert.Equal(t, 55, *r.Minutes)

	toast := recipes[1]
	assert.Equal(t, []string{"bread", "butter"}, toast.Ingredients)
	assert.Empty(t, toast.Tags)
	assert.Nil(t, toast.Minutes)
	assert.Nil(t, toast.Calories)
}

func TestLoadCatalogJSON(t *testing.T) {
	keyed := writeFile(t, "catalog.json", `{"11": {"name": "Cake", "calories": 300}, "10": {"name": "Pie", "ingredients": ["flour", "apple"]}}`)
	l := NewLoader(nil, nil)

	recipes, err := l.LoadCatalog(context.Background(), Source{Path: keyed})
	require.NoError(t, err)
	require.Len(t, recipes, 2)
	assert.Equal(t, int64(10), recipes[0].RecipeID)
	assert.Equal(t, []string{"flour", "apple"}, recipes[0].Ingredients)
	assert.Equal(t, 300.0, *recipes[1].Calories)

	arr := writeFile(t, "catalog.json", `[{"recipe_id": 1, "name": "A"}, {"recipe_id": 1, "name": "B"}]`)
	_, err = l.LoadCatalog(context.Background(), Source{Path: arr})
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "catalog", le.Kind)
	assert.Contains(t, err.Error(), "duplicate recipe_id 1")
}

func TestLoadCatalogNullEntry(t *testing.T) {
	l := NewLoader(nil, nil)
	for name, content := range map[string]string{
		"keyed": `{"10": {"name": "Pie"}, "11": null}`,
		"array": `[{"recipe_id": 10, "name": "Pie"}, null]`,
	} {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, "catalog.json", content)
			_, err := l.LoadCatalog(context.Background(), Source{Path: path})
			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, "catalog", le.Kind)
			assert.Equal(t, path, le.Path)
			assert.Contains(t, err.Error(), "entry must be an object")
		})
	}

	path := writeFile(t, "catalog.jsonl", "{\"recipe_id\": 10}\nnull\n")
	_, err := l.LoadCatalog(context.Background(), Source{Path: path})
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Line)
}

func TestLoadCatalogListValuesKeepText(t *testing.T) {
	path := writeFile(t, "catalog.jsonl", `{"recipe_id": 10, "ingredients": ["salt & pepper", "a<b"], "tags": ["line\nbreak", "x>y"], "nutrition": [120, 3.5, 0, 0, 7]}
`)
	l := NewLoader(nil, nil)

	recipes, err := l.LoadCatalog(context.Background(), Source{Path: path})
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, []string{"salt & pepper", "a<b"}, recipes[0].Ingredients)
	assert.Equal(t, []string{"line\nbreak", "x>y"}, recipes[0].Tags)
	require.NotNil(t, recipes[0].Protein)
	assert.Equal(t, 7.0, *recipes[0].Protein)

	db := createSQLite(t,
		`CREATE TABLE recipe_catalog (id INTEGER, ingredients TEXT, tags TEXT)`,
		`INSERT INTO recipe_catalog VALUES (10, '["salt & pepper","a\u003cb"]', '["line\nbreak"]')`,
	)
	recipes, err = l.LoadCatalog(context.Background(), Source{Path: db})
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, []string{"salt & pepper", "a<b"}, recipes[0].Ingredients)
	assert.Equal(t, []string{"line\nbreak"}, recipes[0].Tags)
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"10", 10, false},
		{"10.0", 10, false},
		{"-3.00", -3, false},
		{"1.5e3", 1500, false},
		{"9007199254740993", 9007199254740993, false},
		{"9223372036854775807.0", 9223372036854775807, false},
		{"9223372036854775808", 0, true},
		{"9223372036854775808.0", 0, true},
		{"1e20", 0, true},
		{"-1e19", 0, true},
		{"10.5", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseID(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestLoadLargeJSONIDs(t *testing.T) {
	path := writeFile(t, "catalog.jsonl", `{"recipe_id": 9007199254740993, "name": "A"}
{"recipe_id": 9007199254740992, "name": "B"}
`)
	recipes, err := NewLoader(nil, nil).LoadCatalog(context.Background(), Source{Path: path})
	require.NoError(t, err)
	require.Len(t, recipes, 2)
	assert.Equal(t, int64(9007199254740993), recipes[0].RecipeID)
	assert.Equal(t, int64(9007199254740992), recipes[1].RecipeID)

	csvPath := writeFile(t, "catalog.csv", "recipe_id,name\n1e20,A\n9223372036854775808,B\n")
	_, err = NewLoader(nil, nil).LoadCatalog(context.Background(), Source{Path: csvPath})
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Line)
	assert.Contains(t, err.Error(), "out of range")
}

func TestLoadScoresKeepsDistinctUserIDs(t *testing.T) {
	path := writeFile(t, "scores.csv", "user_id,recipe_id,est\n1e3,10,4.0\n1000,11,3.0\n007,12,2.0\n7.0,13,1.0\n")
	rows, err := NewLoader(nil, nil).LoadScores(context.Background(), Source{Path: path, Variant: "simple"}, Normalizer{})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"1e3", "1000", "007", "7"},
		[]string{rows[0].UserID, rows[1].UserID, rows[2].UserID, rows[3].UserID})
}

func TestLoadRemoteArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("recipe_id,name\n10,Pie\n"))
	}))
	defer srv.Close()

	_, err := NewLoader(nil, nil).LoadCatalog(context.Background(), Source{Path: srv.URL + "/catalog.csv"})
	require.Error(t, err)

	recipes, err := NewLoader(remote.NewHTTPFetcher(), nil).LoadCatalog(context.Background(), Source{Path: srv.URL + "/catalog.csv"})
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "Pie", recipes[0].Name)
}

func TestParseList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"[]", []string{}},
		{`['a', 'b c']`, []string{"a", "b c"}},
		{`["x", 'it\'s']`, []string{"x", "it's"}},
		{"[1.5, 2, 3]", []string{"1.5", "2", "3"}},
		{"salt | pepper", []string{"salt", "pepper"}},
		{"salt, pepper", []string{"salt", "pepper"}},
		{`["salt & pepper", "line\nbreak", "a\u003cb", "back\\slash"]`, []string{"salt & pepper", "line\nbreak", "a<b", `back\slash`}},
		{`["\ud83c\udf70 cake"]`, []string{"\U0001F370 cake"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseList(tt.in), tt.in)
	}
}
