package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"recipe_recommend/internal/artifact"
	"recipe_recommend/internal/metrics"
	"recipe_recommend/internal/recommend"
	"recipe_recommend/internal/task"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	srv   *Server
	tasks *task.Manager
	dir   string
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	rcfg := recommend.DefaultConfig()
	rcfg.Artifacts.Scores = []artifact.Source{{
		Path:    write("simple.csv", "user_id,recipe_id,predicted_score\n7,10,4.9\n7,11,4.9\n7,12,3.1\n8,10,1.0\n9,10,1.0\n"),
		Variant: "simple",
	}}
	rcfg.Artifacts.Catalog = artifact.Source{Path: write("catalog.csv", "recipe_id,name\n10,Pie\n11,Cake\n")}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc, err := recommend.NewService(context.Background(), rcfg, recommend.WithMetrics(m))
	require.NoError(t, err)

	tasks := task.NewManager(10, time.Second, nil)
	cfg.Debug = true
	return &testEnv{
		srv:   NewServer(cfg, svc, tasks, m, reg, nil),
		tasks: tasks,
		dir:   dir,
	}
}

func (e *testEnv) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestRecommend(t *testing.T) {
	env := newTestEnv(t, Config{})

	w, body := env.do(t, http.MethodGet, "/api/v1/recommend/simple/7?n=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "ok", body["status"])
	items := body["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "Pie", first["recipe"].(map[string]any)["name"])
	assert.Equal(t, false, first["placeholder"])

	// 缺省 n 使用默认值，结果不足时不补齐
	_, body = env.do(t, http.MethodGet, "/api/v1/recommend/simple/7")
	items = body["items"].([]any)
	require.Len(t, items, 3)
	third := items[2].(map[string]any)
	assert.Equal(t, true, third["placeholder"])
	assert.Equal(t, "Recipe 12", third["recipe"].(map[string]any)["name"])
}

func TestRecommendStatusMapping(t *testing.T) {
	env := newTestEnv(t, Config{MaxN: 100})

	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/recommend/svd/7", http.StatusNotFound},
		{"/api/v1/recommend/simple/7?n=0", http.StatusBadRequest},
		{"/api/v1/recommend/simple/7?n=abc", http.StatusBadRequest},
		{"/api/v1/recommend/simple/7?n=101", http.StatusBadRequest},
		{"/api/v1/recommend/simple/7?tie_break=random", http.StatusBadRequest},
		{"/api/v1/recommend/simple/ghost-user", http.StatusOK},
	}
	for _, tt := range tests {
		w, body := env.do(t, http.MethodGet, tt.path)
		assert.Equal(t, tt.code, w.Code, tt.path)
		if tt.code != http.StatusOK {
			assert.NotEmpty(t, body["error"], tt.path)
		}
	}

	_, body := env.do(t, http.MethodGet, "/api/v1/recommend/simple/ghost-user")
	assert.Equal(t, "no_recommendations", body["status"])
	assert.Empty(t, body["items"])
}

func TestUsersPagination(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, body := env.do(t, http.MethodGet, "/api/v1/users/simple?limit=2")
	assert.Equal(t, []any{"7", "8"}, body["users"])
	assert.Equal(t, "8", body["next"])

	_, body = env.do(t, http.MethodGet, "/api/v1/users/simple?limit=2&after=8")
	assert.Equal(t, []any{"9"}, body["users"])
	assert.Nil(t, body["next"])

	w, _ := env.do(t, http.MethodGet, "/api/v1/users/simple?limit=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = env.do(t, http.MethodGet, "/api/v1/users/svd")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModelsStatsHealth(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, body := env.do(t, http.MethodGet, "/api/v1/models")
	models := body["models"].([]any)
	require.Len(t, models, 2)
	assert.Equal(t, "Hybrid Simple (SVD)", models[0].(map[string]any)["label"])

	_, body = env.do(t, http.MethodGet, "/api/v1/stats")
	catalog := body["stats"].(map[string]any)["catalog"].(map[string]any)
	assert.Equal(t, 2.0, catalog["recipes"])

	w, body := env.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["snapshot_version"])
}

func TestReloadTask(t *testing.T) {
	env := newTestEnv(t, Config{})
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "catalog.csv"), []byte("recipe_id,name\n10,Apple Pie\n"), 0o644))

	w, body := env.do(t, http.MethodPost, "/api/v1/admin/reload")
	require.Equal(t, http.StatusAccepted, w.Code)
	id := body["task_id"].(string)

	done, err := env.tasks.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, done.Status)

	_, body = env.do(t, http.MethodGet, "/api/v1/admin/tasks/"+id)
	assert.Equal(t, "completed", body["status"])

	_, body = env.do(t, http.MethodGet, "/api/v1/recommend/simple/7?n=1")
	item := body["items"].([]any)[0].(map[string]any)
	assert.Equal(t, "Apple Pie", item["recipe"].(map[string]any)["name"])

	w, _ = env.do(t, http.MethodGet, "/api/v1/admin/tasks/unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.do(t, http.MethodGet, "/api/v1/recommend/simple/7")

	w, _ := env.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "recipe_recommend_lookups_total")
	assert.Contains(t, w.Body.String(), "recipe_recommend_catalog_join_miss_total")
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: 1, RateBurst: 1})

	w, _ := env.do(t, http.MethodGet, "/api/v1/models")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(t, http.MethodGet, "/api/v1/models")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// 健康检查不受限流影响
	w, _ = env.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, Config{})
	w, _ := env.do(t, http.MethodOptions, "/api/v1/models")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
