// Package metrics 查询服务的 Prometheus 指标
//
// 所有指标注册在调用方传入的 Registerer 上，测试可以使用独立的 registry。
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "recipe_recommend"

// Lookup 结果标签
const (
	OutcomeOK                = "ok"
	OutcomeNoRecommendations = "no_recommendations"
	OutcomeUnknownVariant    = "unknown_variant"
	OutcomeInvalidArgument   = "invalid_argument"
	OutcomeError             = "error"
)

// Metrics 服务的全部指标
type Metrics struct {
	LookupsTotal    *prometheus.CounterVec
	LookupDuration  *prometheus.HistogramVec
	CatalogJoinMiss *prometheus.CounterVec
	ReloadsTotal    *prometheus.CounterVec
	SnapshotRows    *prometheus.GaugeVec
	SnapshotRecipes prometheus.Gauge
	SnapshotVersion prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New 在 reg 上注册全部指标；reg 为 nil 时使用一个新的私有 registry
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		LookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Total number of top-N lookups by variant and outcome",
		}, []string{"variant", "outcome"}),

		LookupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Duration of top-N lookups in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"variant"}),

		CatalogJoinMiss: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_join_miss_total",
			Help:      "Recommended recipes missing from the catalog, served with a placeholder",
		}, []string{"variant"}),

		ReloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_reloads_total",
			Help:      "Snapshot reload attempts by result",
		}, []string{"result"}),

		SnapshotRows: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_score_rows",
			Help:      "Score rows in the active snapshot",
		}, []string{"variant"}),

		SnapshotRecipes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_catalog_recipes",
			Help:      "Recipes in the active catalog",
		}),

		SnapshotVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_version",
			Help:      "Version of the active snapshot",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// ObserveLookup 记录一次查询
func (m *Metrics) ObserveLookup(variant, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(variant, outcome).Inc()
	m.LookupDuration.WithLabelValues(variant).Observe(elapsed.Seconds())
}

// CatalogMiss 记录一次目录关联失败
func (m *Metrics) CatalogMiss(variant string) {
	if m == nil {
		return
	}
	m.CatalogJoinMiss.WithLabelValues(variant).Inc()
}

// ObserveReload 记录一次重载结果
func (m *Metrics) ObserveReload(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ReloadsTotal.WithLabelValues(result).Inc()
}

// SetSnapshot 更新当前快照的规模
func (m *Metrics) SetSnapshot(version int64, rowsByVariant map[string]int, recipes int) {
	if m == nil {
		return
	}
	m.SnapshotVersion.Set(float64(version))
	m.SnapshotRecipes.Set(float64(recipes))
	m.SnapshotRows.Reset()
	for v, n := range rowsByVariant {
		m.SnapshotRows.WithLabelValues(v).Set(float64(n))
	}
}

// Middleware 记录 HTTP 请求数与耗时，route 使用路由模板避免高基数
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
