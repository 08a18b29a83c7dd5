package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"recipe_recommend/internal/metrics"
	"recipe_recommend/internal/model"
	"recipe_recommend/internal/recommend"
	"recipe_recommend/internal/snapshot"
	"recipe_recommend/internal/task"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Recommender 是 HTTP 层依赖的查询能力
type Recommender interface {
	GetTopN(ctx context.Context, variant, userID string, n int, tieBreak string) (*model.Result, error)
	ListKnownUsersAfter(variant, after string, limit int) ([]string, error)
	Models() []recommend.ModelInfo
	Stats() snapshot.Stats
	Info() snapshot.Info
	Reload(ctx context.Context) (snapshot.Info, error)
}

// Config HTTP 层参数
type Config struct {
	Addr         string        `mapstructure:"addr"`
	Debug        bool          `mapstructure:"debug"`
	DefaultN     int           `mapstructure:"-"`
	MaxN         int           `mapstructure:"-"`
	UserLimit    int           `mapstructure:"user_limit"`
	MaxUserLimit int           `mapstructure:"max_user_limit"`
	RateLimit    float64       `mapstructure:"rate_limit"` // 每秒请求数，0 表示不限流
	RateBurst    int           `mapstructure:"rate_burst"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Server 代表 HTTP API 服务器
type Server struct {
	router   *gin.Engine
	cfg      Config
	svc      Recommender
	tasks    *task.Manager
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewServer 创建新的 HTTP 服务器
func NewServer(cfg Config, svc Recommender, tasks *task.Manager, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultN <= 0 {
		cfg.DefaultN = 20
	}
	if cfg.UserLimit <= 0 {
		cfg.UserLimit = 50
	}
	if cfg.MaxUserLimit <= 0 {
		cfg.MaxUserLimit = 1000
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:   gin.New(),
		cfg:      cfg,
		svc:      svc,
		tasks:    tasks,
		metrics:  m,
		gatherer: gatherer,
		logger:   logger,
	}
	s.router.Use(gin.Recovery(), s.requestID(), s.accessLog(), s.corsMiddleware())
	if m != nil {
		s.router.Use(m.Middleware())
	}
	s.setupRoutes()
	return s
}

// Handler 暴露路由，便于测试与嵌入
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 启动服务器，ctx 结束后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1")
	if s.cfg.RateLimit > 0 {
		v1.Use(s.rateLimit())
	}

	v1.GET("/recommend/:variant/:user_id", s.handleRecommend)
	v1.GET("/users/:variant", s.handleUsers)
	v1.GET("/models", s.handleModels)
	v1.GET("/stats", s.handleStats)

	admin := v1.Group("/admin")
	admin.POST("/reload", s.handleReload)
	admin.GET("/tasks/:id", s.handleTask)
}

// writeError 把领域错误映射为 HTTP 状态码
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, recommend.ErrUnknownModelVariant), errors.Is(err, task.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, recommend.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, snapshot.ErrReloadInProgress):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (s *Server) handleHealth(c *gin.Context) {
	info := s.svc.Info()
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"snapshot_version": info.Version,
		"loaded_at":        info.LoadedAt,
	})
}

// handleRecommend 处理推荐请求
// GET /api/v1/recommend/:variant/:user_id?n=&tie_break=
func (s *Server) handleRecommend(c *gin.Context) {
	n := s.cfg.DefaultN
	if raw := c.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "n must be an integer")
			return
		}
		n = v
	}
	if s.cfg.MaxN > 0 && n > s.cfg.MaxN {
		badRequest(c, "n exceeds the maximum of "+strconv.Itoa(s.cfg.MaxN))
		return
	}

	res, err := s.svc.GetTopN(c.Request.Context(), c.Param("variant"), c.Param("user_id"), n, c.Query("tie_break"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleUsers 游标分页列出已知用户
// GET /api/v1/users/:variant?limit=&after=
func (s *Server) handleUsers(c *gin.Context) {
	limit := s.cfg.UserLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "limit must be an integer")
			return
		}
		limit = v
	}
	limit = min(limit, s.cfg.MaxUserLimit)

	users, err := s.svc.ListKnownUsersAfter(c.Param("variant"), c.Query("after"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := gin.H{"variant": c.Param("variant"), "users": users}
	if len(users) == limit {
		resp["next"] = users[len(users)-1]
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.svc.Models()})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"snapshot": s.svc.Info(),
		"stats":    s.svc.Stats(),
	})
}

// handleReload 异步重载制品，立即返回任务 ID
// POST /api/v1/admin/reload
func (s *Server) handleReload(c *gin.Context) {
	t := s.tasks.Submit(c.Request.Context(), "reload", func(ctx context.Context) (any, error) {
		info, err := s.svc.Reload(ctx)
		if err != nil {
			return nil, err
		}
		return info, nil
	})
	c.JSON(http.StatusAccepted, gin.H{"task_id": t.ID, "status": t.Status})
}

func (s *Server) handleTask(c *gin.Context) {
	t, err := s.tasks.GetTask(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
