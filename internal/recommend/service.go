package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"recipe_recommend/internal/artifact"
	"recipe_recommend/internal/metrics"
	"recipe_recommend/internal/model"
	"recipe_recommend/internal/nodes"
	"recipe_recommend/internal/snapshot"
	"recipe_recommend/internal/workflow"
	"recipe_recommend/pkg/remote"

	"go.uber.org/zap"
)

// Service 预计算推荐结果的查询服务
//
// 所有数据在构建时一次性加载为只读快照，查询路径不加锁、不做任何 I/O。
type Service struct {
	cfg      Config
	tieBreak model.TieBreakPolicy
	holder   *snapshot.Holder
	engine   *workflow.Engine
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

type options struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	fetcher  remote.Fetcher
	pipeline []workflow.NodeConfig
}

// Option 定制 Service 的依赖
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithFetcher 替换拉取远程制品的客户端
func WithFetcher(f remote.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithPipeline 替换默认的查询流水线
func WithPipeline(cfgs []workflow.NodeConfig) Option {
	return func(o *options) { o.pipeline = cfgs }
}

// ModelInfo 一个可用模型变体的描述
type ModelInfo struct {
	Variant model.ModelVariant `json:"variant"`
	Label   string             `json:"label"`
	Alpha   float64            `json:"alpha,omitempty"`
	RMSE    float64            `json:"rmse,omitempty"`
	MAE     float64            `json:"mae,omitempty"`
	Users   int                `json:"users"`
}

// NewService 校验配置并加载全部制品，任一制品失败则返回 *ArtifactLoadError
func NewService(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.fetcher == nil {
		o.fetcher = remote.NewHTTPFetcher(
			remote.WithToken(cfg.Remote.Token),
			remote.WithTimeout(cfg.Remote.Timeout),
			remote.WithMaxBytes(cfg.Remote.MaxBytes),
		)
	}
	if o.pipeline == nil {
		o.pipeline = nodes.DefaultPipeline()
	}

	tieBreak, err := model.ParseTieBreak(cfg.TieBreak, model.TieBreakRecipeIDAsc)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		tieBreak: tieBreak,
		metrics:  o.metrics,
		logger:   o.logger,
	}

	s.engine, err = workflow.NewEngine(o.pipeline, nodes.NewRegistry(s.onCatalogMiss), o.logger.Named("pipeline"))
	if err != nil {
		return nil, err
	}

	hybrid, _ := cfg.modelConfig(model.VariantHybrid)
	sources := snapshot.Sources{
		Scores:      cfg.Artifacts.Scores,
		Catalog:     cfg.Artifacts.Catalog,
		UserMap:     cfg.Artifacts.UserMap,
		HybridAlpha: hybrid.Alpha,
	}
	loader := artifact.NewLoader(o.fetcher, o.logger.Named("artifact"))
	builder := snapshot.NewBuilder(loader, sources, o.logger.Named("snapshot"))

	s.holder, err = snapshot.NewHolder(ctx, builder, o.logger.Named("snapshot"))
	if err != nil {
		return nil, asLoadError(err)
	}
	s.publish(s.holder.Load())
	return s, nil
}

func asLoadError(err error) error {
	var le *ArtifactLoadError
	if errors.As(err, &le) {
		return le
	}
	return &ArtifactLoadError{Kind: "snapshot", Err: err}
}

func (s *Service) onCatalogMiss(variant model.ModelVariant, userID string, recipeID int64) {
	s.logger.Warn("recipe missing from catalog, serving placeholder",
		zap.String("variant", string(variant)),
		zap.String("user_id", userID),
		zap.Int64("recipe_id", recipeID))
	s.metrics.CatalogMiss(string(variant))
}

func (s *Service) publish(snap *snapshot.Snapshot) {
	rows := make(map[string]int)
	for _, vs := range snap.Stats().Variants {
		rows[string(vs.Variant)] = vs.Rows
	}
	s.metrics.SetSnapshot(snap.Version, rows, snap.Info().Recipes)
}

// Config 返回构建时使用的配置
func (s *Service) Config() Config {
	return s.cfg
}

// variant 解析变体名，未配置的变体同样视为未知
func (s *Service) variant(name string) (model.ModelVariant, error) {
	v, err := model.ParseVariant(name)
	if err != nil {
		return "", err
	}
	if len(s.cfg.Models) > 0 {
		if _, ok := s.cfg.modelConfig(v); !ok {
			return "", fmt.Errorf("%w: %q is not configured", ErrUnknownModelVariant, name)
		}
	}
	return v, nil
}

// GetTopN 返回用户在该变体下分数最高的 n 条推荐
//
// 用户没有任何打分时 (包括空标识) 返回 Status 为 no_recommendations 的结果而不是错误。
// tieBreak 为空时使用配置的默认决胜规则。
func (s *Service) GetTopN(ctx context.Context, variantName, userID string, n int, tieBreak string) (*model.Result, error) {
	start := time.Now()
	res, err := s.getTopN(ctx, variantName, userID, n, tieBreak)

	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, ErrUnknownModelVariant):
		outcome = metrics.OutcomeUnknownVariant
	case errors.Is(err, ErrInvalidArgument):
		outcome = metrics.OutcomeInvalidArgument
	case err != nil:
		outcome = metrics.OutcomeError
	case res.NoRecommendations():
		outcome = metrics.OutcomeNoRecommendations
	}
	label := "unknown"
	if res != nil {
		label = string(res.Variant)
	} else if v, verr := s.variant(variantName); verr == nil {
		label = string(v)
	}
	s.metrics.ObserveLookup(label, outcome, time.Since(start))
	return res, err
}

func (s *Service) getTopN(ctx context.Context, variantName, userID string, n int, tieBreak string) (*model.Result, error) {
	variant, err := s.variant(variantName)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", ErrInvalidArgument, n)
	}
	policy, err := model.ParseTieBreak(tieBreak, s.tieBreak)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	snap := s.holder.Load()
	uid := snap.ResolveUser(userID)

	wctx := workflow.NewContext(ctx, snap, variant, uid, n, policy)
	if err := s.engine.Run(wctx); err != nil {
		return nil, err
	}

	res := &model.Result{
		Variant:  variant,
		UserID:   uid,
		TieBreak: policy,
		Status:   model.StatusOK,
		Items:    wctx.Items,
	}
	if len(res.Items) == 0 {
		res.Status = model.StatusNoRecommendations
		res.Items = []model.Recommendation{}
	}
	return res, nil
}

// ListKnownUsers 返回该变体下有打分的用户，按字典序取前 limit 个
func (s *Service) ListKnownUsers(variantName string, limit int) ([]string, error) {
	return s.ListKnownUsersAfter(variantName, "", limit)
}

// ListKnownUsersAfter 游标分页：返回字典序严格大于 after 的前 limit 个用户
func (s *Service) ListKnownUsersAfter(variantName, after string, limit int) ([]string, error) {
	variant, err := s.variant(variantName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidArgument, limit)
	}

	users := s.holder.Load().Users(variant)
	start := 0
	if after != "" {
		start = sort.SearchStrings(users, after)
		if start < len(users) && users[start] == after {
			start++
		}
	}
	end := min(start+limit, len(users))

	out := make([]string, end-start)
	copy(out, users[start:end])
	return out, nil
}

// Models 返回已配置的模型变体及其离线指标
func (s *Service) Models() []ModelInfo {
	snap := s.holder.Load()
	out := make([]ModelInfo, 0, len(s.cfg.Models))
	for _, m := range s.cfg.Models {
		v := model.ModelVariant(m.Variant)
		label := m.Label
		if label == "" {
			label = m.Variant
		}
		out = append(out, ModelInfo{
			Variant: v,
			Label:   label,
			Alpha:   m.Alpha,
			RMSE:    m.RMSE,
			MAE:     m.MAE,
			Users:   len(snap.Users(v)),
		})
	}
	return out
}

// Stats 当前快照的概要统计
func (s *Service) Stats() snapshot.Stats {
	return s.holder.Load().Stats()
}

// Info 当前快照的加载元数据
func (s *Service) Info() snapshot.Info {
	return s.holder.Load().Info()
}

// Reload 重新加载全部制品；失败时继续使用旧数据
func (s *Service) Reload(ctx context.Context) (snapshot.Info, error) {
	snap, err := s.holder.Reload(ctx)
	if errors.Is(err, snapshot.ErrReloadInProgress) {
		return snapshot.Info{}, err
	}
	s.metrics.ObserveReload(err)
	if err != nil {
		return snapshot.Info{}, asLoadError(err)
	}
	s.publish(snap)
	return snap.Info(), nil
}

// Watch 监听本地制品，变化后自动重载；未开启 watch 时直接返回
func (s *Service) Watch(ctx context.Context) error {
	if !s.cfg.Artifacts.Watch {
		return nil
	}
	w, err := snapshot.NewWatcher(s.cfg.sourcePaths(), func(ctx context.Context) error {
		_, err := s.Reload(ctx)
		return err
	}, s.cfg.Artifacts.WatchDebounce, s.logger.Named("watcher"))
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
