package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"recipe_recommend/internal/artifact"
	"recipe_recommend/internal/model"
	"recipe_recommend/internal/user"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sources 构建一个快照所需的全部制品
type Sources struct {
	Scores  []artifact.Source
	Catalog artifact.Source
	// UserMap 为空表示不做用户标识翻译
	UserMap     string
	HybridAlpha float64
}

// Snapshot 一份完整加载、建好索引的只读数据
//
// 构建完成后不再修改，任意数量的 goroutine 可以并发读取。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time

	scores  map[model.ModelVariant]map[string][]model.UserItemScore
	users   map[model.ModelVariant][]string
	recipes map[int64]model.RecipeSummary
	mapper  *user.Mapper

	rows       int
	duplicates int
	sources    []string

	statsOnce sync.Once
	stats     Stats
}

// Info 快照的加载元数据
type Info struct {
	Version    int64     `json:"version"`
	LoadedAt   time.Time `json:"loaded_at"`
	Sources    []string  `json:"sources"`
	Rows       int       `json:"rows"`
	Duplicates int       `json:"duplicates"`
	Recipes    int       `json:"recipes"`
	MappedIDs  int       `json:"mapped_ids"`
}

// Scores 返回用户在该变体下的打分行，按源数据顺序排列；调用方不得修改
func (s *Snapshot) Scores(variant model.ModelVariant, userID string) []model.UserItemScore {
	return s.scores[variant][userID]
}

// Recipe 按 recipe_id 查询目录
func (s *Snapshot) Recipe(recipeID int64) (model.RecipeSummary, bool) {
	r, ok := s.recipes[recipeID]
	return r, ok
}

// Users 返回该变体下有打分的用户，按字典序排列；调用方不得修改
func (s *Snapshot) Users(variant model.ModelVariant) []string {
	return s.users[variant]
}

// ResolveUser 把调用方传入的标识规范化，并按用户映射翻译
func (s *Snapshot) ResolveUser(raw string) string {
	uid := model.NormalizeUserID(raw)
	if uid == "" {
		return ""
	}
	return s.mapper.Resolve(uid)
}

func (s *Snapshot) Info() Info {
	return Info{
		Version:    s.Version,
		LoadedAt:   s.LoadedAt,
		Sources:    s.sources,
		Rows:       s.rows,
		Duplicates: s.duplicates,
		Recipes:    len(s.recipes),
		MappedIDs:  s.mapper.Len(),
	}
}

// Builder 从制品构建新的快照
type Builder struct {
	loader  *artifact.Loader
	sources Sources
	logger  *zap.Logger
}

func NewBuilder(loader *artifact.Loader, sources Sources, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{loader: loader, sources: sources, logger: logger}
}

// Build 加载全部制品，任一制品失败即整体失败
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	start := time.Now()

	var mapper *user.Mapper
	if b.sources.UserMap != "" {
		var err error
		if mapper, err = user.Load(ctx, b.loader, b.sources.UserMap); err != nil {
			return nil, err
		}
	}
	norm := artifact.Normalizer{HybridAlpha: b.sources.HybridAlpha}
	if mapper != nil {
		norm.Users = mapper
	}

	perSource := make([][]model.UserItemScore, len(b.sources.Scores))
	var catalog []model.RecipeSummary

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range b.sources.Scores {
		i, src := i, src
		g.Go(func() error {
			rows, err := b.loader.LoadScores(gctx, src, norm)
			if err != nil {
				return err
			}
			perSource[i] = rows
			return nil
		})
	}
	g.Go(func() error {
		var err error
		catalog, err = b.loader.LoadCatalog(gctx, b.sources.Catalog)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		LoadedAt: time.Now(),
		scores:   make(map[model.ModelVariant]map[string][]model.UserItemScore),
		users:    make(map[model.ModelVariant][]string),
		recipes:  make(map[int64]model.RecipeSummary, len(catalog)),
		mapper:   mapper,
	}
	for _, src := range b.sources.Scores {
		snap.sources = append(snap.sources, src.Path)
	}
	snap.sources = append(snap.sources, b.sources.Catalog.Path)
	for _, r := range catalog {
		snap.recipes[r.RecipeID] = r
	}

	snap.index(perSource)
	if snap.duplicates > 0 {
		b.logger.Warn("duplicate score rows replaced, last row wins",
			zap.Int("duplicates", snap.duplicates))
	}

	b.logger.Info("snapshot built",
		zap.Int("rows", snap.rows),
		zap.Int("recipes", len(snap.recipes)),
		zap.Int("score_sources", len(b.sources.Scores)),
		zap.Duration("elapsed", time.Since(start)))
	return snap, nil
}

type scoreKey struct {
	variant  model.ModelVariant
	userID   string
	recipeID int64
}

// index 按配置顺序合并各来源，并为 source_order 重排全局序号
func (s *Snapshot) index(perSource [][]model.UserItemScore) {
	// 记录每个 key 在用户切片中的位置，重复时原地覆盖
	pos := make(map[scoreKey]int)
	seq := 0
	for _, rows := range perSource {
		for _, r := range rows {
			r.Seq = seq
			seq++

			byUser, ok := s.scores[r.ModelVariant]
			if !ok {
				byUser = make(map[string][]model.UserItemScore)
				s.scores[r.ModelVariant] = byUser
			}
			key := scoreKey{r.ModelVariant, r.UserID, r.RecipeID}
			if i, dup := pos[key]; dup {
				byUser[r.UserID][i] = r
				s.duplicates++
				continue
			}
			pos[key] = len(byUser[r.UserID])
			byUser[r.UserID] = append(byUser[r.UserID], r)
			s.rows++
		}
	}

	for variant, byUser := range s.scores {
		users := make([]string, 0, len(byUser))
		for uid, rows := range byUser {
			users = append(users, uid)
			// 覆盖后序号可能乱序，恢复源顺序
			sort.SliceStable(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
		}
		sort.Strings(users)
		s.users[variant] = users
	}
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot v%d (%d rows, %d recipes)", s.Version, s.rows, len(s.recipes))
}
