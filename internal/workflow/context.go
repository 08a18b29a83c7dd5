package workflow

import (
	"context"
	"fmt"

	"recipe_recommend/internal/model"
)

// Tables 是流水线读取的只读数据表，由当前快照提供
type Tables interface {
	Scores(variant model.ModelVariant, userID string) []model.UserItemScore
	Recipe(recipeID int64) (model.RecipeSummary, bool)
}

// Context 承载一次 Top-N 查询的所有状态信息
// 每次调用独占一个 Context，节点顺序执行，因此无需加锁
type Context struct {
	Ctx      context.Context
	Tables   Tables
	Variant  model.ModelVariant
	UserID   string
	N        int
	TieBreak model.TieBreakPolicy

	// 数据流转区
	Candidates []model.UserItemScore  // 召回 / 排序阶段的候选
	Items      []model.Recommendation // 关联目录后的最终结果
	TraceLog   []string               // 执行日志
}

// NewContext 创建一个新的工作流上下文
func NewContext(ctx context.Context, tables Tables, variant model.ModelVariant, userID string, n int, tieBreak model.TieBreakPolicy) *Context {
	return &Context{
		Ctx:        ctx,
		Tables:     tables,
		Variant:    variant,
		UserID:     userID,
		N:          n,
		TieBreak:   tieBreak,
		Candidates: make([]model.UserItemScore, 0),
		TraceLog:   make([]string, 0),
	}
}

// SetCandidates 替换整个候选集，通常用于召回或排序阶段
func (c *Context) SetCandidates(items []model.UserItemScore) {
	c.Candidates = items
}

// AddLog 添加追踪日志
func (c *Context) AddLog(format string, args ...any) {
	c.TraceLog = append(c.TraceLog, fmt.Sprintf(format, args...))
}

// Node 定义工作流中的执行节点
type Node interface {
	Name() string
	Type() string // e.g., "recall", "rank", "join"
	Execute(ctx *Context) error
}
