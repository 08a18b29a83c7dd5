package workflow

import (
	"fmt"

	"go.uber.org/zap"
)

// NodeConfig 节点的配置片段
type NodeConfig struct {
	Name   string         `mapstructure:"name" yaml:"name"`
	Type   string         `mapstructure:"type" yaml:"type"`
	Config map[string]any `mapstructure:"config" yaml:"config"`
}

// NodeFactory 创建 Node 的函数签名
type NodeFactory func(config NodeConfig) (Node, error)

// Registry 节点注册表
type Registry struct {
	factories map[string]NodeFactory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]NodeFactory),
	}
}

// Register 注册一个新的节点类型
func (r *Registry) Register(nodeType string, factory NodeFactory) {
	r.factories[nodeType] = factory
}

// CreateNode 根据配置创建节点实例
func (r *Registry) CreateNode(cfg NodeConfig) (Node, error) {
	factory, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown node type: %s", cfg.Type)
	}
	return factory(cfg)
}

// Engine 按固定顺序执行一条流水线
type Engine struct {
	nodes  []Node
	logger *zap.Logger
}

// NewEngine 根据节点配置构建流水线
func NewEngine(cfgs []NodeConfig, registry *Registry, logger *zap.Logger) (*Engine, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("pipeline has no nodes")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{logger: logger}
	for _, nodeCfg := range cfgs {
		node, err := registry.CreateNode(nodeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create node '%s': %w", nodeCfg.Name, err)
		}
		engine.nodes = append(engine.nodes, node)
	}
	return engine, nil
}

// Nodes 返回流水线中节点的名称，按执行顺序
func (e *Engine) Nodes() []string {
	names := make([]string, len(e.nodes))
	for i, n := range e.nodes {
		names[i] = n.Name()
	}
	return names
}

// Run 顺序执行所有节点，任一节点失败即中止
func (e *Engine) Run(ctx *Context) error {
	ctx.AddLog("Starting pipeline for %s/%s", ctx.Variant, ctx.UserID)

	for _, node := range e.nodes {
		if err := ctx.Ctx.Err(); err != nil {
			return err
		}
		ctx.AddLog("Executing node: %s (%s)", node.Name(), node.Type())
		if err := node.Execute(ctx); err != nil {
			ctx.AddLog("Node execution failed: %v", err)
			e.trace(ctx)
			return fmt.Errorf("node %s: %w", node.Name(), err)
		}
	}

	ctx.AddLog("Pipeline execution completed")
	e.trace(ctx)
	return nil
}

func (e *Engine) trace(ctx *Context) {
	if ce := e.logger.Check(zap.DebugLevel, "pipeline trace"); ce != nil {
		ce.Write(
			zap.String("variant", string(ctx.Variant)),
			zap.String("user_id", ctx.UserID),
			zap.Strings("trace", ctx.TraceLog),
		)
	}
}
