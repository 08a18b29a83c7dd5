package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrReloadInProgress 已有一次重载正在进行
var ErrReloadInProgress = errors.New("reload already in progress")

// Holder 持有当前生效的快照
//
// 读路径只做一次原子读取，不加锁；重载在旁路完整构建后一次性替换。
type Holder struct {
	current atomic.Pointer[Snapshot]
	builder *Builder
	logger  *zap.Logger

	reloadMu sync.Mutex
	version  atomic.Int64
}

// NewHolder 同步构建首个快照，失败则直接返回错误
func NewHolder(ctx context.Context, builder *Builder, logger *zap.Logger) (*Holder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Holder{builder: builder, logger: logger}
	if _, err := h.build(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Load 返回当前快照
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Reload 构建新快照并替换；失败时继续使用旧快照
func (h *Holder) Reload(ctx context.Context) (*Snapshot, error) {
	if !h.reloadMu.TryLock() {
		return nil, ErrReloadInProgress
	}
	defer h.reloadMu.Unlock()

	start := time.Now()
	snap, err := h.build(ctx)
	if err != nil {
		h.logger.Error("reload failed, keep serving previous snapshot",
			zap.Int64("version", h.Load().Version),
			zap.Error(err))
		return nil, err
	}
	h.logger.Info("snapshot reloaded",
		zap.Int64("version", snap.Version),
		zap.Duration("elapsed", time.Since(start)))
	return snap, nil
}

func (h *Holder) build(ctx context.Context) (*Snapshot, error) {
	snap, err := h.builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	// 快照尚未发布，此处赋值不会与读者竞争
	snap.Version = h.version.Add(1)
	h.current.Store(snap)
	return snap, nil
}
