package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"recipe_recommend/pkg/remote"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc 由 Watcher 在制品变化后调用
type ReloadFunc func(ctx context.Context) error

// Watcher 监听本地制品文件，变化后去抖并触发重载
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]struct{}
	reload   ReloadFunc
	debounce time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher 监听 paths 中的本地文件，远程制品会被忽略
//
// 监听的是所在目录而不是文件本身，否则原子替换 (rename) 之后会丢失监听。
func NewWatcher(paths []string, reload ReloadFunc, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		files:    make(map[string]struct{}),
		reload:   reload,
		debounce: debounce,
		logger:   logger,
	}
	dirs := make(map[string]struct{})
	for _, p := range paths {
		if p == "" || remote.IsRemote(p) {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logger.Info("watching artifact directory", zap.String("dir", dir))
	}
	return w, nil
}

// Run 阻塞直到 ctx 结束
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	if _, ok := w.files[abs]; !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.logger.Info("artifact changed, reloading", zap.String("path", abs), zap.String("op", event.Op.String()))
		if err := w.reload(ctx); err != nil {
			w.logger.Error("reload triggered by file change failed", zap.Error(err))
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
