package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"recipe_recommend/pkg/remote"

	"go.uber.org/zap"
)

// Format 制品的序列化格式
type Format string

const (
	FormatCSV    Format = "csv"
	FormatJSONL  Format = "jsonl"
	FormatJSON   Format = "json"
	FormatSQLite Format = "sqlite"
)

// Source 描述一个外部制品的位置
type Source struct {
	Path   string `mapstructure:"path" yaml:"path" validate:"required"`
	Format Format `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=csv jsonl json sqlite"`
	// Variant 是扁平表中缺少 model_variant 列时使用的默认变体
	Variant string `mapstructure:"variant" yaml:"variant" validate:"omitempty,oneof=simple hybrid"`
}

// DetectFormat 显式格式优先，否则按扩展名推断
func DetectFormat(path string, explicit Format) (Format, error) {
	if explicit != "" {
		switch explicit {
		case FormatCSV, FormatJSONL, FormatJSON, FormatSQLite:
			return explicit, nil
		}
		return "", fmt.Errorf("unsupported artifact format %q", explicit)
	}

	p := strings.ToLower(path)
	if i := strings.IndexAny(p, "?#"); i >= 0 && remote.IsRemote(p) {
		p = p[:i]
	}
	switch filepath.Ext(p) {
	case ".csv":
		return FormatCSV, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".json":
		return FormatJSON, nil
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite, nil
	}
	return "", fmt.Errorf("cannot detect artifact format of %q, set format explicitly", path)
}

// LoadError 制品不可读或内容损坏，属于致命的构建期错误
type LoadError struct {
	Kind string // scores / catalog / user_map
	Path string
	Line int
	Err  error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("load %s artifact %s (line %d): %v", e.Kind, e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("load %s artifact %s: %v", e.Kind, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader 负责读取并规范化各种形态的上游制品
type Loader struct {
	fetcher remote.Fetcher
	logger  *zap.Logger
}

// NewLoader fetcher 为 nil 时只能读取本地文件
func NewLoader(fetcher remote.Fetcher, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fetcher: fetcher, logger: logger}
}

// ReadBytes 读取本地或远程制品的全部内容
func (l *Loader) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	if remote.IsRemote(path) {
		if l.fetcher == nil {
			return nil, fmt.Errorf("remote artifact %s requires a fetcher", path)
		}
		return l.fetcher.Fetch(ctx, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// localFile 返回可直接打开的本地路径；远程制品会落地为临时文件，调用方负责 cleanup
func (l *Loader) localFile(ctx context.Context, path string) (string, func(), error) {
	if !remote.IsRemote(path) {
		if _, err := os.Stat(path); err != nil {
			return "", nil, fmt.Errorf("failed to stat artifact: %w", err)
		}
		return path, func() {}, nil
	}

	data, err := l.ReadBytes(ctx, path)
	if err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp("", "artifact-*.db")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}
