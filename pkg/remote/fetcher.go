package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Fetcher 定义远程制品的获取接口
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher 通过 HTTP(S) GET 拉取模型制品 (如对象存储上的导出文件)
type HTTPFetcher struct {
	token      string
	maxBytes   int64
	httpClient *http.Client
}

type Option func(*HTTPFetcher)

// WithToken 为请求附加 Bearer Token
func WithToken(token string) Option {
	return func(f *HTTPFetcher) {
		f.token = token
	}
}

// WithTimeout 覆盖默认超时，非正数保持默认值
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.httpClient.Timeout = d
		}
	}
}

// WithMaxBytes 限制单个制品的最大字节数，0 表示不限制
func WithMaxBytes(n int64) Option {
	return func(f *HTTPFetcher) {
		f.maxBytes = n
	}
}

func NewHTTPFetcher(options ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// IsRemote 判断路径是否需要走远程拉取
func IsRemote(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s failed: %w", url, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d: %s", url, resp.StatusCode, truncate(string(data), 200))
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: artifact exceeds %d bytes", url, f.maxBytes)
	}

	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
