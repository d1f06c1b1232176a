package pages

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/brizzai/social-login/internal/logger"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxPageBytes = 4 << 20

// Fetcher loads page HTML from the site base URL. Each path is fetched once
// and cached; concurrent first reads share one request.
type Fetcher struct {
	baseURL string
	client  *retryablehttp.Client

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]string
}

// NewFetcher creates a Fetcher for baseURL.
func NewFetcher(baseURL string) *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = retryLogger{}

	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		cache:   make(map[string]string),
	}
}

// HTML returns the page at path.
func (f *Fetcher) HTML(ctx context.Context, path string) (string, error) {
	f.mu.RLock()
	html, ok := f.cache[path]
	f.mu.RUnlock()
	if ok {
		return html, nil
	}

	v, err, _ := f.group.Do(path, func() (any, error) {
		f.mu.RLock()
		html, ok := f.cache[path]
		f.mu.RUnlock()
		if ok {
			return html, nil
		}

		html, err := f.fetch(ctx, path)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.cache[path] = html
		f.mu.Unlock()
		return html, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) fetch(ctx context.Context, path string) (string, error) {
	url := f.baseURL + path
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("Failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s failed with status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", url, err)
	}
	logger.Debug("Fetched page", zap.String("url", url), zap.Int("bytes", len(body)))
	return string(body), nil
}

// Invalidate drops the cached HTML of every page.
func (f *Fetcher) Invalidate() {
	f.mu.Lock()
	f.cache = make(map[string]string)
	f.mu.Unlock()
}

// retryLogger routes retryablehttp's leveled logs to zap.
type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...interface{}) { logger.Error(msg, zap.Any("details", kv)) }
func (retryLogger) Info(msg string, kv ...interface{})  { logger.Debug(msg, zap.Any("details", kv)) }
func (retryLogger) Debug(msg string, kv ...interface{}) { logger.Debug(msg, zap.Any("details", kv)) }
func (retryLogger) Warn(msg string, kv ...interface{})  { logger.Warn(msg, zap.Any("details", kv)) }
