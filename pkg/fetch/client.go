// Package fetch downloads remote documents with bounded retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
)

const (
	defaultMaxAttempts    = 3
	defaultTimeout        = 30 * time.Second
	defaultUserAgent      = "tale-download-api/1.0"
	defaultBytesPerSecond = 200_000

	minAdaptiveTimeout = 10 * time.Second
	maxAdaptiveTimeout = 120 * time.Second
)

// HTTPDoer is the subset of *http.Client used by the downloader.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds downloader configuration.
type ClientConfig struct {
	MaxAttempts    int
	DefaultTimeout time.Duration
	// MaxFileSize in bytes; zero disables the limit.
	MaxFileSize    int64
	ProbeSize      bool
	BytesPerSecond int64
	UserAgent      string
}

// DefaultConfig returns the downloader defaults.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxAttempts:    defaultMaxAttempts,
		DefaultTimeout: defaultTimeout,
		MaxFileSize:    500 * 1024 * 1024,
		ProbeSize:      true,
		BytesPerSecond: defaultBytesPerSecond,
		UserAgent:      defaultUserAgent,
	}
}

// Client fetches document payloads.
type Client struct {
	http   HTTPDoer
	cfg    ClientConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewClient creates a downloader. A nil doer uses a plain *http.Client; per-attempt
// deadlines come from request contexts.
func NewClient(cfg ClientConfig, doer HTTPDoer, logger *zap.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.BytesPerSecond <= 0 {
		cfg.BytesPerSecond = defaultBytesPerSecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if doer == nil {
		doer = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: doer, cfg: cfg, logger: logger, sleep: sleepContext}
}

// AdaptiveTimeout scales the per-attempt timeout with the expected payload size.
func (c *Client) AdaptiveTimeout(size int64) time.Duration {
	timeout := time.Duration(float64(size) / float64(c.cfg.BytesPerSecond) * float64(time.Second))
	if timeout < minAdaptiveTimeout {
		return minAdaptiveTimeout
	}
	if timeout > maxAdaptiveTimeout {
		return maxAdaptiveTimeout
	}
	return timeout
}

// Fetch downloads url. Failed attempt k waits 2^k seconds before the next one.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	timeout := c.cfg.DefaultTimeout
	if c.cfg.ProbeSize {
		if size, ok := c.probe(ctx, url); ok {
			if c.cfg.MaxFileSize > 0 && size > c.cfg.MaxFileSize {
				return nil, c.tooLarge(size)
			}
			timeout = c.AdaptiveTimeout(size)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		body, err := c.get(ctx, url, timeout)
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if !retryable(err) || attempt == c.cfg.MaxAttempts-1 {
			break
		}

		wait := time.Duration(1<<attempt) * time.Second
		c.logger.Warn("download attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	if errors.Is(lastErr, appErrors.ErrFileTooLarge) {
		return nil, lastErr
	}
	return nil, appErrors.WrapKind(lastErr, appErrors.ErrDownloadFailed, "")
}

func (c *Client) probe(ctx context.Context, url string) (int64, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, minAdaptiveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("size probe failed", zap.String("url", url), zap.Error(err))
		return 0, false
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest || resp.ContentLength <= 0 {
		return 0, false
	}
	return resp.ContentLength, true
}

func (c *Client) get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &permanentError{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}
	if c.cfg.MaxFileSize > 0 && resp.ContentLength > c.cfg.MaxFileSize {
		return nil, c.tooLarge(resp.ContentLength)
	}

	reader := io.Reader(resp.Body)
	if c.cfg.MaxFileSize > 0 {
		reader = io.LimitReader(resp.Body, c.cfg.MaxFileSize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if c.cfg.MaxFileSize > 0 && int64(len(body)) > c.cfg.MaxFileSize {
		return nil, c.tooLarge(int64(len(body)))
	}
	return body, nil
}

func (c *Client) tooLarge(size int64) error {
	return appErrors.Clone(appErrors.ErrFileTooLarge,
		fmt.Sprintf("file of %d bytes exceeds maximum of %d bytes", size, c.cfg.MaxFileSize))
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// retryable reports whether another attempt could succeed: transport errors,
// timeouts, 5xx and 429 qualify.
func retryable(err error) bool {
	var status *statusError
	if errors.As(err, &status) {
		return status.code >= http.StatusInternalServerError || status.code == http.StatusTooManyRequests
	}
	var permanent *permanentError
	if errors.As(err, &permanent) {
		return false
	}
	return !errors.Is(err, appErrors.ErrFileTooLarge)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
