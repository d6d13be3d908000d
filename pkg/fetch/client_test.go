package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type scriptedDoer struct {
	failures int
	calls    int
	body     string
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodHead {
		return nil, errors.New("head not allowed")
	}
	d.calls++
	if d.calls <= d.failures {
		return nil, &url.Error{Op: "Get", URL: req.URL.String(), Err: timeoutError{}}
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Body:          io.NopCloser(strings.NewReader(d.body)),
		ContentLength: int64(len(d.body)),
		Request:       req,
	}, nil
}

func recordSleeps(c *Client) *[]time.Duration {
	waits := &[]time.Duration{}
	c.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return waits
}

func TestFetchRetriesTimeoutsWithBackoff(t *testing.T) {
	doer := &scriptedDoer{failures: 2, body: "%PDF-1.4"}
	client := NewClient(DefaultConfig(), doer, nil)
	waits := recordSleeps(client)

	body, err := client.Fetch(context.Background(), "https://files.example.com/a.pdf")
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(body))
	require.Equal(t, 3, doer.calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestFetchSurfacesFinalFailure(t *testing.T) {
	doer := &scriptedDoer{failures: 5}
	client := NewClient(DefaultConfig(), doer, nil)
	waits := recordSleeps(client)

	_, err := client.Fetch(context.Background(), "https://files.example.com/a.pdf")
	require.Error(t, err)
	require.True(t, errors.Is(err, appErrors.ErrDownloadFailed))
	require.Equal(t, 3, doer.calls)
	require.Len(t, *waits, 2)
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var gets int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			atomic.AddInt32(&gets, 1)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), server.Client(), nil)
	waits := recordSleeps(client)

	_, err := client.Fetch(context.Background(), server.URL+"/missing.pdf")
	require.True(t, errors.Is(err, appErrors.ErrDownloadFailed))
	require.Contains(t, err.Error(), "404")
	require.EqualValues(t, 1, atomic.LoadInt32(&gets))
	require.Empty(t, *waits)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var gets int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && atomic.AddInt32(&gets, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), server.Client(), nil)
	recordSleeps(client)

	body, err := client.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Equal(t, "payload", string(body))
	require.EqualValues(t, 3, atomic.LoadInt32(&gets))
}

func TestFetchRejectsProbedOversizeWithoutDownloading(t *testing.T) {
	var gets int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(2048))
			return
		}
		atomic.AddInt32(&gets, 1)
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxFileSize = 1024
	client := NewClient(cfg, server.Client(), nil)
	waits := recordSleeps(client)

	_, err := client.Fetch(context.Background(), server.URL)
	require.True(t, errors.Is(err, appErrors.ErrFileTooLarge))
	require.Zero(t, atomic.LoadInt32(&gets))
	require.Empty(t, *waits)
}

func TestFetchEnforcesLimitWhileReading(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.(http.Flusher).Flush()
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxFileSize = 1024
	client := NewClient(cfg, server.Client(), nil)
	recordSleeps(client)

	_, err := client.Fetch(context.Background(), server.URL)
	require.True(t, errors.Is(err, appErrors.ErrFileTooLarge))
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	doer := &scriptedDoer{failures: 5}
	client := NewClient(DefaultConfig(), doer, nil)
	ctx, cancel := context.WithCancel(context.Background())
	client.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := client.Fetch(ctx, "https://files.example.com/a.pdf")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, doer.calls)
}

func TestAdaptiveTimeout(t *testing.T) {
	client := NewClient(ClientConfig{}, nil, nil)
	require.Equal(t, 10*time.Second, client.AdaptiveTimeout(1024))
	require.Equal(t, 25*time.Second, client.AdaptiveTimeout(5_000_000))
	require.Equal(t, 120*time.Second, client.AdaptiveTimeout(100_000_000))
}
