package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tale-download-api/internal/handler"
	"github.com/noah-isme/tale-download-api/internal/service"
	"github.com/noah-isme/tale-download-api/pkg/config"
)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func testRouter(t *testing.T, auth bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{APIPrefix: "/api/", Version: "test"}
	metrics := service.NewMetricsService()
	h := routes{
		health:    handler.NewHealthHandler(okPinger{}, nil, cfg.Version, nil),
		documents: handler.NewDocumentHandler(nil),
		filters:   handler.NewFilterHandler(nil),
		packages:  handler.NewPackageHandler(nil, nil, nil),
		exports:   handler.NewExportHandler(nil, nil),
		metrics:   handler.NewMetricsHandler(metrics),
		observer:  metrics,
	}
	if auth {
		h.auth = service.NewAuthService(service.AuthConfig{Secret: "router-secret", TokenTTL: time.Hour}, nil)
	}
	return newRouter(cfg, nil, h)
}

func TestRouterRegistersEndpoints(t *testing.T) {
	r := testRouter(t, false)
	registered := map[string]bool{}
	for _, route := range r.Routes() {
		registered[route.Method+" "+route.Path] = true
	}
	for _, want := range []string{
		"GET /api/health",
		"GET /api/filters/projects",
		"GET /api/filters/document-types",
		"GET /api/filters/unit-types",
		"GET /api/labels",
		"GET /api/projects",
		"GET /api/projects/catalog",
		"GET /api/documents",
		"GET /api/download/document/:proforma",
		"POST /api/download/zip",
		"GET /api/download/zip/project/:code",
		"POST /api/exports",
		"GET /api/exports/:id",
		"GET /api/exports/download/:token",
		"GET /api/metrics/summary",
		"GET /metrics",
	} {
		require.True(t, registered[want], "missing route %s", want)
	}
}

func TestRouterHealthIsPublic(t *testing.T) {
	r := testRouter(t, true)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouterRequiresTokenWhenAuthEnabled(t *testing.T) {
	r := testRouter(t, true)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/filters/projects", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Signed download links bypass bearer auth; with exports off the handler answers 503.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/exports/download/abc", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
