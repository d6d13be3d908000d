package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/tale-download-api/internal/dto"
)

const healthTimeout = 3 * time.Second

// Pinger checks a dependency's connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service readiness.
type HealthHandler struct {
	warehouse Pinger
	cache     Pinger
	version   string
	logger    *zap.Logger
}

// NewHealthHandler constructs the handler. cache may be nil when Redis is disabled.
func NewHealthHandler(warehouse, cache Pinger, version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{warehouse: warehouse, cache: cache, version: version, logger: logger}
}

// Health godoc
// @Summary Service health
// @Description Reports "healthy" when the warehouse answers, "degraded" otherwise. Always 200.
// @Tags Health
// @Produce json
// @Success 200 {object} dto.HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := dto.HealthResponse{Status: "healthy", Version: h.version}
	if h.warehouse != nil {
		if err := h.warehouse.Ping(ctx); err != nil {
			h.logger.Warn("warehouse ping failed", zap.Error(err))
		} else {
			resp.RedshiftConnected = true
		}
	}
	if !resp.RedshiftConnected {
		resp.Status = "degraded"
	}
	if h.cache != nil {
		connected := h.cache.Ping(ctx) == nil
		resp.RedisConnected = &connected
	}
	c.JSON(http.StatusOK, resp)
}
