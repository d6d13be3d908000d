package main

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/tale-download-api/internal/handler"
	"github.com/noah-isme/tale-download-api/internal/middleware"
	"github.com/noah-isme/tale-download-api/pkg/config"
	"github.com/noah-isme/tale-download-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tale-download-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tale-download-api/pkg/middleware/requestid"
)

type routes struct {
	health    *handler.HealthHandler
	documents *handler.DocumentHandler
	filters   *handler.FilterHandler
	packages  *handler.PackageHandler
	exports   *handler.ExportHandler
	metrics   *handler.MetricsHandler
	auth      middleware.TokenValidator
	observer  middleware.RequestObserver
}

func newRouter(cfg *config.Config, logr *zap.Logger, h routes) *gin.Engine {
	if logr == nil {
		logr = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(corsmiddleware.DefaultOptions(cfg.CORS.AllowedOrigins)))
	r.Use(middleware.Metrics(h.observer))

	r.GET("/metrics", h.metrics.Prometheus)

	api := r.Group("/" + strings.Trim(cfg.APIPrefix, "/"))
	api.GET("/health", h.health.Health)

	// Signed links carry their own authorisation.
	api.GET("/exports/download/:token", h.exports.Download)

	protected := api.Group("")
	if h.auth != nil {
		protected.Use(middleware.JWT(h.auth))
	}
	protected.Use(middleware.WithResponseMeta())

	protected.GET("/metrics/summary", h.metrics.Summary)
	protected.GET("/filters/projects", h.filters.Projects)
	protected.GET("/filters/document-types", h.filters.DocumentTypes)
	protected.GET("/filters/unit-types", h.filters.UnitTypes)
	protected.GET("/labels", h.filters.Labels)

	protected.GET("/projects", h.documents.Projects)
	protected.GET("/projects/catalog", h.documents.Catalog)
	protected.GET("/documents", h.documents.List)

	protected.GET("/download/document/:proforma", h.documents.Download)
	protected.POST("/download/zip", h.packages.Zip)
	protected.GET("/download/zip/project/:code", h.packages.ProjectZip)

	protected.POST("/exports", h.exports.Create)
	protected.GET("/exports/:id", h.exports.Status)

	return r
}
