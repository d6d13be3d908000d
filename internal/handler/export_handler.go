package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/tale-download-api/internal/service"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
	"github.com/noah-isme/tale-download-api/pkg/response"
)

type exportService interface {
	CreateJob(ctx context.Context, req service.PackageRequest, actorID string) (*service.ExportStatusResponse, error)
	GetStatus(ctx context.Context, id, actorID string) (*service.ExportStatusResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error)
}

// ExportHandler manages asynchronous archive exports.
type ExportHandler struct {
	service exportService
	logger  *zap.Logger
}

// NewExportHandler constructs the handler.
func NewExportHandler(service exportService, logger *zap.Logger) *ExportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportHandler{service: service, logger: logger}
}

// Create godoc
// @Summary Queue an archive export
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body service.PackageRequest true "Selection"
// @Success 202 {object} service.ExportStatusResponse
// @Failure 503 {object} response.Envelope
// @Router /exports [post]
func (h *ExportHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnavailable, "exports are disabled"))
		return
	}
	var req service.PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload"))
		return
	}
	job, err := h.service.CreateJob(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Location", c.FullPath()+"/"+job.ID)
	response.Accepted(c, job)
}

// Status godoc
// @Summary Export job status
// @Tags Exports
// @Produce json
// @Param id path string true "Export ID"
// @Success 200 {object} service.ExportStatusResponse
// @Failure 404 {object} response.Envelope
// @Router /exports/{id} [get]
func (h *ExportHandler) Status(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnavailable, "exports are disabled"))
		return
	}
	job, err := h.service.GetStatus(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download a finished export
// @Tags Exports
// @Produce application/zip
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /exports/download/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnavailable, "exports are disabled"))
		return
	}
	download, err := h.service.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.Body.Close()
	if err := response.Stream(c, download.FileName, zipContentType, download.Body); err != nil {
		h.logger.Warn("export stream interrupted", zap.String("archive", download.FileName), zap.Error(err))
	}
}
