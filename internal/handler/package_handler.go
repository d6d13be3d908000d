package handler

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/tale-download-api/internal/models"
	"github.com/noah-isme/tale-download-api/internal/service"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
	"github.com/noah-isme/tale-download-api/pkg/response"
)

const zipContentType = "application/zip"

type packageSelector interface {
	SelectForPackage(ctx context.Context, req service.PackageRequest) ([]models.DocumentRecord, models.ExportParams, error)
	ProjectRecords(ctx context.Context, projectCode string) ([]models.DocumentRecord, error)
}

type packageBuilder interface {
	Build(ctx context.Context, records []models.DocumentRecord, w io.Writer) (*service.PackageResult, error)
}

// PackageHandler builds ZIP archives synchronously.
type PackageHandler struct {
	selector packageSelector
	builder  packageBuilder
	logger   *zap.Logger
}

// NewPackageHandler constructs the handler.
func NewPackageHandler(selector packageSelector, builder packageBuilder, logger *zap.Logger) *PackageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PackageHandler{selector: selector, builder: builder, logger: logger}
}

// Zip godoc
// @Summary Download a ZIP of filtered documents
// @Description document_ids (proforma codes) take precedence over filters. At least one filter is required otherwise.
// @Tags Download
// @Accept json
// @Produce application/zip
// @Param payload body service.PackageRequest true "Selection"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /download/zip [post]
func (h *PackageHandler) Zip(c *gin.Context) {
	var req service.PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid zip payload"))
		return
	}
	records, params, err := h.selector.SelectForPackage(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.serve(c, records, service.ArchiveName(params))
}

// ProjectZip godoc
// @Summary Download a ZIP of a whole project
// @Tags Download
// @Produce application/zip
// @Param code path string true "Project code"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /download/zip/project/{code} [get]
func (h *PackageHandler) ProjectZip(c *gin.Context) {
	code := c.Param("code")
	records, err := h.selector.ProjectRecords(c.Request.Context(), code)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.serve(c, records, service.ArchiveName(models.ExportParams{ProjectCode: code}))
}

// serve builds into a temporary file so a failed build still gets a JSON error.
func (h *PackageHandler) serve(c *gin.Context, records []models.DocumentRecord, filename string) {
	tmp, err := os.CreateTemp("", "package-*.zip")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate archive"))
		return
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	result, err := h.builder.Build(c.Request.Context(), records, tmp)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read archive"))
		return
	}
	if info, err := tmp.Stat(); err == nil {
		c.Header("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	c.Header("X-Documents-Packaged", strconv.Itoa(result.Documents))
	c.Header("X-Documents-Failed", strconv.Itoa(len(result.Failures)))
	if err := response.Stream(c, filename, zipContentType, tmp); err != nil {
		h.logger.Warn("archive stream interrupted", zap.String("archive", filename), zap.Error(err))
		_ = c.Error(fmt.Errorf("stream archive: %w", err))
	}
}
