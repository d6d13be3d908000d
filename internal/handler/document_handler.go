package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tale-download-api/internal/dto"
	"github.com/noah-isme/tale-download-api/internal/middleware"
	"github.com/noah-isme/tale-download-api/internal/models"
	"github.com/noah-isme/tale-download-api/internal/service"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
	"github.com/noah-isme/tale-download-api/pkg/response"
)

type documentService interface {
	List(ctx context.Context, query service.DocumentQuery) (*service.DocumentPage, error)
	ExportListing(ctx context.Context, query service.DocumentQuery, format string) ([]byte, string, string, error)
	Download(ctx context.Context, proforma string) (*service.DownloadedDocument, error)
	Projects(ctx context.Context) ([]models.ProjectSummary, error)
	ProjectCatalog(ctx context.Context, limit int) ([]models.ProjectCatalogEntry, error)
}

// DocumentHandler serves the document catalogue.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(service documentService) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// List godoc
// @Summary List documents
// @Description Classified documents with optional filters. format=csv|pdf renders the listing as a file.
// @Tags Documents
// @Produce json
// @Param project_code query string false "Project code"
// @Param document_type query []string false "Document types (repeat or comma separated)"
// @Param start_date query string false "Uploaded on or after (YYYY-MM-DD)"
// @Param end_date query string false "Uploaded on or before (YYYY-MM-DD)"
// @Param limit query int false "Page size" default(25)
// @Param offset query int false "Offset"
// @Param format query string false "json, csv or pdf"
// @Success 200 {object} dto.DocumentListResponse
// @Router /documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	query, err := documentQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", "json")))
	if format != "json" {
		payload, filename, contentType, err := h.service.ExportListing(c.Request.Context(), query, format)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Attachment(c, filename, contentType, payload)
		return
	}

	page, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := page.Pagination
	response.JSON(c, http.StatusOK, dto.DocumentListResponse{
		Total:     len(page.Documents),
		Documents: page.Documents,
	}, &pagination, middleware.ExtractMeta(c))
}

// Download godoc
// @Summary Download one document
// @Description Fetches the latest file of a proforma, converted to PDF or passed through.
// @Tags Documents
// @Produce application/octet-stream
// @Param proforma path string true "Proforma code"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /download/document/{proforma} [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	doc, err := h.service.Download(c.Request.Context(), c.Param("proforma"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("X-Conversion-Mode", string(doc.Mode))
	response.Attachment(c, doc.FileName, doc.MIME, doc.Content)
}

// Projects godoc
// @Summary Project summaries
// @Tags Projects
// @Produce json
// @Success 200 {object} dto.ProjectListResponse
// @Router /projects [get]
func (h *DocumentHandler) Projects(c *gin.Context) {
	projects, err := h.service.Projects(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ProjectListResponse{Total: len(projects), Projects: projects}, nil)
}

// Catalog godoc
// @Summary Named project catalogue
// @Tags Projects
// @Produce json
// @Param limit query int false "Maximum projects" default(500)
// @Success 200 {object} dto.ProjectCatalogResponse
// @Router /projects/catalog [get]
func (h *DocumentHandler) Catalog(c *gin.Context) {
	limit, err := intQuery(c, "limit", 500)
	if err != nil {
		response.Error(c, err)
		return
	}
	projects, err := h.service.ProjectCatalog(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ProjectCatalogResponse{Total: len(projects), Projects: projects}, nil)
}

func documentQuery(c *gin.Context) (service.DocumentQuery, error) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		return service.DocumentQuery{}, err
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		return service.DocumentQuery{}, err
	}
	return service.DocumentQuery{
		ProjectCode:   strings.TrimSpace(c.Query("project_code")),
		DocumentTypes: queryList(c, "document_type"),
		StartDate:     strings.TrimSpace(c.Query("start_date")),
		EndDate:       strings.TrimSpace(c.Query("end_date")),
		Limit:         limit,
		Offset:        offset,
	}, nil
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appErrors.Clone(appErrors.ErrValidation, key+" must be an integer")
	}
	return value, nil
}
