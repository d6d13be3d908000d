package handler

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tale-download-api/internal/dto"
	"github.com/noah-isme/tale-download-api/internal/models"
	"github.com/noah-isme/tale-download-api/pkg/response"
)

type filterService interface {
	ProjectOptions(ctx context.Context, search string, limit int) ([]dto.FilterOption, error)
	DocumentTypeOptions() []dto.FilterOption
	UnitTypeOptions() []dto.FilterOption
	Labels(ctx context.Context) (map[string]models.DocumentType, error)
}

// FilterHandler serves the values behind the UI filters.
type FilterHandler struct {
	service filterService
}

// NewFilterHandler constructs the handler.
func NewFilterHandler(service filterService) *FilterHandler {
	return &FilterHandler{service: service}
}

// Projects godoc
// @Summary Project code options
// @Tags Filters
// @Produce json
// @Param search query string false "Case-insensitive prefix or substring"
// @Param limit query int false "Maximum options" default(200)
// @Success 200 {object} dto.FilterOptionsResponse
// @Router /filters/projects [get]
func (h *FilterHandler) Projects(c *gin.Context) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	options, err := h.service.ProjectOptions(c.Request.Context(), c.Query("search"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.FilterOptionsResponse{Options: options}, nil)
}

// DocumentTypes godoc
// @Summary Homologated document types
// @Tags Filters
// @Produce json
// @Success 200 {object} dto.FilterOptionsResponse
// @Router /filters/document-types [get]
func (h *FilterHandler) DocumentTypes(c *gin.Context) {
	response.JSON(c, http.StatusOK, dto.FilterOptionsResponse{Options: h.service.DocumentTypeOptions()}, nil)
}

// UnitTypes godoc
// @Summary Canonical unit types
// @Tags Filters
// @Produce json
// @Success 200 {object} dto.FilterOptionsResponse
// @Router /filters/unit-types [get]
func (h *FilterHandler) UnitTypes(c *gin.Context) {
	response.JSON(c, http.StatusOK, dto.FilterOptionsResponse{Options: h.service.UnitTypeOptions()}, nil)
}

// Labels godoc
// @Summary Upload labels and their classification
// @Tags Filters
// @Produce json
// @Success 200 {object} dto.LabelsResponse
// @Router /labels [get]
func (h *FilterHandler) Labels(c *gin.Context) {
	labels, err := h.service.Labels(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]dto.LabelClassification, 0, len(labels))
	for label, docType := range labels {
		out = append(out, dto.LabelClassification{Label: label, DocumentType: docType.Label()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	response.JSON(c, http.StatusOK, dto.LabelsResponse{Total: len(out), Labels: out}, nil)
}
