package dto

import (
	"encoding/json"

	"github.com/noah-isme/tale-download-api/internal/models"
)

// HealthResponse reports service and dependency status.
type HealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	RedshiftConnected bool   `json:"redshift_connected"`
	RedisConnected    *bool  `json:"redis_connected,omitempty"`
}

// DocumentListResponse wraps a window of classified documents.
type DocumentListResponse struct {
	Total     int                     `json:"total"`
	Documents []models.DocumentRecord `json:"documents"`
}

// ProjectListResponse wraps project summaries.
type ProjectListResponse struct {
	Total    int                     `json:"total"`
	Projects []models.ProjectSummary `json:"projects"`
}

// ProjectCatalogResponse wraps named projects.
type ProjectCatalogResponse struct {
	Total    int                          `json:"total"`
	Projects []models.ProjectCatalogEntry `json:"projects"`
}

// FilterOption is one selectable filter value.
type FilterOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FilterOptionsResponse lists filter values.
type FilterOptionsResponse struct {
	Options []FilterOption `json:"options"`
}

// LabelClassification pairs an upload label with its homologated type.
type LabelClassification struct {
	Label        string `json:"label"`
	DocumentType string `json:"documentType"`
}

// LabelsResponse lists every distinct upload label and its classification.
type LabelsResponse struct {
	Total  int                   `json:"total"`
	Labels []LabelClassification `json:"labels"`
}

// StringList accepts either a JSON string or an array of strings.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*l = nil
		} else {
			*l = StringList{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}
