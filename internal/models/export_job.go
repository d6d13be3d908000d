package models

import "time"

// ExportStatus captures background export lifecycle states.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// Terminal reports whether no further transitions happen.
func (s ExportStatus) Terminal() bool {
	return s == ExportStatusFinished || s == ExportStatusFailed
}

// ExportParams selects the records packaged by an export job.
type ExportParams struct {
	ProjectCode   string         `json:"projectCode,omitempty"`
	DocumentTypes []DocumentType `json:"documentTypes,omitempty"`
	StartDate     string         `json:"startDate,omitempty"`
	EndDate       string         `json:"endDate,omitempty"`
	ProformaCodes []string       `json:"proformaCodes,omitempty"`
}

// Filter converts the params into a warehouse query filter.
func (p ExportParams) Filter(limit int) DocumentFilter {
	return DocumentFilter{
		ProjectCode:   p.ProjectCode,
		DocumentTypes: p.DocumentTypes,
		StartDate:     p.StartDate,
		EndDate:       p.EndDate,
		Limit:         limit,
	}
}

// ExportJob is the persisted state of an asynchronous archive build.
type ExportJob struct {
	ID           string       `json:"id"`
	Status       ExportStatus `json:"status"`
	Progress     int          `json:"progress"`
	Params       ExportParams `json:"params"`
	ArchiveName  string       `json:"archiveName"`
	StorageKey   string       `json:"storageKey,omitempty"`
	Documents    int          `json:"documents"`
	Failures     int          `json:"failures"`
	ResultURL    *string      `json:"resultUrl,omitempty"`
	ExpiresAt    *time.Time   `json:"expiresAt,omitempty"`
	ErrorMessage *string      `json:"errorMessage,omitempty"`
	CreatedBy    string       `json:"createdBy,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	FinishedAt   *time.Time   `json:"finishedAt,omitempty"`
}
