package models

import "time"

// ConversionMode tells how a document's bytes reached the archive.
type ConversionMode string

const (
	ConversionModePDF         ConversionMode = "pdf"
	ConversionModePassthrough ConversionMode = "passthrough"
)

// PackagedDocument is a successful outcome ready for archive assembly.
type PackagedDocument struct {
	Folder      FolderKey
	FolderName  string
	FileName    string
	Content     []byte
	Mode        ConversionMode
	Type        DocumentType
	UploadedAt  time.Time
	UploadedRaw string
}

// ArchivePath is the member path inside the ZIP.
func (d *PackagedDocument) ArchivePath() string {
	return d.FolderName + "/" + d.FileName
}

// PackageFailure records why a record did not make it into the archive.
type PackageFailure struct {
	RecordID     string
	DocumentType DocumentType
	Reason       string
}

// ProcessingOutcome is produced exactly once per record by a worker.
// Exactly one of Success and Failure is set.
type ProcessingOutcome struct {
	Index   int
	Success *PackagedDocument
	Failure *PackageFailure
}
