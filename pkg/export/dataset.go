// Package export renders document listings as CSV or PDF tables.
package export

import (
	"github.com/noah-isme/tale-download-api/internal/models"
)

// Dataset is a table with a fixed column order.
type Dataset struct {
	Title   string
	Headers []string
	Rows    [][]string
}

var documentHeaders = []string{
	"Proyecto",
	"Proforma",
	"Documento cliente",
	"Cliente",
	"Unidad",
	"Tipo unidad",
	"Tipo documento",
	"Archivo",
	"Fecha carga",
}

// DocumentDataset flattens classified records into listing rows.
func DocumentDataset(title string, records []models.DocumentRecord) Dataset {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ProjectCode,
			rec.ProformaCode,
			rec.ClientID,
			deref(rec.ClientName),
			rec.UnitCode,
			deref(rec.UnitTypeRaw),
			rec.DocumentType.Label(),
			rec.FileName,
			rec.UploadedAt,
		})
	}
	return Dataset{Title: title, Headers: documentHeaders, Rows: rows}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
