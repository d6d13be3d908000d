// Package naming implements the frozen archive naming convention: one folder
// per unit and client, one file per document.
package naming

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/noah-isme/tale-download-api/internal/models"
	"github.com/noah-isme/tale-download-api/pkg/classify"
)

var (
	invalidChars    = regexp.MustCompile(`[<>:"/\\|?*]`)
	repeatedUnder   = regexp.MustCompile(`_+`)
	repeatedSpacing = regexp.MustCompile(`\s+`)
)

// Placement is where a record lands inside the archive.
type Placement struct {
	Key        models.FolderKey
	UnitType   models.UnitType
	FolderName string
	FileName   string
}

// SanitizeFilename strips invalid characters, turns spaces into underscores
// and collapses repeated underscores.
func SanitizeFilename(name string) string {
	name = invalidChars.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, " ", "_")
	return repeatedUnder.ReplaceAllString(name, "_")
}

// SanitizeFolder strips characters no filesystem accepts and collapses
// whitespace. Spaces and dashes survive.
func SanitizeFolder(name string) string {
	name = invalidChars.ReplaceAllString(name, "")
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, name)
	return strings.TrimSpace(repeatedSpacing.ReplaceAllString(name, " "))
}

// UnitCodeSuffix returns the text after the last dash of the unit code.
func UnitCodeSuffix(unitCode string) string {
	unitCode = strings.TrimSpace(unitCode)
	if idx := strings.LastIndex(unitCode, "-"); idx >= 0 {
		return unitCode[idx+1:]
	}
	return unitCode
}

// FileName renders {project}_{proforma}_{client}_{type}_{unit}-{suffix}.{ext}.
func FileName(rec models.DocumentRecord, unitType models.UnitType, ext string) string {
	docType := rec.DocumentType
	if docType == "" {
		docType = models.DocumentTypeOther
	}
	parts := []string{
		SanitizeFilename(orMissing(rec.ProjectCode)),
		SanitizeFilename(orMissing(rec.ProformaCode)),
		SanitizeFilename(orMissing(rec.ClientID)),
		SanitizeFilename(strings.ReplaceAll(string(docType), " ", "")),
	}
	unit := fmt.Sprintf("%s-%s", unitType, unitSuffix(rec.UnitCode))
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		ext = "pdf"
	}
	return strings.Join(parts, "_") + "_" + unit + "." + ext
}

// FolderName renders {unitType}-{suffix} - {CLIENT} in upper case.
func FolderName(key models.FolderKey) string {
	raw := fmt.Sprintf("%s-%s - %s", key.UnitType, key.UnitSuffix, key.Client)
	return strings.ToUpper(SanitizeFolder(raw))
}

// FolderKeyFor derives the grouping identity of a record.
func FolderKeyFor(rec models.DocumentRecord, unitType models.UnitType) models.FolderKey {
	client := ""
	if rec.ClientName != nil {
		client = SanitizeFolder(*rec.ClientName)
	}
	if client == "" {
		client = "DNI " + orMissing(rec.ClientID)
	}
	return models.FolderKey{
		UnitType:   unitType,
		UnitSuffix: strings.ToUpper(unitSuffix(rec.UnitCode)),
		Client:     strings.ToUpper(client),
	}
}

// Place resolves folder and file names for a record whose content will be stored with ext.
// Records that were never classified are classified here.
func Place(rec models.DocumentRecord, ext string) Placement {
	if rec.DocumentType == "" {
		classify.ClassifyRecord(&rec)
	}
	unitType := classify.ResolveUnitType(rec.UnitCode, rec.UnitTypeRaw)
	key := FolderKeyFor(rec, unitType)
	return Placement{
		Key:        key,
		UnitType:   unitType,
		FolderName: FolderName(key),
		FileName:   FileName(rec, unitType, ext),
	}
}

func unitSuffix(unitCode string) string {
	suffix := SanitizeFolder(UnitCodeSuffix(unitCode))
	if suffix == "" {
		return models.MissingValue
	}
	return suffix
}

func orMissing(v string) string {
	if strings.TrimSpace(v) == "" {
		return models.MissingValue
	}
	return strings.TrimSpace(v)
}
