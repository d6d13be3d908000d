package models

// MissingValue replaces any required record field that arrives empty.
const MissingValue = "UNKNOWN"

// UnitType is the canonical real-estate unit category.
type UnitType string

const (
	UnitTypeApartment  UnitType = "DPTO"
	UnitTypeParking    UnitType = "EST"
	UnitTypeStorage    UnitType = "DEP"
	UnitTypeCommercial UnitType = "LC"
	UnitTypeCabinet    UnitType = "GAB"
	UnitTypeNoData     UnitType = "SIN_DATA"
	UnitTypeOther      UnitType = "OTRO"
)

// UnitTypes lists every canonical unit type code.
var UnitTypes = []UnitType{
	UnitTypeApartment,
	UnitTypeParking,
	UnitTypeStorage,
	UnitTypeCommercial,
	UnitTypeCabinet,
	UnitTypeNoData,
	UnitTypeOther,
}

// UnitTypeLabels maps each canonical code to its human label.
var UnitTypeLabels = map[UnitType]string{
	UnitTypeApartment:  "Departamento",
	UnitTypeParking:    "Estacionamiento",
	UnitTypeStorage:    "Depósito",
	UnitTypeCommercial: "Local comercial",
	UnitTypeCabinet:    "Gabinete",
	UnitTypeNoData:     "Sin dato de tipo de unidad",
	UnitTypeOther:      "Otro",
}

// DocumentType is the homologated category of an uploaded document.
type DocumentType string

const (
	DocumentTypeVoucher  DocumentType = "Voucher"
	DocumentTypeMinuta   DocumentType = "Minuta"
	DocumentTypeAdenda   DocumentType = "Adenda"
	DocumentTypeApproval DocumentType = "CartaDeAprobacion"
	DocumentTypeOther    DocumentType = "Otro"
)

// DocumentTypes lists the document types in sort priority order.
var DocumentTypes = []DocumentType{
	DocumentTypeVoucher,
	DocumentTypeMinuta,
	DocumentTypeAdenda,
	DocumentTypeApproval,
	DocumentTypeOther,
}

// Priority returns the sort rank of the type, lower first. Unknown values rank last.
func (t DocumentType) Priority() int {
	switch t {
	case DocumentTypeVoucher:
		return 1
	case DocumentTypeMinuta:
		return 2
	case DocumentTypeAdenda:
		return 3
	case DocumentTypeApproval:
		return 4
	default:
		return 5
	}
}

// Label returns the display label.
func (t DocumentType) Label() string {
	if t == DocumentTypeApproval {
		return "Carta de Aprobación"
	}
	if t == "" {
		return string(DocumentTypeOther)
	}
	return string(t)
}

// ParseDocumentType accepts either the code or the display label.
func ParseDocumentType(raw string) (DocumentType, bool) {
	for _, t := range DocumentTypes {
		if raw == string(t) || raw == t.Label() {
			return t, true
		}
	}
	return "", false
}

// DocumentRecord is one row returned by the data warehouse.
type DocumentRecord struct {
	ProjectCode  string       `db:"codigo_proyecto" json:"projectCode"`
	ProformaCode string       `db:"codigo_proforma" json:"proformaCode"`
	ClientID     string       `db:"documento_cliente" json:"clientId"`
	ClientName   *string      `db:"nombre_cliente" json:"clientName,omitempty"`
	UnitCode     string       `db:"codigo_unidad" json:"unitCode"`
	UnitTypeRaw  *string      `db:"tipo_unidad" json:"unitTypeRaw,omitempty"`
	URL          string       `db:"url" json:"url"`
	FileName     string       `db:"nombre_archivo" json:"fileName"`
	Label        *string      `db:"montaje" json:"label,omitempty"`
	UploadedAt   string       `db:"fecha_carga" json:"uploadedAt"`
	DocumentType DocumentType `db:"-" json:"documentType"`
}

// FolderKey groups documents into one archive folder.
type FolderKey struct {
	UnitType   UnitType
	UnitSuffix string
	Client     string
}

// ProjectSummary aggregates documents per project.
type ProjectSummary struct {
	ProjectCode    string `db:"codigo_proyecto" json:"projectCode"`
	TotalDocuments int    `db:"total_documentos" json:"totalDocuments"`
	LastUpdate     string `db:"ultima_actualizacion" json:"lastUpdate"`
}

// DocumentFilter narrows warehouse document queries.
type DocumentFilter struct {
	ProjectCode   string
	DocumentTypes []DocumentType
	StartDate     string
	EndDate       string
	Limit         int
	Offset        int
}

// ProjectCatalogEntry is a project with its display name.
type ProjectCatalogEntry struct {
	ProjectCode    string `db:"codigo_proyecto" json:"projectCode"`
	ProjectName    string `db:"nombre_proyecto" json:"projectName"`
	TotalDocuments int    `db:"total_documentos" json:"totalDocuments"`
	LastUpload     string `db:"ultima_fecha_carga" json:"lastUpload"`
}

// Pagination describes an offset window over a result set.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}
