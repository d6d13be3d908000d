package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tale-download-api/internal/models"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
)

const documentColumns = `SELECT
	a.codigo_proforma,
	pu.documento_cliente,
	c.nombres || ' ' || c.apellidos AS nombre_cliente,
	pu.codigo_proyecto,
	pu.codigo_unidad,
	pu.tipo_unidad,
	a.url,
	a.nombre AS nombre_archivo,
	a.montaje,
	TO_CHAR(a.fecha_carga, 'YYYY-MM-DD HH24:MI:SS') AS fecha_carga
FROM tale.archivos a
INNER JOIN tale.proforma_unidad pu ON a.codigo_proforma = pu.codigo_proforma
LEFT JOIN tale.clientes c ON pu.documento_cliente = c.documento`

// documentRow mirrors the warehouse projection, where every column may be NULL.
type documentRow struct {
	ProformaCode sql.NullString `db:"codigo_proforma"`
	ClientID     sql.NullString `db:"documento_cliente"`
	ClientName   sql.NullString `db:"nombre_cliente"`
	ProjectCode  sql.NullString `db:"codigo_proyecto"`
	UnitCode     sql.NullString `db:"codigo_unidad"`
	UnitTypeRaw  sql.NullString `db:"tipo_unidad"`
	URL          sql.NullString `db:"url"`
	FileName     sql.NullString `db:"nombre_archivo"`
	Label        sql.NullString `db:"montaje"`
	UploadedAt   sql.NullString `db:"fecha_carga"`
}

func (r documentRow) record() models.DocumentRecord {
	return models.DocumentRecord{
		ProjectCode:  r.ProjectCode.String,
		ProformaCode: r.ProformaCode.String,
		ClientID:     r.ClientID.String,
		ClientName:   nullableString(r.ClientName),
		UnitCode:     r.UnitCode.String,
		UnitTypeRaw:  nullableString(r.UnitTypeRaw),
		URL:          r.URL.String,
		FileName:     r.FileName.String,
		Label:        nullableString(r.Label),
		UploadedAt:   r.UploadedAt.String,
	}
}

// DocumentRepository runs read-only queries against the document warehouse.
type DocumentRepository struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// SetQueryTimeout bounds every query. Zero leaves deadlines to the caller's context.
func (r *DocumentRepository) SetQueryTimeout(d time.Duration) {
	r.queryTimeout = d
}

func (r *DocumentRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// Ping checks warehouse connectivity.
func (r *DocumentRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// List returns documents newest first. Type filters are not applied here.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	builder := strings.Builder{}
	builder.WriteString(documentColumns)
	args := make([]interface{}, 0, 5)
	conditions := []string{"a.entidad <> 'Unidad'"}

	if filter.ProjectCode != "" {
		args = append(args, filter.ProjectCode)
		conditions = append(conditions, fmt.Sprintf("pu.codigo_proyecto = $%d", len(args)))
	}
	if filter.StartDate != "" {
		args = append(args, filter.StartDate)
		conditions = append(conditions, fmt.Sprintf("a.fecha_carga >= $%d", len(args)))
	}
	if filter.EndDate != "" {
		// A bare date includes the whole day.
		if day, err := time.Parse("2006-01-02", filter.EndDate); err == nil {
			args = append(args, day.AddDate(0, 0, 1).Format("2006-01-02"))
			conditions = append(conditions, fmt.Sprintf("a.fecha_carga < $%d", len(args)))
		} else {
			args = append(args, filter.EndDate)
			conditions = append(conditions, fmt.Sprintf("a.fecha_carga <= $%d", len(args)))
		}
	}

	builder.WriteString(" WHERE ")
	builder.WriteString(strings.Join(conditions, " AND "))
	builder.WriteString(" ORDER BY a.fecha_carga DESC, a.codigo_proforma, a.nombre")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		builder.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		builder.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}

	var rows []documentRow
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return toRecords(rows), nil
}

// ListByProformas returns every document attached to the given proforma codes.
func (r *DocumentRepository) ListByProformas(ctx context.Context, codes []string) ([]models.DocumentRecord, error) {
	if len(codes) == 0 {
		return []models.DocumentRecord{}, nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	query, args, err := sqlx.In(documentColumns+` WHERE a.codigo_proforma IN (?) ORDER BY a.fecha_carga DESC, a.codigo_proforma, a.nombre`, codes)
	if err != nil {
		return nil, fmt.Errorf("build proforma query: %w", err)
	}
	var rows []documentRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list documents by proforma: %w", err)
	}
	return toRecords(rows), nil
}

// FindByProforma returns the most recent document of a proforma.
func (r *DocumentRepository) FindByProforma(ctx context.Context, code string) (*models.DocumentRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var row documentRow
	query := documentColumns + ` WHERE a.codigo_proforma = $1 ORDER BY a.fecha_carga DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &row, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, fmt.Errorf("find document %s: %w", code, err)
	}
	rec := row.record()
	return &rec, nil
}

// ProjectsSummary counts documents per project.
func (r *DocumentRepository) ProjectsSummary(ctx context.Context) ([]models.ProjectSummary, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `SELECT
	pu.codigo_proyecto,
	COUNT(*) AS total_documentos,
	COALESCE(TO_CHAR(MAX(a.fecha_carga), 'YYYY-MM-DD HH24:MI:SS'), '') AS ultima_actualizacion
FROM tale.archivos a
LEFT JOIN tale.proforma_unidad pu ON a.codigo_proforma = pu.codigo_proforma
WHERE pu.codigo_proyecto IS NOT NULL
GROUP BY pu.codigo_proyecto
ORDER BY pu.codigo_proyecto`
	var projects []models.ProjectSummary
	if err := r.db.SelectContext(ctx, &projects, query); err != nil {
		return nil, fmt.Errorf("projects summary: %w", err)
	}
	return projects, nil
}

// ProjectCatalog lists projects that carry a display name.
func (r *DocumentRepository) ProjectCatalog(ctx context.Context, limit int) ([]models.ProjectCatalogEntry, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	query := `SELECT
	pu.codigo_proyecto,
	pu.nombre_proyecto,
	COUNT(*) AS total_documentos,
	COALESCE(TO_CHAR(MAX(a.fecha_carga), 'YYYY-MM-DD HH24:MI:SS'), '') AS ultima_fecha_carga
FROM tale.proforma_unidad pu
INNER JOIN tale.archivos a ON a.codigo_proforma = pu.codigo_proforma
WHERE pu.codigo_proyecto IS NOT NULL AND pu.nombre_proyecto IS NOT NULL
GROUP BY pu.codigo_proyecto, pu.nombre_proyecto
ORDER BY pu.codigo_proyecto`
	args := []interface{}{}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $1"
	}
	var entries []models.ProjectCatalogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("project catalog: %w", err)
	}
	return entries, nil
}

// ProjectCodes lists distinct project codes, optionally matching search against code or name.
func (r *DocumentRepository) ProjectCodes(ctx context.Context, search string, limit int) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	builder := strings.Builder{}
	builder.WriteString(`SELECT DISTINCT pu.codigo_proyecto FROM tale.proforma_unidad pu WHERE pu.codigo_proyecto IS NOT NULL`)
	args := make([]interface{}, 0, 2)
	if search = strings.TrimSpace(search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		builder.WriteString(fmt.Sprintf(" AND (LOWER(pu.codigo_proyecto) LIKE $%d OR LOWER(pu.nombre_proyecto) LIKE $%d)", len(args), len(args)))
	}
	builder.WriteString(" ORDER BY pu.codigo_proyecto")
	if limit > 0 {
		args = append(args, limit)
		builder.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	codes := make([]string, 0)
	if err := r.db.SelectContext(ctx, &codes, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("project codes: %w", err)
	}
	return codes, nil
}

// Labels lists the distinct free-text labels attached to uploads.
func (r *DocumentRepository) Labels(ctx context.Context) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	const query = `SELECT DISTINCT montaje FROM tale.archivos WHERE montaje IS NOT NULL ORDER BY montaje`
	labels := make([]string, 0)
	if err := r.db.SelectContext(ctx, &labels, query); err != nil {
		return nil, fmt.Errorf("document labels: %w", err)
	}
	return labels, nil
}

func toRecords(rows []documentRow) []models.DocumentRecord {
	records := make([]models.DocumentRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
