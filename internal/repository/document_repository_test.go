package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tale-download-api/internal/models"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
)

var documentRowColumns = []string{
	"codigo_proforma", "documento_cliente", "nombre_cliente", "codigo_proyecto", "codigo_unidad",
	"tipo_unidad", "url", "nombre_archivo", "montaje", "fecha_carga",
}

func newWarehouseMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "postgres"), mock, func() { db.Close() }
}

func TestDocumentRepositoryListAppliesFilters(t *testing.T) {
	db, mock, cleanup := newWarehouseMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	rows := sqlmock.NewRows(documentRowColumns).
		AddRow("P-1", "111", "ANA TORRES", "PAINO", "PAINO-305", "Departamento", "https://x/1.pdf", "minuta.pdf", nil, "2024-01-10 09:00:00").
		AddRow("P-2", "222", nil, "PAINO", "PAINO-E12", nil, "https://x/2.jpg", "voucher.jpg", "Voucher", "2024-01-09 09:00:00")
	mock.ExpectQuery(`WHERE a.entidad <> 'Unidad' AND pu.codigo_proyecto = \$1 AND a.fecha_carga >= \$2 AND a.fecha_carga < \$3 ORDER BY a.fecha_carga DESC, a.codigo_proforma, a.nombre LIMIT \$4 OFFSET \$5`).
		WithArgs("PAINO", "2024-01-01", "2024-02-01", 25, 50).
		WillReturnRows(rows)

	records, err := repo.List(context.Background(), models.DocumentFilter{
		ProjectCode: "PAINO",
		StartDate:   "2024-01-01",
		EndDate:     "2024-01-31",
		Limit:       25,
		Offset:      50,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "P-1", records[0].ProformaCode)
	require.Equal(t, "ANA TORRES", *records[0].ClientName)
	require.Nil(t, records[0].Label)
	require.Nil(t, records[1].ClientName)
	require.Nil(t, records[1].UnitTypeRaw)
	require.Equal(t, "Voucher", *records[1].Label)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryListWithoutFilters(t *testing.T) {
	db, mock, cleanup := newWarehouseMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	mock.ExpectQuery(`WHERE a.entidad <> 'Unidad' ORDER BY a.fecha_carga DESC, a.codigo_proforma, a.nombre$`).
		WillReturnRows(sqlmock.NewRows(documentRowColumns))

	records, err := repo.List(context.Background(), models.DocumentFilter{})
	require.NoError(t, err)
	require.Empty(t, records)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryListByProformas(t *testing.T) {
	db, mock, cleanup := newWarehouseMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	mock.ExpectQuery(`WHERE a.codigo_proforma IN \(\$1, \$2\)`).
		WithArgs("P-1", "P-2").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow("P-1", "111", nil, "PAINO", "PAINO-305", nil, "https://x/1.pdf", "minuta.pdf", nil, "2024-01-10 09:00:00"))

	records, err := repo.ListByProformas(context.Background(), []string{"P-1", "P-2"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, mock.ExpectationsWereMet())

	empty, err := repo.ListByProformas(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestDocumentRepositoryFindByProformaNotFound(t *testing.T) {
	db, mock, cleanup := newWarehouseMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	mock.ExpectQuery(`WHERE a.codigo_proforma = \$1 ORDER BY a.fecha_carga DESC LIMIT 1`).
		WithArgs("P-404").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByProforma(context.Background(), "P-404")
	require.True(t, errors.Is(err, appErrors.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryProjectCodesSearch(t *testing.T) {
	db, mock, cleanup := newWarehouseMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	mock.ExpectQuery(`SELECT DISTINCT pu.codigo_proyecto FROM tale.proforma_unidad pu WHERE pu.codigo_proyecto IS NOT NULL AND \(LOWER\(pu.codigo_proyecto\) LIKE \$1 OR LOWER\(pu.nombre_proyecto\) LIKE \$1\) ORDER BY pu.codigo_proyecto LIMIT \$2`).
		WithArgs("%pai%", 20).
		WillReturnRows(sqlmock.NewRows([]string{"codigo_proyecto"}).AddRow("PAINO").AddRow("PAISA"))

	codes, err := repo.ProjectCodes(context.Background(), " PAI ", 20)
	require.NoError(t, err)
	require.Equal(t, []string{"PAINO", "PAISA"}, codes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryProjectsSummary(t *testing.T) {
	db, mock, cleanup := newWarehouseMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	mock.ExpectQuery(`GROUP BY pu.codigo_proyecto ORDER BY pu.codigo_proyecto`).
		WillReturnRows(sqlmock.NewRows([]string{"codigo_proyecto", "total_documentos", "ultima_actualizacion"}).
			AddRow("PAINO", 42, "2024-03-01 10:00:00"))

	projects, err := repo.ProjectsSummary(context.Background())
	require.NoError(t, err)
	require.Equal(t, []models.ProjectSummary{{ProjectCode: "PAINO", TotalDocuments: 42, LastUpdate: "2024-03-01 10:00:00"}}, projects)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryQueryTimeout(t *testing.T) {
	db, mock, cleanup := newWarehouseMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	repo.SetQueryTimeout(20 * time.Millisecond)
	mock.ExpectQuery(`SELECT DISTINCT montaje FROM tale.archivos`).
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"montaje"}).AddRow("Voucher"))

	_, err := repo.Labels(context.Background())
	require.Error(t, err)
}
