package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tale-download-api/internal/dto"
	"github.com/noah-isme/tale-download-api/internal/models"
	"github.com/noah-isme/tale-download-api/pkg/convert"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
)

type docRepoStub struct {
	records      []models.DocumentRecord
	listCalls    []models.DocumentFilter
	byProforma   map[string]*models.DocumentRecord
	projectCalls int
	err          error
}

func (r *docRepoStub) Ping(ctx context.Context) error { return r.err }

func (r *docRepoStub) List(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentRecord, error) {
	r.listCalls = append(r.listCalls, filter)
	if r.err != nil {
		return nil, r.err
	}
	start := min(filter.Offset, len(r.records))
	end := len(r.records)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, len(r.records))
	}
	out := make([]models.DocumentRecord, end-start)
	copy(out, r.records[start:end])
	return out, nil
}

func (r *docRepoStub) ListByProformas(ctx context.Context, codes []string) ([]models.DocumentRecord, error) {
	var out []models.DocumentRecord
	for _, rec := range r.records {
		for _, code := range codes {
			if rec.ProformaCode == code {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (r *docRepoStub) FindByProforma(ctx context.Context, code string) (*models.DocumentRecord, error) {
	if rec, ok := r.byProforma[code]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
}

func (r *docRepoStub) ProjectsSummary(ctx context.Context) ([]models.ProjectSummary, error) {
	return []models.ProjectSummary{{ProjectCode: "PAINO", TotalDocuments: 6}}, nil
}

func (r *docRepoStub) ProjectCatalog(ctx context.Context, limit int) ([]models.ProjectCatalogEntry, error) {
	return []models.ProjectCatalogEntry{{ProjectCode: "PAINO", ProjectName: "Paino"}}, nil
}

func (r *docRepoStub) ProjectCodes(ctx context.Context, search string, limit int) ([]string, error) {
	r.projectCalls++
	return []string{"PAINO", "PALMAS"}, nil
}

func (r *docRepoStub) Labels(ctx context.Context) ([]string, error) {
	return []string{"Voucher de separación", "Minuta firmada"}, nil
}

type memCacheRepo struct {
	items map[string][]byte
}

func (m *memCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.items[key] = raw
	return nil
}

func (m *memCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	for key := range m.items {
		if strings.HasPrefix(key, strings.TrimSuffix(pattern, "*")) {
			delete(m.items, key)
		}
	}
	return nil
}

func newDocumentServiceForTest(repo *docRepoStub, cfg DocumentServiceConfig) *DocumentService {
	cache := NewCacheService(&memCacheRepo{items: map[string][]byte{}}, nil, time.Minute, nil, true)
	return NewDocumentService(repo, &fetchStub{}, convert.NewConverter(convert.Config{}, nil), cache, nil, cfg, nil)
}

func alternatingRecords(n int) []models.DocumentRecord {
	records := make([]models.DocumentRecord, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("dni %d.pdf", i)
		if i%2 == 0 {
			name = fmt.Sprintf("voucher %d.pdf", i)
		}
		records = append(records, models.DocumentRecord{
			ProjectCode:  "PAINO",
			ProformaCode: fmt.Sprintf("P-%d", i),
			ClientID:     "111",
			UnitCode:     "PAINO-305",
			URL:          fmt.Sprintf("u%d", i),
			FileName:     name,
		})
	}
	return records
}

func TestDocumentServiceListWithoutTypeFilter(t *testing.T) {
	repo := &docRepoStub{records: sampleRecords()}
	svc := newDocumentServiceForTest(repo, DocumentServiceConfig{})

	page, err := svc.List(context.Background(), DocumentQuery{ProjectCode: " PAINO ", Offset: 1})
	require.NoError(t, err)
	require.Len(t, page.Documents, 5)
	require.Equal(t, models.Pagination{Limit: 25, Offset: 1, Count: 5}, page.Pagination)
	require.Equal(t, models.DocumentTypeVoucher, page.Documents[0].DocumentType)
	require.Len(t, repo.listCalls, 1)
	require.Equal(t, "PAINO", repo.listCalls[0].ProjectCode)
	require.Equal(t, 25, repo.listCalls[0].Limit)
}

func TestDocumentServiceListScansWhenFilteringByType(t *testing.T) {
	repo := &docRepoStub{records: alternatingRecords(11)}
	svc := newDocumentServiceForTest(repo, DocumentServiceConfig{ScanPageSize: 2})

	page, err := svc.List(context.Background(), DocumentQuery{
		DocumentTypes: []string{"Voucher"},
		Offset:        1,
		Limit:         2,
	})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	require.Equal(t, "P-2", page.Documents[0].ProformaCode)
	require.Equal(t, "P-4", page.Documents[1].ProformaCode)
	for _, call := range repo.listCalls {
		require.Equal(t, 2, call.Limit)
	}
	require.Equal(t, 3, len(repo.listCalls))
}

func TestDocumentServiceListScanStopsAtEnd(t *testing.T) {
	repo := &docRepoStub{records: alternatingRecords(5)}
	svc := newDocumentServiceForTest(repo, DocumentServiceConfig{ScanPageSize: 2})

	page, err := svc.List(context.Background(), DocumentQuery{DocumentTypes: []string{"Otro", "Voucher"}, Limit: 100})
	require.NoError(t, err)
	require.Len(t, page.Documents, 5)
	require.Len(t, repo.listCalls, 3)
}

func TestDocumentServiceListValidation(t *testing.T) {
	svc := newDocumentServiceForTest(&docRepoStub{}, DocumentServiceConfig{})
	ctx := context.Background()

	_, err := svc.List(ctx, DocumentQuery{DocumentTypes: []string{"Factura"}})
	require.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.List(ctx, DocumentQuery{StartDate: "31/12/2024"})
	require.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.List(ctx, DocumentQuery{Limit: 5000})
	require.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.List(ctx, DocumentQuery{DocumentTypes: []string{"Carta de Aprobación"}, StartDate: "2024-01-01", EndDate: "2024-01-31"})
	require.NoError(t, err)
}

func TestDocumentServiceSelectForPackage(t *testing.T) {
	repo := &docRepoStub{records: sampleRecords()}
	svc := newDocumentServiceForTest(repo, DocumentServiceConfig{})
	ctx := context.Background()

	_, _, err := svc.SelectForPackage(ctx, PackageRequest{})
	require.True(t, errors.Is(err, appErrors.ErrValidation))

	records, params, err := svc.SelectForPackage(ctx, PackageRequest{DocumentIDs: []string{"P-2"}})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "tale_documents.zip", ArchiveName(params))
	require.NotEmpty(t, records[0].DocumentType)

	records, params, err = svc.SelectForPackage(ctx, PackageRequest{ProjectCode: "PAINO", DocumentTypes: []string{"Minuta"}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "PAINO.zip", ArchiveName(params))

	_, _, err = svc.SelectForPackage(ctx, PackageRequest{DocumentIDs: []string{"missing"}})
	require.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestDocumentServiceResolveCapsRecords(t *testing.T) {
	repo := &docRepoStub{records: alternatingRecords(10)}
	svc := newDocumentServiceForTest(repo, DocumentServiceConfig{MaxRecords: 3})

	records, err := svc.ProjectRecords(context.Background(), "PAINO")
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, 3, repo.listCalls[0].Limit)

	_, err = svc.ProjectRecords(context.Background(), " ")
	require.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestDocumentServiceDownload(t *testing.T) {
	repo := &docRepoStub{byProforma: map[string]*models.DocumentRecord{
		"P-1": {ProjectCode: "PAINO", ProformaCode: "P-1", ClientID: "111", UnitCode: "PAINO-305", URL: "https://files/minuta", FileName: "minuta firmada.pdf"},
		"P-9": {ProjectCode: "PAINO", ProformaCode: "P-9"},
	}}
	svc := newDocumentServiceForTest(repo, DocumentServiceConfig{})

	doc, err := svc.Download(context.Background(), "P-1")
	require.NoError(t, err)
	require.Equal(t, "PAINO_P-1_111_Minuta_DPTO-305.pdf", doc.FileName)
	require.Equal(t, "application/pdf", doc.MIME)
	require.Equal(t, models.ConversionModePDF, doc.Mode)
	require.Equal(t, "%PDF-1.4 https://files/minuta", string(doc.Content))

	_, err = svc.Download(context.Background(), "P-9")
	require.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, err = svc.Download(context.Background(), "nope")
	require.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestDocumentServiceProjectOptionsAreCached(t *testing.T) {
	repo := &docRepoStub{}
	svc := newDocumentServiceForTest(repo, DocumentServiceConfig{})

	for i := 0; i < 2; i++ {
		options, err := svc.ProjectOptions(context.Background(), " Pa ", 0)
		require.NoError(t, err)
		require.Equal(t, []dto.FilterOption{{Value: "PAINO", Label: "PAINO"}, {Value: "PALMAS", Label: "PALMAS"}}, options)
	}
	require.Equal(t, 1, repo.projectCalls)
}

func TestDocumentServiceStaticOptions(t *testing.T) {
	svc := newDocumentServiceForTest(&docRepoStub{}, DocumentServiceConfig{})
	types := svc.DocumentTypeOptions()
	require.Len(t, types, 5)
	require.Equal(t, "Voucher", types[0].Value)
	require.Equal(t, "Carta de Aprobación", types[3].Value)

	units := svc.UnitTypeOptions()
	require.Len(t, units, len(models.UnitTypes))
	require.Equal(t, dto.FilterOption{Value: "DPTO", Label: "Departamento"}, units[0])
}

func TestDocumentServiceLabels(t *testing.T) {
	svc := newDocumentServiceForTest(&docRepoStub{}, DocumentServiceConfig{})
	labels, err := svc.Labels(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.DocumentTypeVoucher, labels["Voucher de separación"])
	require.Equal(t, models.DocumentTypeMinuta, labels["Minuta firmada"])
}

func TestDocumentServiceExportListing(t *testing.T) {
	repo := &docRepoStub{records: sampleRecords()}
	svc := newDocumentServiceForTest(repo, DocumentServiceConfig{})

	payload, filename, mime, err := svc.ExportListing(context.Background(), DocumentQuery{ProjectCode: "PAINO"}, ListingFormatCSV)
	require.NoError(t, err)
	require.Equal(t, "PAINO.csv", filename)
	require.Equal(t, "text/csv; charset=utf-8", mime)
	require.Equal(t, 7, strings.Count(string(payload), "\n"))
	require.Equal(t, 1000, repo.listCalls[0].Limit)

	_, _, _, err = svc.ExportListing(context.Background(), DocumentQuery{}, "xml")
	require.True(t, errors.Is(err, appErrors.ErrValidation))
}
