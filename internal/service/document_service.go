package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tale-download-api/internal/dto"
	"github.com/noah-isme/tale-download-api/internal/models"
	"github.com/noah-isme/tale-download-api/pkg/classify"
	"github.com/noah-isme/tale-download-api/pkg/convert"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
	"github.com/noah-isme/tale-download-api/pkg/export"
	"github.com/noah-isme/tale-download-api/pkg/naming"
)

const (
	defaultListLimit      = 25
	maxListLimit          = 1000
	defaultScanPageSize   = 500
	defaultMaxScanRows    = 50000
	defaultProjectOptions = 200
	defaultArchiveName    = "tale_documents"
	filterCacheTTL        = 10 * time.Minute
)

// Listing formats accepted by ExportListing.
const (
	ListingFormatCSV = "csv"
	ListingFormatPDF = "pdf"
)

type documentRepository interface {
	Ping(ctx context.Context) error
	List(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentRecord, error)
	ListByProformas(ctx context.Context, codes []string) ([]models.DocumentRecord, error)
	FindByProforma(ctx context.Context, code string) (*models.DocumentRecord, error)
	ProjectsSummary(ctx context.Context) ([]models.ProjectSummary, error)
	ProjectCatalog(ctx context.Context, limit int) ([]models.ProjectCatalogEntry, error)
	ProjectCodes(ctx context.Context, search string, limit int) ([]string, error)
	Labels(ctx context.Context) ([]string, error)
}

type listingRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// DocumentServiceConfig bounds listing and archive selection.
type DocumentServiceConfig struct {
	MaxRecords   int
	ScanPageSize int
	MaxScanRows  int
}

// DocumentQuery filters the document listing.
type DocumentQuery struct {
	ProjectCode   string   `json:"project_code" form:"project_code" validate:"omitempty,max=64"`
	DocumentTypes []string `json:"document_type" form:"document_type" validate:"omitempty,dive,document_type"`
	StartDate     string   `json:"start_date" form:"start_date" validate:"omitempty,warehouse_date"`
	EndDate       string   `json:"end_date" form:"end_date" validate:"omitempty,warehouse_date"`
	Limit         int      `json:"limit" form:"limit" validate:"gte=0,lte=1000"`
	Offset        int      `json:"offset" form:"offset" validate:"gte=0"`
}

// PackageRequest selects the records of a synchronous or asynchronous archive.
type PackageRequest struct {
	ProjectCode   string         `json:"project_code" validate:"omitempty,max=64"`
	DocumentTypes dto.StringList `json:"document_type" validate:"omitempty,dive,document_type"`
	StartDate     string         `json:"start_date" validate:"omitempty,warehouse_date"`
	EndDate       string         `json:"end_date" validate:"omitempty,warehouse_date"`
	DocumentIDs   []string       `json:"document_ids" validate:"omitempty,max=1000,dive,required,max=64"`
}

// Params converts a validated request into persisted export params.
func (r PackageRequest) Params() models.ExportParams {
	return models.ExportParams{
		ProjectCode:   strings.TrimSpace(r.ProjectCode),
		DocumentTypes: parseDocumentTypes(r.DocumentTypes),
		StartDate:     r.StartDate,
		EndDate:       r.EndDate,
		ProformaCodes: r.DocumentIDs,
	}
}

// ArchiveName is the download file name for a selection.
func ArchiveName(params models.ExportParams) string {
	name := naming.SanitizeFilename(params.ProjectCode)
	if name == "" {
		name = defaultArchiveName
	}
	return name + ".zip"
}

// DocumentPage is one window of the classified listing.
type DocumentPage struct {
	Documents  []models.DocumentRecord
	Pagination models.Pagination
}

// DownloadedDocument is a single normalised file ready to be served.
type DownloadedDocument struct {
	FileName string
	MIME     string
	Mode     models.ConversionMode
	Content  []byte
}

// DocumentService reads the warehouse catalogue and classifies its documents.
type DocumentService struct {
	repo       documentRepository
	fetcher    documentFetcher
	normalizer documentNormalizer
	cache      *CacheService
	csv        listingRenderer
	pdf        listingRenderer
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        DocumentServiceConfig
}

// NewDocumentService constructs the service. cache may be nil.
func NewDocumentService(repo documentRepository, fetcher documentFetcher, normalizer documentNormalizer, cache *CacheService, validate *validator.Validate, cfg DocumentServiceConfig, logger *zap.Logger) *DocumentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = maxListLimit
	}
	if cfg.ScanPageSize <= 0 {
		cfg.ScanPageSize = defaultScanPageSize
	}
	if cfg.MaxScanRows <= 0 {
		cfg.MaxScanRows = defaultMaxScanRows
	}
	registerDocumentValidations(validate)
	return &DocumentService{
		repo:       repo,
		fetcher:    fetcher,
		normalizer: normalizer,
		cache:      cache,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
	}
}

func registerDocumentValidations(v *validator.Validate) {
	_ = v.RegisterValidation("document_type", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseDocumentType(strings.TrimSpace(fl.Field().String()))
		return ok
	})
	_ = v.RegisterValidation("warehouse_date", func(fl validator.FieldLevel) bool {
		return !ParseUploadTime(fl.Field().String()).IsZero()
	})
}

// Ping checks warehouse connectivity.
func (s *DocumentService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// List returns a classified window of documents. With a type filter the warehouse is
// scanned page by page so offset and limit apply to the filtered rows.
func (s *DocumentService) List(ctx context.Context, query DocumentQuery) (*DocumentPage, error) {
	if err := s.validate(query); err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	filter := models.DocumentFilter{
		ProjectCode:   strings.TrimSpace(query.ProjectCode),
		DocumentTypes: parseDocumentTypes(query.DocumentTypes),
		StartDate:     query.StartDate,
		EndDate:       query.EndDate,
		Limit:         limit,
		Offset:        query.Offset,
	}
	docs, err := s.selectDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &DocumentPage{
		Documents:  docs,
		Pagination: models.Pagination{Limit: limit, Offset: query.Offset, Count: len(docs)},
	}, nil
}

// ExportListing renders the listing selected by query as CSV or PDF.
func (s *DocumentService) ExportListing(ctx context.Context, query DocumentQuery, format string) ([]byte, string, string, error) {
	if query.Limit <= 0 {
		query.Limit = s.cfg.MaxRecords
	}
	page, err := s.List(ctx, query)
	if err != nil {
		return nil, "", "", err
	}
	title := "Documentos"
	if query.ProjectCode != "" {
		title += " " + strings.ToUpper(query.ProjectCode)
	}
	data := export.DocumentDataset(title, page.Documents)
	base := strings.TrimSuffix(ArchiveName(models.ExportParams{ProjectCode: query.ProjectCode}), ".zip")

	var payload []byte
	switch format {
	case ListingFormatCSV:
		payload, err = s.csv.Render(data)
	case ListingFormatPDF:
		payload, err = s.pdf.Render(data)
	default:
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported listing format %q", format))
	}
	if err != nil {
		return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render listing")
	}
	return payload, base + "." + format, convert.MIMEType("." + format), nil
}

// ValidatePackage checks req without touching the warehouse. Explicit document ids are
// proforma codes; otherwise at least one filter is required.
func (s *DocumentService) ValidatePackage(req PackageRequest) (models.ExportParams, error) {
	if err := s.validate(req); err != nil {
		return models.ExportParams{}, err
	}
	params := req.Params()
	if err := requireSelection(params); err != nil {
		return params, err
	}
	return params, nil
}

// SelectForPackage validates req and loads the records to archive.
func (s *DocumentService) SelectForPackage(ctx context.Context, req PackageRequest) ([]models.DocumentRecord, models.ExportParams, error) {
	params, err := s.ValidatePackage(req)
	if err != nil {
		return nil, params, err
	}
	records, err := s.Resolve(ctx, params)
	if err != nil {
		return nil, params, err
	}
	return records, params, nil
}

// Resolve loads the records described by params.
func (s *DocumentService) Resolve(ctx context.Context, params models.ExportParams) ([]models.DocumentRecord, error) {
	if err := requireSelection(params); err != nil {
		return nil, err
	}
	var (
		records []models.DocumentRecord
		err     error
	)
	if len(params.ProformaCodes) > 0 {
		records, err = s.repo.ListByProformas(ctx, params.ProformaCodes)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load documents")
		}
		classifyAll(records)
		if len(records) > s.cfg.MaxRecords {
			records = records[:s.cfg.MaxRecords]
		}
	} else {
		records, err = s.selectDocuments(ctx, params.Filter(s.cfg.MaxRecords))
		if err != nil {
			return nil, err
		}
	}
	if len(records) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no documents found for the given filters")
	}
	return records, nil
}

// ProjectRecords loads every document of a project, up to the archive limit.
func (s *DocumentService) ProjectRecords(ctx context.Context, projectCode string) ([]models.DocumentRecord, error) {
	projectCode = strings.TrimSpace(projectCode)
	if projectCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "project code is required")
	}
	return s.Resolve(ctx, models.ExportParams{ProjectCode: projectCode})
}

// Download fetches and normalises the latest document of a proforma.
func (s *DocumentService) Download(ctx context.Context, proforma string) (*DownloadedDocument, error) {
	proforma = strings.TrimSpace(proforma)
	if proforma == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "proforma code is required")
	}
	rec, err := s.repo.FindByProforma(ctx, proforma)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if strings.TrimSpace(rec.URL) == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document has no file")
	}
	classify.ClassifyRecord(rec)

	content, err := s.fetcher.Fetch(ctx, rec.URL)
	if err != nil {
		return nil, err
	}
	result, err := s.normalizer.Normalize(content, downloadHint(*rec))
	if err != nil {
		return nil, err
	}
	placement := naming.Place(*rec, result.Extension)
	s.logger.Info("document downloaded",
		zap.String("proforma", proforma),
		zap.String("mode", string(result.Mode)),
		zap.Int("bytes", len(result.Content)),
	)
	return &DownloadedDocument{
		FileName: placement.FileName,
		MIME:     result.MIME,
		Mode:     result.Mode,
		Content:  result.Content,
	}, nil
}

// Projects summarises document counts per project.
func (s *DocumentService) Projects(ctx context.Context) ([]models.ProjectSummary, error) {
	projects, err := s.repo.ProjectsSummary(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load projects")
	}
	return projects, nil
}

// ProjectCatalog lists named projects, cached.
func (s *DocumentService) ProjectCatalog(ctx context.Context, limit int) ([]models.ProjectCatalogEntry, error) {
	var entries []models.ProjectCatalogEntry
	key := fmt.Sprintf("projects:catalog:%d", limit)
	err := s.cache.Remember(ctx, key, filterCacheTTL, &entries, func() error {
		var err error
		entries, err = s.repo.ProjectCatalog(ctx, limit)
		return err
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project catalog")
	}
	return entries, nil
}

// ProjectOptions lists project codes matching search, cached per search term.
func (s *DocumentService) ProjectOptions(ctx context.Context, search string, limit int) ([]dto.FilterOption, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultProjectOptions
	}
	search = strings.ToLower(strings.TrimSpace(search))
	var codes []string
	key := fmt.Sprintf("filters:projects:%s:%d", search, limit)
	err := s.cache.Remember(ctx, key, filterCacheTTL, &codes, func() error {
		var err error
		codes, err = s.repo.ProjectCodes(ctx, search, limit)
		return err
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project filters")
	}
	options := make([]dto.FilterOption, 0, len(codes))
	for _, code := range codes {
		options = append(options, dto.FilterOption{Value: code, Label: code})
	}
	return options, nil
}

// DocumentTypeOptions lists the homologated document types in priority order.
func (s *DocumentService) DocumentTypeOptions() []dto.FilterOption {
	options := make([]dto.FilterOption, 0, len(models.DocumentTypes))
	for _, t := range models.DocumentTypes {
		options = append(options, dto.FilterOption{Value: t.Label(), Label: t.Label()})
	}
	return options
}

// UnitTypeOptions lists the canonical unit types.
func (s *DocumentService) UnitTypeOptions() []dto.FilterOption {
	options := make([]dto.FilterOption, 0, len(models.UnitTypes))
	for _, t := range models.UnitTypes {
		options = append(options, dto.FilterOption{Value: string(t), Label: models.UnitTypeLabels[t]})
	}
	return options
}

// Labels lists the raw upload labels with the type each one classifies to.
func (s *DocumentService) Labels(ctx context.Context) (map[string]models.DocumentType, error) {
	labels, err := s.repo.Labels(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load labels")
	}
	out := make(map[string]models.DocumentType, len(labels))
	for _, label := range labels {
		out[label] = classify.ClassifyDocument("", label)
	}
	return out, nil
}

// selectDocuments applies filter.Limit and filter.Offset after type filtering.
func (s *DocumentService) selectDocuments(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentRecord, error) {
	if len(filter.DocumentTypes) == 0 {
		records, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
		}
		classifyAll(records)
		return records, nil
	}

	wanted := make(map[models.DocumentType]bool, len(filter.DocumentTypes))
	for _, t := range filter.DocumentTypes {
		wanted[t] = true
	}
	scan := filter
	scan.Limit = s.cfg.ScanPageSize
	scan.Offset = 0
	skip := filter.Offset
	selected := make([]models.DocumentRecord, 0, filter.Limit)

	for scan.Offset < s.cfg.MaxScanRows {
		page, err := s.repo.List(ctx, scan)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
		}
		for i := range page {
			classify.ClassifyRecord(&page[i])
			if !wanted[page[i].DocumentType] {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			selected = append(selected, page[i])
			if filter.Limit > 0 && len(selected) == filter.Limit {
				return selected, nil
			}
		}
		if len(page) < scan.Limit {
			return selected, nil
		}
		scan.Offset += scan.Limit
	}
	s.logger.Warn("document scan truncated", zap.Int("rows", s.cfg.MaxScanRows), zap.String("project", filter.ProjectCode))
	return selected, nil
}

func (s *DocumentService) validate(req interface{}) error {
	if err := s.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status,
				fmt.Sprintf("invalid %s", strings.ToLower(verrs[0].Field())))
		}
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request")
	}
	return nil
}

func requireSelection(params models.ExportParams) error {
	if len(params.ProformaCodes) > 0 || params.ProjectCode != "" || len(params.DocumentTypes) > 0 ||
		params.StartDate != "" || params.EndDate != "" {
		return nil
	}
	return appErrors.Clone(appErrors.ErrValidation, "at least one filter is required")
}

func classifyAll(records []models.DocumentRecord) {
	for i := range records {
		classify.ClassifyRecord(&records[i])
	}
}

func parseDocumentTypes(raw []string) []models.DocumentType {
	if len(raw) == 0 {
		return nil
	}
	types := make([]models.DocumentType, 0, len(raw))
	seen := make(map[models.DocumentType]bool, len(raw))
	for _, value := range raw {
		t, ok := models.ParseDocumentType(strings.TrimSpace(value))
		if !ok || seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}
	return types
}
