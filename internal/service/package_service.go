package service

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tale-download-api/internal/models"
	"github.com/noah-isme/tale-download-api/pkg/classify"
	"github.com/noah-isme/tale-download-api/pkg/convert"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
	"github.com/noah-isme/tale-download-api/pkg/naming"
)

const (
	// InfoManifestName is the first member of every archive.
	InfoManifestName = "LEEME.txt"
	// FailureManifestName is the last member, present only when records failed.
	FailureManifestName = "ERRORES.txt"

	defaultPackageConcurrency = 10
)

var uploadLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

type documentFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type documentNormalizer interface {
	Normalize(content []byte, hint string) (*convert.Result, error)
}

type packageMetrics interface {
	RecordPackagedDocument(mode, status string)
	ObservePackageBuild(status string, duration time.Duration)
}

// PackageConfig tunes the packager worker pool.
type PackageConfig struct {
	Concurrency int
}

// PackageResult summarises an assembled archive.
type PackageResult struct {
	Documents   int
	Folders     int
	Failures    []models.PackageFailure
	Entries     []string
	GeneratedAt time.Time
}

// PackageService downloads, normalises and archives document records.
type PackageService struct {
	fetcher    documentFetcher
	normalizer documentNormalizer
	metrics    packageMetrics
	logger     *zap.Logger
	cfg        PackageConfig
	now        func() time.Time
}

// NewPackageService constructs a PackageService.
func NewPackageService(fetcher documentFetcher, normalizer documentNormalizer, cfg PackageConfig, metrics packageMetrics, logger *zap.Logger) *PackageService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultPackageConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PackageService{
		fetcher:    fetcher,
		normalizer: normalizer,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Build writes a ZIP of records to w. Nothing is written unless at least one
// record succeeds and ctx is still alive once every worker has finished.
func (s *PackageService) Build(ctx context.Context, records []models.DocumentRecord, w io.Writer) (*PackageResult, error) {
	started := s.now()
	if len(records) == 0 {
		s.observeBuild("empty", started)
		return nil, appErrors.Clone(appErrors.ErrNoDocumentsPackage, "no documents to package")
	}

	outcomes := s.fanOut(ctx, records)
	if err := ctx.Err(); err != nil {
		s.observeBuild("cancelled", started)
		return nil, err
	}

	successes, failures := splitOutcomes(outcomes)
	if len(successes) == 0 {
		s.observeBuild("failed", started)
		s.logger.Warn("no document could be packaged", zap.Int("records", len(records)))
		return nil, appErrors.Clone(appErrors.ErrNoDocumentsPackage,
			fmt.Sprintf("none of %d documents could be packaged", len(records)))
	}
	sortDocuments(successes)
	dedupeFileNames(successes)

	result := &PackageResult{
		Documents:   len(successes),
		Failures:    failures,
		GeneratedAt: s.now(),
	}
	if err := s.assemble(w, successes, failures, result); err != nil {
		s.observeBuild("error", started)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "write archive")
	}

	s.observeBuild("success", started)
	s.logger.Info("archive assembled",
		zap.Int("records", len(records)),
		zap.Int("documents", result.Documents),
		zap.Int("folders", result.Folders),
		zap.Int("failures", len(failures)),
		zap.Duration("elapsed", s.now().Sub(started)),
	)
	return result, nil
}

func (s *PackageService) fanOut(ctx context.Context, records []models.DocumentRecord) []models.ProcessingOutcome {
	workers := min(s.cfg.Concurrency, len(records))
	tasks := make(chan int)
	results := make(chan models.ProcessingOutcome, len(records))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				results <- s.process(ctx, idx, records[idx])
			}
		}()
	}

	go func() {
		defer close(tasks)
		for idx := range records {
			select {
			case tasks <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]models.ProcessingOutcome, 0, len(records))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// process turns one record into exactly one outcome.
func (s *PackageService) process(ctx context.Context, idx int, rec models.DocumentRecord) models.ProcessingOutcome {
	if rec.DocumentType == "" {
		classify.ClassifyRecord(&rec)
	}
	fail := func(err error) models.ProcessingOutcome {
		s.recordDocument("", "failed")
		s.logger.Debug("document skipped",
			zap.String("record", RecordIdentifier(rec)),
			zap.Error(err),
		)
		return models.ProcessingOutcome{
			Index: idx,
			Failure: &models.PackageFailure{
				RecordID:     RecordIdentifier(rec),
				DocumentType: rec.DocumentType,
				Reason:       failureReason(err),
			},
		}
	}

	if strings.TrimSpace(rec.URL) == "" {
		return fail(appErrors.Clone(appErrors.ErrDownloadFailed, "document has no url"))
	}
	content, err := s.fetcher.Fetch(ctx, rec.URL)
	if err != nil {
		return fail(err)
	}

	normalized, err := s.normalizer.Normalize(content, downloadHint(rec))
	if err != nil {
		return fail(err)
	}

	placement := naming.Place(rec, normalized.Extension)
	s.recordDocument(string(normalized.Mode), "success")
	return models.ProcessingOutcome{
		Index: idx,
		Success: &models.PackagedDocument{
			Folder:      placement.Key,
			FolderName:  placement.FolderName,
			FileName:    placement.FileName,
			Content:     normalized.Content,
			Mode:        normalized.Mode,
			Type:        rec.DocumentType,
			UploadedAt:  ParseUploadTime(rec.UploadedAt),
			UploadedRaw: rec.UploadedAt,
		},
	}
}

func (s *PackageService) assemble(w io.Writer, docs []*models.PackagedDocument, failures []models.PackageFailure, result *PackageResult) error {
	zw := zip.NewWriter(w)
	generatedAt := result.GeneratedAt

	folders := make([]string, 0)
	for _, doc := range docs {
		if len(folders) == 0 || folders[len(folders)-1] != doc.FolderName {
			folders = append(folders, doc.FolderName)
		}
	}
	result.Folders = len(folders)

	if err := writeMember(zw, InfoManifestName, generatedAt, []byte(infoManifest(generatedAt, len(docs), len(folders), len(failures)))); err != nil {
		return err
	}
	result.Entries = append(result.Entries, InfoManifestName)

	current := ""
	for _, doc := range docs {
		if doc.FolderName != current {
			current = doc.FolderName
			dir := current + "/"
			if _, err := zw.CreateHeader(&zip.FileHeader{Name: dir, Method: zip.Store, Modified: generatedAt}); err != nil {
				return fmt.Errorf("create folder %s: %w", dir, err)
			}
			result.Entries = append(result.Entries, dir)
		}
		modified := doc.UploadedAt
		if modified.IsZero() {
			modified = generatedAt
		}
		if err := writeMember(zw, doc.ArchivePath(), modified, doc.Content); err != nil {
			return err
		}
		result.Entries = append(result.Entries, doc.ArchivePath())
	}

	if len(failures) > 0 {
		if err := writeMember(zw, FailureManifestName, generatedAt, []byte(failureManifest(generatedAt, failures))); err != nil {
			return err
		}
		result.Entries = append(result.Entries, FailureManifestName)
	}
	return zw.Close()
}

func writeMember(zw *zip.Writer, name string, modified time.Time, content []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := fw.Write(content); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func splitOutcomes(outcomes []models.ProcessingOutcome) ([]*models.PackagedDocument, []models.PackageFailure) {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Index < outcomes[j].Index })
	successes := make([]*models.PackagedDocument, 0, len(outcomes))
	failures := make([]models.PackageFailure, 0)
	for _, outcome := range outcomes {
		switch {
		case outcome.Success != nil:
			successes = append(successes, outcome.Success)
		case outcome.Failure != nil:
			failures = append(failures, *outcome.Failure)
		}
	}
	return successes, failures
}

// sortDocuments orders by folder, then type priority, newest upload first,
// then file name. The input is already in record order so ties stay stable.
func sortDocuments(docs []*models.PackagedDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.FolderName != b.FolderName {
			return a.FolderName < b.FolderName
		}
		if a.Type.Priority() != b.Type.Priority() {
			return a.Type.Priority() < b.Type.Priority()
		}
		if !a.UploadedAt.Equal(b.UploadedAt) {
			return a.UploadedAt.After(b.UploadedAt)
		}
		return a.FileName < b.FileName
	})
}

// dedupeFileNames suffixes repeated names within a folder with _2, _3 and so on.
func dedupeFileNames(docs []*models.PackagedDocument) {
	used := make(map[string]int, len(docs))
	for _, doc := range docs {
		key := doc.ArchivePath()
		used[key]++
		if used[key] == 1 {
			continue
		}
		ext := path.Ext(doc.FileName)
		base := strings.TrimSuffix(doc.FileName, ext)
		for n := used[key]; ; n++ {
			candidate := fmt.Sprintf("%s_%d%s", base, n, ext)
			if used[doc.FolderName+"/"+candidate] == 0 {
				doc.FileName = candidate
				used[doc.ArchivePath()]++
				break
			}
		}
	}
}

// RecordIdentifier names a record in the failure manifest.
func RecordIdentifier(rec models.DocumentRecord) string {
	proforma := strings.TrimSpace(rec.ProformaCode)
	if proforma == "" {
		proforma = models.MissingValue
	}
	id := proforma
	if name := strings.TrimSpace(rec.FileName); name != "" {
		id = proforma + " " + name
	}
	return strings.ReplaceAll(id, "|", "/")
}

// ParseUploadTime accepts the timestamp layouts the warehouse emits. Unparseable values sort last.
func ParseUploadTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range uploadLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// downloadHint prefers the stored file name when it carries an extension.
func downloadHint(rec models.DocumentRecord) string {
	if convert.HintExtension(rec.FileName) != "" {
		return rec.FileName
	}
	return rec.URL
}

func failureReason(err error) string {
	reason := strings.Join(strings.Fields(err.Error()), " ")
	return strings.ReplaceAll(reason, "|", "/")
}

func infoManifest(generatedAt time.Time, documents, folders, failures int) string {
	var b strings.Builder
	b.WriteString("DOCUMENTOS TALE\n")
	b.WriteString("================\n\n")
	fmt.Fprintf(&b, "Generado: %s\n", generatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Documentos: %d\n", documents)
	fmt.Fprintf(&b, "Carpetas: %d\n", folders)
	fmt.Fprintf(&b, "Errores: %d\n\n", failures)

	b.WriteString("Estructura de carpetas\n")
	b.WriteString("  {TIPO_UNIDAD}-{UNIDAD} - {CLIENTE o DNI}\n\n")
	b.WriteString("Nombre de archivo\n")
	b.WriteString("  {PROYECTO}_{PROFORMA}_{DOCUMENTO_CLIENTE}_{TIPO_DOCUMENTO}_{TIPO_UNIDAD}-{UNIDAD}.{ext}\n\n")

	b.WriteString("Tipos de unidad\n")
	for _, code := range models.UnitTypes {
		fmt.Fprintf(&b, "  %-8s %s\n", code, models.UnitTypeLabels[code])
	}
	b.WriteString("\nTipos de documento (orden dentro de cada carpeta)\n")
	for _, docType := range models.DocumentTypes {
		fmt.Fprintf(&b, "  %d. %s\n", docType.Priority(), docType.Label())
	}
	if failures > 0 {
		fmt.Fprintf(&b, "\nLos documentos que no se pudieron incluir se listan en %s.\n", FailureManifestName)
	}
	return b.String()
}

func failureManifest(generatedAt time.Time, failures []models.PackageFailure) string {
	var b strings.Builder
	for _, failure := range failures {
		fmt.Fprintf(&b, "%s | %s | %s\n", failure.RecordID, failure.DocumentType.Label(), failure.Reason)
	}
	fmt.Fprintf(&b, "\nTotal: %d\n", len(failures))
	fmt.Fprintf(&b, "Generado: %s\n", generatedAt.UTC().Format(time.RFC3339))
	return b.String()
}

func (s *PackageService) recordDocument(mode, status string) {
	if s.metrics != nil {
		s.metrics.RecordPackagedDocument(mode, status)
	}
}

func (s *PackageService) observeBuild(status string, started time.Time) {
	if s.metrics != nil {
		s.metrics.ObservePackageBuild(status, s.now().Sub(started))
	}
}
