package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tale-download-api/internal/models"
	"github.com/noah-isme/tale-download-api/internal/repository"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
	"github.com/noah-isme/tale-download-api/pkg/jobs"
	"github.com/noah-isme/tale-download-api/pkg/storage"
)

type recordResolver interface {
	Resolve(ctx context.Context, params models.ExportParams) ([]models.DocumentRecord, error)
}

type archiveBuilder interface {
	Build(ctx context.Context, records []models.DocumentRecord, w io.Writer) (*PackageResult, error)
}

type exportMetrics interface {
	RecordExportJob(status string)
}

// ExportWorker builds queued exports: resolve records, assemble the archive in a
// temporary file, upload it and sign a download link.
type ExportWorker struct {
	repo       exportJobStore
	resolver   recordResolver
	builder    archiveBuilder
	store      storage.ArchiveStore
	signer     downloadSigner
	links      *ExportService
	metrics    exportMetrics
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

// NewExportWorker constructs a worker. maxRetries mirrors the queue configuration.
func NewExportWorker(repo exportJobStore, resolver recordResolver, builder archiveBuilder, store storage.ArchiveStore, signer downloadSigner, links *ExportService, metrics exportMetrics, maxRetries int, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ExportWorker{
		repo:       repo,
		resolver:   resolver,
		builder:    builder,
		store:      store,
		signer:     signer,
		links:      links,
		metrics:    metrics,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Handle processes one queue job. Errors that a retry cannot fix fail the job at once
// and return nil so the queue does not retry.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			w.logger.Warn("export job vanished", zap.String("job_id", job.ID))
			return nil
		}
		return err
	}
	if record.Status.Terminal() {
		return nil
	}

	if err := w.progress(ctx, job.ID, models.ExportStatusProcessing, 10); err != nil {
		return err
	}
	result, key, err := w.run(ctx, record)
	if err != nil {
		return w.fail(ctx, job, err)
	}

	token, expiresAt, err := w.signer.Sign(record.ID, key)
	if err != nil {
		return w.fail(ctx, job, err)
	}
	url := w.links.DownloadURL(token)
	finished := models.ExportStatusFinished
	progress := 100
	docs := result.Documents
	failures := len(result.Failures)
	now := w.now().UTC()
	empty := ""
	if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &finished,
		Progress:     &progress,
		StorageKey:   &key,
		Documents:    &docs,
		Failures:     &failures,
		ResultURL:    &url,
		ExpiresAt:    &expiresAt,
		ErrorMessage: &empty,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Warn("failed to mark export finished", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	w.record(string(models.ExportStatusFinished))
	w.logger.Info("export finished",
		zap.String("job_id", job.ID),
		zap.Int("documents", docs),
		zap.Int("failures", failures),
	)
	return nil
}

func (w *ExportWorker) run(ctx context.Context, job *models.ExportJob) (*PackageResult, string, error) {
	records, err := w.resolver.Resolve(ctx, job.Params)
	if err != nil {
		return nil, "", err
	}
	if err := w.progress(ctx, job.ID, models.ExportStatusProcessing, 30); err != nil {
		return nil, "", err
	}

	tmp, err := os.CreateTemp("", "export-*.zip")
	if err != nil {
		return nil, "", fmt.Errorf("create temp archive: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	result, err := w.builder.Build(ctx, records, tmp)
	if err != nil {
		return nil, "", err
	}
	if err := w.progress(ctx, job.ID, models.ExportStatusProcessing, 80); err != nil {
		return nil, "", err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, "", fmt.Errorf("rewind temp archive: %w", err)
	}
	key, err := w.store.Save(ctx, path.Join(job.ID, job.ArchiveName), tmp)
	if err != nil {
		return nil, "", fmt.Errorf("store archive: %w", err)
	}
	return result, key, nil
}

// fail requeues retryable errors while attempts remain, otherwise marks the job failed.
func (w *ExportWorker) fail(ctx context.Context, job jobs.Job, cause error) error {
	msg := cause.Error()
	if ctx.Err() != nil {
		w.setQueued(job.ID, msg)
		return cause
	}
	if permanentExportError(cause) || job.Attempt >= w.maxRetries {
		failed := models.ExportStatusFailed
		progress := 100
		now := w.now().UTC()
		if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &failed,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		}); err != nil {
			w.logger.Warn("failed to mark export failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		w.record(string(models.ExportStatusFailed))
		w.logger.Warn("export failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(cause))
		return nil
	}
	w.setQueued(job.ID, msg)
	return cause
}

// setQueued uses a fresh context so shutdown does not leave jobs stuck in PROCESSING.
func (w *ExportWorker) setQueued(id, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	queued := models.ExportStatusQueued
	reset := 0
	if err := w.repo.Update(ctx, id, repository.UpdateExportJobParams{
		Status:       &queued,
		Progress:     &reset,
		ErrorMessage: &msg,
	}); err != nil {
		w.logger.Warn("failed to requeue export", zap.String("job_id", id), zap.Error(err))
	}
}

func (w *ExportWorker) progress(ctx context.Context, id string, status models.ExportStatus, pct int) error {
	return w.repo.Update(ctx, id, repository.UpdateExportJobParams{Status: &status, Progress: &pct})
}

func (w *ExportWorker) record(status string) {
	if w.metrics != nil {
		w.metrics.RecordExportJob(status)
	}
}

func permanentExportError(err error) bool {
	return errors.Is(err, appErrors.ErrValidation) ||
		errors.Is(err, appErrors.ErrNotFound) ||
		errors.Is(err, appErrors.ErrNoDocumentsPackage)
}
