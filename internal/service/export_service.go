package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tale-download-api/internal/models"
	"github.com/noah-isme/tale-download-api/internal/repository"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
	"github.com/noah-isme/tale-download-api/pkg/jobs"
	"github.com/noah-isme/tale-download-api/pkg/middleware/requestid"
	"github.com/noah-isme/tale-download-api/pkg/storage"
)

const (
	exportJobKind     = "archive"
	cleanupBatchSize  = 100
	recoverBatchSize  = 50
	defaultResultTTL  = 24 * time.Hour
	defaultAPIPrefix  = "/api"
	exportDownloadURL = "%s/exports/download/%s"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
	Forget(ctx context.Context, id string) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type packageValidator interface {
	ValidatePackage(req PackageRequest) (models.ExportParams, error)
}

type downloadSigner interface {
	Sign(exportID, key string) (string, time.Time, error)
	Verify(token string, allowExpired bool) (*storage.DownloadClaims, error)
}

// ExportServiceConfig governs export links and retention.
type ExportServiceConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// ExportStatusResponse is the client view of an export job.
type ExportStatusResponse struct {
	ID          string              `json:"id"`
	Status      models.ExportStatus `json:"status"`
	Progress    int                 `json:"progress"`
	ArchiveName string              `json:"archiveName"`
	Documents   int                 `json:"documents"`
	Failures    int                 `json:"failures"`
	ResultURL   *string             `json:"resultUrl,omitempty"`
	ExpiresAt   *time.Time          `json:"expiresAt,omitempty"`
	Error       *string             `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// ExportDownload is an opened archive ready to stream. Callers close Body.
type ExportDownload struct {
	Body      io.ReadCloser
	FileName  string
	ExpiresAt time.Time
}

// ExportService manages the lifecycle of asynchronous archive exports.
type ExportService struct {
	repo      exportJobStore
	validator packageValidator
	queue     jobDispatcher
	store     storage.ArchiveStore
	signer    downloadSigner
	logger    *zap.Logger
	cfg       ExportServiceConfig
	now       func() time.Time
}

// NewExportService constructs the export service. The queue may be attached later.
func NewExportService(repo exportJobStore, validator packageValidator, queue jobDispatcher, store storage.ArchiveStore, signer downloadSigner, cfg ExportServiceConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = defaultResultTTL
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = defaultAPIPrefix
	}
	return &ExportService{
		repo:      repo,
		validator: validator,
		queue:     queue,
		store:     store,
		signer:    signer,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// AttachQueue sets the dispatcher used by CreateJob and RecoverPendingJobs.
func (s *ExportService) AttachQueue(queue jobDispatcher) {
	s.queue = queue
}

// CreateJob validates req, persists a queued job and enqueues it.
func (s *ExportService) CreateJob(ctx context.Context, req PackageRequest, actorID string) (*ExportStatusResponse, error) {
	params, err := s.validator.ValidatePackage(req)
	if err != nil {
		return nil, err
	}
	job := &models.ExportJob{
		Status:      models.ExportStatusQueued,
		Params:      params,
		ArchiveName: ArchiveName(params),
		CreatedBy:   actorID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if s.queue == nil {
		return nil, s.abandon(ctx, job.ID, errors.New("export queue not configured"))
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Kind: exportJobKind}); err != nil {
		return nil, s.abandon(ctx, job.ID, err)
	}
	s.logger.Info("export job queued",
		zap.String("job_id", job.ID),
		zap.String("archive", job.ArchiveName),
		zap.String("request_id", requestid.FromContext(ctx)),
	)
	return statusResponse(job), nil
}

// GetStatus returns the job state. Jobs created by another actor are hidden when actorID is set.
func (s *ExportService) GetStatus(ctx context.Context, id, actorID string) (*ExportStatusResponse, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actorID != "" && job.CreatedBy != "" && job.CreatedBy != actorID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
	}
	return statusResponse(job), nil
}

// ResolveDownload verifies token and opens the archive it points at.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	claims, err := s.signer.Verify(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.load(ctx, claims.ExportID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
	}
	if job.StorageKey != claims.Key {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	body, err := s.store.Open(ctx, claims.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export archive expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export archive")
	}
	return &ExportDownload{Body: body, FileName: job.ArchiveName, ExpiresAt: claims.ExpiresAt}, nil
}

// RecoverPendingJobs re-enqueues jobs left queued by a previous process.
func (s *ExportService) RecoverPendingJobs(ctx context.Context) {
	if s.queue == nil {
		return
	}
	pending, err := s.repo.ListQueued(ctx, recoverBatchSize)
	if err != nil {
		s.logger.Warn("failed to recover queued exports", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Kind: exportJobKind}); err != nil {
			s.logger.Warn("failed to requeue pending export", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("recovered queued exports", zap.Int("count", len(pending)))
	}
}

// StartCleanup purges expired archives every CleanupInterval until ctx ends.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired(ctx)
			}
		}
	}()
}

// CleanupExpired deletes archives of jobs finished more than ResultTTL ago, then orphans.
func (s *ExportService) CleanupExpired(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.ResultTTL)
	removed := 0
	for {
		expired, err := s.repo.ListFinishedBefore(ctx, cutoff, cleanupBatchSize)
		if err != nil {
			s.logger.Warn("cleanup list failed", zap.Error(err))
			return removed
		}
		for _, job := range expired {
			if job.StorageKey != "" {
				if err := s.store.Delete(ctx, job.StorageKey); err != nil {
					s.logger.Warn("cleanup delete failed", zap.String("job_id", job.ID), zap.Error(err))
					continue
				}
				removed++
			}
			if err := s.repo.Forget(ctx, job.ID); err != nil {
				s.logger.Warn("cleanup forget failed", zap.String("job_id", job.ID), zap.Error(err))
				return removed
			}
		}
		if len(expired) < cleanupBatchSize {
			break
		}
	}
	orphans, err := s.store.CleanupOlderThan(ctx, s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("storage cleanup failed", zap.Error(err))
	}
	removed += len(orphans)
	if removed > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", removed))
	}
	return removed
}

// DownloadURL builds the public link for a signed token.
func (s *ExportService) DownloadURL(token string) string {
	return fmt.Sprintf(exportDownloadURL, strings.TrimRight(s.cfg.APIPrefix, "/"), token)
}

func (s *ExportService) load(ctx context.Context, id string) (*models.ExportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	return job, nil
}

func (s *ExportService) abandon(ctx context.Context, id string, cause error) error {
	status := models.ExportStatusFailed
	progress := 100
	msg := "failed to enqueue export"
	now := s.now().UTC()
	if err := s.repo.Update(ctx, id, repository.UpdateExportJobParams{
		Status:       &status,
		Progress:     &progress,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		s.logger.Warn("failed to mark export failed", zap.String("job_id", id), zap.Error(err))
	}
	if errors.Is(cause, jobs.ErrQueueFull) {
		return appErrors.Wrap(cause, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "export queue is full, retry later")
	}
	return appErrors.Wrap(cause, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}

func statusResponse(job *models.ExportJob) *ExportStatusResponse {
	return &ExportStatusResponse{
		ID:          job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		ArchiveName: job.ArchiveName,
		Documents:   job.Documents,
		Failures:    job.Failures,
		ResultURL:   job.ResultURL,
		ExpiresAt:   job.ExpiresAt,
		Error:       job.ErrorMessage,
		CreatedAt:   job.CreatedAt,
	}
}
