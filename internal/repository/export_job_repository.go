package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/tale-download-api/internal/models"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
)

const (
	exportKeyPrefix   = "tale:export:"
	exportQueuedSet   = "tale:exports:queued"
	exportFinishedSet = "tale:exports:finished"
	maxUpdateRetries  = 5
)

// UpdateExportJobParams lists the mutable fields of an export job; nil fields are left untouched.
type UpdateExportJobParams struct {
	Status       *models.ExportStatus
	Progress     *int
	StorageKey   *string
	Documents    *int
	Failures     *int
	ResultURL    *string
	ExpiresAt    *time.Time
	ErrorMessage *string
	FinishedAt   *time.Time
}

// ExportJobRepository keeps export jobs in Redis as JSON documents. Two sorted sets index
// queued jobs by creation time and terminal jobs by completion time.
type ExportJobRepository struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewExportJobRepository builds the repository; job keys expire after retention.
func NewExportJobRepository(client *redis.Client, retention time.Duration) *ExportJobRepository {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &ExportJobRepository{client: client, retention: retention, now: time.Now}
}

// Create persists a new job, assigning an id and creation time when absent.
func (r *ExportJobRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = r.now().UTC()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal export job: %w", err)
	}

	created, err := r.client.SetNX(ctx, exportKey(job.ID), payload, r.retention).Result()
	if err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	if !created {
		return appErrors.Clone(appErrors.ErrValidation, "export job already exists")
	}
	if err := r.index(ctx, r.client, job); err != nil {
		return err
	}
	return nil
}

// GetByID loads a job or returns ErrNotFound.
func (r *ExportJobRepository) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	raw, err := r.client.Get(ctx, exportKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
		}
		return nil, fmt.Errorf("get export job: %w", err)
	}
	var job models.ExportJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode export job %s: %w", id, err)
	}
	return &job, nil
}

// Update applies params with optimistic locking and keeps the remaining TTL.
func (r *ExportJobRepository) Update(ctx context.Context, id string, params UpdateExportJobParams) error {
	key := exportKey(id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return appErrors.Clone(appErrors.ErrNotFound, "export not found")
			}
			return err
		}
		var job models.ExportJob
		if err := json.Unmarshal(raw, &job); err != nil {
			return fmt.Errorf("decode export job %s: %w", id, err)
		}
		applyExportUpdate(&job, params)
		payload, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("marshal export job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, payload, redis.SetArgs{KeepTTL: true})
			return r.index(ctx, pipe, &job)
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var appErr *appErrors.Error
			if errors.As(err, &appErr) {
				return err
			}
			return fmt.Errorf("update export job: %w", err)
		}
		return nil
	}
	return fmt.Errorf("update export job %s: too much contention", id)
}

// ListQueued returns up to limit queued jobs, oldest first.
func (r *ExportJobRepository) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	ids, err := r.client.ZRange(ctx, exportQueuedSet, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list queued exports: %w", err)
	}
	return r.load(ctx, exportQueuedSet, ids)
}

// ListFinishedBefore returns up to limit terminal jobs completed before cutoff.
func (r *ExportJobRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	ids, err := r.client.ZRangeByScore(ctx, exportFinishedSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(cutoff.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list finished exports: %w", err)
	}
	return r.load(ctx, exportFinishedSet, ids)
}

// Forget removes a job from the finished index once its artefact is gone.
func (r *ExportJobRepository) Forget(ctx context.Context, id string) error {
	if err := r.client.ZRem(ctx, exportFinishedSet, id).Err(); err != nil {
		return fmt.Errorf("forget export job: %w", err)
	}
	return nil
}

// load fetches ids, pruning index entries whose job key already expired.
func (r *ExportJobRepository) load(ctx context.Context, set string, ids []string) ([]models.ExportJob, error) {
	jobs := make([]models.ExportJob, 0, len(ids))
	for _, id := range ids {
		job, err := r.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, appErrors.ErrNotFound) {
				_ = r.client.ZRem(ctx, set, id).Err()
				continue
			}
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

func (r *ExportJobRepository) index(ctx context.Context, cmd redis.Cmdable, job *models.ExportJob) error {
	switch {
	case job.Status == models.ExportStatusQueued:
		if err := cmd.ZAdd(ctx, exportQueuedSet, redis.Z{Score: float64(job.CreatedAt.Unix()), Member: job.ID}).Err(); err != nil {
			return fmt.Errorf("index export job: %w", err)
		}
	case job.Status.Terminal():
		finished := r.now()
		if job.FinishedAt != nil {
			finished = *job.FinishedAt
		}
		if err := cmd.ZRem(ctx, exportQueuedSet, job.ID).Err(); err != nil {
			return fmt.Errorf("index export job: %w", err)
		}
		if err := cmd.ZAdd(ctx, exportFinishedSet, redis.Z{Score: float64(finished.Unix()), Member: job.ID}).Err(); err != nil {
			return fmt.Errorf("index export job: %w", err)
		}
	default:
		if err := cmd.ZRem(ctx, exportQueuedSet, job.ID).Err(); err != nil {
			return fmt.Errorf("index export job: %w", err)
		}
	}
	return nil
}

func applyExportUpdate(job *models.ExportJob, params UpdateExportJobParams) {
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.StorageKey != nil {
		job.StorageKey = *params.StorageKey
	}
	if params.Documents != nil {
		job.Documents = *params.Documents
	}
	if params.Failures != nil {
		job.Failures = *params.Failures
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ExpiresAt != nil {
		job.ExpiresAt = params.ExpiresAt
	}
	if params.ErrorMessage != nil {
		if *params.ErrorMessage == "" {
			job.ErrorMessage = nil
		} else {
			job.ErrorMessage = params.ErrorMessage
		}
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
}

func exportKey(id string) string {
	return exportKeyPrefix + id
}
