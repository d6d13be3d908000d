package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tale-download-api/internal/models"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
)

func newExportRepoForTest(t *testing.T) (*ExportJobRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewExportJobRepository(client, time.Hour), mr
}

func TestExportJobRepositoryCreateAndGet(t *testing.T) {
	repo, mr := newExportRepoForTest(t)
	ctx := context.Background()

	job := &models.ExportJob{Params: models.ExportParams{ProjectCode: "PAINO"}, ArchiveName: "PAINO.zip"}
	require.NoError(t, repo.Create(ctx, job))
	require.NotEmpty(t, job.ID)
	require.Equal(t, models.ExportStatusQueued, job.Status)
	require.Equal(t, time.Hour, mr.TTL(exportKey(job.ID)))

	loaded, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "PAINO", loaded.Params.ProjectCode)

	queued, err := repo.ListQueued(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	err = repo.Create(ctx, job)
	require.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestExportJobRepositoryGetMissing(t *testing.T) {
	repo, _ := newExportRepoForTest(t)
	_, err := repo.GetByID(context.Background(), "nope")
	require.True(t, errors.Is(err, appErrors.ErrNotFound))

	status := models.ExportStatusFailed
	err = repo.Update(context.Background(), "nope", UpdateExportJobParams{Status: &status})
	require.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestExportJobRepositoryUpdateMovesBetweenIndexes(t *testing.T) {
	repo, mr := newExportRepoForTest(t)
	ctx := context.Background()
	finished := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	job := &models.ExportJob{ArchiveName: "a.zip"}
	require.NoError(t, repo.Create(ctx, job))
	mr.FastForward(10 * time.Minute)

	status := models.ExportStatusFinished
	progress := 100
	key := "exp/a.zip"
	docs := 3
	require.NoError(t, repo.Update(ctx, job.ID, UpdateExportJobParams{
		Status:     &status,
		Progress:   &progress,
		StorageKey: &key,
		Documents:  &docs,
		FinishedAt: &finished,
	}))
	require.Equal(t, 50*time.Minute, mr.TTL(exportKey(job.ID)))

	loaded, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusFinished, loaded.Status)
	require.Equal(t, "exp/a.zip", loaded.StorageKey)
	require.Equal(t, 3, loaded.Documents)

	queued, err := repo.ListQueued(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, queued)

	old, err := repo.ListFinishedBefore(ctx, finished.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, old, 1)
	none, err := repo.ListFinishedBefore(ctx, finished, 10)
	require.NoError(t, err)
	require.Empty(t, none)

	require.NoError(t, repo.Forget(ctx, job.ID))
	old, err = repo.ListFinishedBefore(ctx, finished.Add(time.Second), 10)
	require.NoError(t, err)
	require.Empty(t, old)
}

func TestExportJobRepositoryClearsErrorMessage(t *testing.T) {
	repo, _ := newExportRepoForTest(t)
	ctx := context.Background()
	job := &models.ExportJob{ArchiveName: "a.zip"}
	require.NoError(t, repo.Create(ctx, job))

	msg := "boom"
	require.NoError(t, repo.Update(ctx, job.ID, UpdateExportJobParams{ErrorMessage: &msg}))
	loaded, _ := repo.GetByID(ctx, job.ID)
	require.Equal(t, "boom", *loaded.ErrorMessage)

	empty := ""
	require.NoError(t, repo.Update(ctx, job.ID, UpdateExportJobParams{ErrorMessage: &empty}))
	loaded, _ = repo.GetByID(ctx, job.ID)
	require.Nil(t, loaded.ErrorMessage)
}

func TestExportJobRepositoryPrunesExpiredIndexEntries(t *testing.T) {
	repo, mr := newExportRepoForTest(t)
	ctx := context.Background()
	job := &models.ExportJob{ArchiveName: "a.zip"}
	require.NoError(t, repo.Create(ctx, job))

	mr.FastForward(2 * time.Hour)
	queued, err := repo.ListQueued(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, queued)
	require.False(t, mr.Exists(exportQueuedSet))
}

func TestCacheRepositoryRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewCacheRepository(client, nil)
	ctx := context.Background()

	var out []string
	require.ErrorIs(t, cache.Get(ctx, "filters:projects:", &out), appErrors.ErrCacheMiss)
	require.NoError(t, cache.Set(ctx, "filters:projects:", []string{"PAINO", "LAMAR"}, time.Minute))
	require.NoError(t, cache.Get(ctx, "filters:projects:", &out))
	require.Equal(t, []string{"PAINO", "LAMAR"}, out)
	require.True(t, mr.Exists(cacheKeyPrefix+"filters:projects:"))

	require.NoError(t, cache.DeleteByPattern(ctx, "filters:*"))
	require.ErrorIs(t, cache.Get(ctx, "filters:projects:", &out), appErrors.ErrCacheMiss)

	nilCache := NewCacheRepository(nil, nil)
	require.ErrorIs(t, nilCache.Get(ctx, "x", &out), appErrors.ErrCacheMiss)
	require.NoError(t, nilCache.Set(ctx, "x", 1, time.Minute))
}
