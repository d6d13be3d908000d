package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
)

type memoryCache struct {
	values  map[string]interface{}
	getErr  error
	deleted []string
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*(dest.(*[]string)) = v.([]string)
	return nil
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.values[key] = *(value.(*[]string))
	return nil
}

func (m *memoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	m.deleted = append(m.deleted, pattern)
	return nil
}

func TestCacheServiceRemember(t *testing.T) {
	repo := &memoryCache{values: map[string]interface{}{}}
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, time.Minute, nil, true)
	ctx := context.Background()

	loads := 0
	load := func(dest *[]string) func() error {
		return func() error {
			loads++
			*dest = []string{"PAINO"}
			return nil
		}
	}

	var first []string
	require.NoError(t, svc.Remember(ctx, "projects", 0, &first, load(&first)))
	var second []string
	require.NoError(t, svc.Remember(ctx, "projects", 0, &second, load(&second)))

	require.Equal(t, 1, loads)
	require.Equal(t, []string{"PAINO"}, second)
	require.InDelta(t, 0.5, metrics.Snapshot().CacheHitRatio, 0.001)
}

func TestCacheServiceDisabledAlwaysLoads(t *testing.T) {
	repo := &memoryCache{values: map[string]interface{}{}}
	svc := NewCacheService(repo, nil, 0, nil, false)

	loads := 0
	var dest []string
	for i := 0; i < 2; i++ {
		require.NoError(t, svc.Remember(context.Background(), "k", 0, &dest, func() error {
			loads++
			return nil
		}))
	}
	require.Equal(t, 2, loads)
	require.Empty(t, repo.values)
	require.NoError(t, svc.Invalidate(context.Background(), "*"))
	require.Empty(t, repo.deleted)
}

func TestCacheServiceToleratesBackendErrors(t *testing.T) {
	repo := &memoryCache{values: map[string]interface{}{}, getErr: errors.New("connection refused")}
	svc := NewCacheService(repo, nil, 0, nil, true)

	var dest []string
	err := svc.Remember(context.Background(), "k", 0, &dest, func() error {
		dest = []string{"fresh"}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, dest)
}

func TestCacheServiceNilIsDisabled(t *testing.T) {
	var svc *CacheService
	require.False(t, svc.Enabled())
	var dest []string
	require.False(t, svc.Get(context.Background(), "k", &dest))
}
