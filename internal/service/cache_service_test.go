package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-core/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-core/pkg/errors"
)

type fakeCacheRepo struct {
	values   map[string]string
	deleted  []string
	patterns []string
	getErr   error
	lastTTL  time.Duration
}

func (f *fakeCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	if f.getErr != nil {
		return f.getErr
	}
	v, ok := f.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*dest.(*string) = v
	return nil
}

func (f *fakeCacheRepo) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	f.values[key] = value.(string)
	f.lastTTL = ttl
	return nil
}

func (f *fakeCacheRepo) Delete(_ context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

func (f *fakeCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	f.patterns = append(f.patterns, pattern)
	return nil
}

func TestCacheKeys(t *testing.T) {
	key := models.SummaryKey{StudentID: "S1", TermLabel: "2024/2025", TermHalf: 2}
	assert.Equal(t, "attendance:summary:S1:2024/2025:2", SummaryCacheKey(key))
	assert.Equal(t, "attendance:summary:*:2024/2025:2", TermSummariesCachePattern("2024/2025", 2))
	assert.Equal(t, "attendance:term:active", ActiveTermCacheKey)
}

func TestCacheServiceDisabledIsNoop(t *testing.T) {
	repo := &fakeCacheRepo{values: map[string]string{"k": "v"}}
	svc := NewCacheService(repo, nil, 0, nil, false)

	var out string
	hit, err := svc.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, svc.Set(context.Background(), "x", "y", 0))
	require.NoError(t, svc.Delete(context.Background(), "k"))
	require.NoError(t, svc.Invalidate(context.Background(), "summary:*"))
	assert.NotContains(t, repo.values, "x")
	assert.Empty(t, repo.deleted)

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
}

func TestCacheServiceRecordsHitsAndMisses(t *testing.T) {
	repo := &fakeCacheRepo{values: map[string]string{}}
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, time.Minute, nil, true)
	ctx := context.Background()

	var out string
	hit, err := svc.Get(ctx, "summary:S1:2024/2025:1", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, "summary:S1:2024/2025:1", "cached", 0))
	assert.Equal(t, time.Minute, repo.lastTTL)

	hit, err = svc.Get(ctx, "summary:S1:2024/2025:1", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "cached", out)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheMisses))
	assert.Equal(t, 0.5, testutil.ToFloat64(metrics.cacheHitRatio))

	require.NoError(t, svc.Delete(ctx, "summary:S1:2024/2025:1"))
	require.NoError(t, svc.Invalidate(ctx, TermSummariesCachePattern("2024/2025", 1)))
	assert.Equal(t, []string{"summary:S1:2024/2025:1"}, repo.deleted)
	assert.Equal(t, []string{"attendance:summary:*:2024/2025:1"}, repo.patterns)
}

func TestCacheServiceSurfacesBackendErrors(t *testing.T) {
	repo := &fakeCacheRepo{values: map[string]string{}, getErr: errors.New("redis down")}
	svc := NewCacheService(repo, nil, 0, nil, true)

	var out string
	hit, err := svc.Get(context.Background(), "k", &out)
	assert.Error(t, err)
	assert.False(t, hit)
}
