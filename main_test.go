package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alekslucenko/planit-analytics/internal/cache"
	"github.com/alekslucenko/planit-analytics/internal/domain"
	"github.com/alekslucenko/planit-analytics/internal/logger"
	"github.com/alekslucenko/planit-analytics/internal/snapshot"
)

// fakeLoader stands in for the redis cache during startup seeding tests.
type fakeLoader struct {
	p   snapshot.Published
	err error
}

func (f *fakeLoader) Load(context.Context, string) (snapshot.Published, error) {
	return f.p, f.err
}

func TestSeedFromCache_InstallsCachedSnapshot(t *testing.T) {
	t.Helper()
	snapshots := snapshot.NewStore()
	cached := snapshot.Published{Snapshot: domain.MetricsSnapshot{
		Timeframe:  domain.TimeframeThisWeek,
		ComputedAt: time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC),
		SaleCount:  3,
		Stale:      true,
	}}

	seedFromCache(context.Background(), &fakeLoader{p: cached}, "host-1",
		snapshots, logger.NewNop())

	p, ready := snapshots.Get()
	require.True(t, ready)
	assert.Equal(t, 3, p.Snapshot.SaleCount)
	assert.True(t, p.Snapshot.Stale)
}

func TestSeedFromCache_EmptyCacheLeavesStoreEmpty(t *testing.T) {
	t.Helper()
	snapshots := snapshot.NewStore()

	// Wrapped sentinel must still be recognized as a cache miss.
	miss := fmt.Errorf("load cached snapshot: %w", cache.ErrNotFound)
	seedFromCache(context.Background(), &fakeLoader{err: miss}, "host-1",
		snapshots, logger.NewNop())

	_, ready := snapshots.Get()
	assert.False(t, ready, "cache miss must not publish anything")
}

func TestSeedFromCache_LoadFailureLeavesStoreEmpty(t *testing.T) {
	t.Helper()
	snapshots := snapshot.NewStore()

	seedFromCache(context.Background(), &fakeLoader{err: fmt.Errorf("redis down")},
		"host-1", snapshots, logger.NewNop())

	_, ready := snapshots.Get()
	assert.False(t, ready)
}
