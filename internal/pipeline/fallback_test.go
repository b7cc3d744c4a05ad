package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alekslucenko/planit-analytics/internal/docstore"
	"github.com/alekslucenko/planit-analytics/internal/domain"
	"github.com/alekslucenko/planit-analytics/internal/logger"
	"github.com/alekslucenko/planit-analytics/internal/pipeline"
)

func fallbackRoute() pipeline.FallbackRoute {
	return pipeline.FallbackRoute{
		ParentCollection: domain.CollectionEvents,
		ParentFilter:     docstore.Eq("owner_id", owner),
		ChildKey:         "event_id",
	}
}

func compoundAttendanceQuery() docstore.Query {
	return docstore.Query{
		Collection: domain.CollectionAttendances,
		Filters: []docstore.Filter{
			docstore.Eq("owner_id", owner),
			docstore.Gte("timestamp", "2026-01-01T00:00:00Z"),
		},
	}
}

func seedTwoParentsFourChildren(store *docstore.MemoryStore) {
	store.Seed(domain.CollectionEvents,
		eventDoc("e1", map[string]any{"general": 10.0}),
		eventDoc("e2", map[string]any{"general": 10.0}),
	)
	store.Seed(domain.CollectionAttendances,
		attendanceDoc("a1", "e1", "c1", 1, fixedNow.Add(-time.Hour)),
		attendanceDoc("a2", "e1", "c2", 1, fixedNow.Add(-time.Hour)),
		attendanceDoc("a3", "e2", "c3", 1, fixedNow.Add(-time.Hour)),
		attendanceDoc("a4", "e2", "c4", 1, fixedNow.Add(-time.Hour)),
	)
}

func collectIDs(docs []domain.RawDocument) map[string]bool {
	ids := make(map[string]bool, len(docs))
	for _, d := range docs {
		ids[d.ID] = true
	}
	return ids
}

func TestSubscribeWithFallback_UsesDirectPathWhenIndexed(t *testing.T) {
	t.Helper()
	store := docstore.NewMemoryStore()
	store.RegisterIndex(domain.CollectionAttendances, "owner_id", "timestamp")
	seedTwoParentsFourChildren(store)

	col := newDocCollector()
	sub, err := pipeline.SubscribeWithFallback(context.Background(), store,
		compoundAttendanceQuery(), fallbackRoute(), col.handle, logger.NewNop(), nil)
	require.NoError(t, err)
	defer sub.Cancel()

	docs := col.waitForDocs(t, 4)
	assert.Equal(t, map[string]bool{"a1": true, "a2": true, "a3": true, "a4": true}, collectIDs(docs))
}

func TestSubscribeWithFallback_MatchesDirectResultWithoutIndex(t *testing.T) {
	t.Helper()
	store := docstore.NewMemoryStore() // no index registered
	seedTwoParentsFourChildren(store)

	col := newDocCollector()
	sub, err := pipeline.SubscribeWithFallback(context.Background(), store,
		compoundAttendanceQuery(), fallbackRoute(), col.handle, logger.NewNop(), nil)
	require.NoError(t, err, "missing index is recovered, not surfaced")
	defer sub.Cancel()

	docs := col.waitForDocs(t, 4)
	assert.Equal(t, map[string]bool{"a1": true, "a2": true, "a3": true, "a4": true}, collectIDs(docs),
		"fallback returns the same record set as the direct query")
}

func TestSubscribeWithFallback_FailedSubFetchContributesZero(t *testing.T) {
	t.Helper()
	store := docstore.NewMemoryStore()
	seedTwoParentsFourChildren(store)
	store.FetchHook = func(q docstore.Query) error {
		for _, f := range q.Filters {
			if f.Field == "event_id" && f.Value == "e1" {
				return docstore.NewQueryError(docstore.KindTransient, q.Collection, nil)
			}
		}
		return nil
	}

	col := newDocCollector()
	sub, err := pipeline.SubscribeWithFallback(context.Background(), store,
		compoundAttendanceQuery(), fallbackRoute(), col.handle, logger.NewNop(), nil)
	require.NoError(t, err)
	defer sub.Cancel()

	docs := col.waitForDocs(t, 2)
	assert.Equal(t, map[string]bool{"a3": true, "a4": true}, collectIDs(docs),
		"the failed parent contributes zero records, the rest survive")
}

func TestSubscribeWithFallback_PermissionErrorsPassThrough(t *testing.T) {
	t.Helper()
	store := docstore.NewMemoryStore()
	store.Deny(domain.CollectionAttendances)

	_, err := pipeline.SubscribeWithFallback(context.Background(), store,
		compoundAttendanceQuery(), fallbackRoute(), func([]domain.RawDocument, error) {},
		logger.NewNop(), nil)
	require.Error(t, err)
	assert.True(t, docstore.IsPermissionDenied(err), "only missing_index triggers the fallback")
}

func TestSubscribeWithFallback_TracksParentChanges(t *testing.T) {
	t.Helper()
	store := docstore.NewMemoryStore()
	seedTwoParentsFourChildren(store)

	col := newDocCollector()
	sub, err := pipeline.SubscribeWithFallback(context.Background(), store,
		compoundAttendanceQuery(), fallbackRoute(), col.handle, logger.NewNop(), nil)
	require.NoError(t, err)
	defer sub.Cancel()

	col.waitForDocs(t, 4)

	// A new parent appears with its own sub-records.
	store.Seed(domain.CollectionAttendances,
		attendanceDoc("a5", "e3", "c5", 1, fixedNow.Add(-time.Hour)))
	store.Put(domain.CollectionEvents, eventDoc("e3", map[string]any{"general": 5.0}))

	docs := col.waitForDocs(t, 5)
	assert.True(t, collectIDs(docs)["a5"])
}

// docCollector gathers handler deliveries for fallback tests.
type docCollector struct {
	ch chan []domain.RawDocument
}

func newDocCollector() *docCollector {
	return &docCollector{ch: make(chan []domain.RawDocument, 16)}
}

func (c *docCollector) handle(docs []domain.RawDocument, err error) {
	if err != nil {
		return
	}
	c.ch <- docs
}

// waitForDocs blocks until a delivery with exactly n documents arrives.
func (c *docCollector) waitForDocs(t *testing.T, n int) []domain.RawDocument {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case docs := <-c.ch:
			if len(docs) == n {
				return docs
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a %d-document delivery", n)
		}
	}
}
