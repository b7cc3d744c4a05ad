package docstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alekslucenko/planit-analytics/internal/docstore"
	"github.com/alekslucenko/planit-analytics/internal/domain"
)

const deliveryTimeout = 2 * time.Second

// collector gathers subscription deliveries for assertions.
type collector struct {
	mu         sync.Mutex
	deliveries [][]domain.RawDocument
	errs       []error
	signal     chan struct{}
}

func newCollector() *collector {
	return &collector{signal: make(chan struct{}, 16)}
}

func (c *collector) handle(docs []domain.RawDocument, err error) {
	c.mu.Lock()
	if err != nil {
		c.errs = append(c.errs, err)
	} else {
		c.deliveries = append(c.deliveries, docs)
	}
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.signal:
	case <-time.After(deliveryTimeout):
		t.Fatal("timed out waiting for delivery")
	}
}

func (c *collector) last(t *testing.T) []domain.RawDocument {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.deliveries)
	return c.deliveries[len(c.deliveries)-1]
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveries)
}

func saleDoc(id, owner string, amount float64) domain.RawDocument {
	return domain.RawDocument{
		ID: id,
		Fields: map[string]any{
			"owner_id":  owner,
			"amount":    amount,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func TestMemoryStore_SubscribeInitialDelivery(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.Seed("sales", saleDoc("s1", "host-1", 10), saleDoc("s2", "host-2", 20))

	col := newCollector()
	sub, err := store.Subscribe(context.Background(),
		docstore.Query{Collection: "sales", Filters: []docstore.Filter{docstore.Eq("owner_id", "host-1")}},
		col.handle)
	require.NoError(t, err)
	defer sub.Cancel()

	col.wait(t)
	docs := col.last(t)
	require.Len(t, docs, 1)
	assert.Equal(t, "s1", docs[0].ID)
}

func TestMemoryStore_RedeliversFullSetOnChange(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.Seed("sales", saleDoc("s1", "host-1", 10))

	col := newCollector()
	sub, err := store.Subscribe(context.Background(),
		docstore.Query{Collection: "sales", Filters: []docstore.Filter{docstore.Eq("owner_id", "host-1")}},
		col.handle)
	require.NoError(t, err)
	defer sub.Cancel()

	col.wait(t) // initial

	store.Put("sales", saleDoc("s2", "host-1", 20))
	col.wait(t)

	// The full result set is redelivered, not a delta.
	docs := col.last(t)
	require.Len(t, docs, 2)
	assert.Equal(t, "s1", docs[0].ID)
	assert.Equal(t, "s2", docs[1].ID)

	store.Delete("sales", "s1")
	col.wait(t)
	docs = col.last(t)
	require.Len(t, docs, 1)
	assert.Equal(t, "s2", docs[0].ID)
}

func TestMemoryStore_CompoundQueryNeedsIndex(t *testing.T) {
	store := docstore.NewMemoryStore()
	q := docstore.Query{Collection: "sales", Filters: []docstore.Filter{
		docstore.Eq("owner_id", "host-1"),
		docstore.Gte("timestamp", "2026-01-01"),
	}}

	_, err := store.Subscribe(context.Background(), q, func([]domain.RawDocument, error) {})
	require.Error(t, err)
	assert.True(t, docstore.IsMissingIndex(err))

	store.RegisterIndex("sales", "owner_id", "timestamp")
	sub, err := store.Subscribe(context.Background(), q, func([]domain.RawDocument, error) {})
	require.NoError(t, err)
	sub.Cancel()
}

func TestMemoryStore_SingleFieldQueryNeedsNoIndex(t *testing.T) {
	store := docstore.NewMemoryStore()

	// Two filters on the same field still count as a simple query.
	q := docstore.Query{Collection: "sales", Filters: []docstore.Filter{
		docstore.Gte("timestamp", "2026-01-01"),
		docstore.Lte("timestamp", "2026-02-01"),
	}}
	_, err := store.FetchOnce(context.Background(), q)
	require.NoError(t, err)
}

func TestMemoryStore_PermissionDenied(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.Deny("sales")

	_, err := store.FetchOnce(context.Background(), docstore.Query{Collection: "sales"})
	require.Error(t, err)
	assert.True(t, docstore.IsPermissionDenied(err))
	assert.False(t, docstore.IsMissingIndex(err))
}

func TestMemoryStore_QueryValidation(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()

	_, err := store.FetchOnce(ctx, docstore.Query{})
	assert.Error(t, err, "missing collection")

	tooMany := docstore.Query{Collection: "sales", Filters: []docstore.Filter{
		docstore.Eq("a", 1), docstore.Eq("b", 2), docstore.Eq("c", 3), docstore.Eq("d", 4),
	}}
	_, err = store.FetchOnce(ctx, tooMany)
	assert.Error(t, err, "more than three filters")

	values := make([]any, 31)
	for i := range values {
		values[i] = i
	}
	_, err = store.FetchOnce(ctx, docstore.Query{
		Collection: "sales",
		Filters:    []docstore.Filter{docstore.In("status", values...)},
	})
	assert.Error(t, err, "oversized in-set")
}

func TestMemoryStore_RangeAndInFilters(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.Seed("attendances",
		domain.RawDocument{ID: "a1", Fields: map[string]any{"quantity": 2, "status": "confirmed"}},
		domain.RawDocument{ID: "a2", Fields: map[string]any{"quantity": 5, "status": "cancelled"}},
		domain.RawDocument{ID: "a3", Fields: map[string]any{"quantity": 8.0, "status": "confirmed"}},
	)
	ctx := context.Background()

	docs, err := store.FetchOnce(ctx, docstore.Query{
		Collection: "attendances",
		Filters:    []docstore.Filter{docstore.Gte("quantity", 5)},
	})
	require.NoError(t, err)
	assert.Len(t, docs, 2, "int and float values compare numerically")

	docs, err = store.FetchOnce(ctx, docstore.Query{
		Collection: "attendances",
		Filters:    []docstore.Filter{docstore.In("status", "confirmed", "pending")},
	})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestMemoryStore_CancelStopsDeliveries(t *testing.T) {
	store := docstore.NewMemoryStore()

	col := newCollector()
	sub, err := store.Subscribe(context.Background(),
		docstore.Query{Collection: "sales"}, col.handle)
	require.NoError(t, err)

	col.wait(t) // initial (empty)
	sub.Cancel()

	store.Put("sales", saleDoc("s1", "host-1", 10))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, col.count(), "no deliveries after cancel")
}

func TestMemoryStore_FetchHookInjectsErrors(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.Seed("sales", saleDoc("s1", "host-1", 10))
	store.FetchHook = func(q docstore.Query) error {
		return docstore.NewQueryError(docstore.KindTransient, q.Collection, nil)
	}

	_, err := store.FetchOnce(context.Background(), docstore.Query{Collection: "sales"})
	require.Error(t, err)
	assert.True(t, docstore.IsTransient(err))
}
