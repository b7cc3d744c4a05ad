package pipeline

import (
	"context"
	"sync"

	"github.com/alekslucenko/planit-analytics/internal/docstore"
	"github.com/alekslucenko/planit-analytics/internal/domain"
	"github.com/alekslucenko/planit-analytics/internal/logger"
	"github.com/alekslucenko/planit-analytics/internal/observability"
)

// FallbackRoute describes how to re-derive a compound child query
// through the parent collection when the direct query has no composite
// index: subscribe to parents with one simple filter, then fetch the
// child collection once per parent.
type FallbackRoute struct {
	// ParentCollection is the parent entity collection (events).
	ParentCollection string
	// ParentFilter is the single simple filter applied to parents.
	ParentFilter docstore.Filter
	// ChildKey is the child field holding the parent id.
	ChildKey string
}

// SubscribeWithFallback attempts the direct subscription and, on a
// missing_index failure, degrades to the parent fan-out strategy. All
// other subscription errors pass through. Deliveries remain serial per
// subscription on both paths; fallback result ordering follows parent
// order, not the direct query's order.
func SubscribeWithFallback(
	ctx context.Context,
	store docstore.Store,
	q docstore.Query,
	route FallbackRoute,
	h docstore.Handler,
	log logger.Logger,
	metrics *observability.Metrics,
) (docstore.Subscription, error) {
	sub, err := store.Subscribe(ctx, q, h)
	if err == nil {
		return sub, nil
	}
	if !docstore.IsMissingIndex(err) {
		return nil, err
	}

	log.Warn("Compound query has no index, degrading to parent fan-out",
		logger.String("collection", q.Collection),
		logger.String("parent", route.ParentCollection),
	)
	if metrics != nil {
		metrics.RecordFallback(q.Collection)
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	f := &fallbackSub{cancel: cancel}

	parentQuery := docstore.Query{
		Collection: route.ParentCollection,
		Filters:    []docstore.Filter{route.ParentFilter},
	}
	parentSub, err := store.Subscribe(ctx, parentQuery, func(parents []domain.RawDocument, parentErr error) {
		if parentErr != nil {
			h(nil, parentErr)
			return
		}
		h(fanOut(fetchCtx, store, q.Collection, route.ChildKey, parents, log))
	})
	if err != nil {
		cancel()
		return nil, err
	}

	f.parent = parentSub
	return f, nil
}

// fanOut fetches the child collection once per parent, concurrently,
// and concatenates results in parent order. A failed sub-fetch
// contributes zero records; partial data beats no data here.
func fanOut(
	ctx context.Context,
	store docstore.Store,
	collection, childKey string,
	parents []domain.RawDocument,
	log logger.Logger,
) ([]domain.RawDocument, error) {
	results := make([][]domain.RawDocument, len(parents))

	var wg sync.WaitGroup
	for i, parent := range parents {
		wg.Add(1)
		go func(i int, parentID string) {
			defer wg.Done()
			docs, err := store.FetchOnce(ctx, docstore.Query{
				Collection: collection,
				Filters:    []docstore.Filter{docstore.Eq(childKey, parentID)},
			})
			if err != nil {
				log.Warn("Fallback sub-fetch failed, contributing zero records",
					logger.String("collection", collection),
					logger.String("parent_id", parentID),
					logger.Error(err),
				)
				return
			}
			results[i] = docs
		}(i, parent.ID)
	}
	wg.Wait()

	var merged []domain.RawDocument
	for _, docs := range results {
		merged = append(merged, docs...)
	}
	return merged, nil
}

// fallbackSub ties the parent subscription and in-flight sub-fetches
// to one cancellation handle.
type fallbackSub struct {
	parent docstore.Subscription
	cancel context.CancelFunc
	once   sync.Once
}

// Cancel stops the parent subscription and aborts in-flight fetches.
func (f *fallbackSub) Cancel() {
	f.once.Do(func() {
		f.parent.Cancel()
		f.cancel()
	})
}
