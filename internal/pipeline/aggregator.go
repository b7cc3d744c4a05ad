// Package pipeline owns the live aggregation loop: subscriptions on
// the owner's collections feed normalization and the rollup engine,
// and the result is published as one atomic snapshot.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alekslucenko/planit-analytics/internal/docstore"
	"github.com/alekslucenko/planit-analytics/internal/domain"
	"github.com/alekslucenko/planit-analytics/internal/logger"
	"github.com/alekslucenko/planit-analytics/internal/normalize"
	"github.com/alekslucenko/planit-analytics/internal/observability"
	"github.com/alekslucenko/planit-analytics/internal/rollup"
	"github.com/alekslucenko/planit-analytics/internal/snapshot"
)

// Saver persists publications outside the process. Optional.
type Saver interface {
	Save(ctx context.Context, ownerID string, p snapshot.Published) error
}

const saveTimeout = 3 * time.Second

// historyLookbackDays extends subscription windows backwards so that
// new-vs-returning segmentation can see first contributions before the
// active window started.
const historyLookbackDays = 90

// Aggregator runs one aggregation pipeline for one venue owner. All
// snapshot writes funnel through a single mutex-serialized recompute,
// and a generation counter guards against a cancelled context's late
// delivery overwriting a newer timeframe's snapshot.
type Aggregator struct {
	store     docstore.Store
	snapshots *snapshot.Store
	saver     Saver
	log       logger.Logger
	metrics   *observability.Metrics

	ownerID string
	now     func() time.Time

	mu        sync.Mutex
	timeframe domain.Timeframe
	gen       uint64
	subs      []docstore.Subscription

	sales        []domain.RawDocument
	attendances  []domain.RawDocument
	events       []domain.RawDocument
	interactions []domain.RawDocument
}

// Options configures optional Aggregator collaborators.
type Options struct {
	// Saver persists each publication (last-known-good cache). Nil
	// disables persistence.
	Saver Saver
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// NewAggregator creates an Aggregator for one owner. metrics may be nil.
func NewAggregator(
	store docstore.Store,
	snapshots *snapshot.Store,
	ownerID string,
	tf domain.Timeframe,
	log logger.Logger,
	metrics *observability.Metrics,
	opts Options,
) (*Aggregator, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("aggregator: owner id is required")
	}
	if !tf.Valid() {
		return nil, fmt.Errorf("aggregator: invalid timeframe %q", tf)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Aggregator{
		store:     store,
		snapshots: snapshots,
		saver:     opts.Saver,
		log:       log,
		metrics:   metrics,
		ownerID:   ownerID,
		now:       now,
		timeframe: tf,
	}, nil
}

// Start opens the subscriptions. Permission failures on any collection
// surface as an error state, not a startup failure: the dashboard
// still serves whatever the remaining collections provide.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subscribeLocked(ctx)
}

// Stop cancels all subscriptions and invalidates in-flight work.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	a.cancelSubsLocked()
}

// Timeframe returns the active timeframe.
func (a *Aggregator) Timeframe() domain.Timeframe {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timeframe
}

// SetTimeframe switches the active timeframe: cancels every open
// subscription, bumps the generation so late deliveries from the old
// context are discarded, and resubscribes with the new window.
func (a *Aggregator) SetTimeframe(ctx context.Context, tf domain.Timeframe) error {
	if !tf.Valid() {
		return fmt.Errorf("aggregator: invalid timeframe %q", tf)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if tf == a.timeframe {
		return nil
	}

	a.gen++
	a.cancelSubsLocked()
	a.timeframe = tf
	a.sales, a.attendances, a.events, a.interactions = nil, nil, nil, nil

	a.log.Info("Timeframe switched",
		logger.String("owner_id", a.ownerID),
		logger.String("timeframe", string(tf)),
	)

	return a.subscribeLocked(ctx)
}

// subscribeLocked opens the four collection subscriptions for the
// current timeframe. Caller holds a.mu.
func (a *Aggregator) subscribeLocked(ctx context.Context) error {
	gen := a.gen
	start, _ := a.timeframe.Resolve(a.now())

	ownerFilter := docstore.Eq("owner_id", a.ownerID)
	route := FallbackRoute{
		ParentCollection: domain.CollectionEvents,
		ParentFilter:     ownerFilter,
		ChildKey:         "event_id",
	}

	// Subscriptions carry only a lower time bound; the window's end is
	// enforced at rollup time against a freshly pinned now. The bound
	// reaches back past the window start so customer segmentation has
	// first-seen history to compare against.
	historyStart := start.AddDate(0, 0, -historyLookbackDays)
	timeFilter := docstore.Gte("timestamp", historyStart.UTC().Format(time.RFC3339))

	for _, target := range []struct {
		collection string
		filters    []docstore.Filter
		fallback   bool
		sink       func([]domain.RawDocument)
	}{
		{domain.CollectionEvents, []docstore.Filter{ownerFilter}, false,
			func(docs []domain.RawDocument) { a.events = docs }},
		{domain.CollectionSales, []docstore.Filter{ownerFilter, timeFilter}, true,
			func(docs []domain.RawDocument) { a.sales = docs }},
		{domain.CollectionAttendances, []docstore.Filter{ownerFilter, timeFilter}, true,
			func(docs []domain.RawDocument) { a.attendances = docs }},
		{domain.CollectionInteractions, []docstore.Filter{ownerFilter, timeFilter}, true,
			func(docs []domain.RawDocument) { a.interactions = docs }},
	} {
		q := docstore.Query{Collection: target.collection, Filters: target.filters}
		handler := a.deliveryHandler(gen, target.collection, target.sink)

		var sub docstore.Subscription
		var err error
		if target.fallback {
			sub, err = SubscribeWithFallback(ctx, a.store, q, route, handler, a.log, a.metrics)
		} else {
			sub, err = a.store.Subscribe(ctx, q, handler)
		}
		if err != nil {
			a.recordSubscriptionError(target.collection, err)
			continue
		}
		a.subs = append(a.subs, sub)
	}

	if len(a.subs) == 0 {
		return fmt.Errorf("aggregator: no subscription could be opened for owner %s", a.ownerID)
	}
	return nil
}

// deliveryHandler builds the subscription callback for one collection,
// bound to the generation it was subscribed under.
func (a *Aggregator) deliveryHandler(gen uint64, collection string, sink func([]domain.RawDocument)) docstore.Handler {
	return func(docs []domain.RawDocument, err error) {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.gen != gen {
			if a.metrics != nil {
				a.metrics.RecordStaleDiscard()
			}
			a.log.Debug("Discarding delivery from superseded subscription",
				logger.String("collection", collection),
			)
			return
		}

		if err != nil {
			a.recordSubscriptionError(collection, err)
			return
		}

		sink(docs)
		a.recomputeLocked()
	}
}

// recordSubscriptionError counts the error and flips the published
// snapshot to the stale-with-error state. Caller holds a.mu.
func (a *Aggregator) recordSubscriptionError(collection string, err error) {
	kind := "unknown"
	switch {
	case docstore.IsPermissionDenied(err):
		kind = string(docstore.KindPermissionDenied)
	case docstore.IsTransient(err):
		kind = string(docstore.KindTransient)
	case docstore.IsMissingIndex(err):
		kind = string(docstore.KindMissingIndex)
	}

	a.log.Error("Subscription error",
		logger.String("collection", collection),
		logger.String("kind", kind),
		logger.Error(err),
	)
	if a.metrics != nil {
		a.metrics.RecordSubscriptionError(collection, kind)
	}

	a.snapshots.SetError(err, a.now().UTC(), a.timeframe)
}

// recomputeLocked rebuilds and publishes the snapshot from whatever
// data has arrived so far. Caller holds a.mu; the generation was
// already checked by the delivery path.
func (a *Aggregator) recomputeLocked() {
	began := time.Now()

	// One pinned now keeps every window boundary in this pass
	// consistent.
	now := a.now().UTC()
	start, end := a.timeframe.Resolve(now)

	sales, salesReport := normalize.Sales(a.sales)
	attendances, attReport := normalize.Attendances(a.attendances)
	events, eventsReport := normalize.Events(a.events)
	interactions, intReport := normalize.Interactions(a.interactions)

	if a.metrics != nil {
		a.metrics.RecordDrops(domain.CollectionSales, salesReport.Dropped)
		a.metrics.RecordDrops(domain.CollectionAttendances, attReport.Dropped)
		a.metrics.RecordDrops(domain.CollectionEvents, eventsReport.Dropped)
		a.metrics.RecordDrops(domain.CollectionInteractions, intReport.Dropped)
	}

	eventIndex := make(map[string]domain.Event, len(events))
	for _, e := range events {
		eventIndex[e.ID] = e
	}

	salePoints := rollup.SalePoints(sales)
	attendancePoints, joinMisses := rollup.AttendanceRevenuePoints(attendances, eventIndex)
	if a.metrics != nil {
		a.metrics.RecordJoinMisses(joinMisses)
	}

	revenuePoints := make([]rollup.Point, 0, len(salePoints)+len(attendancePoints))
	revenuePoints = append(revenuePoints, salePoints...)
	revenuePoints = append(revenuePoints, attendancePoints...)

	revenue := rollup.Compute(revenuePoints, start, end)
	saleStats := rollup.Compute(salePoints, start, end)
	attendanceStats := rollup.Compute(attendancePoints, start, end)
	funnel := rollup.CountInteractions(interactions, start, end)

	windowed := windowPoints(revenuePoints, start, end)
	newCustomers, returning := rollup.SegmentCustomers(windowed, revenuePoints, start)

	snap := domain.MetricsSnapshot{
		Timeframe:  a.timeframe,
		ComputedAt: now,

		TotalRevenue:      revenue.Total,
		AverageOrderValue: saleStats.Average,
		SaleCount:         saleStats.Records,

		TotalAttendees:   attendanceStats.Units,
		AttendanceCount:  attendanceStats.Records,
		AverageGroupSize: averageGroupSize(attendanceStats),

		UniqueCustomers:    revenue.DistinctEntities,
		NewCustomers:       newCustomers,
		ReturningCustomers: returning,

		Views:  funnel.Views,
		Clicks: funnel.Clicks,
		RSVPs:  funnel.RSVPs,
	}

	published := snapshot.Published{Snapshot: snap, Buckets: revenue.Buckets}
	a.snapshots.Set(published)
	a.persist(published)

	if a.metrics != nil {
		a.metrics.RecordRecompute(time.Since(began).Seconds())
	}
}

// persist hands the publication to the saver without blocking the
// recompute path on cache latency.
func (a *Aggregator) persist(p snapshot.Published) {
	if a.saver == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := a.saver.Save(ctx, a.ownerID, p); err != nil {
			a.log.Warn("Snapshot cache save failed", logger.Error(err))
		}
	}()
}

// cancelSubsLocked cancels all open subscriptions. Caller holds a.mu.
func (a *Aggregator) cancelSubsLocked() {
	for _, sub := range a.subs {
		sub.Cancel()
	}
	a.subs = nil
}

func windowPoints(points []rollup.Point, start, end time.Time) []rollup.Point {
	windowed := make([]rollup.Point, 0, len(points))
	for _, p := range points {
		if p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		windowed = append(windowed, p)
	}
	return windowed
}

func averageGroupSize(stats rollup.Result) decimal.Decimal {
	if stats.Records == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(stats.Units)).
		Div(decimal.NewFromInt(int64(stats.Records)))
}
