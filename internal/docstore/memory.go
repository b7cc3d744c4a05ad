package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alekslucenko/planit-analytics/internal/domain"
)

// subBufferSize is the per-subscription delivery buffer. Deliveries past
// the buffer block the mutating writer until the handler catches up.
const subBufferSize = 32

// MemoryStore is an in-process Store with the same semantics as the
// external document store: every mutation redelivers the full result
// set to matching subscriptions, and compound queries require a
// registered composite index. It backs local development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]domain.RawDocument
	indexes     map[string][][]string
	denied      map[string]struct{}
	subs        map[string]*memorySub

	// FetchHook, when set, is consulted before every FetchOnce and may
	// return an error to inject. Test hook.
	FetchHook func(Query) error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]domain.RawDocument),
		indexes:     make(map[string][][]string),
		denied:      make(map[string]struct{}),
		subs:        make(map[string]*memorySub),
	}
}

// RegisterIndex declares a composite index over the given fields.
// Compound subscriptions against unindexed field sets fail with a
// missing_index QueryError, as the external store would.
func (s *MemoryStore) RegisterIndex(collection string, fields ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	s.indexes[collection] = append(s.indexes[collection], sorted)
}

// Deny makes all queries against the collection fail with
// permission_denied.
func (s *MemoryStore) Deny(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[collection] = struct{}{}
}

// Put inserts or replaces a document and redelivers result sets to
// matching subscriptions.
func (s *MemoryStore) Put(collection string, doc domain.RawDocument) {
	s.mu.Lock()
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]domain.RawDocument)
		s.collections[collection] = coll
	}
	coll[doc.ID] = doc
	s.mu.Unlock()

	s.notify(collection)
}

// Seed inserts documents without notifying one at a time; a single
// redelivery happens at the end.
func (s *MemoryStore) Seed(collection string, docs ...domain.RawDocument) {
	s.mu.Lock()
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]domain.RawDocument)
		s.collections[collection] = coll
	}
	for _, doc := range docs {
		coll[doc.ID] = doc
	}
	s.mu.Unlock()

	s.notify(collection)
}

// Delete removes a document and redelivers result sets to matching
// subscriptions.
func (s *MemoryStore) Delete(collection, id string) {
	s.mu.Lock()
	if coll, ok := s.collections[collection]; ok {
		delete(coll, id)
	}
	s.mu.Unlock()

	s.notify(collection)
}

// FetchOnce returns the documents matching q.
func (s *MemoryStore) FetchOnce(_ context.Context, q Query) ([]domain.RawDocument, error) {
	if err := s.check(q); err != nil {
		return nil, err
	}
	if hook := s.FetchHook; hook != nil {
		if err := hook(q); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluate(q), nil
}

// Subscribe registers a handler for q. The current result set is
// delivered once immediately; every subsequent mutation of the
// collection redelivers the full set. Deliveries are serial per
// subscription.
func (s *MemoryStore) Subscribe(_ context.Context, q Query, h Handler) (Subscription, error) {
	if err := s.check(q); err != nil {
		return nil, err
	}

	sub := &memorySub{
		id:      uuid.NewString(),
		query:   q,
		handler: h,
		ch:      make(chan delivery, subBufferSize),
		done:    make(chan struct{}),
		store:   s,
	}

	s.mu.Lock()
	s.subs[sub.id] = sub
	initial := s.evaluate(q)
	s.mu.Unlock()

	go sub.dispatch()
	sub.send(delivery{docs: initial})

	return sub, nil
}

// check validates q and enforces permission and index constraints.
func (s *MemoryStore) check(q Query) error {
	if err := q.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, denied := s.denied[q.Collection]; denied {
		return NewQueryError(KindPermissionDenied, q.Collection, nil)
	}
	if q.Compound() && !s.indexed(q) {
		return NewQueryError(KindMissingIndex, q.Collection,
			fmt.Errorf("no composite index for fields %v", filterFields(q)))
	}
	return nil
}

// indexed reports whether a registered composite index covers the
// query's filtered fields. Caller holds at least a read lock.
func (s *MemoryStore) indexed(q Query) bool {
	want := filterFields(q)
	for _, idx := range s.indexes[q.Collection] {
		if equalFields(idx, want) {
			return true
		}
	}
	return false
}

func filterFields(q Query) []string {
	seen := make(map[string]struct{}, len(q.Filters))
	for _, f := range q.Filters {
		seen[f.Field] = struct{}{}
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// evaluate returns the sorted result set for q. Caller holds at least a
// read lock.
func (s *MemoryStore) evaluate(q Query) []domain.RawDocument {
	coll := s.collections[q.Collection]
	docs := make([]domain.RawDocument, 0, len(coll))
	for _, doc := range coll {
		if matchDoc(doc, q.Filters) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

// notify redelivers result sets to all subscriptions on the collection.
func (s *MemoryStore) notify(collection string) {
	s.mu.RLock()
	type pending struct {
		sub  *memorySub
		docs []domain.RawDocument
	}
	var sends []pending
	for _, sub := range s.subs {
		if sub.query.Collection == collection {
			sends = append(sends, pending{sub: sub, docs: s.evaluate(sub.query)})
		}
	}
	s.mu.RUnlock()

	for _, p := range sends {
		p.sub.send(delivery{docs: p.docs})
	}
}

func (s *MemoryStore) remove(id string) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// matchDoc reports whether doc satisfies all filters.
func matchDoc(doc domain.RawDocument, filters []Filter) bool {
	for _, f := range filters {
		if !matchFilter(doc, f) {
			return false
		}
	}
	return true
}

func matchFilter(doc domain.RawDocument, f Filter) bool {
	val, ok := doc.Fields[f.Field]
	if !ok {
		return false
	}

	switch f.Op {
	case OpEqual:
		cmp, comparable := compareValues(val, f.Value)
		return comparable && cmp == 0
	case OpGreaterOrEqual:
		cmp, comparable := compareValues(val, f.Value)
		return comparable && cmp >= 0
	case OpLessOrEqual:
		cmp, comparable := compareValues(val, f.Value)
		return comparable && cmp <= 0
	case OpIn:
		for _, candidate := range f.Values {
			if cmp, comparable := compareValues(val, candidate); comparable && cmp == 0 {
				return true
			}
		}
		return false
	}
	return false
}

// compareValues orders two field values of possibly different concrete
// numeric types. Returns comparable=false for mismatched kinds.
func compareValues(a, b any) (cmp int, comparable bool) {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	}

	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}

	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if ab == bb {
			return 0, true
		}
		return 1, false
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// delivery is one queued handler invocation.
type delivery struct {
	docs []domain.RawDocument
	err  error
}

// memorySub is one open subscription on a MemoryStore.
type memorySub struct {
	id      string
	query   Query
	handler Handler
	ch      chan delivery
	done    chan struct{}
	once    sync.Once
	store   *MemoryStore
}

// dispatch invokes the handler serially, in delivery order.
func (s *memorySub) dispatch() {
	for {
		select {
		case d := <-s.ch:
			s.handler(d.docs, d.err)
		case <-s.done:
			return
		}
	}
}

// send queues a delivery, giving up if the subscription is cancelled.
func (s *memorySub) send(d delivery) {
	select {
	case s.ch <- d:
	case <-s.done:
	}
}

// Cancel tears the subscription down. Safe to call multiple times.
func (s *memorySub) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.store.remove(s.id)
	})
}
