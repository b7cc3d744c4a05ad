// Package snapshot is the published side of the pipeline: the latest
// metrics snapshot plus its daily buckets, readable without blocking
// recomputation.
package snapshot

import (
	"sync"
	"time"

	"github.com/alekslucenko/planit-analytics/internal/domain"
)

// Published is one complete publication: the snapshot and the daily
// buckets it was computed with.
type Published struct {
	Snapshot domain.MetricsSnapshot `json:"snapshot"`
	Buckets  []domain.DailyBucket   `json:"buckets"`
}

// Observer receives every publication, synchronously, in publish order.
// Observers must not block; slow consumers belong behind a broker.
type Observer func(Published)

// Store holds the latest publication. Writers replace it wholesale;
// readers get a copy and never observe a partially updated snapshot.
type Store struct {
	mu        sync.RWMutex
	current   Published
	ready     bool
	observers []Observer
}

// NewStore creates an empty Store. Get reports not-ready until the
// first Set or SetError.
func NewStore() *Store {
	return &Store{}
}

// Subscribe registers an observer for subsequent publications. Must be
// called before the pipeline starts publishing; registration is not
// synchronized against in-flight Sets.
func (s *Store) Subscribe(obs Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, obs)
	s.mu.Unlock()
}

// Get returns a copy of the latest publication and whether one exists.
func (s *Store) Get() (Published, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyPublished(s.current), s.ready
}

// Set replaces the publication and notifies observers.
func (s *Store) Set(p Published) {
	s.mu.Lock()
	s.current = copyPublished(p)
	s.ready = true
	observers := s.observers
	out := copyPublished(s.current)
	s.mu.Unlock()

	for _, obs := range observers {
		obs(out)
	}
}

// SetError marks the publication stale after a fatal subscription
// error. The last good snapshot and buckets are retained; only the
// stale flag and error text change. With nothing published yet, an
// all-zero stale snapshot is installed so consumers still get a shape
// they can render.
func (s *Store) SetError(err error, at time.Time, tf domain.Timeframe) {
	s.mu.Lock()
	if !s.ready {
		s.current = Published{Snapshot: domain.ZeroSnapshot(tf, at)}
	}
	s.current.Snapshot.Stale = true
	s.current.Snapshot.LastError = err.Error()
	s.ready = true
	observers := s.observers
	out := copyPublished(s.current)
	s.mu.Unlock()

	for _, obs := range observers {
		obs(out)
	}
}

func copyPublished(p Published) Published {
	if p.Buckets == nil {
		return p
	}
	buckets := make([]domain.DailyBucket, len(p.Buckets))
	copy(buckets, p.Buckets)
	p.Buckets = buckets
	return p
}
