package stream_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alekslucenko/planit-analytics/internal/logger"
	"github.com/alekslucenko/planit-analytics/internal/snapshot"
	"github.com/alekslucenko/planit-analytics/internal/stream"
)

func startBroker(t *testing.T) *stream.Broker {
	t.Helper()
	b := stream.NewBroker(logger.NewNop(), nil)
	b.Start(context.Background())
	t.Cleanup(b.Stop)
	return b
}

func receive(t *testing.T, events <-chan stream.Event) stream.Event {
	t.Helper()
	select {
	case e, ok := <-events:
		if !ok {
			t.Fatal("event channel closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return stream.Event{}
}

func TestBroker_DeliversToSubscribers(t *testing.T) {
	t.Helper()
	b := startBroker(t)

	events, cleanup, err := b.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cleanup()

	if err := b.Publish(stream.Event{Type: stream.EventTypeSnapshotUpdate}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	e := receive(t, events)
	if e.Type != stream.EventTypeSnapshotUpdate {
		t.Errorf("got event type %q, want %q", e.Type, stream.EventTypeSnapshotUpdate)
	}
}

func TestBroker_CleanupRemovesClient(t *testing.T) {
	t.Helper()
	b := startBroker(t)

	_, cleanup, err := b.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if got := b.ClientCount(); got != 1 {
		t.Fatalf("client count = %d, want 1", got)
	}

	cleanup()
	if got := b.ClientCount(); got != 0 {
		t.Errorf("client count after cleanup = %d, want 0", got)
	}
}

func TestBroker_ContextCancelDisconnects(t *testing.T) {
	t.Helper()
	b := startBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	events, cleanup, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cleanup()

	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return // channel closed as expected
			}
		case <-deadline:
			t.Fatal("event channel not closed after context cancel")
		}
	}
}

func TestBroker_RejectsBeyondMaxClients(t *testing.T) {
	t.Helper()
	b := stream.NewBrokerWithConfig(stream.BrokerConfig{MaxClients: 1}, logger.NewNop(), nil)
	b.Start(context.Background())
	t.Cleanup(b.Stop)

	_, cleanup, err := b.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("first subscribe failed: %v", err)
	}
	defer cleanup()

	_, _, err = b.Subscribe(context.Background())
	if !errors.Is(err, stream.ErrMaxClients) {
		t.Fatalf("second subscribe error = %v, want ErrMaxClients", err)
	}
	if got := b.ClientCount(); got != 1 {
		t.Errorf("client count = %d, want 1", got)
	}
}

func TestNewSnapshotEvent_TypeFollowsStaleness(t *testing.T) {
	t.Helper()
	fresh := stream.NewSnapshotEvent(snapshot.Published{})
	if fresh.Type != stream.EventTypeSnapshotUpdate {
		t.Errorf("fresh snapshot event type = %q", fresh.Type)
	}

	stale := snapshot.Published{}
	stale.Snapshot.Stale = true
	e := stream.NewSnapshotEvent(stale)
	if e.Type != stream.EventTypeSnapshotStale {
		t.Errorf("stale snapshot event type = %q", e.Type)
	}
}
