// Package stream provides the Server-Sent Events broker that pushes
// snapshot publications to connected dashboard clients.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alekslucenko/planit-analytics/internal/logger"
	"github.com/alekslucenko/planit-analytics/internal/observability"
	"github.com/alekslucenko/planit-analytics/internal/snapshot"
)

// Event is one Server-Sent Event.
// Format: event: <Type>\ndata: <JSON payload>\n\n
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event types pushed to dashboard clients.
const (
	EventTypeSnapshotUpdate = "snapshot:update"
	EventTypeSnapshotStale  = "snapshot:stale"
)

// NewSnapshotEvent wraps a publication in the appropriate event type.
func NewSnapshotEvent(p snapshot.Published) Event {
	eventType := EventTypeSnapshotUpdate
	if p.Snapshot.Stale {
		eventType = EventTypeSnapshotStale
	}
	return Event{Type: eventType, Data: p}
}

// Broker defaults.
const (
	DefaultEventBufferSize  = 64
	DefaultClientBufferSize = 16
	DefaultShutdownTimeout  = 5 * time.Second
	DefaultMaxClients       = 256
)

// ErrMaxClients is returned by Subscribe when the broker is at its
// client limit.
var ErrMaxClients = errors.New("sse client limit reached")

// BrokerConfig overrides broker buffering and client limits. Zero
// values fall back to the defaults.
type BrokerConfig struct {
	EventBufferSize  int
	ClientBufferSize int
	MaxClients       int
	ShutdownTimeout  time.Duration
}

// Broker fans snapshot events out to SSE clients. Slow clients whose
// buffers fill are disconnected rather than allowed to stall the
// broadcast loop.
type Broker struct {
	log     logger.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	clients map[string]*client

	publish chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	clientBufferSize int
	shutdownTimeout  time.Duration
	maxClients       int
}

// NewBroker creates a Broker with default limits. metrics may be nil.
func NewBroker(log logger.Logger, metrics *observability.Metrics) *Broker {
	return NewBrokerWithConfig(BrokerConfig{}, log, metrics)
}

// NewBrokerWithConfig creates a Broker with explicit limits.
func NewBrokerWithConfig(cfg BrokerConfig, log logger.Logger, metrics *observability.Metrics) *Broker {
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = DefaultEventBufferSize
	}
	if cfg.ClientBufferSize <= 0 {
		cfg.ClientBufferSize = DefaultClientBufferSize
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	return &Broker{
		log:              log,
		metrics:          metrics,
		clients:          make(map[string]*client),
		publish:          make(chan Event, cfg.EventBufferSize),
		clientBufferSize: cfg.ClientBufferSize,
		shutdownTimeout:  cfg.ShutdownTimeout,
		maxClients:       cfg.MaxClients,
	}
}

// Start begins the broadcast loop. Non-blocking.
func (b *Broker) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go b.broadcastLoop()

	b.log.Info("SSE broker started",
		logger.Int("client_buffer_size", b.clientBufferSize),
		logger.Int("max_clients", b.maxClients),
	)
}

// Stop shuts the broker down, disconnecting all clients.
func (b *Broker) Stop() {
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Info("SSE broker stopped")
	case <-time.After(b.shutdownTimeout):
		b.log.Warn("SSE broker shutdown timeout exceeded")
	}
}

// Publish queues an event for broadcast. Returns an error when the
// publish buffer is full.
func (b *Broker) Publish(event Event) error {
	select {
	case b.publish <- event:
		return nil
	default:
		return fmt.Errorf("publish buffer full (dropped event: %s)", event.Type)
	}
}

// Subscribe registers a client. The returned channel closes on client
// disconnect or broker shutdown; cleanup must be called when the
// consumer is done. Returns ErrMaxClients at the client limit; the
// limit check and the insert share one critical section so concurrent
// subscribes cannot overshoot it.
func (b *Broker) Subscribe(ctx context.Context) (events <-chan Event, cleanup func(), err error) {
	c := newClient(ctx, b.clientBufferSize)

	b.mu.Lock()
	if len(b.clients) >= b.maxClients {
		b.mu.Unlock()
		c.close()
		b.log.Warn("Max SSE clients reached, rejecting connection",
			logger.Int("max_clients", b.maxClients),
		)
		return nil, nil, ErrMaxClients
	}
	b.clients[c.id] = c
	total := len(b.clients)
	b.mu.Unlock()

	b.setClientGauge(total)
	b.log.Debug("SSE client subscribed",
		logger.String("client_id", c.id),
		logger.Int("total_clients", total),
	)

	b.wg.Add(1)
	go b.reapClient(c)

	return c.events, func() { b.removeClient(c.id) }, nil
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broker) broadcastLoop() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.publish:
			b.broadcast(event)
		case <-b.ctx.Done():
			b.disconnectAll()
			return
		}
	}
}

func (b *Broker) broadcast(event Event) {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	var slow []string
	for _, c := range clients {
		if !c.send(event) {
			slow = append(slow, c.id)
		}
	}

	for _, id := range slow {
		b.log.Warn("SSE client buffer full, closing slow connection",
			logger.String("client_id", id),
			logger.String("event_type", event.Type),
		)
		if b.metrics != nil {
			b.metrics.StreamEventsDropped.Inc()
		}
		b.removeClient(id)
	}
}

// reapClient removes the client once its context ends.
func (b *Broker) reapClient(c *client) {
	defer b.wg.Done()
	<-c.ctx.Done()
	b.removeClient(c.id)
}

func (b *Broker) removeClient(id string) {
	b.mu.Lock()
	c, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	total := len(b.clients)
	b.mu.Unlock()

	if exists {
		c.close()
		b.setClientGauge(total)
		b.log.Debug("SSE client disconnected",
			logger.String("client_id", id),
			logger.Int("total_clients", total),
		)
	}
}

func (b *Broker) disconnectAll() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[string]*client)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	b.setClientGauge(0)
}

func (b *Broker) setClientGauge(n int) {
	if b.metrics != nil {
		b.metrics.StreamClientsConnected.Set(float64(n))
	}
}

// client is one connected SSE consumer.
type client struct {
	id     string
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newClient(ctx context.Context, bufferSize int) *client {
	clientCtx, cancel := context.WithCancel(ctx)
	return &client{
		id:     uuid.NewString(),
		events: make(chan Event, bufferSize),
		ctx:    clientCtx,
		cancel: cancel,
	}
}

// send attempts a non-blocking delivery. Returns false when the buffer
// is full.
func (c *client) send(event Event) bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
	}

	select {
	case c.events <- event:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.cancel()
		close(c.events)
	})
}
