// Package cache persists the last published snapshot in Redis so a
// restarted service can serve something immediately. Cached snapshots
// are always marked stale until the first live recomputation replaces
// them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alekslucenko/planit-analytics/internal/snapshot"
)

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// ErrNotFound is returned when no cached snapshot exists for the owner.
var ErrNotFound = errors.New("no cached snapshot")

// connectionTimeout bounds the startup connection check.
const connectionTimeout = 5 * time.Second

// Config holds Redis connection settings for the snapshot cache.
type Config struct {
	Address  string        `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string        `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int           `env:"REDIS_DB"       yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// SetDefaults applies default values to the config if not set.
func (c *Config) SetDefaults() {
	if c.TTL == 0 {
		c.TTL = 7 * 24 * time.Hour
	}
}

// SnapshotCache stores one publication per owner.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a SnapshotCache and verifies connectivity.
func New(cfg Config) (*SnapshotCache, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	cfg.SetDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &SnapshotCache{client: client, ttl: cfg.TTL}, nil
}

// Save stores the publication under the owner's key.
func (c *SnapshotCache) Save(ctx context.Context, ownerID string, p snapshot.Published) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, key(ownerID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	return nil
}

// Load retrieves the owner's cached publication, marked stale. Returns
// ErrNotFound when nothing is cached.
func (c *SnapshotCache) Load(ctx context.Context, ownerID string) (snapshot.Published, error) {
	payload, err := c.client.Get(ctx, key(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snapshot.Published{}, ErrNotFound
	}
	if err != nil {
		return snapshot.Published{}, fmt.Errorf("load cached snapshot: %w", err)
	}

	var p snapshot.Published
	if err := json.Unmarshal(payload, &p); err != nil {
		return snapshot.Published{}, fmt.Errorf("decode cached snapshot: %w", err)
	}

	p.Snapshot.Stale = true
	return p, nil
}

// Close releases the Redis connection.
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

func key(ownerID string) string {
	return "planit:analytics:snapshot:" + ownerID
}
