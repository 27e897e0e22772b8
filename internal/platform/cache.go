package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vigil-ops/vigil/internal/events"
	"github.com/vigil-ops/vigil/pkg/logging"
)

// CacheConfig holds Redis connection settings.
type CacheConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// Cache wraps the Redis client used for cross-instance state sharing.
type Cache struct {
	client *redis.Client
}

// NewCache connects to Redis and verifies the connection.
func NewCache(ctx context.Context, cfg CacheConfig) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Health verifies the connection is alive.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetBreakerState shares a circuit breaker's state so sibling instances can
// fail fast without their own probe traffic.
func (c *Cache) SetBreakerState(ctx context.Context, name, state string, ttl time.Duration) error {
	key := fmt.Sprintf("vigil:breaker:%s", name)
	return c.client.Set(ctx, key, state, ttl).Err()
}

// GetBreakerState returns a shared breaker state. Missing keys return an
// empty string with no error.
func (c *Cache) GetBreakerState(ctx context.Context, name string) (string, error) {
	key := fmt.Sprintf("vigil:breaker:%s", name)
	state, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get breaker state: %w", err)
	}
	return state, nil
}

func (c *Cache) Close() error { return c.client.Close() }

// BreakerStateStore persists breaker state for sibling instances. *Cache
// implements it.
type BreakerStateStore interface {
	SetBreakerState(ctx context.Context, name, state string, ttl time.Duration) error
}

// breakerStateTTL bounds how stale a shared state can get when an instance
// dies without publishing a follow-up transition.
const breakerStateTTL = 5 * time.Minute

// MirrorBreakerStates subscribes to breaker state transitions and copies each
// one into store. It subscribes before returning; the returned channel closes
// once the bus closes or ctx is cancelled.
func MirrorBreakerStates(ctx context.Context, bus *events.Bus, store BreakerStateStore, logger *logging.Logger) <-chan struct{} {
	ch := bus.Subscribe(events.KindBreakerStateChange)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				fields, ok := ev.Payload.(map[string]interface{})
				if !ok {
					continue
				}
				name, _ := fields["name"].(string)
				state, _ := fields["to"].(string)
				if name == "" || state == "" {
					continue
				}
				if err := store.SetBreakerState(ctx, name, state, breakerStateTTL); err != nil {
					logger.Error("Failed to share breaker state",
						"breaker", name,
						"error", err,
					)
				}
			}
		}
	}()

	return done
}
