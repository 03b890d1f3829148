package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/models"

	"github.com/redis/go-redis/v9"
)

// RosterKey holds the JSON roster shared by instances through Redis.
const RosterKey = "fanout:markets:active"

var _ interfaces.IMarketStore = (*RosterCache)(nil)

// -----------------------------------------------------------------------------
// RosterCache
// -----------------------------------------------------------------------------

// RosterCache memoizes ListActiveMarkets for ttl in process and, when a Redis
// client is given, in a shared key. Redis failures fall through to the store.
type RosterCache struct {
	Logger *logger.Logger

	store  interfaces.IMarketStore
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	markets []models.MMarket
	expires time.Time
}

func NewRosterCache(store interfaces.IMarketStore, client *redis.Client, ttl time.Duration, log *logger.Logger) *RosterCache {
	return &RosterCache{
		Logger: log.Named("RosterCache"),
		store:  store,
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

// NewRedisClient returns nil when no address is configured.
func NewRedisClient(cfg models.MCacheConfig) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// -----------------------------------------------------------------------------

func (c *RosterCache) Initialize(ctx context.Context) error {
	if c.client != nil {
		if err := c.client.Ping(ctx).Err(); err != nil {
			c.Logger.Warning("Redis unavailable, using local cache only: %v", err)
		}
	}
	return c.store.Initialize(ctx)
}

func (c *RosterCache) ListActiveMarkets(ctx context.Context) ([]models.MMarket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.markets != nil && c.now().Before(c.expires) {
		return c.markets, nil
	}

	if markets, ok := c.getShared(ctx); ok {
		c.remember(markets)
		return markets, nil
	}

	markets, err := c.store.ListActiveMarkets(ctx)
	if err != nil {
		return nil, err
	}
	if markets == nil {
		markets = []models.MMarket{}
	}
	c.remember(markets)
	c.setShared(ctx, markets)
	return markets, nil
}

// Invalidate drops the local copy and the shared key.
func (c *RosterCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.markets = nil
	c.mu.Unlock()

	if c.client != nil {
		if err := c.client.Del(ctx, RosterKey).Err(); err != nil {
			c.Logger.Warning("Failed to delete %s: %v", RosterKey, err)
		}
	}
}

func (c *RosterCache) Close() error {
	var errs []error
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	errs = append(errs, c.store.Close())
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------

func (c *RosterCache) remember(markets []models.MMarket) {
	c.markets = markets
	c.expires = c.now().Add(c.ttl)
}

func (c *RosterCache) getShared(ctx context.Context) ([]models.MMarket, bool) {
	if c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, RosterKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.Logger.Warning("Redis get %s failed: %v", RosterKey, err)
		}
		return nil, false
	}

	var markets []models.MMarket
	if err := json.Unmarshal(data, &markets); err != nil {
		c.Logger.Warning("Discarding malformed %s: %v", RosterKey, err)
		return nil, false
	}
	return markets, true
}

func (c *RosterCache) setShared(ctx context.Context, markets []models.MMarket) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(markets)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, RosterKey, data, c.ttl).Err(); err != nil {
		c.Logger.Warning("Redis set %s failed: %v", RosterKey, err)
	}
}
