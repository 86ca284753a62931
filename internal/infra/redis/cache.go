package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/karpovdv/folio/internal/platform/asset"
	"github.com/karpovdv/folio/pkg/logger"
)

const (
	// DefaultTTL bounds how long a cached quote counts as fresh
	DefaultTTL = 60 * time.Second

	// StaleTTL is the TTL for the stale fallback tier
	StaleTTL = 24 * time.Hour

	// KeyPrefix is the prefix for price cache keys
	KeyPrefix = "price:"
)

// Cache is a Redis-backed price cache keyed by symbol. Two tiers share
// every write: a short-lived fresh tier and a 24-hour stale tier that
// serves quotes when the provider is down.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

var _ asset.PriceCache = (*Cache)(nil)

// NewCache creates a new price cache
func NewCache(client *redis.Client, log *logger.Logger) *Cache {
	return &Cache{
		client: client,
		ttl:    DefaultTTL,
		logger: log.WithField("component", "cache"),
	}
}

// NewCacheWithTTL creates a new price cache with a custom fresh TTL
func NewCacheWithTTL(client *redis.Client, ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: log.WithField("component", "cache"),
	}
}

// cachedPrice is the stored representation of one quote
type cachedPrice struct {
	Symbol    string    `json:"symbol"`
	Price     string    `json:"price"` // big.Int base units as string
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"`
}

// key normalizes the symbol so "aapl" and "AAPL" share an entry
func key(symbol string) string {
	return KeyPrefix + strings.ToUpper(symbol)
}

func staleKey(symbol string) string {
	return key(symbol) + ":stale"
}

// Get retrieves a fresh cached price for a symbol
func (c *Cache) Get(ctx context.Context, symbol string) (*big.Int, bool, error) {
	val, err := c.client.Get(ctx, key(symbol)).Result()
	if err == redis.Nil {
		c.logger.Debug("cache miss", "symbol", symbol)
		return nil, false, nil
	}
	if err != nil {
		c.logger.Error("cache error", "operation", "get", "symbol", symbol, "error", err)
		return nil, false, fmt.Errorf("failed to get cached price: %w", err)
	}

	price, err := decodePrice(val)
	if err != nil {
		return nil, false, err
	}

	c.logger.Debug("cache hit", "symbol", symbol)
	return price, true, nil
}

// Set stores a price in the fresh tier
func (c *Cache) Set(ctx context.Context, symbol string, price *big.Int, source string) error {
	return c.setWithTTL(ctx, key(symbol), symbol, price, source, c.ttl)
}

// SetStale stores a price in the stale fallback tier
func (c *Cache) SetStale(ctx context.Context, symbol string, price *big.Int, source string) error {
	return c.setWithTTL(ctx, staleKey(symbol), symbol, price, source, StaleTTL)
}

func (c *Cache) setWithTTL(ctx context.Context, key, symbol string, price *big.Int, source string, ttl time.Duration) error {
	cached := cachedPrice{
		Symbol:    strings.ToUpper(symbol),
		Price:     price.String(),
		UpdatedAt: time.Now().UTC(),
		Source:    source,
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal price: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Error("cache error", "operation", "set", "symbol", symbol, "error", err)
		return fmt.Errorf("failed to set cached price: %w", err)
	}

	return nil
}

// GetStale retrieves a price from the stale tier, the fallback when the
// provider and the fresh tier both come up empty
func (c *Cache) GetStale(ctx context.Context, symbol string) (*big.Int, bool, error) {
	val, err := c.client.Get(ctx, staleKey(symbol)).Result()
	if err == redis.Nil {
		c.logger.Debug("stale cache miss", "symbol", symbol)
		return nil, false, nil
	}
	if err != nil {
		c.logger.Error("cache error", "operation", "get_stale", "symbol", symbol, "error", err)
		return nil, false, fmt.Errorf("failed to get stale cached price: %w", err)
	}

	price, err := decodePrice(val)
	if err != nil {
		return nil, false, err
	}
	return price, true, nil
}

// GetMultiple retrieves fresh cached prices for several symbols in one
// round trip. Missing and malformed entries are skipped.
func (c *Cache) GetMultiple(ctx context.Context, symbols []string) (map[string]*big.Int, error) {
	if len(symbols) == 0 {
		return make(map[string]*big.Int), nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(symbols))
	for i, symbol := range symbols {
		cmds[i] = pipe.Get(ctx, key(symbol))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read cache pipeline: %w", err)
	}

	result := make(map[string]*big.Int)
	for i, cmd := range cmds {
		val, err := cmd.Result()
		if err != nil {
			continue
		}
		price, err := decodePrice(val)
		if err != nil {
			continue
		}
		result[symbols[i]] = price
	}

	return result, nil
}

// Delete removes both tiers for a symbol
func (c *Cache) Delete(ctx context.Context, symbol string) error {
	return c.client.Del(ctx, key(symbol), staleKey(symbol)).Err()
}

// Clear removes all cached prices
func (c *Cache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 0).Iterator()

	pipe := c.client.Pipeline()
	count := 0
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		count++
		if count >= 100 {
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			pipe = c.client.Pipeline()
			count = 0
		}
	}

	if count > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}

	return iter.Err()
}

func decodePrice(val string) (*big.Int, error) {
	var cached cachedPrice
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached price: %w", err)
	}

	price := new(big.Int)
	if _, ok := price.SetString(cached.Price, 10); !ok {
		return nil, fmt.Errorf("failed to parse cached price: invalid number")
	}
	return price, nil
}
