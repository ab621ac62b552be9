package registry

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trial-match-server/internal/domain"
)

// CacheConfig represents configuration for the registry response cache.
type CacheConfig struct {
	RedisURL    string        `json:"redis_url"`
	DefaultTTL  time.Duration `json:"default_ttl"`
	MaxRetries  int           `json:"max_retries"`
	PoolSize    int           `json:"pool_size"`
	PoolTimeout time.Duration `json:"pool_timeout"`
}

// CacheClient wraps a Redis client with caching for registry API responses.
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewCacheClient creates a new registry cache client.
func NewCacheClient(config CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if config.DefaultTTL == 0 {
		config.DefaultTTL = 24 * time.Hour
	}

	return &CacheClient{
		redis:      client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// CachedStudy represents a cached registry study with metadata.
type CachedStudy struct {
	Data      *domain.RawTrial `json:"data"`
	CachedAt  time.Time        `json:"cached_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// CachedSearch represents a cached condition search with metadata.
type CachedSearch struct {
	Data      []*domain.RawTrial `json:"data"`
	CachedAt  time.Time          `json:"cached_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// GetStudy retrieves a cached study. The second return value reports whether
// the entry was present and still valid.
func (c *CacheClient) GetStudy(ctx context.Context, trialID string) (*domain.RawTrial, bool, error) {
	key := c.studyKey(trialID)

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get study cache: %w", err)
	}

	var cached CachedStudy
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Data, true, nil
}

// SetStudy caches a registry study.
func (c *CacheClient) SetStudy(ctx context.Context, trial *domain.RawTrial, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	cached := CachedStudy{
		Data:      trial,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal study cache data: %w", err)
	}

	return c.redis.Set(ctx, c.studyKey(trial.ID), jsonData, ttl).Err()
}

// GetSearch retrieves a cached condition search result.
func (c *CacheClient) GetSearch(ctx context.Context, condition string, maxResults int) ([]*domain.RawTrial, bool, error) {
	key := c.searchKey(condition, maxResults)

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get search cache: %w", err)
	}

	var cached CachedSearch
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Data, true, nil
}

// SetSearch caches a condition search result.
func (c *CacheClient) SetSearch(ctx context.Context, condition string, maxResults int, trials []*domain.RawTrial, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	cached := CachedSearch{
		Data:      trials,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal search cache data: %w", err)
	}

	return c.redis.Set(ctx, c.searchKey(condition, maxResults), jsonData, ttl).Err()
}

// Close releases the underlying Redis connection pool.
func (c *CacheClient) Close() error {
	return c.redis.Close()
}

func (c *CacheClient) studyKey(trialID string) string {
	return fmt.Sprintf("trialmatch:registry:study:%s", trialID)
}

func (c *CacheClient) searchKey(condition string, maxResults int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", condition, maxResults)))
	return fmt.Sprintf("trialmatch:registry:search:%x", sum)
}
