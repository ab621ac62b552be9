// Package cache provides a two-tier cache for scored match results. Tier 1
// is an in-process LRU for hot (patient, trial) pairs; tier 2 is an
// optional shared Redis so replicas serving the same patient reuse each
// other's work. Matching is deterministic, so a cached result is exactly
// what a recompute would produce until the underlying records change.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
)

const redisKeyPrefix = "trialmatch:cache:match:"

// Config defines configuration for match result caching
type Config struct {
	// MaxEntries bounds the in-memory LRU tier.
	MaxEntries int
	// RedisClient enables the distributed tier when non-nil.
	RedisClient *redis.Client
	// DefaultTTL for cached results.
	DefaultTTL time.Duration
	// Enabled turns the whole cache off when false.
	Enabled bool
}

// cachedMatch wraps a result with its expiry for the Redis tier.
type cachedMatch struct {
	Result    *domain.MatchResult `json:"result"`
	CreatedAt time.Time           `json:"created_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// MatchCache caches scored match results keyed by the content of the
// patient, the trial and the scoring policy.
type MatchCache struct {
	config      Config
	memoryCache *lru.Cache
	log         *logrus.Logger

	statsMutex sync.RWMutex
	stats      Stats
}

// NewMatchCache creates a new match result cache.
func NewMatchCache(config Config, logger *logrus.Logger) (*MatchCache, error) {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1024
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = time.Hour
	}

	memoryCache, err := lru.New(config.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return &MatchCache{
		config:      config,
		memoryCache: memoryCache,
		log:         logger,
	}, nil
}

// Key derives the cache key from the normalized patient, trial and policy.
// Content-addressed keys make invalidation unnecessary: changed inputs
// simply stop hitting.
func (c *MatchCache) Key(patient *domain.PatientProfile, trial *domain.Trial, policy *domain.ScoringPolicy) string {
	payload := struct {
		Patient *domain.PatientProfile `json:"patient"`
		Trial   *domain.Trial          `json:"trial"`
		Policy  *domain.ScoringPolicy  `json:"policy"`
	}{patient, trial, policy}

	data, _ := json.Marshal(payload)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Get retrieves a cached match result if present and unexpired.
func (c *MatchCache) Get(ctx context.Context, key string) (*domain.MatchResult, bool) {
	if !c.config.Enabled {
		return nil, false
	}

	// Tier 1: in-memory LRU
	if value, ok := c.memoryCache.Get(key); ok {
		cached := value.(*cachedMatch)
		if time.Now().Before(cached.ExpiresAt) {
			c.recordHit()
			return cached.Result, true
		}
		c.memoryCache.Remove(key)
	}

	// Tier 2: Redis
	if c.config.RedisClient != nil {
		data, err := c.config.RedisClient.Get(ctx, redisKeyPrefix+key).Bytes()
		if err == nil {
			var cached cachedMatch
			if err := json.Unmarshal(data, &cached); err == nil && time.Now().Before(cached.ExpiresAt) {
				// Promote to the memory tier.
				c.memoryCache.Add(key, &cached)
				c.recordHit()
				return cached.Result, true
			}
			c.config.RedisClient.Del(ctx, redisKeyPrefix+key)
		} else if err != redis.Nil {
			c.log.WithError(err).Warn("Redis cache read failed")
		}
	}

	c.recordMiss()
	return nil, false
}

// Set stores a match result under the given key.
func (c *MatchCache) Set(ctx context.Context, key string, result *domain.MatchResult) {
	if !c.config.Enabled {
		return
	}

	cached := &cachedMatch{
		Result:    result,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(c.config.DefaultTTL),
	}

	c.memoryCache.Add(key, cached)

	if c.config.RedisClient != nil {
		data, err := json.Marshal(cached)
		if err != nil {
			return
		}
		if err := c.config.RedisClient.Set(ctx, redisKeyPrefix+key, data, c.config.DefaultTTL).Err(); err != nil {
			// Redis failures degrade to the memory tier only.
			c.log.WithError(err).Warn("Redis cache write failed")
		}
	}
}

// Purge drops every entry in the memory tier.
func (c *MatchCache) Purge() {
	c.memoryCache.Purge()
}

// Len returns the number of entries in the memory tier.
func (c *MatchCache) Len() int {
	return c.memoryCache.Len()
}

// Stats returns a snapshot of the hit and miss counters.
func (c *MatchCache) Stats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

func (c *MatchCache) recordHit() {
	c.statsMutex.Lock()
	c.stats.Hits++
	c.statsMutex.Unlock()
}

func (c *MatchCache) recordMiss() {
	c.statsMutex.Lock()
	c.stats.Misses++
	c.statsMutex.Unlock()
}
