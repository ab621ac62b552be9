package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-match-server/internal/domain"
)

func testCache(t *testing.T, ttl time.Duration) *MatchCache {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cache, err := NewMatchCache(Config{
		MaxEntries: 8,
		DefaultTTL: ttl,
		Enabled:    true,
	}, logger)
	require.NoError(t, err)
	return cache
}

func testMatchResult(trialID string, score int) *domain.MatchResult {
	return &domain.MatchResult{
		TrialID:           trialID,
		MatchScore:        score,
		EligibilityStatus: domain.StatusEligible,
	}
}

func TestMatchCacheRoundTrip(t *testing.T) {
	cache := testCache(t, time.Hour)
	ctx := context.Background()

	result := testMatchResult("NCT00000001", 95)
	cache.Set(ctx, "key-1", result)

	cached, ok := cache.Get(ctx, "key-1")
	require.True(t, ok)
	assert.Equal(t, result.TrialID, cached.TrialID)
	assert.Equal(t, result.MatchScore, cached.MatchScore)

	_, ok = cache.Get(ctx, "key-missing")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestMatchCacheExpiry(t *testing.T) {
	cache := testCache(t, -time.Second) // already expired on insert
	ctx := context.Background()

	cache.Set(ctx, "key-1", testMatchResult("NCT00000001", 95))

	_, ok := cache.Get(ctx, "key-1")
	assert.False(t, ok, "expired entries must not be served")
	assert.Zero(t, cache.Len(), "expired entries are evicted on read")
}

func TestMatchCacheEviction(t *testing.T) {
	cache := testCache(t, time.Hour)
	ctx := context.Background()

	for i := 0; i < 16; i++ {
		cache.Set(ctx, string(rune('a'+i)), testMatchResult("NCT00000001", i))
	}

	assert.LessOrEqual(t, cache.Len(), 8, "LRU bound holds")
}

func TestMatchCacheDisabled(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cache, err := NewMatchCache(Config{Enabled: false}, logger)
	require.NoError(t, err)

	ctx := context.Background()
	cache.Set(ctx, "key-1", testMatchResult("NCT00000001", 95))

	_, ok := cache.Get(ctx, "key-1")
	assert.False(t, ok)
}

func TestMatchCacheKeyDeterminism(t *testing.T) {
	cache := testCache(t, time.Hour)
	policy := domain.DefaultScoringPolicy()

	patient := &domain.PatientProfile{UserID: "user-1", Conditions: []string{"diabetes"}}
	trial := &domain.Trial{ID: "NCT00000001", RequiredConditions: []string{"diabetes"}}

	key1 := cache.Key(patient, trial, policy)
	key2 := cache.Key(patient, trial, policy)
	assert.Equal(t, key1, key2)

	other := &domain.Trial{ID: "NCT00000002", RequiredConditions: []string{"diabetes"}}
	assert.NotEqual(t, key1, cache.Key(patient, other, policy),
		"different trials must never share a key")
}
