package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/trial-match-server/internal/domain"
)

// ResilientClient wraps the registry client with a circuit breaker and an
// optional Redis response cache. The cache is consulted before the breaker
// so a tripped breaker can still serve previously imported trials.
type ResilientClient struct {
	client  *Client
	cache   *CacheClient
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
	log     *logrus.Logger
}

// NewResilientClient creates a registry client protected by a circuit
// breaker. cache may be nil when response caching is disabled.
func NewResilientClient(client *Client, cache *CacheClient, ttl time.Duration, log *logrus.Logger) *ResilientClient {
	if log == nil {
		log = logrus.New()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "TrialRegistry",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &ResilientClient{
		client:  client,
		cache:   cache,
		breaker: breaker,
		ttl:     ttl,
		log:     log,
	}
}

// GetStudy fetches a study through the cache and circuit breaker.
func (r *ResilientClient) GetStudy(ctx context.Context, trialID string) (*domain.RawTrial, error) {
	if r.cache != nil {
		if trial, hit, err := r.cache.GetStudy(ctx, trialID); err == nil && hit {
			return trial, nil
		} else if err != nil {
			r.log.WithError(err).WithField("trial_id", trialID).Warn("Registry cache lookup failed")
		}
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.GetStudy(ctx, trialID)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("registry unavailable: %w", err)
		}
		return nil, err
	}

	trial := result.(*domain.RawTrial)
	if r.cache != nil {
		if err := r.cache.SetStudy(ctx, trial, r.ttl); err != nil {
			r.log.WithError(err).WithField("trial_id", trialID).Warn("Failed to cache registry study")
		}
	}
	return trial, nil
}

// SearchByCondition searches the registry through the cache and circuit
// breaker.
func (r *ResilientClient) SearchByCondition(ctx context.Context, condition string, maxResults int) ([]*domain.RawTrial, error) {
	if r.cache != nil {
		if trials, hit, err := r.cache.GetSearch(ctx, condition, maxResults); err == nil && hit {
			return trials, nil
		} else if err != nil {
			r.log.WithError(err).WithField("condition", condition).Warn("Registry cache lookup failed")
		}
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.SearchByCondition(ctx, condition, maxResults)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("registry unavailable: %w", err)
		}
		return nil, err
	}

	trials := result.([]*domain.RawTrial)
	if r.cache != nil {
		if err := r.cache.SetSearch(ctx, condition, maxResults, trials, r.ttl); err != nil {
			r.log.WithError(err).WithField("condition", condition).Warn("Failed to cache registry search")
		}
	}
	return trials, nil
}

// State exposes the breaker state for health reporting.
func (r *ResilientClient) State() gobreaker.State {
	return r.breaker.State()
}
