package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultScoringPolicyIsValid(t *testing.T) {
	policy := DefaultScoringPolicy()
	require.NoError(t, policy.Validate())

	sum := policy.ConditionWeight + policy.AgeWeight + policy.LocationWeight + policy.ComplexityWeight
	assert.InDelta(t, 1.0, sum, 0.001)
	assert.Greater(t, policy.ConditionWeight, policy.AgeWeight,
		"condition compatibility carries the largest weight")
}

func TestScoringPolicyWeight(t *testing.T) {
	policy := DefaultScoringPolicy()

	assert.Equal(t, 0.40, policy.Weight(DimensionCondition))
	assert.Equal(t, 0.20, policy.Weight(DimensionAge))
	assert.Equal(t, 0.20, policy.Weight(DimensionLocation))
	assert.Equal(t, 0.20, policy.Weight(DimensionComplexity))
	assert.Zero(t, policy.Weight(Dimension("bogus")))
}

func TestScoringPolicyActionFor(t *testing.T) {
	policy := DefaultScoringPolicy()

	for _, status := range []EligibilityStatus{
		StatusEligible, StatusPotentiallyEligible, StatusNeedsReview, StatusLikelyIneligible,
	} {
		assert.NotEmpty(t, policy.ActionFor(status), "status %q", status)
	}

	// Unmapped statuses fall back to the review action.
	assert.Equal(t, policy.RecommendedActions[StatusNeedsReview],
		policy.ActionFor(EligibilityStatus("unmapped")))
}

func TestScoringPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *ScoringPolicy)
	}{
		{
			name:   "weights do not sum to one",
			mutate: func(p *ScoringPolicy) { p.ConditionWeight = 0.60 },
		},
		{
			name: "negative weight",
			mutate: func(p *ScoringPolicy) {
				p.ConditionWeight = -0.20
				p.AgeWeight = 0.80
			},
		},
		{
			name:   "thresholds not descending",
			mutate: func(p *ScoringPolicy) { p.PotentiallyEligibleThreshold = 80 },
		},
		{
			name:   "eligible threshold above 100",
			mutate: func(p *ScoringPolicy) { p.EligibleThreshold = 101 },
		},
		{
			name:   "zero age tolerance",
			mutate: func(p *ScoringPolicy) { p.AgeToleranceYears = 0 },
		},
		{
			name:   "negative risk penalty",
			mutate: func(p *ScoringPolicy) { p.RiskFactorPenalty = -1 },
		},
		{
			name:   "zero max match reasons",
			mutate: func(p *ScoringPolicy) { p.MaxMatchReasons = 0 },
		},
		{
			name:   "missing recommended action",
			mutate: func(p *ScoringPolicy) { delete(p.RecommendedActions, StatusEligible) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultScoringPolicy()
			tt.mutate(policy)
			assert.Error(t, policy.Validate())
		})
	}
}
