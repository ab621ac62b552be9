package domain

import "fmt"

// ScoringPolicy holds the weighting, threshold and action configuration for
// the match scorer. The values here are a documented default policy, not a
// calibrated clinical model; deployments may override any of them through
// configuration, which is why they are named fields rather than literals
// inside the scoring code.
type ScoringPolicy struct {
	// Weights per dimension. Must sum to 1.0.
	ConditionWeight  float64 `json:"condition_weight" mapstructure:"condition_weight"`
	AgeWeight        float64 `json:"age_weight" mapstructure:"age_weight"`
	LocationWeight   float64 `json:"location_weight" mapstructure:"location_weight"`
	ComplexityWeight float64 `json:"complexity_weight" mapstructure:"complexity_weight"`

	// Status thresholds on the rounded overall score.
	EligibleThreshold            int `json:"eligible_threshold" mapstructure:"eligible_threshold"`
	PotentiallyEligibleThreshold int `json:"potentially_eligible_threshold" mapstructure:"potentially_eligible_threshold"`
	NeedsReviewThreshold         int `json:"needs_review_threshold" mapstructure:"needs_review_threshold"`

	// AgeToleranceYears is the band beyond a trial's age bound over which
	// the age score decays linearly from 100 to 0.
	AgeToleranceYears int `json:"age_tolerance_years" mapstructure:"age_tolerance_years"`

	// Risk-factor handling for the complexity evaluator: each factor
	// beyond RiskFactorThreshold subtracts RiskFactorPenalty, floor 0.
	RiskFactorThreshold int `json:"risk_factor_threshold" mapstructure:"risk_factor_threshold"`
	RiskFactorPenalty   int `json:"risk_factor_penalty" mapstructure:"risk_factor_penalty"`

	// Screener feedback thresholds: a sub-score at or above
	// StrengthThreshold is a strength, below ConcernThreshold a concern,
	// and anything below StrengthThreshold yields a recommendation.
	StrengthThreshold int `json:"strength_threshold" mapstructure:"strength_threshold"`
	ConcernThreshold  int `json:"concern_threshold" mapstructure:"concern_threshold"`

	// MaxMatchReasons caps the match_reasons list in explanations.
	MaxMatchReasons int `json:"max_match_reasons" mapstructure:"max_match_reasons"`

	// RecommendedActions maps eligibility status to the fixed action text
	// shown to the patient. Enumerated, never generated.
	RecommendedActions map[EligibilityStatus]string `json:"recommended_actions" mapstructure:"-"`
}

// NeutralScore is the sub-score assigned to indeterminate dimensions:
// the data was insufficient to score, so the dimension neither helps nor
// hurts the match.
const NeutralScore = 50

// DefaultScoringPolicy returns the stock policy: condition 40%, age 20%,
// location 20%, complexity 20%, thresholds 75/50/25.
func DefaultScoringPolicy() *ScoringPolicy {
	return &ScoringPolicy{
		ConditionWeight:  0.40,
		AgeWeight:        0.20,
		LocationWeight:   0.20,
		ComplexityWeight: 0.20,

		EligibleThreshold:            75,
		PotentiallyEligibleThreshold: 50,
		NeedsReviewThreshold:         25,

		AgeToleranceYears: 10,

		RiskFactorThreshold: 2,
		RiskFactorPenalty:   10,

		StrengthThreshold: 75,
		ConcernThreshold:  50,

		MaxMatchReasons: 4,

		RecommendedActions: map[EligibilityStatus]string{
			StatusEligible:            "Contact the study coordinator to discuss enrollment",
			StatusPotentiallyEligible: "Request a pre-screening call with the study team",
			StatusNeedsReview:         "Discuss this trial with your physician",
			StatusLikelyIneligible:    "Continue searching for better-matched trials",
		},
	}
}

// Weight returns the configured weight for a dimension.
func (p *ScoringPolicy) Weight(d Dimension) float64 {
	switch d {
	case DimensionCondition:
		return p.ConditionWeight
	case DimensionAge:
		return p.AgeWeight
	case DimensionLocation:
		return p.LocationWeight
	case DimensionComplexity:
		return p.ComplexityWeight
	default:
		return 0
	}
}

// ActionFor returns the recommended action text for a status, falling back
// to the needs_review action for anything unmapped.
func (p *ScoringPolicy) ActionFor(status EligibilityStatus) string {
	if action, ok := p.RecommendedActions[status]; ok {
		return action
	}
	return p.RecommendedActions[StatusNeedsReview]
}

// Validate ensures the policy is internally consistent before it is used
// for scoring. An inconsistent policy is a deployment error, not a
// per-request condition.
func (p *ScoringPolicy) Validate() error {
	sum := p.ConditionWeight + p.AgeWeight + p.LocationWeight + p.ComplexityWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("scoring policy validation: weights sum to %.3f, want 1.0", sum)
	}
	for _, w := range []float64{p.ConditionWeight, p.AgeWeight, p.LocationWeight, p.ComplexityWeight} {
		if w < 0 {
			return fmt.Errorf("scoring policy validation: negative weight %.3f", w)
		}
	}
	if !(p.EligibleThreshold > p.PotentiallyEligibleThreshold &&
		p.PotentiallyEligibleThreshold > p.NeedsReviewThreshold &&
		p.NeedsReviewThreshold > 0) {
		return fmt.Errorf("scoring policy validation: thresholds %d/%d/%d must be strictly descending and positive",
			p.EligibleThreshold, p.PotentiallyEligibleThreshold, p.NeedsReviewThreshold)
	}
	if p.EligibleThreshold > 100 {
		return fmt.Errorf("scoring policy validation: eligible threshold %d exceeds 100", p.EligibleThreshold)
	}
	if p.AgeToleranceYears <= 0 {
		return fmt.Errorf("scoring policy validation: age tolerance must be positive, got %d", p.AgeToleranceYears)
	}
	if p.RiskFactorThreshold < 0 || p.RiskFactorPenalty < 0 {
		return fmt.Errorf("scoring policy validation: risk factor settings must be non-negative")
	}
	if p.MaxMatchReasons <= 0 {
		return fmt.Errorf("scoring policy validation: max match reasons must be positive, got %d", p.MaxMatchReasons)
	}
	for _, status := range []EligibilityStatus{StatusEligible, StatusPotentiallyEligible, StatusNeedsReview, StatusLikelyIneligible} {
		if _, ok := p.RecommendedActions[status]; !ok {
			return fmt.Errorf("scoring policy validation: no recommended action for status %q", status)
		}
	}
	return nil
}
