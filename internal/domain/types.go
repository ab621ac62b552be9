// Package domain contains the core entities and types for patient-to-trial
// eligibility matching. Scores are bounded integers in [0,100] and every
// classification is a deterministic function of the evaluator sub-scores,
// so results for identical inputs are reproducible by construction.
package domain

import (
	"errors"
	"fmt"
)

// EligibilityStatus is the coarse bucketed classification derived from the
// overall match score plus hard-exclusion checks.
type EligibilityStatus string

const (
	StatusEligible            EligibilityStatus = "eligible"
	StatusPotentiallyEligible EligibilityStatus = "potentially_eligible"
	StatusNeedsReview         EligibilityStatus = "needs_review"
	StatusLikelyIneligible    EligibilityStatus = "likely_ineligible"
)

// PerformanceStatus is the patient's self- or clinician-reported functional
// status, ordinal from excellent down to poor. Unknown is a valid value and
// scores neutrally rather than penalizing the patient.
type PerformanceStatus string

const (
	PerformanceExcellent PerformanceStatus = "excellent"
	PerformanceGood      PerformanceStatus = "good"
	PerformanceFair      PerformanceStatus = "fair"
	PerformancePoor      PerformanceStatus = "poor"
	PerformanceUnknown   PerformanceStatus = "unknown"
)

// RecruitmentStatus is the trial's recruitment state. Only recruiting trials
// may appear in ranked batch output; any trial can be screened individually.
type RecruitmentStatus string

const (
	RecruitmentRecruiting RecruitmentStatus = "recruiting"
	RecruitmentActive     RecruitmentStatus = "active_not_recruiting"
	RecruitmentCompleted  RecruitmentStatus = "completed"
	RecruitmentSuspended  RecruitmentStatus = "suspended"
	RecruitmentWithdrawn  RecruitmentStatus = "withdrawn"
)

// Dimension identifies one of the four scoring criteria. Declaration order
// here is the evaluation order, which fixes rationale ordering.
type Dimension string

const (
	DimensionCondition  Dimension = "condition"
	DimensionAge        Dimension = "age"
	DimensionLocation   Dimension = "location"
	DimensionComplexity Dimension = "complexity"
)

// Dimensions lists all scoring dimensions in declaration (evaluation) order.
var Dimensions = []Dimension{
	DimensionCondition,
	DimensionAge,
	DimensionLocation,
	DimensionComplexity,
}

// Validation errors for matching data integrity
var (
	ErrNotFound                 = errors.New("not found")
	ErrInvalidEligibilityStatus = errors.New("invalid eligibility status")
	ErrInvalidPerformanceStatus = errors.New("invalid performance status")
	ErrInvalidDimension         = errors.New("invalid scoring dimension")
)

// IsValid reports whether the status is one of the four published buckets.
// Consumers key colors, icons and actions off these values, so anything
// else must be rejected before it reaches a response body.
func (s EligibilityStatus) IsValid() bool {
	switch s {
	case StatusEligible, StatusPotentiallyEligible, StatusNeedsReview, StatusLikelyIneligible:
		return true
	default:
		return false
	}
}

// String returns the wire representation of the status.
func (s EligibilityStatus) String() string {
	return string(s)
}

// IsActionable reports whether the status warrants contacting the study.
// needs_review and likely_ineligible results are informational for the
// patient until reviewed with a physician.
func (s EligibilityStatus) IsActionable() bool {
	switch s {
	case StatusEligible, StatusPotentiallyEligible:
		return true
	default:
		return false
	}
}

// LogFields returns structured logging fields for audit trails.
func (s EligibilityStatus) LogFields() map[string]any {
	return map[string]any{
		"eligibility_status": string(s),
		"is_valid":           s.IsValid(),
		"actionable":         s.IsActionable(),
	}
}

// IsValid validates the performance status value.
func (p PerformanceStatus) IsValid() bool {
	switch p {
	case PerformanceExcellent, PerformanceGood, PerformanceFair, PerformancePoor, PerformanceUnknown:
		return true
	default:
		return false
	}
}

// String returns the wire representation of the performance status.
func (p PerformanceStatus) String() string {
	return string(p)
}

// IsValid validates the recruitment status. Unrecognized statuses are
// tolerated on input (registries invent new ones) but never rank.
func (r RecruitmentStatus) IsValid() bool {
	switch r {
	case RecruitmentRecruiting, RecruitmentActive, RecruitmentCompleted, RecruitmentSuspended, RecruitmentWithdrawn:
		return true
	default:
		return false
	}
}

// Rankable reports whether trials in this state may appear in ranked
// batch-match output.
func (r RecruitmentStatus) Rankable() bool {
	return r == RecruitmentRecruiting
}

// String returns the wire representation of the recruitment status.
func (r RecruitmentStatus) String() string {
	return string(r)
}

// IsValid validates a scoring dimension.
func (d Dimension) IsValid() bool {
	switch d {
	case DimensionCondition, DimensionAge, DimensionLocation, DimensionComplexity:
		return true
	default:
		return false
	}
}

// String returns the dimension name.
func (d Dimension) String() string {
	return string(d)
}

// DisplayName returns the human-readable name used in rationale text.
func (d Dimension) DisplayName() string {
	switch d {
	case DimensionCondition:
		return "condition compatibility"
	case DimensionAge:
		return "age eligibility"
	case DimensionLocation:
		return "location proximity"
	case DimensionComplexity:
		return "overall health complexity"
	default:
		return string(d)
	}
}

// StatusForScore maps an overall score to its eligibility bucket using the
// supplied policy thresholds. Hard exclusions are handled by the caller
// before this mapping applies.
func StatusForScore(score int, policy *ScoringPolicy) (EligibilityStatus, error) {
	if score < 0 || score > 100 {
		return "", fmt.Errorf("score %d out of range [0,100]", score)
	}
	switch {
	case score >= policy.EligibleThreshold:
		return StatusEligible, nil
	case score >= policy.PotentiallyEligibleThreshold:
		return StatusPotentiallyEligible, nil
	case score >= policy.NeedsReviewThreshold:
		return StatusNeedsReview, nil
	default:
		return StatusLikelyIneligible, nil
	}
}
