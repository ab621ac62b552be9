package domain

import (
	"errors"
	"fmt"
	"time"
)

// RawPatientProfile is the caller-supplied patient record before
// normalization. Field names mirror the profile store schema.
type RawPatientProfile struct {
	UserID             string   `json:"user_id"`
	MedicalConditions  []string `json:"medical_conditions,omitempty"`
	CurrentMedications []string `json:"current_medications,omitempty"`
	BirthDate          string   `json:"birth_date,omitempty"` // YYYY-MM-DD
	Location           string   `json:"location,omitempty"`
	RiskFactors        []string `json:"risk_factors,omitempty"`
	PerformanceStatus  string   `json:"performance_status,omitempty"`
}

// PatientProfile is the normalized, request-scoped patient view the
// evaluators consume. It is immutable within a matching operation and
// never retained across calls.
type PatientProfile struct {
	UserID            string
	Conditions        []string // lower-cased, deduplicated, sorted
	Medications       []string
	RiskFactors       []string
	BirthDate         *time.Time // nil means age unknown
	LocationTokens    []string   // comparable location tokens, lower-cased
	RawLocation       string
	PerformanceStatus PerformanceStatus
}

// AgeAt returns the patient's age in whole years at the given evaluation
// time, or (0, false) when the birth date is unknown.
func (p *PatientProfile) AgeAt(now time.Time) (int, bool) {
	if p.BirthDate == nil {
		return 0, false
	}
	age := now.Year() - p.BirthDate.Year()
	// Birthday not yet reached this year.
	anniversary := time.Date(now.Year(), p.BirthDate.Month(), p.BirthDate.Day(), 0, 0, 0, 0, time.UTC)
	if now.Before(anniversary) {
		age--
	}
	if age < 0 {
		age = 0
	}
	return age, true
}

// HasCondition reports whether the normalized condition is present.
func (p *PatientProfile) HasCondition(condition string) bool {
	for _, c := range p.Conditions {
		if c == condition {
			return true
		}
	}
	return false
}

// EligibilityCriteria is the structured form of a trial's constraints.
// Absent fields mean the trial does not constrain that dimension.
type EligibilityCriteria struct {
	Conditions         []string `json:"conditions,omitempty"`
	ExcludedConditions []string `json:"excluded_conditions,omitempty"`
	MinAge             *int     `json:"min_age,omitempty"`
	MaxAge             *int     `json:"max_age,omitempty"`
	Locations          []string `json:"locations,omitempty"`
}

// RawTrial is the caller-supplied trial record before normalization.
// EligibilityCriteria carries the structured constraints when the source
// has them; CriteriaText is the free-text fallback the normalizer mines
// with conservative keyword matching.
type RawTrial struct {
	ID                  string               `json:"id"`
	Title               string               `json:"title,omitempty"`
	Summary             string               `json:"summary,omitempty"`
	Phase               string               `json:"phase,omitempty"`
	Status              string               `json:"status,omitempty"`
	EnrollmentCount     int                  `json:"enrollment_count,omitempty"`
	Sponsor             string               `json:"sponsor,omitempty"`
	EligibilityCriteria *EligibilityCriteria `json:"eligibility_criteria,omitempty"`
	CriteriaText        string               `json:"criteria_text,omitempty"`
}

// Trial is the normalized trial view the evaluators consume.
type Trial struct {
	ID              string
	Title           string
	Summary         string
	Phase           string
	Status          RecruitmentStatus
	EnrollmentCount int
	Sponsor         string

	RequiredConditions []string // lower-cased, deduplicated, sorted
	ExcludedConditions []string
	MinAge             *int
	MaxAge             *int
	LocationTokens     []string

	// Per-dimension indeterminacy flags set by the normalizer when
	// nothing extractable constrained the dimension.
	AgeIndeterminate      bool
	LocationIndeterminate bool
}

// Validate ensures the normalized trial is usable for scoring.
func (t *Trial) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Message: "trial identifier is required"}
	}
	if t.MinAge != nil && t.MaxAge != nil && *t.MinAge > *t.MaxAge {
		return &ValidationError{
			Field:   "eligibility_criteria",
			Message: fmt.Sprintf("min age %d exceeds max age %d", *t.MinAge, *t.MaxAge),
		}
	}
	return nil
}

// MatchExplanations carries the per-dimension sub-scores and summary
// reasoning for a match. Field names are part of the wire contract.
type MatchExplanations struct {
	ConditionMatch  int    `json:"condition_match"`
	LocationMatch   int    `json:"location_match"`
	AgeMatch        int    `json:"age_match"`
	ComplexityScore int    `json:"complexity_score"`
	Reasoning       string `json:"reasoning"`
}

// Score returns the sub-score for a dimension.
func (e *MatchExplanations) Score(d Dimension) int {
	switch d {
	case DimensionCondition:
		return e.ConditionMatch
	case DimensionAge:
		return e.AgeMatch
	case DimensionLocation:
		return e.LocationMatch
	case DimensionComplexity:
		return e.ComplexityScore
	default:
		return 0
	}
}

// MatchResult is the scored outcome for a single (patient, trial) pair.
type MatchResult struct {
	TrialID           string            `json:"trial_id"`
	MatchScore        int               `json:"match_score"`
	EligibilityStatus EligibilityStatus `json:"eligibility_status"`
	MatchReasons      []string          `json:"match_reasons"`
	RecommendedAction string            `json:"recommended_action"`
	Explanations      MatchExplanations `json:"explanations"`
}

// Validate checks the result invariants before it leaves the scorer.
func (m *MatchResult) Validate() error {
	if m.TrialID == "" {
		return errors.New("match result validation: trial ID is required")
	}
	if m.MatchScore < 0 || m.MatchScore > 100 {
		return fmt.Errorf("match result validation: score %d out of range [0,100]", m.MatchScore)
	}
	if !m.EligibilityStatus.IsValid() {
		return fmt.Errorf("match result validation: %w: %q", ErrInvalidEligibilityStatus, m.EligibilityStatus)
	}
	return nil
}

// TrialMatchError records a per-trial failure inside a batch rank. One bad
// trial must not abort the batch, so failures travel alongside results.
type TrialMatchError struct {
	TrialID string `json:"trial_id"`
	Error   string `json:"error"`
}

// RankResult is the outcome of a batch rank: matches sorted by score
// descending (ties broken by trial ID ascending) plus any per-trial errors.
type RankResult struct {
	Matches []MatchResult     `json:"matches"`
	Errors  []TrialMatchError `json:"errors,omitempty"`
}

// AssessmentDetails holds the three headline percentages of a screening.
type AssessmentDetails struct {
	OverallEligibility     int `json:"overall_eligibility"`
	AgeAssessment          int `json:"age_assessment"`
	ConditionCompatibility int `json:"condition_compatibility"`
}

// DetailedFeedback categorizes the screening rationale for the patient.
// Ordering within each list follows evaluator declaration order.
type DetailedFeedback struct {
	Strengths       []string `json:"strengths"`
	Concerns        []string `json:"concerns"`
	Recommendations []string `json:"recommendations"`
}

// ScreeningAssessment is the deep-dive, single-trial assessment.
// Informational marks results for non-recruiting trials: the assessment is
// valid but not actionable.
type ScreeningAssessment struct {
	TrialID           string            `json:"trial_id"`
	AssessmentDetails AssessmentDetails `json:"assessment_details"`
	DetailedFeedback  DetailedFeedback  `json:"detailed_feedback"`
	Informational     bool              `json:"informational,omitempty"`
}
