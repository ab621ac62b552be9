// Package service implements the matching pipeline: criterion evaluators,
// the match scorer, the eligibility screener and the explanation builder.
package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
)

// EvaluationResult is the outcome of a single criterion evaluator: a
// bounded sub-score plus human-readable rationale fragments. Indeterminate
// marks neutral scores caused by missing data; HardExclusion marks a
// trial-declared exclusion that forces ineligibility regardless of the
// other criteria.
type EvaluationResult struct {
	Dimension     domain.Dimension `json:"dimension"`
	Score         int              `json:"score"`
	Rationale     []string         `json:"rationale"`
	Indeterminate bool             `json:"indeterminate,omitempty"`
	HardExclusion bool             `json:"hard_exclusion,omitempty"`
}

// criterionRule binds a dimension to its evaluator function. Rules are
// held in a slice, not a map: slice order is declaration order, which is
// the evaluation order and therefore the rationale order.
type criterionRule struct {
	Dimension domain.Dimension
	Name      string
	Evaluate  func(patient *domain.PatientProfile, trial *domain.Trial, now time.Time) *EvaluationResult
}

// RuleEngine evaluates the four eligibility criteria for a (patient,
// trial) pair. Every evaluator is pure and observes only its inputs, so
// evaluation is order-independent and reproducible; the engine's only
// ambient input is the evaluation clock, injectable for tests.
type RuleEngine struct {
	logger *logrus.Logger
	policy *domain.ScoringPolicy
	now    func() time.Time
	rules  []criterionRule
}

// NewRuleEngine creates a rule engine with the given policy. A nil clock
// defaults to time.Now.
func NewRuleEngine(logger *logrus.Logger, policy *domain.ScoringPolicy, clock func() time.Time) *RuleEngine {
	if clock == nil {
		clock = time.Now
	}
	e := &RuleEngine{
		logger: logger,
		policy: policy,
		now:    clock,
	}
	e.rules = []criterionRule{
		{domain.DimensionCondition, "Condition overlap with trial requirements", e.evaluateCondition},
		{domain.DimensionAge, "Age within trial bounds", e.evaluateAge},
		{domain.DimensionLocation, "Location overlap with trial sites", e.evaluateLocation},
		{domain.DimensionComplexity, "Performance status and comorbidity load", e.evaluateComplexity},
	}
	return e
}

// EvaluateAll runs every criterion evaluator and returns the results in
// declaration order.
func (e *RuleEngine) EvaluateAll(patient *domain.PatientProfile, trial *domain.Trial) []EvaluationResult {
	now := e.now().UTC()
	results := make([]EvaluationResult, 0, len(e.rules))
	for _, rule := range e.rules {
		results = append(results, *rule.Evaluate(patient, trial, now))
	}

	e.logger.WithFields(logrus.Fields{
		"user_id":  patient.UserID,
		"trial_id": trial.ID,
		"criteria": len(results),
	}).Debug("Completed criterion evaluation")

	return results
}

// evaluateCondition scores the overlap between the patient's conditions
// and the trial's required conditions. An explicit exclusion condition
// present in the patient forces the score to 0 and flags a hard fail.
func (e *RuleEngine) evaluateCondition(patient *domain.PatientProfile, trial *domain.Trial, _ time.Time) *EvaluationResult {
	result := &EvaluationResult{Dimension: domain.DimensionCondition}

	for _, excluded := range trial.ExcludedConditions {
		if patientHasCondition(patient, excluded) {
			result.Score = 0
			result.HardExclusion = true
			result.Rationale = []string{
				fmt.Sprintf("Trial explicitly excludes patients with %s", excluded),
			}
			return result
		}
	}

	if len(trial.RequiredConditions) == 0 {
		// Unconstrained means compatible.
		result.Score = 100
		result.Rationale = []string{"Trial declares no specific condition requirements"}
		return result
	}

	var matched []string
	for _, required := range trial.RequiredConditions {
		if patientHasCondition(patient, required) {
			matched = append(matched, required)
		}
	}

	score := int(math.Round(100 * float64(len(matched)) / float64(len(trial.RequiredConditions))))
	if score > 100 {
		score = 100
	}
	result.Score = score

	switch {
	case len(matched) == len(trial.RequiredConditions):
		result.Rationale = []string{
			fmt.Sprintf("All trial conditions match your profile: %s", strings.Join(matched, ", ")),
		}
	case len(matched) > 0:
		result.Rationale = []string{
			fmt.Sprintf("Matches %d of %d trial conditions: %s",
				len(matched), len(trial.RequiredConditions), strings.Join(matched, ", ")),
		}
	default:
		result.Rationale = []string{
			fmt.Sprintf("None of the trial conditions (%s) appear in your profile",
				strings.Join(trial.RequiredConditions, ", ")),
		}
	}
	return result
}

// evaluateAge scores age fit. Inside the trial's bounds is 100; outside,
// the score decays linearly to 0 across the configured tolerance band.
// When either side is unknown the dimension is indeterminate and neutral.
func (e *RuleEngine) evaluateAge(patient *domain.PatientProfile, trial *domain.Trial, now time.Time) *EvaluationResult {
	result := &EvaluationResult{Dimension: domain.DimensionAge}

	age, known := patient.AgeAt(now)
	if !known {
		result.Score = domain.NeutralScore
		result.Indeterminate = true
		result.Rationale = []string{"Birth date not provided, age eligibility could not be assessed"}
		return result
	}
	if trial.AgeIndeterminate {
		result.Score = domain.NeutralScore
		result.Indeterminate = true
		result.Rationale = []string{"Trial does not specify age bounds"}
		return result
	}

	distance := 0
	if trial.MinAge != nil && age < *trial.MinAge {
		distance = *trial.MinAge - age
	} else if trial.MaxAge != nil && age > *trial.MaxAge {
		distance = age - *trial.MaxAge
	}

	if distance == 0 {
		result.Score = 100
		result.Rationale = []string{
			fmt.Sprintf("Age %d is within the trial's range of %s", age, formatAgeRange(trial)),
		}
		return result
	}

	tolerance := e.policy.AgeToleranceYears
	score := 100 - int(math.Round(float64(distance)/float64(tolerance)*100))
	if score < 0 {
		score = 0
	}
	result.Score = score
	result.Rationale = []string{
		fmt.Sprintf("Age %d is %d years outside the trial's range of %s", age, distance, formatAgeRange(trial)),
	}
	return result
}

// evaluateLocation scores location fit via token overlap: 100 when any
// patient token substring-matches any trial token, neutral 50 when either
// side is missing location data, 0 when both are present and disjoint.
func (e *RuleEngine) evaluateLocation(patient *domain.PatientProfile, trial *domain.Trial, _ time.Time) *EvaluationResult {
	result := &EvaluationResult{Dimension: domain.DimensionLocation}

	if len(patient.LocationTokens) == 0 || trial.LocationIndeterminate {
		result.Score = domain.NeutralScore
		result.Indeterminate = true
		if len(patient.LocationTokens) == 0 {
			result.Rationale = []string{"Your location is not set, proximity could not be assessed"}
		} else {
			result.Rationale = []string{"Trial site locations are not listed"}
		}
		return result
	}

	for _, pt := range patient.LocationTokens {
		for _, tt := range trial.LocationTokens {
			if strings.Contains(pt, tt) || strings.Contains(tt, pt) {
				result.Score = 100
				result.Rationale = []string{
					fmt.Sprintf("Trial has a site near %s", patient.RawLocation),
				}
				return result
			}
		}
	}

	result.Score = 0
	result.Rationale = []string{
		fmt.Sprintf("No trial sites near %s (sites: %s)",
			patient.RawLocation, strings.Join(trial.LocationTokens, ", ")),
	}
	return result
}

// performanceScores maps the performance-status ordinal to its base score.
var performanceScores = map[domain.PerformanceStatus]int{
	domain.PerformanceExcellent: 100,
	domain.PerformanceGood:      75,
	domain.PerformanceFair:      50,
	domain.PerformancePoor:      25,
	domain.PerformanceUnknown:   domain.NeutralScore,
}

// evaluateComplexity maps performance status to a base score and subtracts
// a fixed penalty for each risk factor beyond the configured threshold.
// More comorbidities reduce trial suitability.
func (e *RuleEngine) evaluateComplexity(patient *domain.PatientProfile, _ *domain.Trial, _ time.Time) *EvaluationResult {
	result := &EvaluationResult{Dimension: domain.DimensionComplexity}

	base := performanceScores[patient.PerformanceStatus]
	score := base

	excess := len(patient.RiskFactors) - e.policy.RiskFactorThreshold
	if excess > 0 {
		score -= excess * e.policy.RiskFactorPenalty
		if score < 0 {
			score = 0
		}
	}
	result.Score = score

	if patient.PerformanceStatus == domain.PerformanceUnknown {
		result.Indeterminate = excess <= 0
		result.Rationale = []string{"Performance status not provided"}
	} else {
		result.Rationale = []string{
			fmt.Sprintf("Performance status is %s", patient.PerformanceStatus),
		}
	}
	if excess > 0 {
		result.Rationale = append(result.Rationale,
			fmt.Sprintf("%d risk factors may add complexity to participation", len(patient.RiskFactors)))
	}
	return result
}

// patientHasCondition reports whether the patient's normalized condition
// set covers the given trial term, by equality or substring containment in
// either direction ("diabetes" covers "type 2 diabetes").
func patientHasCondition(patient *domain.PatientProfile, term string) bool {
	for _, c := range patient.Conditions {
		if c == term || strings.Contains(c, term) || strings.Contains(term, c) {
			return true
		}
	}
	return false
}

func formatAgeRange(trial *domain.Trial) string {
	switch {
	case trial.MinAge != nil && trial.MaxAge != nil:
		return fmt.Sprintf("%d-%d years", *trial.MinAge, *trial.MaxAge)
	case trial.MinAge != nil:
		return fmt.Sprintf("%d years and older", *trial.MinAge)
	case trial.MaxAge != nil:
		return fmt.Sprintf("up to %d years", *trial.MaxAge)
	default:
		return "any age"
	}
}
