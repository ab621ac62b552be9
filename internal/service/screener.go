package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
)

// ScreenerService produces the deep-dive single-trial assessment. It runs
// the same evaluators as the matcher and reports the matcher's weighted
// score as overall eligibility, so screening a trial always agrees with
// its position in a ranked batch for the same inputs.
type ScreenerService struct {
	logger     *logrus.Logger
	normalizer domain.Normalizer
	matcher    *MatcherService
	engine     *RuleEngine
	policy     *domain.ScoringPolicy
}

// NewScreenerService creates a screener sharing the matcher's engine and
// policy.
func NewScreenerService(logger *logrus.Logger, normalizer domain.Normalizer, matcher *MatcherService) *ScreenerService {
	return &ScreenerService{
		logger:     logger,
		normalizer: normalizer,
		matcher:    matcher,
		engine:     matcher.engine,
		policy:     matcher.policy,
	}
}

// ScreenTrial assesses one (patient, trial) pair. Unlike batch matching,
// any recruitment status is accepted; non-recruiting trials yield an
// informational assessment rather than an actionable one.
func (s *ScreenerService) ScreenTrial(patient *domain.PatientProfile, trial *domain.Trial) (*domain.ScreeningAssessment, error) {
	if patient == nil || trial == nil {
		return nil, domain.NewValidationError("input", "patient and trial are required", nil)
	}

	results := s.engine.EvaluateAll(patient, trial)

	match, err := s.matcher.ScoreTrial(patient, trial)
	if err != nil {
		return nil, fmt.Errorf("scoring trial for screening: %w", err)
	}

	assessment := &domain.ScreeningAssessment{
		TrialID: trial.ID,
		AssessmentDetails: domain.AssessmentDetails{
			OverallEligibility:     match.MatchScore,
			AgeAssessment:          match.Explanations.AgeMatch,
			ConditionCompatibility: match.Explanations.ConditionMatch,
		},
		DetailedFeedback: s.categorizeFeedback(results),
		Informational:    !trial.Status.Rankable(),
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":             patient.UserID,
		"trial_id":            trial.ID,
		"overall_eligibility": assessment.AssessmentDetails.OverallEligibility,
		"informational":       assessment.Informational,
	}).Info("Completed eligibility screening")

	return assessment, nil
}

// Screen is the raw-record workflow behind the screening API surface:
// normalize both sides, then assess.
func (s *ScreenerService) Screen(rawPatient *domain.RawPatientProfile, rawTrial *domain.RawTrial) (*domain.ScreeningAssessment, error) {
	patient, err := s.normalizer.NormalizePatient(rawPatient)
	if err != nil {
		return nil, fmt.Errorf("normalizing patient profile: %w", err)
	}
	trial, err := s.normalizer.NormalizeTrial(rawTrial)
	if err != nil {
		return nil, fmt.Errorf("normalizing trial: %w", err)
	}
	return s.ScreenTrial(patient, trial)
}

// categorizeFeedback buckets each evaluator's rationale by its score:
// strengths at or above the strength threshold, concerns below the
// concern threshold (indeterminate neutrals are not concerns), and a
// recommendation for every criterion below the strength threshold.
// List order follows evaluation order, which is declaration order.
func (s *ScreenerService) categorizeFeedback(results []EvaluationResult) domain.DetailedFeedback {
	feedback := domain.DetailedFeedback{
		Strengths:       []string{},
		Concerns:        []string{},
		Recommendations: []string{},
	}

	for _, r := range results {
		switch {
		case r.Score >= s.policy.StrengthThreshold:
			feedback.Strengths = append(feedback.Strengths, r.Rationale...)
		case r.Score < s.policy.ConcernThreshold && !r.Indeterminate:
			feedback.Concerns = append(feedback.Concerns, r.Rationale...)
		}

		if r.Score < s.policy.StrengthThreshold {
			feedback.Recommendations = append(feedback.Recommendations, s.recommendationFor(r))
		}
	}
	return feedback
}

// recommendationFor derives the suggestion text for a weak or
// indeterminate criterion.
func (s *ScreenerService) recommendationFor(r EvaluationResult) string {
	if r.Indeterminate {
		return fmt.Sprintf("Provide more information about your %s to improve this assessment", r.Dimension.DisplayName())
	}
	switch r.Dimension {
	case domain.DimensionCondition:
		return "Review the trial's condition requirements with your physician"
	case domain.DimensionAge:
		return "Confirm the trial's age requirements with the study team"
	case domain.DimensionLocation:
		return "Ask the study team about remote participation or closer sites"
	case domain.DimensionComplexity:
		return "Discuss whether your current health status fits the trial's demands"
	default:
		return fmt.Sprintf("Discuss %s with your physician", r.Dimension.DisplayName())
	}
}
