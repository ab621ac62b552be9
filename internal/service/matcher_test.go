package service

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-match-server/internal/domain"
	"github.com/trial-match-server/internal/normalize"
)

func testMatcher(t *testing.T) *MatcherService {
	t.Helper()
	logger := testLogger()
	policy := domain.DefaultScoringPolicy()
	require.NoError(t, policy.Validate())
	engine := NewRuleEngine(logger, policy, func() time.Time { return evalTime })
	return NewMatcherService(logger, normalize.NewService(logger), engine, policy, 4)
}

func TestScoreTrialExampleScenario(t *testing.T) {
	// Patient with diabetes, born 1970-01-01, in Seattle, good performance
	// status, against a recruiting diabetes trial for ages 40-75 in
	// Seattle, evaluated at 2024-01-01: condition 100, age 100, location
	// 100, complexity 75, weighted 0.4*100+0.2*100+0.2*100+0.2*75 = 95.
	matcher := testMatcher(t)

	result, err := matcher.ScoreTrial(testPatient(), testTrial())
	require.NoError(t, err)

	assert.Equal(t, 95, result.MatchScore)
	assert.Equal(t, domain.StatusEligible, result.EligibilityStatus)
	assert.Equal(t, 100, result.Explanations.ConditionMatch)
	assert.Equal(t, 100, result.Explanations.AgeMatch)
	assert.Equal(t, 100, result.Explanations.LocationMatch)
	assert.Equal(t, 75, result.Explanations.ComplexityScore)
	assert.Equal(t, "Contact the study coordinator to discuss enrollment", result.RecommendedAction)
	assert.NotEmpty(t, result.MatchReasons)
	assert.NotEmpty(t, result.Explanations.Reasoning)
}

func TestScoreTrialBoundsAndDeterminism(t *testing.T) {
	matcher := testMatcher(t)

	patients := []*domain.PatientProfile{
		testPatient(),
		{UserID: "p2"}, // everything unknown
		{UserID: "p3", Conditions: []string{"asthma"}, PerformanceStatus: domain.PerformancePoor},
	}
	for _, patient := range patients {
		if patient.PerformanceStatus == "" {
			patient.PerformanceStatus = domain.PerformanceUnknown
		}
		first, err := matcher.ScoreTrial(patient, testTrial())
		require.NoError(t, err)
		second, err := matcher.ScoreTrial(patient, testTrial())
		require.NoError(t, err)

		assert.Equal(t, first, second, "identical input must yield identical output")
		assert.GreaterOrEqual(t, first.MatchScore, 0)
		assert.LessOrEqual(t, first.MatchScore, 100)
		assert.True(t, first.EligibilityStatus.IsValid())
	}
}

func TestScoreTrialHardExclusion(t *testing.T) {
	// Otherwise-perfect match: age, location and complexity all at their
	// best. The declared exclusion must still force a zero score.
	matcher := testMatcher(t)

	patient := testPatient()
	patient.Conditions = []string{"diabetes", "hepatitis"}
	patient.PerformanceStatus = domain.PerformanceExcellent
	trial := testTrial()
	trial.ExcludedConditions = []string{"hepatitis"}

	result, err := matcher.ScoreTrial(patient, trial)
	require.NoError(t, err)

	assert.Equal(t, 0, result.MatchScore)
	assert.Equal(t, domain.StatusLikelyIneligible, result.EligibilityStatus)
	require.Len(t, result.MatchReasons, 1)
	assert.Contains(t, result.MatchReasons[0], "excludes")
}

func TestScoreTrialStatusThresholds(t *testing.T) {
	policy := domain.DefaultScoringPolicy()

	tests := []struct {
		score int
		want  domain.EligibilityStatus
	}{
		{100, domain.StatusEligible},
		{75, domain.StatusEligible},
		{74, domain.StatusPotentiallyEligible},
		{50, domain.StatusPotentiallyEligible},
		{49, domain.StatusNeedsReview},
		{25, domain.StatusNeedsReview},
		{24, domain.StatusLikelyIneligible},
		{0, domain.StatusLikelyIneligible},
	}
	for _, tt := range tests {
		status, err := domain.StatusForScore(tt.score, policy)
		require.NoError(t, err)
		assert.Equal(t, tt.want, status, "score %d", tt.score)
	}
}

func TestScoreTrialIndeterminateAge(t *testing.T) {
	matcher := testMatcher(t)

	patient := testPatient()
	patient.BirthDate = nil

	result, err := matcher.ScoreTrial(patient, testTrial())
	require.NoError(t, err)
	assert.Equal(t, 50, result.Explanations.AgeMatch,
		"unknown age against defined bounds must be neutral, not zero")
}

func TestRankTrialsOrdering(t *testing.T) {
	matcher := testMatcher(t)
	patient := testPatient()

	strong := testTrial()
	strong.ID = "NCT00000003"

	weaker := testTrial()
	weaker.ID = "NCT00000002"
	weaker.LocationTokens = []string{"boston"}

	tiedWithStrong := testTrial()
	tiedWithStrong.ID = "NCT00000001"

	result, err := matcher.RankTrials(context.Background(), patient, []*domain.Trial{strong, weaker, tiedWithStrong})
	require.NoError(t, err)
	require.Len(t, result.Matches, 3)

	assert.True(t, sort.SliceIsSorted(result.Matches, func(a, b int) bool {
		if result.Matches[a].MatchScore != result.Matches[b].MatchScore {
			return result.Matches[a].MatchScore > result.Matches[b].MatchScore
		}
		return result.Matches[a].TrialID < result.Matches[b].TrialID
	}))
	// Equal scores break ties by trial ID ascending.
	assert.Equal(t, "NCT00000001", result.Matches[0].TrialID)
	assert.Equal(t, "NCT00000003", result.Matches[1].TrialID)
	assert.Equal(t, "NCT00000002", result.Matches[2].TrialID)
}

func TestRankTrialsEmptyInput(t *testing.T) {
	matcher := testMatcher(t)

	result, err := matcher.RankTrials(context.Background(), testPatient(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Matches)
	assert.Empty(t, result.Errors)
}

func TestRankTrialsExcludesNonRecruiting(t *testing.T) {
	matcher := testMatcher(t)

	recruiting := testTrial()
	recruiting.ID = "NCT00000001"
	completed := testTrial()
	completed.ID = "NCT00000002"
	completed.Status = domain.RecruitmentCompleted

	result, err := matcher.RankTrials(context.Background(), testPatient(), []*domain.Trial{recruiting, completed})
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "NCT00000001", result.Matches[0].TrialID)
}

func TestFindMatchesIsolatesBadTrials(t *testing.T) {
	matcher := testMatcher(t)

	rawPatient := &domain.RawPatientProfile{
		UserID:            "patient-1",
		MedicalConditions: []string{"Diabetes"},
		BirthDate:         "1970-01-01",
		Location:          "Seattle",
		PerformanceStatus: "good",
	}
	good := &domain.RawTrial{
		ID:     "NCT00000001",
		Status: "recruiting",
		EligibilityCriteria: &domain.EligibilityCriteria{
			Conditions: []string{"diabetes"},
			MinAge:     intPtr(40),
			MaxAge:     intPtr(75),
			Locations:  []string{"Seattle"},
		},
	}
	bad := &domain.RawTrial{Status: "recruiting"} // missing ID

	result, err := matcher.FindMatches(context.Background(), rawPatient, []*domain.RawTrial{good, bad})
	require.NoError(t, err, "one bad trial must not abort the batch")

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "NCT00000001", result.Matches[0].TrialID)
	assert.Equal(t, 95, result.Matches[0].MatchScore)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error, "identifier")
}

func TestFindMatchesInvalidPatient(t *testing.T) {
	matcher := testMatcher(t)

	_, err := matcher.FindMatches(context.Background(), &domain.RawPatientProfile{}, nil)
	require.Error(t, err)
}

func TestRankTrialsCancelledContext(t *testing.T) {
	matcher := testMatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trials := make([]*domain.Trial, 0, 64)
	for i := 0; i < 64; i++ {
		trial := testTrial()
		trial.ID = trial.ID + string(rune('a'+i%26))
		trials = append(trials, trial)
	}

	_, err := matcher.RankTrials(ctx, testPatient(), trials)
	assert.ErrorIs(t, err, context.Canceled)
}
