package service

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
)

// MatcherService scores and ranks trials for a patient. Scoring a single
// pair is a pure synchronous computation; batch ranking fans the pairs out
// over a bounded worker pool and sorts at the end, so parallelism never
// affects the result.
type MatcherService struct {
	logger     *logrus.Logger
	normalizer domain.Normalizer
	engine     *RuleEngine
	policy     *domain.ScoringPolicy
	workers    int
}

// NewMatcherService creates a matcher. A non-positive worker count
// defaults to GOMAXPROCS.
func NewMatcherService(logger *logrus.Logger, normalizer domain.Normalizer, engine *RuleEngine, policy *domain.ScoringPolicy, workers int) *MatcherService {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &MatcherService{
		logger:     logger,
		normalizer: normalizer,
		engine:     engine,
		policy:     policy,
		workers:    workers,
	}
}

// ScoreTrial evaluates all criteria for one (patient, trial) pair and
// combines them into a match result. A hard exclusion short-circuits the
// weighted combination: the score is 0 and the status likely_ineligible
// no matter how well the other criteria scored.
func (m *MatcherService) ScoreTrial(patient *domain.PatientProfile, trial *domain.Trial) (*domain.MatchResult, error) {
	if patient == nil || trial == nil {
		return nil, domain.NewValidationError("input", "patient and trial are required", nil)
	}

	results := m.engine.EvaluateAll(patient, trial)

	result := &domain.MatchResult{
		TrialID:      trial.ID,
		MatchReasons: BuildMatchReasons(results, m.policy),
		Explanations: buildExplanations(results, m.policy),
	}

	if excluded, reason := hardExclusion(results); excluded {
		result.MatchScore = 0
		result.EligibilityStatus = domain.StatusLikelyIneligible
		result.MatchReasons = []string{reason}
		result.Explanations.Reasoning = reason
	} else {
		result.MatchScore = m.weightedScore(results)
		status, err := domain.StatusForScore(result.MatchScore, m.policy)
		if err != nil {
			return nil, fmt.Errorf("classifying match score: %w", err)
		}
		result.EligibilityStatus = status
	}
	result.RecommendedAction = m.policy.ActionFor(result.EligibilityStatus)

	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// RankTrials scores each normalized trial independently and returns the
// matches sorted by score descending, ties broken by trial ID ascending.
// Non-recruiting trials never appear in the output. Per-trial scoring
// failures are isolated into the error list; the batch itself succeeds.
func (m *MatcherService) RankTrials(ctx context.Context, patient *domain.PatientProfile, trials []*domain.Trial) (*domain.RankResult, error) {
	if patient == nil {
		return nil, domain.NewValidationError("patient", "patient profile is required", nil)
	}

	rankable := make([]*domain.Trial, 0, len(trials))
	for _, t := range trials {
		if t == nil {
			continue
		}
		if !t.Status.Rankable() {
			m.logger.WithFields(logrus.Fields{
				"trial_id": t.ID,
				"status":   t.Status.String(),
			}).Debug("Skipping non-recruiting trial in batch match")
			continue
		}
		rankable = append(rankable, t)
	}

	result := &domain.RankResult{Matches: []domain.MatchResult{}}
	if len(rankable) == 0 {
		return result, nil
	}

	type outcome struct {
		match *domain.MatchResult
		err   *domain.TrialMatchError
	}
	outcomes := make([]outcome, len(rankable))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := m.workers
	if workers > len(rankable) {
		workers = len(rankable)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				match, err := m.ScoreTrial(patient, rankable[i])
				if err != nil {
					outcomes[i] = outcome{err: &domain.TrialMatchError{
						TrialID: rankable[i].ID,
						Error:   err.Error(),
					}}
					continue
				}
				outcomes[i] = outcome{match: match}
			}
		}()
	}

dispatch:
	for i := range rankable {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, o := range outcomes {
		switch {
		case o.match != nil:
			result.Matches = append(result.Matches, *o.match)
		case o.err != nil:
			result.Errors = append(result.Errors, *o.err)
		}
	}

	sort.SliceStable(result.Matches, func(a, b int) bool {
		if result.Matches[a].MatchScore != result.Matches[b].MatchScore {
			return result.Matches[a].MatchScore > result.Matches[b].MatchScore
		}
		return result.Matches[a].TrialID < result.Matches[b].TrialID
	})

	m.logger.WithFields(logrus.Fields{
		"user_id":  patient.UserID,
		"trials":   len(trials),
		"matches":  len(result.Matches),
		"failures": len(result.Errors),
	}).Info("Completed batch trial ranking")

	return result, nil
}

// FindMatches is the full batch workflow: normalize the patient, normalize
// each trial (failures become per-item errors, never batch failures), then
// rank. This is the operation behind the matcher API surface.
func (m *MatcherService) FindMatches(ctx context.Context, rawPatient *domain.RawPatientProfile, rawTrials []*domain.RawTrial) (*domain.RankResult, error) {
	patient, err := m.normalizer.NormalizePatient(rawPatient)
	if err != nil {
		return nil, fmt.Errorf("normalizing patient profile: %w", err)
	}

	trials := make([]*domain.Trial, 0, len(rawTrials))
	var itemErrors []domain.TrialMatchError
	for _, raw := range rawTrials {
		trial, err := m.normalizer.NormalizeTrial(raw)
		if err != nil {
			id := ""
			if raw != nil {
				id = raw.ID
			}
			itemErrors = append(itemErrors, domain.TrialMatchError{TrialID: id, Error: err.Error()})
			continue
		}
		trials = append(trials, trial)
	}

	result, err := m.RankTrials(ctx, patient, trials)
	if err != nil {
		return nil, err
	}
	result.Errors = append(itemErrors, result.Errors...)
	return result, nil
}

// weightedScore combines the sub-scores under the policy weights, rounded
// to the nearest integer.
func (m *MatcherService) weightedScore(results []EvaluationResult) int {
	var sum float64
	for _, r := range results {
		sum += m.policy.Weight(r.Dimension) * float64(r.Score)
	}
	score := int(math.Round(sum))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// hardExclusion reports whether any evaluator flagged a trial-declared
// exclusion, returning its rationale.
func hardExclusion(results []EvaluationResult) (bool, string) {
	for _, r := range results {
		if r.HardExclusion {
			reason := ""
			if len(r.Rationale) > 0 {
				reason = r.Rationale[0]
			}
			return true, reason
		}
	}
	return false, ""
}
