package service

import (
	"fmt"
	"sort"

	"github.com/trial-match-server/internal/domain"
)

// Explanation builder: turns evaluator results into match reasons and a
// one-sentence reasoning summary. Pure selection and formatting of
// upstream data, no new computation; the ranking and screening paths both
// use it so their narratives never diverge.

// BuildMatchReasons returns the rationale fragments of evaluators scoring
// at or above the neutral line, ordered by descending sub-score (ties
// broken by evaluation order), capped by the policy.
func BuildMatchReasons(results []EvaluationResult, policy *domain.ScoringPolicy) []string {
	type candidate struct {
		order  int
		score  int
		reason string
	}
	var candidates []candidate
	for i, r := range results {
		if r.Score < domain.NeutralScore {
			continue
		}
		for _, fragment := range r.Rationale {
			candidates = append(candidates, candidate{order: i, score: r.Score, reason: fragment})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].order < candidates[b].order
	})

	limit := policy.MaxMatchReasons
	if len(candidates) < limit {
		limit = len(candidates)
	}
	reasons := make([]string, 0, limit)
	for _, c := range candidates[:limit] {
		reasons = append(reasons, c.reason)
	}
	return reasons
}

// BuildReasoning summarizes the dominant factor (the dimension with the
// highest weighted contribution to the overall score) and, when one
// exists, the weakest factor below the neutral line.
func BuildReasoning(results []EvaluationResult, policy *domain.ScoringPolicy) string {
	if len(results) == 0 {
		return ""
	}

	dominant := results[0]
	dominantContribution := policy.Weight(dominant.Dimension) * float64(dominant.Score)
	weakest := results[0]
	for _, r := range results[1:] {
		if c := policy.Weight(r.Dimension) * float64(r.Score); c > dominantContribution {
			dominant = r
			dominantContribution = c
		}
		if r.Score < weakest.Score {
			weakest = r
		}
	}

	reasoning := fmt.Sprintf("The strongest factor in this match is %s (%d%%)",
		dominant.Dimension.DisplayName(), dominant.Score)
	if weakest.Score < domain.NeutralScore && weakest.Dimension != dominant.Dimension {
		reasoning += fmt.Sprintf("; the weakest is %s (%d%%)",
			weakest.Dimension.DisplayName(), weakest.Score)
	}
	return reasoning + "."
}

// buildExplanations assembles the per-dimension explanation block from the
// evaluator results.
func buildExplanations(results []EvaluationResult, policy *domain.ScoringPolicy) domain.MatchExplanations {
	explanations := domain.MatchExplanations{}
	for _, r := range results {
		switch r.Dimension {
		case domain.DimensionCondition:
			explanations.ConditionMatch = r.Score
		case domain.DimensionAge:
			explanations.AgeMatch = r.Score
		case domain.DimensionLocation:
			explanations.LocationMatch = r.Score
		case domain.DimensionComplexity:
			explanations.ComplexityScore = r.Score
		}
	}
	explanations.Reasoning = BuildReasoning(results, policy)
	return explanations
}
