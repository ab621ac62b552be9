package mcptools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/trial-match-server/internal/domain"
	"github.com/trial-match-server/internal/history"
)

const defaultSearchLimit = 50

// MatchTrialsParams defines parameters for the match_trials tool.
type MatchTrialsParams struct {
	Patient   *domain.RawPatientProfile `json:"patient"`
	Trials    []*domain.RawTrial        `json:"trials,omitempty"`
	Condition string                    `json:"condition,omitempty"`
	Limit     int                       `json:"limit,omitempty"`
}

// MatchTrialsResult defines the result structure for the match_trials tool.
type MatchTrialsResult struct {
	Matches []domain.MatchResult     `json:"matches"`
	Errors  []domain.TrialMatchError `json:"errors,omitempty"`
}

// ScreenTrialParams defines parameters for the screen_trial tool.
type ScreenTrialParams struct {
	Patient *domain.RawPatientProfile `json:"patient"`
	Trial   *domain.RawTrial          `json:"trial,omitempty"`
	TrialID string                    `json:"trial_id,omitempty"`
}

// handleMatchTrials ranks trials for the supplied patient. Trials come
// inline, or from the registry when only a condition is given.
func (s *Server) handleMatchTrials(ctx context.Context, req *mcp.CallToolRequest, params MatchTrialsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "match_trials").Info("Tool invoked")

	if params.Patient == nil {
		return errorResult("patient is required"), nil, nil
	}

	trials := params.Trials
	if len(trials) == 0 {
		if params.Condition == "" || s.fetcher == nil {
			return errorResult("supply trials inline, or a condition with a registry configured"), nil, nil
		}
		limit := params.Limit
		if limit <= 0 {
			limit = defaultSearchLimit
		}
		fetched, err := s.fetcher.SearchByCondition(ctx, params.Condition, limit)
		if err != nil {
			return errorResult(fmt.Sprintf("registry search failed: %v", err)), nil, nil
		}
		trials = fetched
	}

	rank, err := s.matcher.FindMatches(ctx, params.Patient, trials)
	if err != nil {
		return errorResult(fmt.Sprintf("matching failed: %v", err)), nil, nil
	}

	s.saveMatches(ctx, params.Patient.UserID, rank.Matches)

	result := MatchTrialsResult{Matches: rank.Matches, Errors: rank.Errors}

	summary := fmt.Sprintf("Ranked %d trials for %s", len(rank.Matches), params.Patient.UserID)
	if len(rank.Matches) > 0 {
		top := rank.Matches[0]
		summary += fmt.Sprintf("; top match %s scored %d (%s)", top.TrialID, top.MatchScore, top.EligibilityStatus)
	}

	return textResult(summary), result, nil
}

// handleScreenTrial produces the detailed single-trial assessment.
func (s *Server) handleScreenTrial(ctx context.Context, req *mcp.CallToolRequest, params ScreenTrialParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "screen_trial").Info("Tool invoked")

	if params.Patient == nil {
		return errorResult("patient is required"), nil, nil
	}

	trial := params.Trial
	if trial == nil {
		if params.TrialID == "" || s.fetcher == nil {
			return errorResult("supply a trial inline, or a trial_id with a registry configured"), nil, nil
		}
		fetched, err := s.fetcher.GetStudy(ctx, params.TrialID)
		if err != nil {
			return errorResult(fmt.Sprintf("registry lookup failed: %v", err)), nil, nil
		}
		trial = fetched
	}

	assessment, err := s.screener.Screen(params.Patient, trial)
	if err != nil {
		return errorResult(fmt.Sprintf("screening failed: %v", err)), nil, nil
	}

	summary := fmt.Sprintf("Screened %s against %s: overall eligibility %d%%",
		params.Patient.UserID, assessment.TrialID, assessment.AssessmentDetails.OverallEligibility)

	return textResult(summary), assessment, nil
}

// saveMatches persists ranked results to the history store. Failures are
// logged only; the ranking has already succeeded.
func (s *Server) saveMatches(ctx context.Context, userID string, matches []domain.MatchResult) {
	if s.historyStore == nil {
		return
	}
	for i := range matches {
		if err := s.historyStore.Save(ctx, history.FromMatchResult(userID, &matches[i])); err != nil {
			s.logger.WithError(err).WithField("trial_id", matches[i].TrialID).Warn("Failed to save match record")
		}
	}
}

// textResult wraps a plain text message in a tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// errorResult creates a tool-level error result.
func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
	}
}
