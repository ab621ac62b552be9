// Package history provides persistent storage for match outcomes. Each
// record captures what the engine told a patient about a trial, so later
// runs can be audited and re-ranked against what was previously shown.
package history

import (
	"context"
	"io"
	"time"

	"github.com/trial-match-server/internal/domain"
)

// MatchRecord is one stored match outcome for a (user, trial) pair. Repeat
// matches for the same pair update the record in place.
type MatchRecord struct {
	ID                int64                    `json:"id,omitempty"`
	UserID            string                   `json:"user_id"`
	TrialID           string                   `json:"trial_id"`
	MatchScore        int                      `json:"match_score"`
	EligibilityStatus domain.EligibilityStatus `json:"eligibility_status"`
	RecommendedAction string                   `json:"recommended_action"`
	Reasoning         string                   `json:"reasoning,omitempty"`
	Notes             string                   `json:"notes,omitempty"` // coordinator follow-up notes
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

// FromMatchResult builds a record from a scored result.
func FromMatchResult(userID string, match *domain.MatchResult) *MatchRecord {
	return &MatchRecord{
		UserID:            userID,
		TrialID:           match.TrialID,
		MatchScore:        match.MatchScore,
		EligibilityStatus: match.EligibilityStatus,
		RecommendedAction: match.RecommendedAction,
		Reasoning:         match.Explanations.Reasoning,
	}
}

// Store defines the interface for match-history storage operations.
type Store interface {
	// Save stores or updates a match record. If a record for the same
	// user+trial exists, it will be updated.
	Save(ctx context.Context, record *MatchRecord) error

	// Get retrieves the stored record for a user and trial.
	// Returns nil without error when no record exists.
	Get(ctx context.Context, userID, trialID string) (*MatchRecord, error)

	// ListByUser returns a user's records, newest first, with pagination.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*MatchRecord, error)

	// Count returns the total number of match records.
	Count(ctx context.Context) (int64, error)

	// Delete removes the record for a user and trial.
	// Returns domain.ErrNotFound when no record exists.
	Delete(ctx context.Context, userID, trialID string) error

	// ExportJSON exports all records to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports records from a JSON reader.
	// Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// HistoryExport represents the JSON export format.
type HistoryExport struct {
	Version    string         `json:"version"`
	ExportedAt time.Time      `json:"exported_at"`
	Count      int            `json:"count"`
	Records    []*MatchRecord `json:"records"`
}
