package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/trial-match-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL match-history store.
// It expects the database and schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL match-history store from
// a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Save stores or updates a match record.
func (s *PostgresStore) Save(ctx context.Context, record *MatchRecord) error {
	now := time.Now()

	// Use upsert (INSERT ... ON CONFLICT)
	query := `
		INSERT INTO match_history (
			user_id, trial_id, match_score, eligibility_status,
			recommended_action, reasoning, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, trial_id) DO UPDATE SET
			match_score = EXCLUDED.match_score,
			eligibility_status = EXCLUDED.eligibility_status,
			recommended_action = EXCLUDED.recommended_action,
			reasoning = EXCLUDED.reasoning,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		record.UserID,
		record.TrialID,
		record.MatchScore,
		string(record.EligibilityStatus),
		record.RecommendedAction,
		record.Reasoning,
		record.Notes,
		now,
		now,
	).Scan(&record.ID, &record.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to save match record: %w", err)
	}

	record.UpdatedAt = now
	return nil
}

// Get retrieves the stored record for a user and trial.
func (s *PostgresStore) Get(ctx context.Context, userID, trialID string) (*MatchRecord, error) {
	query := `
		SELECT id, user_id, trial_id, match_score, eligibility_status,
			recommended_action, reasoning, notes, created_at, updated_at
		FROM match_history
		WHERE user_id = $1 AND trial_id = $2
		LIMIT 1
	`

	record := &MatchRecord{}
	var status string

	err := s.db.QueryRowContext(ctx, query, userID, trialID).Scan(
		&record.ID, &record.UserID, &record.TrialID,
		&record.MatchScore, &status, &record.RecommendedAction,
		&record.Reasoning, &record.Notes, &record.CreatedAt, &record.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match record: %w", err)
	}

	record.EligibilityStatus = domain.EligibilityStatus(status)
	return record, nil
}

// ListByUser returns a user's records, newest first, with pagination.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*MatchRecord, error) {
	query := `
		SELECT id, user_id, trial_id, match_score, eligibility_status,
			recommended_action, reasoning, notes, created_at, updated_at
		FROM match_history
		WHERE user_id = $1
		ORDER BY updated_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list match records: %w", err)
	}
	defer rows.Close()

	var result []*MatchRecord
	for rows.Next() {
		record := &MatchRecord{}
		var status string

		err := rows.Scan(
			&record.ID, &record.UserID, &record.TrialID,
			&record.MatchScore, &status, &record.RecommendedAction,
			&record.Reasoning, &record.Notes, &record.CreatedAt, &record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		record.EligibilityStatus = domain.EligibilityStatus(status)
		result = append(result, record)
	}

	return result, rows.Err()
}

// Count returns the total number of match records.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM match_history").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count match records: %w", err)
	}
	return count, nil
}

// Delete removes the record for a user and trial.
func (s *PostgresStore) Delete(ctx context.Context, userID, trialID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM match_history WHERE user_id = $1 AND trial_id = $2", userID, trialID)
	if err != nil {
		return fmt.Errorf("failed to delete match record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// pgMaxExportLimit is the maximum number of entries to export at once.
const pgMaxExportLimit = 1000000

// ExportJSON exports all records to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	query := `
		SELECT id, user_id, trial_id, match_score, eligibility_status,
			recommended_action, reasoning, notes, created_at, updated_at
		FROM match_history
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, pgMaxExportLimit)
	if err != nil {
		return fmt.Errorf("failed to list match records: %w", err)
	}
	defer rows.Close()

	var all []*MatchRecord
	for rows.Next() {
		record := &MatchRecord{}
		var status string

		err := rows.Scan(
			&record.ID, &record.UserID, &record.TrialID,
			&record.MatchScore, &status, &record.RecommendedAction,
			&record.Reasoning, &record.Notes, &record.CreatedAt, &record.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}

		record.EligibilityStatus = domain.EligibilityStatus(status)
		all = append(all, record)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate rows: %w", err)
	}

	export := &HistoryExport{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Count:      len(all),
		Records:    all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ImportJSON imports records from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	var export HistoryExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, record := range export.Records {
		// Check if exists
		existing, err := s.Get(ctx, record.UserID, record.TrialID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}

		if existing != nil {
			skipped++
			continue
		}

		if err := s.Save(ctx, record); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
