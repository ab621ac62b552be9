package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trial-match-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite match-history store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a row into a MatchRecord struct.
func scanRecord(s scanner) (*MatchRecord, error) {
	record := &MatchRecord{}
	var status string

	err := s.Scan(
		&record.ID, &record.UserID, &record.TrialID,
		&record.MatchScore, &status, &record.RecommendedAction,
		&record.Reasoning, &record.Notes, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.EligibilityStatus = domain.EligibilityStatus(status)
	return record, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS match_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		trial_id TEXT NOT NULL,
		match_score INTEGER NOT NULL,
		eligibility_status TEXT NOT NULL,
		recommended_action TEXT NOT NULL DEFAULT '',
		reasoning TEXT DEFAULT '',
		notes TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, trial_id)
	);

	CREATE INDEX IF NOT EXISTS idx_match_history_user ON match_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_match_history_trial ON match_history(trial_id);
	CREATE INDEX IF NOT EXISTS idx_match_history_created ON match_history(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores or updates a match record.
func (s *SQLiteStore) Save(ctx context.Context, record *MatchRecord) error {
	now := time.Now()

	// Check if exists
	var existingID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM match_history WHERE user_id = ? AND trial_id = ?",
		record.UserID, record.TrialID,
	).Scan(&existingID)

	if err == nil {
		// Update existing
		record.ID = existingID
		record.UpdatedAt = now

		_, err = s.db.ExecContext(ctx, `
			UPDATE match_history SET
				match_score = ?,
				eligibility_status = ?,
				recommended_action = ?,
				reasoning = ?,
				notes = ?,
				updated_at = ?
			WHERE id = ?
		`,
			record.MatchScore,
			string(record.EligibilityStatus),
			record.RecommendedAction,
			record.Reasoning,
			record.Notes,
			now,
			existingID,
		)
		return err
	}

	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing: %w", err)
	}

	// Insert new
	record.CreatedAt = now
	record.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO match_history (
			user_id, trial_id, match_score, eligibility_status,
			recommended_action, reasoning, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.UserID,
		record.TrialID,
		record.MatchScore,
		string(record.EligibilityStatus),
		record.RecommendedAction,
		record.Reasoning,
		record.Notes,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	record.ID = id

	return nil
}

// Get retrieves the stored record for a user and trial.
func (s *SQLiteStore) Get(ctx context.Context, userID, trialID string) (*MatchRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, trial_id, match_score, eligibility_status,
			recommended_action, reasoning, notes, created_at, updated_at
		FROM match_history
		WHERE user_id = ? AND trial_id = ?
		LIMIT 1
	`, userID, trialID)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return record, nil
}

// ListByUser returns a user's records, newest first, with pagination.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, trial_id, match_score, eligibility_status,
			recommended_action, reasoning, notes, created_at, updated_at
		FROM match_history
		WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*MatchRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

// Count returns the total number of match records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM match_history").Scan(&count)
	return count, err
}

// Delete removes the record for a user and trial.
func (s *SQLiteStore) Delete(ctx context.Context, userID, trialID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM match_history WHERE user_id = ? AND trial_id = ?", userID, trialID)
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
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

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// ExportJSON exports all records to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, trial_id, match_score, eligibility_status,
			recommended_action, reasoning, notes, created_at, updated_at
		FROM match_history
		ORDER BY created_at DESC
		LIMIT ?
	`, maxExportLimit)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var all []*MatchRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
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
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
