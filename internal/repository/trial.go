// Package repository implements the Postgres-backed trial and patient
// profile stores.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
)

// TrialRepository handles clinical trial persistence. It implements
// domain.TrialSource for the matching surfaces.
type TrialRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewTrialRepository creates a new trial repository
func NewTrialRepository(db *pgxpool.Pool, logger *logrus.Logger) *TrialRepository {
	return &TrialRepository{
		db:  db,
		log: logger,
	}
}

const trialColumns = `id, title, summary, phase, status, enrollment_count, sponsor,
	   conditions, excluded_conditions, min_age, max_age, locations, criteria_text`

// Upsert inserts a trial or refreshes an existing one. Registry imports
// re-run periodically, so the write path is idempotent by trial ID.
func (r *TrialRepository) Upsert(ctx context.Context, trial *domain.RawTrial) error {
	query := `
		INSERT INTO clinical_trials (
			id, title, summary, phase, status, enrollment_count, sponsor,
			conditions, excluded_conditions, min_age, max_age, locations, criteria_text
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			phase = EXCLUDED.phase,
			status = EXCLUDED.status,
			enrollment_count = EXCLUDED.enrollment_count,
			sponsor = EXCLUDED.sponsor,
			conditions = EXCLUDED.conditions,
			excluded_conditions = EXCLUDED.excluded_conditions,
			min_age = EXCLUDED.min_age,
			max_age = EXCLUDED.max_age,
			locations = EXCLUDED.locations,
			criteria_text = EXCLUDED.criteria_text,
			updated_at = NOW()`

	criteria := trial.EligibilityCriteria
	if criteria == nil {
		criteria = &domain.EligibilityCriteria{}
	}

	_, err := r.db.Exec(ctx, query,
		trial.ID,
		trial.Title,
		trial.Summary,
		trial.Phase,
		trial.Status,
		trial.EnrollmentCount,
		trial.Sponsor,
		criteria.Conditions,
		criteria.ExcludedConditions,
		criteria.MinAge,
		criteria.MaxAge,
		criteria.Locations,
		trial.CriteriaText,
	)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"trial_id": trial.ID,
			"error":    err,
		}).Error("Failed to upsert trial")
		return fmt.Errorf("upserting trial: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"trial_id": trial.ID,
		"status":   trial.Status,
	}).Debug("Trial upserted")

	return nil
}

// GetTrial retrieves a trial by its registry identifier.
func (r *TrialRepository) GetTrial(ctx context.Context, id string) (*domain.RawTrial, error) {
	query := `
		SELECT ` + trialColumns + `
		FROM clinical_trials
		WHERE id = $1`

	trial, err := scanTrial(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("trial not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"trial_id": id,
			"error":    err,
		}).Error("Failed to get trial by ID")
		return nil, fmt.Errorf("getting trial by ID: %w", err)
	}

	return trial, nil
}

// ListRecruiting retrieves recruiting trials ordered by ID, capped at limit.
func (r *TrialRepository) ListRecruiting(ctx context.Context, limit int) ([]*domain.RawTrial, error) {
	query := `
		SELECT ` + trialColumns + `
		FROM clinical_trials
		WHERE status = $1
		ORDER BY id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, domain.RecruitmentRecruiting, limit)
	if err != nil {
		r.log.WithError(err).Error("Failed to list recruiting trials")
		return nil, fmt.Errorf("listing recruiting trials: %w", err)
	}
	defer rows.Close()

	var trials []*domain.RawTrial
	for rows.Next() {
		trial, err := scanTrial(rows)
		if err != nil {
			r.log.WithError(err).Error("Failed to scan trial row")
			return nil, fmt.Errorf("scanning trial row: %w", err)
		}
		trials = append(trials, trial)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trial rows: %w", err)
	}

	return trials, nil
}

// ListByCondition retrieves recruiting trials whose required conditions
// include the given term, capped at limit.
func (r *TrialRepository) ListByCondition(ctx context.Context, condition string, limit int) ([]*domain.RawTrial, error) {
	query := `
		SELECT ` + trialColumns + `
		FROM clinical_trials
		WHERE status = $1 AND $2 = ANY(conditions)
		ORDER BY id
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, domain.RecruitmentRecruiting, condition, limit)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"condition": condition,
			"error":     err,
		}).Error("Failed to list trials by condition")
		return nil, fmt.Errorf("listing trials by condition: %w", err)
	}
	defer rows.Close()

	var trials []*domain.RawTrial
	for rows.Next() {
		trial, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trial row: %w", err)
		}
		trials = append(trials, trial)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trial rows: %w", err)
	}

	return trials, nil
}

// Delete removes a trial from the store.
func (r *TrialRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM clinical_trials WHERE id = $1`, id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"trial_id": id,
			"error":    err,
		}).Error("Failed to delete trial")
		return fmt.Errorf("deleting trial: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("trial not found: %w", domain.ErrNotFound)
	}

	r.log.WithField("trial_id", id).Info("Trial deleted")
	return nil
}

// scanTrial reads one trial row. The criteria columns fold back into the
// nested EligibilityCriteria the normalizer expects.
func scanTrial(row pgx.Row) (*domain.RawTrial, error) {
	var (
		trial    domain.RawTrial
		criteria domain.EligibilityCriteria
	)

	err := row.Scan(
		&trial.ID,
		&trial.Title,
		&trial.Summary,
		&trial.Phase,
		&trial.Status,
		&trial.EnrollmentCount,
		&trial.Sponsor,
		&criteria.Conditions,
		&criteria.ExcludedConditions,
		&criteria.MinAge,
		&criteria.MaxAge,
		&criteria.Locations,
		&trial.CriteriaText,
	)
	if err != nil {
		return nil, err
	}

	trial.EligibilityCriteria = &criteria
	return &trial, nil
}
