package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
)

// ProfileRepository handles patient profile persistence. It implements
// domain.ProfileSource for the matching surfaces.
type ProfileRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *pgxpool.Pool, logger *logrus.Logger) *ProfileRepository {
	return &ProfileRepository{
		db:  db,
		log: logger,
	}
}

// Upsert inserts or replaces a patient profile.
func (r *ProfileRepository) Upsert(ctx context.Context, profile *domain.RawPatientProfile) error {
	query := `
		INSERT INTO user_profiles (
			user_id, medical_conditions, current_medications, birth_date,
			location, risk_factors, performance_status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (user_id) DO UPDATE SET
			medical_conditions = EXCLUDED.medical_conditions,
			current_medications = EXCLUDED.current_medications,
			birth_date = EXCLUDED.birth_date,
			location = EXCLUDED.location,
			risk_factors = EXCLUDED.risk_factors,
			performance_status = EXCLUDED.performance_status,
			updated_at = NOW()`

	var birthDate *time.Time
	if profile.BirthDate != "" {
		if bd, err := time.Parse("2006-01-02", profile.BirthDate); err == nil {
			birthDate = &bd
		}
	}

	_, err := r.db.Exec(ctx, query,
		profile.UserID,
		profile.MedicalConditions,
		profile.CurrentMedications,
		birthDate,
		profile.Location,
		profile.RiskFactors,
		profile.PerformanceStatus,
	)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"user_id": profile.UserID,
			"error":   err,
		}).Error("Failed to upsert profile")
		return fmt.Errorf("upserting profile: %w", err)
	}

	r.log.WithField("user_id", profile.UserID).Debug("Profile upserted")
	return nil
}

// GetProfile retrieves a patient profile by user ID.
func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (*domain.RawPatientProfile, error) {
	query := `
		SELECT user_id, medical_conditions, current_medications, birth_date,
			   location, risk_factors, performance_status
		FROM user_profiles
		WHERE user_id = $1`

	var (
		profile   domain.RawPatientProfile
		birthDate *time.Time
	)

	err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.MedicalConditions,
		&profile.CurrentMedications,
		&birthDate,
		&profile.Location,
		&profile.RiskFactors,
		&profile.PerformanceStatus,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("profile not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err,
		}).Error("Failed to get profile")
		return nil, fmt.Errorf("getting profile: %w", err)
	}

	if birthDate != nil {
		profile.BirthDate = birthDate.Format("2006-01-02")
	}

	return &profile, nil
}

// Delete removes a patient profile.
func (r *ProfileRepository) Delete(ctx context.Context, userID string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM user_profiles WHERE user_id = $1`, userID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err,
		}).Error("Failed to delete profile")
		return fmt.Errorf("deleting profile: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("profile not found: %w", domain.ErrNotFound)
	}

	r.log.WithField("user_id", userID).Info("Profile deleted")
	return nil
}
