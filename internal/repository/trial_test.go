package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/trial-match-server/internal/database"
	"github.com/trial-match-server/internal/domain"
)

// generateTestPassword creates a random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) (*database.DB, func()) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	testPassword := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("trial_match_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	config := database.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "trial_match_test",
		Username:    "testuser",
		Password:    testPassword,
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, config, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}

	databaseURL := "postgres://testuser:" + testPassword + "@" + host + ":" + port.Port() + "/trial_match_test?sslmode=disable"
	migrationRunner, err := database.NewMigrationRunner(databaseURL, "../../migrations", logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}

	if err := migrationRunner.Up(ctx); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		migrationRunner.Close()
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}

	return db, cleanup
}

func testRawTrial(id, status string, conditions []string) *domain.RawTrial {
	minAge, maxAge := 40, 75
	return &domain.RawTrial{
		ID:              id,
		Title:           "Diabetes Management Study",
		Summary:         "A study of glycemic control strategies.",
		Phase:           "Phase 3",
		Status:          status,
		EnrollmentCount: 200,
		Sponsor:         "University Medical Center",
		EligibilityCriteria: &domain.EligibilityCriteria{
			Conditions:         conditions,
			ExcludedConditions: []string{"hepatitis"},
			MinAge:             &minAge,
			MaxAge:             &maxAge,
			Locations:          []string{"Seattle, WA"},
		},
	}
}

func TestTrialRepository_UpsertAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewTrialRepository(db.Pool, logger)

	ctx := context.Background()
	trial := testRawTrial("NCT00000001", "recruiting", []string{"diabetes"})

	if err := repo.Upsert(ctx, trial); err != nil {
		t.Fatalf("Failed to upsert trial: %v", err)
	}

	retrieved, err := repo.GetTrial(ctx, "NCT00000001")
	if err != nil {
		t.Fatalf("Failed to retrieve trial: %v", err)
	}

	if retrieved.Title != trial.Title {
		t.Errorf("Expected title %q, got %q", trial.Title, retrieved.Title)
	}
	if retrieved.EligibilityCriteria == nil {
		t.Fatal("Expected eligibility criteria, got nil")
	}
	if got := retrieved.EligibilityCriteria.Conditions; len(got) != 1 || got[0] != "diabetes" {
		t.Errorf("Expected conditions [diabetes], got %v", got)
	}
	if retrieved.EligibilityCriteria.MinAge == nil || *retrieved.EligibilityCriteria.MinAge != 40 {
		t.Errorf("Expected min age 40, got %v", retrieved.EligibilityCriteria.MinAge)
	}

	// Upsert again with a changed status; the row must refresh, not duplicate.
	trial.Status = "completed"
	if err := repo.Upsert(ctx, trial); err != nil {
		t.Fatalf("Failed to re-upsert trial: %v", err)
	}

	retrieved, err = repo.GetTrial(ctx, "NCT00000001")
	if err != nil {
		t.Fatalf("Failed to retrieve trial after re-upsert: %v", err)
	}
	if retrieved.Status != "completed" {
		t.Errorf("Expected status completed, got %q", retrieved.Status)
	}
}

func TestTrialRepository_ListRecruiting(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewTrialRepository(db.Pool, logger)

	ctx := context.Background()
	for _, trial := range []*domain.RawTrial{
		testRawTrial("NCT00000002", "recruiting", []string{"diabetes"}),
		testRawTrial("NCT00000001", "recruiting", []string{"asthma"}),
		testRawTrial("NCT00000003", "completed", []string{"diabetes"}),
	} {
		if err := repo.Upsert(ctx, trial); err != nil {
			t.Fatalf("Failed to upsert trial %s: %v", trial.ID, err)
		}
	}

	trials, err := repo.ListRecruiting(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list recruiting trials: %v", err)
	}

	if len(trials) != 2 {
		t.Fatalf("Expected 2 recruiting trials, got %d", len(trials))
	}
	if trials[0].ID != "NCT00000001" || trials[1].ID != "NCT00000002" {
		t.Errorf("Expected trials ordered by ID, got %s, %s", trials[0].ID, trials[1].ID)
	}
}

func TestTrialRepository_ListByCondition(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewTrialRepository(db.Pool, logger)

	ctx := context.Background()
	for _, trial := range []*domain.RawTrial{
		testRawTrial("NCT00000001", "recruiting", []string{"diabetes"}),
		testRawTrial("NCT00000002", "recruiting", []string{"asthma"}),
	} {
		if err := repo.Upsert(ctx, trial); err != nil {
			t.Fatalf("Failed to upsert trial %s: %v", trial.ID, err)
		}
	}

	trials, err := repo.ListByCondition(ctx, "diabetes", 10)
	if err != nil {
		t.Fatalf("Failed to list trials by condition: %v", err)
	}

	if len(trials) != 1 || trials[0].ID != "NCT00000001" {
		t.Errorf("Expected only NCT00000001, got %v", trials)
	}
}

func TestTrialRepository_Delete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewTrialRepository(db.Pool, logger)

	ctx := context.Background()
	trial := testRawTrial("NCT00000001", "recruiting", []string{"diabetes"})

	if err := repo.Upsert(ctx, trial); err != nil {
		t.Fatalf("Failed to upsert trial: %v", err)
	}

	if err := repo.Delete(ctx, "NCT00000001"); err != nil {
		t.Fatalf("Failed to delete trial: %v", err)
	}

	_, err := repo.GetTrial(ctx, "NCT00000001")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestProfileRepository_RoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewProfileRepository(db.Pool, logger)

	ctx := context.Background()
	profile := &domain.RawPatientProfile{
		UserID:             "user-1",
		MedicalConditions:  []string{"diabetes"},
		CurrentMedications: []string{"metformin"},
		BirthDate:          "1970-01-01",
		Location:           "Seattle, WA",
		RiskFactors:        []string{"smoking"},
		PerformanceStatus:  "good",
	}

	if err := repo.Upsert(ctx, profile); err != nil {
		t.Fatalf("Failed to upsert profile: %v", err)
	}

	retrieved, err := repo.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to retrieve profile: %v", err)
	}

	if retrieved.BirthDate != "1970-01-01" {
		t.Errorf("Expected birth date 1970-01-01, got %q", retrieved.BirthDate)
	}
	if retrieved.PerformanceStatus != "good" {
		t.Errorf("Expected performance status good, got %q", retrieved.PerformanceStatus)
	}

	_, err = repo.GetProfile(ctx, "user-missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing profile, got %v", err)
	}
}
