package mcptools

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-match-server/internal/config"
	"github.com/trial-match-server/internal/domain"
)

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()

	cfg := config.DefaultLiteConfig()
	cfg.DataDir = t.TempDir()
	cfg.LogLevel = "panic"

	logger, _ := test.NewNullLogger()
	opts = append(opts, WithLogger(logger))

	server, err := NewServer(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })
	return server
}

func intPtr(v int) *int { return &v }

func testRawPatient() *domain.RawPatientProfile {
	return &domain.RawPatientProfile{
		UserID:            "user-1",
		MedicalConditions: []string{"diabetes"},
		BirthDate:         "1970-01-01",
		Location:          "Seattle",
		PerformanceStatus: "good",
	}
}

func testRawTrial(id string) *domain.RawTrial {
	return &domain.RawTrial{
		ID:     id,
		Title:  "Diabetes Management Study",
		Status: "recruiting",
		EligibilityCriteria: &domain.EligibilityCriteria{
			Conditions: []string{"diabetes"},
			MinAge:     intPtr(18),
			MaxAge:     intPtr(99),
			Locations:  []string{"Seattle"},
		},
	}
}

type fakeFetcher struct {
	trials []*domain.RawTrial
}

func (f *fakeFetcher) GetStudy(ctx context.Context, trialID string) (*domain.RawTrial, error) {
	for _, trial := range f.trials {
		if trial.ID == trialID {
			return trial, nil
		}
	}
	return nil, fmt.Errorf("study %s: %w", trialID, domain.ErrNotFound)
}

func (f *fakeFetcher) SearchByCondition(ctx context.Context, condition string, maxResults int) ([]*domain.RawTrial, error) {
	if maxResults < len(f.trials) {
		return f.trials[:maxResults], nil
	}
	return f.trials, nil
}

func TestMatchTrials_InlineTrials(t *testing.T) {
	server := newTestServer(t)

	result, payload, err := server.handleMatchTrials(context.Background(), nil, MatchTrialsParams{
		Patient: testRawPatient(),
		Trials:  []*domain.RawTrial{testRawTrial("NCT002"), testRawTrial("NCT001")},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	matches := payload.(MatchTrialsResult).Matches
	require.Len(t, matches, 2)
	assert.Equal(t, "NCT001", matches[0].TrialID)
	assert.Equal(t, "NCT002", matches[1].TrialID)
	assert.Equal(t, domain.StatusEligible, matches[0].EligibilityStatus)
}

func TestMatchTrials_MissingPatient(t *testing.T) {
	server := newTestServer(t)

	result, payload, err := server.handleMatchTrials(context.Background(), nil, MatchTrialsParams{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Nil(t, payload)
}

func TestMatchTrials_NoTrialsNoFetcher(t *testing.T) {
	server := newTestServer(t)

	result, _, err := server.handleMatchTrials(context.Background(), nil, MatchTrialsParams{
		Patient:   testRawPatient(),
		Condition: "diabetes",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMatchTrials_RegistrySearch(t *testing.T) {
	fetcher := &fakeFetcher{trials: []*domain.RawTrial{testRawTrial("NCT010")}}
	server := newTestServer(t, WithTrialFetcher(fetcher))

	result, payload, err := server.handleMatchTrials(context.Background(), nil, MatchTrialsParams{
		Patient:   testRawPatient(),
		Condition: "diabetes",
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	matches := payload.(MatchTrialsResult).Matches
	require.Len(t, matches, 1)
	assert.Equal(t, "NCT010", matches[0].TrialID)
}

func TestMatchTrials_SavesHistory(t *testing.T) {
	server := newTestServer(t)

	_, _, err := server.handleMatchTrials(context.Background(), nil, MatchTrialsParams{
		Patient: testRawPatient(),
		Trials:  []*domain.RawTrial{testRawTrial("NCT001")},
	})
	require.NoError(t, err)

	record, err := server.HistoryStore().Get(context.Background(), "user-1", "NCT001")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, domain.StatusEligible, record.EligibilityStatus)
}

func TestScreenTrial_Inline(t *testing.T) {
	server := newTestServer(t)

	result, payload, err := server.handleScreenTrial(context.Background(), nil, ScreenTrialParams{
		Patient: testRawPatient(),
		Trial:   testRawTrial("NCT001"),
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	assessment := payload.(*domain.ScreeningAssessment)
	assert.Equal(t, "NCT001", assessment.TrialID)
	assert.NotEmpty(t, assessment.DetailedFeedback.Strengths)
}

func TestScreenTrial_RegistryLookup(t *testing.T) {
	fetcher := &fakeFetcher{trials: []*domain.RawTrial{testRawTrial("NCT010")}}
	server := newTestServer(t, WithTrialFetcher(fetcher))

	result, payload, err := server.handleScreenTrial(context.Background(), nil, ScreenTrialParams{
		Patient: testRawPatient(),
		TrialID: "NCT010",
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "NCT010", payload.(*domain.ScreeningAssessment).TrialID)
}

func TestScreenTrial_RegistryMiss(t *testing.T) {
	fetcher := &fakeFetcher{}
	server := newTestServer(t, WithTrialFetcher(fetcher))

	result, _, err := server.handleScreenTrial(context.Background(), nil, ScreenTrialParams{
		Patient: testRawPatient(),
		TrialID: "NCT404",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestGetMatchHistory(t *testing.T) {
	server := newTestServer(t)

	_, _, err := server.handleMatchTrials(context.Background(), nil, MatchTrialsParams{
		Patient: testRawPatient(),
		Trials:  []*domain.RawTrial{testRawTrial("NCT001"), testRawTrial("NCT002")},
	})
	require.NoError(t, err)

	result, payload, err := server.handleGetMatchHistory(context.Background(), nil, GetMatchHistoryParams{
		UserID: "user-1",
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	got := payload.(GetMatchHistoryResult)
	assert.Equal(t, 2, got.Count)
}

func TestGetMatchHistory_MissingUserID(t *testing.T) {
	server := newTestServer(t)

	result, _, err := server.handleGetMatchHistory(context.Background(), nil, GetMatchHistoryParams{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExportImportRoundTrip(t *testing.T) {
	server := newTestServer(t)

	_, _, err := server.handleMatchTrials(context.Background(), nil, MatchTrialsParams{
		Patient: testRawPatient(),
		Trials:  []*domain.RawTrial{testRawTrial("NCT001")},
	})
	require.NoError(t, err)

	exportName := fmt.Sprintf("test_export_%d.json", time.Now().UnixNano())
	result, payload, err := server.handleExportHistory(context.Background(), nil, ExportHistoryParams{
		Filename: exportName,
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	exported := payload.(ExportHistoryResult)
	assert.True(t, exported.Success)
	assert.Equal(t, int64(1), exported.Count)
	assert.Equal(t, filepath.Join(server.config.ExportDir(), exportName), exported.Path)

	// Importing into the same store skips the existing record.
	result, payload, err = server.handleImportHistory(context.Background(), nil, ImportHistoryParams{
		Path: exported.Path,
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	imported := payload.(ImportHistoryResult)
	assert.Equal(t, 0, imported.Imported)
	assert.Equal(t, 1, imported.Skipped)
}
