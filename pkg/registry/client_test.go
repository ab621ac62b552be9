package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-match-server/internal/domain"
)

func sampleStudyJSON(nctID, status string) map[string]interface{} {
	return map[string]interface{}{
		"protocolSection": map[string]interface{}{
			"identificationModule": map[string]interface{}{
				"nctId":      nctID,
				"briefTitle": "Metformin Extension Study in Type 2 Diabetes",
			},
			"statusModule": map[string]interface{}{
				"overallStatus": status,
			},
			"descriptionModule": map[string]interface{}{
				"briefSummary": "Evaluates long-term metformin response.",
			},
			"sponsorCollaboratorsModule": map[string]interface{}{
				"leadSponsor": map[string]interface{}{
					"name": "Northwest Clinical Research",
				},
			},
			"conditionsModule": map[string]interface{}{
				"conditions": []string{"Type 2 Diabetes", "Prediabetes"},
			},
			"designModule": map[string]interface{}{
				"phases": []string{"PHASE3"},
				"enrollmentInfo": map[string]interface{}{
					"count": 240,
				},
			},
			"eligibilityModule": map[string]interface{}{
				"eligibilityCriteria": "Inclusion Criteria: adults with type 2 diabetes.",
				"minimumAge":          "40 Years",
				"maximumAge":          "75 Years",
			},
			"contactsLocationsModule": map[string]interface{}{
				"locations": []map[string]interface{}{
					{"facility": "Harborview", "city": "Seattle", "state": "WA", "country": "United States"},
				},
			},
		},
	}
}

func TestClient_GetStudy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studies/NCT00000001", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sampleStudyJSON("NCT00000001", "RECRUITING"))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, RateLimit: 100})

	trial, err := client.GetStudy(context.Background(), "NCT00000001")
	require.NoError(t, err)

	assert.Equal(t, "NCT00000001", trial.ID)
	assert.Equal(t, "Metformin Extension Study in Type 2 Diabetes", trial.Title)
	assert.Equal(t, "recruiting", trial.Status)
	assert.Equal(t, "phase 3", trial.Phase)
	assert.Equal(t, 240, trial.EnrollmentCount)
	assert.Equal(t, "Northwest Clinical Research", trial.Sponsor)

	require.NotNil(t, trial.EligibilityCriteria)
	assert.Equal(t, []string{"Type 2 Diabetes", "Prediabetes"}, trial.EligibilityCriteria.Conditions)
	require.NotNil(t, trial.EligibilityCriteria.MinAge)
	assert.Equal(t, 40, *trial.EligibilityCriteria.MinAge)
	require.NotNil(t, trial.EligibilityCriteria.MaxAge)
	assert.Equal(t, 75, *trial.EligibilityCriteria.MaxAge)
	assert.Equal(t, []string{"Seattle", "WA"}, trial.EligibilityCriteria.Locations)
	assert.Contains(t, trial.CriteriaText, "Inclusion Criteria")
}

func TestClient_GetStudy_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, RateLimit: 100})

	_, err := client.GetStudy(context.Background(), "NCT99999999")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_GetStudy_EmptyID(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost:1", RateLimit: 100})

	_, err := client.GetStudy(context.Background(), "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")
}

func TestClient_SearchByCondition_Paging(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		assert.Equal(t, "/studies", r.URL.Path)
		assert.Equal(t, "diabetes", r.URL.Query().Get("query.cond"))
		assert.Equal(t, "RECRUITING", r.URL.Query().Get("filter.overallStatus"))

		page := map[string]interface{}{}
		switch n {
		case 1:
			assert.Empty(t, r.URL.Query().Get("pageToken"))
			page["studies"] = []interface{}{
				sampleStudyJSON("NCT00000001", "RECRUITING"),
				sampleStudyJSON("NCT00000002", "RECRUITING"),
			}
			page["nextPageToken"] = "page2"
		default:
			assert.Equal(t, "page2", r.URL.Query().Get("pageToken"))
			page["studies"] = []interface{}{
				sampleStudyJSON("NCT00000003", "RECRUITING"),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, RateLimit: 100, PageSize: 2})

	trials, err := client.SearchByCondition(context.Background(), "diabetes", 10)
	require.NoError(t, err)
	require.Len(t, trials, 3)
	assert.Equal(t, "NCT00000001", trials[0].ID)
	assert.Equal(t, "NCT00000003", trials[2].ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestClient_SearchByCondition_MaxResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := map[string]interface{}{
			"studies": []interface{}{
				sampleStudyJSON("NCT00000001", "RECRUITING"),
				sampleStudyJSON("NCT00000002", "RECRUITING"),
				sampleStudyJSON("NCT00000003", "RECRUITING"),
			},
			"nextPageToken": "more",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, RateLimit: 100, PageSize: 3})

	trials, err := client.SearchByCondition(context.Background(), "diabetes", 2)
	require.NoError(t, err)
	assert.Len(t, trials, 2)
}

func TestClient_SearchByCondition_RetriesOnServerError(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		page := map[string]interface{}{
			"studies": []interface{}{sampleStudyJSON("NCT00000001", "RECRUITING")},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, RateLimit: 100, RetryCount: 2})

	trials, err := client.SearchByCondition(context.Background(), "diabetes", 1)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&requests), int32(2))
}

func TestMapOverallStatus(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"RECRUITING", "recruiting"},
		{"ENROLLING_BY_INVITATION", "recruiting"},
		{"ACTIVE_NOT_RECRUITING", "active_not_recruiting"},
		{"COMPLETED", "completed"},
		{"SUSPENDED", "suspended"},
		{"TERMINATED", "withdrawn"},
		{"WITHDRAWN", "withdrawn"},
		{"UNKNOWN_STATUS", "unknown_status"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, mapOverallStatus(tt.input))
		})
	}
}

func TestParseAgeField(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected *int
	}{
		{"years", "18 Years", intPtr(18)},
		{"singular year", "1 Year", intPtr(1)},
		{"lowercase", "65 years", intPtr(65)},
		{"months dropped", "6 Months", nil},
		{"empty", "", nil},
		{"not applicable", "N/A", nil},
		{"implausible", "450 Years", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseAgeField(tt.input)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.expected, *got)
		})
	}
}

func TestClient_RateLimiterThrottles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sampleStudyJSON("NCT00000001", "RECRUITING"))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, RateLimit: 20})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.GetStudy(context.Background(), "NCT00000001")
		require.NoError(t, err)
	}
	// 20 rps with burst 1 forces ~50ms between the second and third call.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func intPtr(v int) *int { return &v }
