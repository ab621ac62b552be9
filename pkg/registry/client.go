// Package registry imports trial records from a ClinicalTrials.gov-style
// registry API and maps them onto the raw trial shape the normalizer accepts.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/trial-match-server/internal/domain"
)

// Config represents configuration for the registry API client.
type Config struct {
	BaseURL    string        `json:"base_url"`
	APIKey     string        `json:"api_key"`
	Timeout    time.Duration `json:"timeout"`
	RateLimit  int           `json:"rate_limit"` // requests per second
	RetryCount int           `json:"retry_count"`
	PageSize   int           `json:"page_size"`
}

// Client handles interactions with the trial registry REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	retryCount int
	pageSize   int
}

// NewClient creates a new registry API client.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://clinicaltrials.gov/api/v2"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5 // registry guidance caps anonymous clients at 5 rps
	}
	if config.PageSize == 0 {
		config.PageSize = 100
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		retryCount: config.RetryCount,
		pageSize:   config.PageSize,
	}
}

// studyPage is the paged envelope the registry returns for study searches.
type studyPage struct {
	Studies       []study `json:"studies"`
	NextPageToken string  `json:"nextPageToken"`
	TotalCount    int     `json:"totalCount"`
}

// study mirrors the registry's nested protocol-section layout.
type study struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID      string `json:"nctId"`
			BriefTitle string `json:"briefTitle"`
		} `json:"identificationModule"`
		StatusModule struct {
			OverallStatus string `json:"overallStatus"`
		} `json:"statusModule"`
		DescriptionModule struct {
			BriefSummary string `json:"briefSummary"`
		} `json:"descriptionModule"`
		SponsorCollaboratorsModule struct {
			LeadSponsor struct {
				Name string `json:"name"`
			} `json:"leadSponsor"`
		} `json:"sponsorCollaboratorsModule"`
		ConditionsModule struct {
			Conditions []string `json:"conditions"`
		} `json:"conditionsModule"`
		DesignModule struct {
			Phases         []string `json:"phases"`
			EnrollmentInfo struct {
				Count int `json:"count"`
			} `json:"enrollmentInfo"`
		} `json:"designModule"`
		EligibilityModule struct {
			EligibilityCriteria string `json:"eligibilityCriteria"`
			MinimumAge          string `json:"minimumAge"`
			MaximumAge          string `json:"maximumAge"`
		} `json:"eligibilityModule"`
		ContactsLocationsModule struct {
			Locations []struct {
				Facility string `json:"facility"`
				City     string `json:"city"`
				State    string `json:"state"`
				Country  string `json:"country"`
			} `json:"locations"`
		} `json:"contactsLocationsModule"`
	} `json:"protocolSection"`
}

// GetStudy retrieves a single study by its registry identifier.
func (c *Client) GetStudy(ctx context.Context, trialID string) (*domain.RawTrial, error) {
	trialID = strings.TrimSpace(trialID)
	if trialID == "" {
		return nil, fmt.Errorf("trial ID cannot be empty")
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	var s study
	path := fmt.Sprintf("%s/studies/%s", c.baseURL, url.PathEscape(trialID))
	if err := c.getJSON(ctx, path, &s); err != nil {
		return nil, fmt.Errorf("failed to fetch study %s: %w", trialID, err)
	}
	if s.ProtocolSection.IdentificationModule.NCTID == "" {
		return nil, fmt.Errorf("study %s: %w", trialID, domain.ErrNotFound)
	}

	return mapStudy(s), nil
}

// SearchByCondition pages through studies matching a condition term and
// returns them as raw trials ready for normalization. maxResults caps the
// total number of records fetched; zero means one page.
func (c *Client) SearchByCondition(ctx context.Context, condition string, maxResults int) ([]*domain.RawTrial, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil, fmt.Errorf("condition cannot be empty")
	}
	if maxResults <= 0 {
		maxResults = c.pageSize
	}

	var trials []*domain.RawTrial
	pageToken := ""

	for len(trials) < maxResults {
		if err := c.rateLimit.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}

		params := url.Values{}
		params.Set("query.cond", condition)
		params.Set("pageSize", strconv.Itoa(c.pageSize))
		params.Set("filter.overallStatus", "RECRUITING")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page studyPage
		searchURL := fmt.Sprintf("%s/studies?%s", c.baseURL, params.Encode())
		if err := c.getJSON(ctx, searchURL, &page); err != nil {
			return nil, fmt.Errorf("failed to search studies for %q: %w", condition, err)
		}

		for _, s := range page.Studies {
			if s.ProtocolSection.IdentificationModule.NCTID == "" {
				continue
			}
			trials = append(trials, mapStudy(s))
			if len(trials) >= maxResults {
				break
			}
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return trials, nil
}

// getJSON performs a GET with retries on transient failures and decodes the
// response body into out.
func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	var lastErr error
	attempts := c.retryCount + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "Trial-Match-Server/1.0")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to execute request: %w", err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				lastErr = fmt.Errorf("failed to read response body: %w", readErr)
				continue
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("failed to parse registry response: %w", err)
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return domain.ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("registry API returned status %d", resp.StatusCode)
			continue
		default:
			return fmt.Errorf("registry API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
	}

	return lastErr
}

// mapStudy flattens a registry study into the raw trial shape.
func mapStudy(s study) *domain.RawTrial {
	ps := s.ProtocolSection

	criteria := &domain.EligibilityCriteria{
		Conditions: ps.ConditionsModule.Conditions,
		MinAge:     parseAgeField(ps.EligibilityModule.MinimumAge),
		MaxAge:     parseAgeField(ps.EligibilityModule.MaximumAge),
	}
	for _, loc := range ps.ContactsLocationsModule.Locations {
		if loc.City != "" {
			criteria.Locations = append(criteria.Locations, loc.City)
		}
		if loc.State != "" {
			criteria.Locations = append(criteria.Locations, loc.State)
		}
	}

	phase := ""
	if len(ps.DesignModule.Phases) > 0 {
		phase = strings.ToLower(strings.ReplaceAll(ps.DesignModule.Phases[0], "PHASE", "phase "))
	}

	return &domain.RawTrial{
		ID:                  ps.IdentificationModule.NCTID,
		Title:               ps.IdentificationModule.BriefTitle,
		Summary:             ps.DescriptionModule.BriefSummary,
		Phase:               strings.TrimSpace(phase),
		Status:              mapOverallStatus(ps.StatusModule.OverallStatus),
		EnrollmentCount:     ps.DesignModule.EnrollmentInfo.Count,
		Sponsor:             ps.SponsorCollaboratorsModule.LeadSponsor.Name,
		EligibilityCriteria: criteria,
		CriteriaText:        ps.EligibilityModule.EligibilityCriteria,
	}
}

// mapOverallStatus translates registry status enums into the recruitment
// vocabulary the normalizer expects. Unknown values pass through lowercased
// so the normalizer can flag them.
func mapOverallStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "RECRUITING", "ENROLLING_BY_INVITATION":
		return string(domain.RecruitmentRecruiting)
	case "ACTIVE_NOT_RECRUITING":
		return string(domain.RecruitmentActive)
	case "COMPLETED":
		return string(domain.RecruitmentCompleted)
	case "SUSPENDED":
		return string(domain.RecruitmentSuspended)
	case "WITHDRAWN", "TERMINATED":
		return string(domain.RecruitmentWithdrawn)
	default:
		return strings.ToLower(strings.TrimSpace(status))
	}
}

var ageFieldPattern = regexp.MustCompile(`(\d+)\s*(?i:years?)`)

// parseAgeField extracts the year count from registry age strings such as
// "18 Years". Month- and week-denominated ages round down to zero years and
// are dropped rather than misread.
func parseAgeField(raw string) *int {
	m := ageFieldPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return nil
	}
	years, err := strconv.Atoi(m[1])
	if err != nil || years < 0 || years > 150 {
		return nil
	}
	return &years
}
