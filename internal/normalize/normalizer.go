// Package normalize canonicalizes raw patient and trial records into the
// comparable feature sets the criterion evaluators consume. Normalization
// is tolerant: optional fields never cause failure, and dimensions the
// data cannot support are marked indeterminate instead of erroring.
package normalize

import (
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
)

// birthDateLayouts are the accepted birth date formats, most specific first.
var birthDateLayouts = []string{"2006-01-02", time.RFC3339}

// Service implements domain.Normalizer.
type Service struct {
	logger *logrus.Logger
}

// NewService creates a new normalizer.
func NewService(logger *logrus.Logger) *Service {
	return &Service{logger: logger}
}

// NormalizePatient canonicalizes a raw patient profile. The user ID is the
// only required field; everything else degrades per-dimension.
func (s *Service) NormalizePatient(raw *domain.RawPatientProfile) (*domain.PatientProfile, error) {
	if raw == nil {
		return nil, domain.NewValidationError("patient", "patient profile is required", nil)
	}
	if strings.TrimSpace(raw.UserID) == "" {
		return nil, domain.NewValidationError("user_id", "patient identifier is required", raw.UserID)
	}

	profile := &domain.PatientProfile{
		UserID:            strings.TrimSpace(raw.UserID),
		Conditions:        TermSet(raw.MedicalConditions),
		Medications:       TermSet(raw.CurrentMedications),
		RiskFactors:       TermSet(raw.RiskFactors),
		RawLocation:       strings.TrimSpace(raw.Location),
		LocationTokens:    LocationTokens(raw.Location),
		PerformanceStatus: normalizePerformanceStatus(raw.PerformanceStatus),
	}

	if raw.BirthDate != "" {
		if bd, ok := parseBirthDate(raw.BirthDate); ok {
			profile.BirthDate = &bd
		} else {
			// Unparseable birth date degrades to unknown age rather
			// than failing the whole profile.
			s.logger.WithFields(logrus.Fields{
				"user_id":    profile.UserID,
				"birth_date": raw.BirthDate,
			}).Warn("Unparseable birth date, age treated as unknown")
		}
	}

	return profile, nil
}

// NormalizeTrial canonicalizes a raw trial record. Structured eligibility
// criteria take priority; free text is mined as a fallback.
func (s *Service) NormalizeTrial(raw *domain.RawTrial) (*domain.Trial, error) {
	if raw == nil {
		return nil, domain.NewValidationError("trial", "trial record is required", nil)
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, domain.NewValidationError("id", "trial identifier is required", raw.ID)
	}

	trial := &domain.Trial{
		ID:              strings.TrimSpace(raw.ID),
		Title:           strings.TrimSpace(raw.Title),
		Summary:         strings.TrimSpace(raw.Summary),
		Phase:           strings.TrimSpace(raw.Phase),
		Status:          domain.RecruitmentStatus(strings.ToLower(strings.TrimSpace(raw.Status))),
		EnrollmentCount: raw.EnrollmentCount,
		Sponsor:         strings.TrimSpace(raw.Sponsor),
	}

	criteria := raw.EligibilityCriteria
	if criteria == nil && raw.CriteriaText != "" {
		criteria = ExtractCriteria(raw.CriteriaText)
	}
	if criteria != nil {
		trial.RequiredConditions = TermSet(criteria.Conditions)
		trial.ExcludedConditions = TermSet(criteria.ExcludedConditions)
		trial.MinAge = criteria.MinAge
		trial.MaxAge = criteria.MaxAge
		for _, loc := range criteria.Locations {
			trial.LocationTokens = append(trial.LocationTokens, LocationTokens(loc)...)
		}
		trial.LocationTokens = dedupe(trial.LocationTokens)
	}

	// Dimensions nothing constrained are indeterminate; they score
	// neutrally and the rationale says why.
	trial.AgeIndeterminate = trial.MinAge == nil && trial.MaxAge == nil
	trial.LocationIndeterminate = len(trial.LocationTokens) == 0

	if err := trial.Validate(); err != nil {
		return nil, err
	}
	return trial, nil
}

// TermSet lower-cases, trims, deduplicates and sorts a list of free-text
// terms, dropping empties. Sorting makes downstream iteration order
// deterministic regardless of input order.
func TermSet(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// LocationTokens reduces a free-text location to comparable lower-case
// tokens. "Seattle, WA" becomes ["seattle", "wa"]. Comparison downstream
// is substring overlap, not geocoding; the source data is too coarse for
// anything finer.
func LocationTokens(location string) []string {
	location = strings.ToLower(strings.TrimSpace(location))
	if location == "" {
		return nil
	}
	fields := strings.FieldsFunc(location, func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || r == '|'
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return dedupe(tokens)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func parseBirthDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func normalizePerformanceStatus(value string) domain.PerformanceStatus {
	status := domain.PerformanceStatus(strings.ToLower(strings.TrimSpace(value)))
	if !status.IsValid() {
		return domain.PerformanceUnknown
	}
	return status
}
