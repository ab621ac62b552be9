package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/trial-match-server/internal/domain"
)

// Free-text eligibility criteria mining. This is deliberately conservative
// keyword matching: a miss marks the dimension indeterminate, which scores
// neutrally. Overclaiming here would silently misclassify patients.

var (
	// "ages 18 to 65", "18 - 65 years", "between 40 and 75 years"
	ageRangePattern = regexp.MustCompile(`(?i)(?:ages?\s+|between\s+)?(\d{1,3})\s*(?:-|to|and)\s*(\d{1,3})\s*(?:years?|yrs?)`)
	// "minimum age: 18", "at least 18 years", "18 years or older", "over 50"
	minAgePattern = regexp.MustCompile(`(?i)(?:minimum age[:\s]+(\d{1,3})|at least (\d{1,3}) years|(\d{1,3}) years (?:of age )?(?:or|and) older|over (\d{1,3}))`)
	// "maximum age: 75", "under 65", "75 years or younger", "up to 80 years"
	maxAgePattern = regexp.MustCompile(`(?i)(?:maximum age[:\s]+(\d{1,3})|under (\d{1,3})|(\d{1,3}) years (?:of age )?(?:or|and) younger|up to (\d{1,3}) years)`)

	// "exclusion: ..." / "excluded: ..." section headers
	exclusionHeaderPattern = regexp.MustCompile(`(?i)exclusion(?:\s+criteria)?\s*:|excluded\s*:`)

	// "locations: Seattle, Boston" / "sites: ..."
	locationLinePattern = regexp.MustCompile(`(?i)(?:locations?|sites?)\s*:\s*(.+)`)
)

// conditionVocabulary is the closed keyword list used to pull condition
// mentions out of free text. A vocabulary keeps extraction conservative:
// only well-known condition names are recognized, everything else is left
// to the structured fields.
var conditionVocabulary = []string{
	"alzheimer's disease",
	"alzheimer",
	"arthritis",
	"asthma",
	"breast cancer",
	"cancer",
	"chronic kidney disease",
	"copd",
	"coronary artery disease",
	"covid-19",
	"depression",
	"diabetes",
	"epilepsy",
	"heart disease",
	"heart failure",
	"hepatitis",
	"hiv",
	"hypertension",
	"leukemia",
	"lung cancer",
	"lymphoma",
	"melanoma",
	"multiple sclerosis",
	"obesity",
	"parkinson's disease",
	"parkinson",
	"prostate cancer",
	"stroke",
}

// ExtractCriteria mines structured eligibility constraints out of free
// text. Anything it cannot extract is simply absent from the result; the
// caller marks those dimensions indeterminate.
func ExtractCriteria(text string) *domain.EligibilityCriteria {
	if strings.TrimSpace(text) == "" {
		return &domain.EligibilityCriteria{}
	}

	criteria := &domain.EligibilityCriteria{}
	lower := strings.ToLower(text)

	// Split inclusion from exclusion so condition mentions land in the
	// right bucket. Text before the first exclusion header is inclusion.
	inclusion, exclusion := lower, ""
	if loc := exclusionHeaderPattern.FindStringIndex(lower); loc != nil {
		inclusion, exclusion = lower[:loc[0]], lower[loc[1]:]
	}

	criteria.Conditions = extractConditions(inclusion)
	criteria.ExcludedConditions = extractConditions(exclusion)
	criteria.MinAge, criteria.MaxAge = extractAgeBounds(lower)
	criteria.Locations = extractLocations(text)

	return criteria
}

// extractConditions matches the vocabulary against the text. Longer terms
// are listed first in the vocabulary where they overlap (e.g. "breast
// cancer" before "cancer") so the more specific mention wins.
func extractConditions(text string) []string {
	if text == "" {
		return nil
	}
	var found []string
	claimed := make([]bool, len(text))
	for _, term := range conditionVocabulary {
		idx := strings.Index(text, term)
		if idx < 0 {
			continue
		}
		// Skip if a longer term already claimed this span.
		if claimed[idx] {
			continue
		}
		for i := idx; i < idx+len(term) && i < len(claimed); i++ {
			claimed[i] = true
		}
		found = append(found, term)
	}
	return TermSet(found)
}

func extractAgeBounds(text string) (minAge, maxAge *int) {
	if m := ageRangePattern.FindStringSubmatch(text); m != nil {
		lo, err1 := strconv.Atoi(m[1])
		hi, err2 := strconv.Atoi(m[2])
		if err1 == nil && err2 == nil && lo <= hi && plausibleAge(lo) && plausibleAge(hi) {
			return &lo, &hi
		}
	}
	if m := minAgePattern.FindStringSubmatch(text); m != nil {
		if v, ok := firstGroup(m); ok && plausibleAge(v) {
			minAge = &v
		}
	}
	if m := maxAgePattern.FindStringSubmatch(text); m != nil {
		if v, ok := firstGroup(m); ok && plausibleAge(v) {
			maxAge = &v
		}
	}
	if minAge != nil && maxAge != nil && *minAge > *maxAge {
		// Contradictory extraction; trust neither.
		return nil, nil
	}
	return minAge, maxAge
}

func extractLocations(text string) []string {
	m := locationLinePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	// Keep the location list to its own line.
	line := m[1]
	if nl := strings.IndexAny(line, "\r\n"); nl >= 0 {
		line = line[:nl]
	}
	return LocationTokens(line)
}

// firstGroup returns the first non-empty capture group as an int.
func firstGroup(match []string) (int, bool) {
	for _, g := range match[1:] {
		if g == "" {
			continue
		}
		v, err := strconv.Atoi(g)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

func plausibleAge(v int) bool {
	return v >= 0 && v <= 120
}
