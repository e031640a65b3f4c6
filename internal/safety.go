package internal

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Emergency categories returned by CheckEmergency.
const (
	CategoryEmergency = "EMERGENCY_DETECTED"
	CategoryHighRisk  = "HIGH_RISK_SYMPTOM"
	CategorySafe      = "SAFE"
)

// Keyword lists are ordered behavioral contracts: the first match wins, and
// emergency terms are always checked before high-risk symptoms. Reordering
// changes which category a multi-match query resolves to.
var emergencyKeywords = []string{
	"heart attack", "stroke", "suicide", "severe pain",
	"bleeding heavily", "can't breathe", "unconscious",
	"chest pain", "shortness of breath", "sudden paralysis",
	"choking", "overdose", "poisoning", "seizure",
}

var highRiskSymptoms = []string{
	"severe headache", "high fever", "seizure",
	"broken bone", "deep cut", "poisoning",
	"difficulty breathing", "chest pressure", "paralysis",
}

var disallowedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(diagnose me|prescribe me|cure me|treat me)\b`),
	regexp.MustCompile(`(?i)\b(suicide|kill myself|end my life|self-harm)\b`),
	regexp.MustCompile(`(?i)\b(overdose|poison|illegal drugs|abuse)\b`),
	regexp.MustCompile(`(?i)\b(hack|exploit|virus|malware)\b`),
}

var dangerousPhrases = []string{
	"i diagnose you with",
	"you have [",
	"take this medication",
	"prescribe you",
	"you should definitely",
	"ignore your doctor",
	"self-medicate",
	"alternative to",
	"instead of seeing a doctor",
}

const (
	minQueryLen    = 3
	maxQueryLen    = 1000
	minResponseLen = 10

	truncationMarker    = "..."
	maxTruncationMarks  = 3
	maxRepetitionShare  = 0.3
	minResponseWordLen  = 5
	repeatTokenMinChars = 3
)

// SafetyGate runs the pre-generation emergency/validity checks and the
// post-generation response validation.
type SafetyGate struct{}

func NewSafetyGate() *SafetyGate {
	return &SafetyGate{}
}

// CheckEmergency tests the query against the emergency keyword list, then
// the high-risk symptom list. Matching is case-insensitive substring search;
// the first hit short-circuits.
func (g *SafetyGate) CheckEmergency(text string) (bool, string, string) {
	lower := strings.ToLower(text)

	for _, keyword := range emergencyKeywords {
		if strings.Contains(lower, keyword) {
			return true, CategoryEmergency, keyword
		}
	}

	for _, symptom := range highRiskSymptoms {
		if strings.Contains(lower, symptom) {
			return true, CategoryHighRisk, symptom
		}
	}

	return false, CategorySafe, ""
}

// ValidateQuery rejects queries that are too short, too long, or that match
// a disallowed request pattern, in that order.
func (g *SafetyGate) ValidateQuery(text string) (bool, string) {
	length := utf8.RuneCountInString(text)

	if length < minQueryLen {
		return false, "Query too short. Please provide more details."
	}

	if length > maxQueryLen {
		return false, "Query too long. Please keep it under 1000 characters."
	}

	for _, pattern := range disallowedPatterns {
		if pattern.MatchString(text) {
			return false, "This query contains inappropriate requests. Please consult a healthcare professional directly."
		}
	}

	return true, "Valid query"
}

// ValidateResponse reports whether generated text is safe to surface:
// non-degenerate (length, truncation markers, token repetition) and free of
// dangerous medical-advice phrasing.
func (g *SafetyGate) ValidateResponse(response string) bool {
	if len(response) < minResponseLen {
		return false
	}

	if strings.Count(response, truncationMarker) > maxTruncationMarks {
		return false
	}

	lower := strings.ToLower(response)
	words := strings.Fields(lower)
	if len(words) < minResponseWordLen {
		return false
	}

	counts := make(map[string]int)
	maxCount := 0
	for _, word := range words {
		if len(word) <= repeatTokenMinChars {
			continue
		}
		counts[word]++
		if counts[word] > maxCount {
			maxCount = counts[word]
		}
	}
	if float64(maxCount) > float64(len(words))*maxRepetitionShare {
		return false
	}

	for _, phrase := range dangerousPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}

	return true
}
