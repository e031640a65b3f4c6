package internal

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

type piiPattern struct {
	name    string
	pattern *regexp.Regexp
	tag     string
}

// Patterns are applied in this fixed order. Earlier types claim overlapping
// spans (an SSN-shaped number inside a longer digit run is masked by
// whichever pattern ran first).
var piiPatterns = []piiPattern{
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "EMAIL"},
	{"phone", regexp.MustCompile(`\b(\+\d{1,3}[-.]?)?\(?\d{3}\)?[-.]?\d{3}[-.]?\d{4}\b`), "PHONE"},
	{"ssn", regexp.MustCompile(`\b\d{3}[-.]?\d{2}[-.]?\d{4}\b`), "SSN"},
	{"credit_card", regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`), "CARD"},
}

// PIIRedactor masks personally identifying substrings before a query is
// logged or persisted, replacing only the matched spans so the surrounding
// text remains usable for retrieval and intent classification.
type PIIRedactor struct{}

func NewPIIRedactor() *PIIRedactor {
	return &PIIRedactor{}
}

// DetectAndMask returns the masked text and the list of detected PII types.
// Each occurrence gets a placeholder tagged with its type and a short hash
// of the original value, so character-identical values collapse to the same
// placeholder while distinct values stay distinguishable.
func (r *PIIRedactor) DetectAndMask(text string) (string, []string) {
	if text == "" {
		return text, nil
	}

	masked := text
	var detected []string

	for _, p := range piiPatterns {
		matches := p.pattern.FindAllString(masked, -1)
		if len(matches) == 0 {
			continue
		}

		detected = append(detected, p.name)
		for _, value := range matches {
			placeholder := fmt.Sprintf("[%s_%s]", p.tag, shortHash(value))
			masked = strings.ReplaceAll(masked, value, placeholder)
		}
	}

	return masked, detected
}

// ContainsPII reports detected types without rewriting the text.
func (r *PIIRedactor) ContainsPII(text string) (bool, []string) {
	var detected []string
	for _, p := range piiPatterns {
		if p.pattern.MatchString(text) {
			detected = append(detected, p.name)
		}
	}
	return len(detected) > 0, detected
}

func shortHash(value string) string {
	sum := md5.Sum([]byte(value))
	return hex.EncodeToString(sum[:])[:8]
}
