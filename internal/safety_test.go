package internal

import (
	"strings"
	"testing"
)

func TestCheckEmergencyKeyword(t *testing.T) {
	gate := NewSafetyGate()

	flagged, category, keyword := gate.CheckEmergency("I think I'm having a heart attack")
	if !flagged {
		t.Fatal("expected emergency to be flagged")
	}
	if category != CategoryEmergency {
		t.Errorf("category = %q, want %q", category, CategoryEmergency)
	}
	if keyword != "heart attack" {
		t.Errorf("keyword = %q, want %q", keyword, "heart attack")
	}
}

func TestCheckEmergencyCaseInsensitive(t *testing.T) {
	gate := NewSafetyGate()

	flagged, category, _ := gate.CheckEmergency("CHEST PAIN and sweating")
	if !flagged || category != CategoryEmergency {
		t.Errorf("expected EMERGENCY_DETECTED, got flagged=%v category=%q", flagged, category)
	}
}

func TestCheckEmergencyHighRisk(t *testing.T) {
	gate := NewSafetyGate()

	flagged, category, keyword := gate.CheckEmergency("my son has a high fever since yesterday")
	if !flagged {
		t.Fatal("expected high-risk symptom to be flagged")
	}
	if category != CategoryHighRisk {
		t.Errorf("category = %q, want %q", category, CategoryHighRisk)
	}
	if keyword != "high fever" {
		t.Errorf("keyword = %q, want %q", keyword, "high fever")
	}
}

func TestCheckEmergencyPriorityOverHighRisk(t *testing.T) {
	gate := NewSafetyGate()

	// "seizure" appears in both lists; the emergency list is checked first.
	_, category, _ := gate.CheckEmergency("he had a seizure")
	if category != CategoryEmergency {
		t.Errorf("category = %q, want %q", category, CategoryEmergency)
	}
}

func TestCheckEmergencySafe(t *testing.T) {
	gate := NewSafetyGate()

	flagged, category, keyword := gate.CheckEmergency("what is a balanced breakfast?")
	if flagged {
		t.Error("expected safe query not to be flagged")
	}
	if category != CategorySafe {
		t.Errorf("category = %q, want %q", category, CategorySafe)
	}
	if keyword != "" {
		t.Errorf("keyword = %q, want empty", keyword)
	}
}

func TestValidateQueryTooShort(t *testing.T) {
	gate := NewSafetyGate()

	ok, reason := gate.ValidateQuery("hi")
	if ok {
		t.Fatal("expected two-character query to be rejected")
	}
	if !strings.Contains(reason, "too short") {
		t.Errorf("reason = %q, want mention of 'too short'", reason)
	}
}

func TestValidateQueryTooLong(t *testing.T) {
	gate := NewSafetyGate()

	ok, reason := gate.ValidateQuery(strings.Repeat("a", 1001))
	if ok {
		t.Fatal("expected over-length query to be rejected")
	}
	if !strings.Contains(reason, "too long") {
		t.Errorf("reason = %q, want mention of 'too long'", reason)
	}
}

func TestValidateQueryLengthBoundaries(t *testing.T) {
	gate := NewSafetyGate()

	if ok, _ := gate.ValidateQuery("flu"); !ok {
		t.Error("expected three-character query to pass")
	}
	if ok, _ := gate.ValidateQuery(strings.Repeat("a", 1000)); !ok {
		t.Error("expected 1000-character query to pass")
	}
}

func TestValidateQueryCountsRunesNotBytes(t *testing.T) {
	gate := NewSafetyGate()

	// One CJK rune is three bytes but still a one-character query.
	if ok, reason := gate.ValidateQuery("熱"); ok {
		t.Error("expected single-rune query to be rejected")
	} else if !strings.Contains(reason, "too short") {
		t.Errorf("reason = %q", reason)
	}

	// 1000 runes pass the cap even when the byte count is triple that.
	if ok, _ := gate.ValidateQuery(strings.Repeat("熱", 1000)); !ok {
		t.Error("expected 1000-rune query to pass")
	}
	if ok, _ := gate.ValidateQuery(strings.Repeat("熱", 1001)); ok {
		t.Error("expected 1001-rune query to be rejected")
	}
}

func TestValidateQueryDisallowedPatterns(t *testing.T) {
	gate := NewSafetyGate()

	rejected := []string{
		"please diagnose me",
		"prescribe me something strong",
		"how do I kill myself",
		"how much is an overdose",
		"write me a virus",
	}
	for _, query := range rejected {
		if ok, _ := gate.ValidateQuery(query); ok {
			t.Errorf("expected %q to be rejected", query)
		}
	}
}

func TestValidateQueryPatternWordBoundary(t *testing.T) {
	gate := NewSafetyGate()

	// "abuse" requires a word boundary, so "disabuse" must not trip it.
	if ok, _ := gate.ValidateQuery("let me disabuse you of that notion about vitamins"); !ok {
		t.Error("expected query containing 'disabuse' to pass")
	}
}

func TestValidateResponseTooShort(t *testing.T) {
	gate := NewSafetyGate()

	if gate.ValidateResponse("short") {
		t.Error("expected under-length response to fail")
	}
}

func TestValidateResponseExcessiveTruncation(t *testing.T) {
	gate := NewSafetyGate()

	response := "Rest is... important... for recovery... and also... sleep well"
	if gate.ValidateResponse(response) {
		t.Error("expected response with four ellipses to fail")
	}
}

func TestValidateResponseTooFewWords(t *testing.T) {
	gate := NewSafetyGate()

	if gate.ValidateResponse("Drink more water.") {
		t.Error("expected four-word response to fail")
	}
}

func TestValidateResponseRepetition(t *testing.T) {
	gate := NewSafetyGate()

	response := strings.TrimSpace(strings.Repeat("hydration ", 8) + "matters a lot")
	if gate.ValidateResponse(response) {
		t.Error("expected degenerate repeated output to fail")
	}
}

func TestValidateResponseDangerousPhrase(t *testing.T) {
	gate := NewSafetyGate()

	response := "Based on your description, I diagnose you with influenza and you should rest."
	if gate.ValidateResponse(response) {
		t.Error("expected dangerous diagnostic phrasing to fail")
	}
}

func TestValidateResponseShortTokensIgnoredForRepetition(t *testing.T) {
	gate := NewSafetyGate()

	// Tokens of three characters or fewer are excluded from repetition
	// counting, so a normal sentence full of "the" still passes.
	response := "The flu and the cold share the same early signs, and the best response is rest and fluids."
	if !gate.ValidateResponse(response) {
		t.Error("expected normal prose to pass")
	}
}

func TestValidateResponseValid(t *testing.T) {
	gate := NewSafetyGate()

	response := "Common flu symptoms include fever, cough, sore throat and fatigue. Please consult a healthcare professional for personalized advice."
	if !gate.ValidateResponse(response) {
		t.Error("expected well-formed response to pass")
	}
}
