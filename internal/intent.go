package internal

import "strings"

// Intent labels for a classified query.
const (
	IntentSymptomCheck    = "symptom_check"
	IntentMedicationInfo  = "medication_info"
	IntentConditionInfo   = "condition_info"
	IntentLifestyleAdvice = "lifestyle_advice"
	IntentPrevention      = "prevention"
	IntentEmergency       = "emergency"
	IntentGeneralHealth   = "general_health"
)

type intentCategory struct {
	intent   string
	keywords []string
}

// Categories are checked in this priority order; the first category with any
// matching keyword wins. The order is load-bearing for multi-match queries.
var intentCategories = []intentCategory{
	{IntentSymptomCheck, []string{"symptom", "pain", "hurt", "ache", "fever", "headache", "cough", "sore", "feel"}},
	{IntentMedicationInfo, []string{"medicine", "medication", "drug", "pill", "dose", "prescription", "side effect"}},
	{IntentConditionInfo, []string{"disease", "condition", "illness", "diagnosis", "what is", "what are", "cause of"}},
	{IntentLifestyleAdvice, []string{"diet", "exercise", "sleep", "healthy", "nutrition", "weight", "fitness", "lifestyle"}},
	{IntentPrevention, []string{"prevent", "avoid", "reduce risk", "protection", "vaccine"}},
	{IntentEmergency, []string{"emergency", "urgent", "911", "heart attack", "stroke", "severe", "bleeding", "can't breathe"}},
}

// ClassifyIntent maps a query to an intent label by ordered keyword
// matching. Unmatched queries default to general_health.
func ClassifyIntent(query string) string {
	lower := strings.ToLower(query)

	for _, category := range intentCategories {
		for _, keyword := range category.keywords {
			if strings.Contains(lower, keyword) {
				return category.intent
			}
		}
	}

	return IntentGeneralHealth
}
