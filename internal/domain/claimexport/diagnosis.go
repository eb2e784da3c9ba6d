package claimexport

import "strings"

// Diagnosis selection is a keyword heuristic that assists coding. It is not
// a certified coder; every resolved pair is flagged for review.

// DefaultPrimaryDiagnosis is used when no category keyword matches.
const DefaultPrimaryDiagnosis = "L97.929"

// InfectionDiagnosis is the secondary code for infected wounds.
const InfectionDiagnosis = "L03.90"

type codeRule struct {
	keywords []string
	code     string
}

// diagnosisCategory matches when any trigger appears in the note. Within a
// matched category the first code rule with a present keyword wins,
// otherwise fallback applies.
type diagnosisCategory struct {
	name     string
	triggers []string
	rules    []codeRule
	fallback string
}

// diagnosisCategories is evaluated in order; the first matching category wins.
var diagnosisCategories = []diagnosisCategory{
	{
		name:     "diabetic",
		triggers: []string{"diabetic", "diabetes"},
		rules:    []codeRule{{keywords: []string{"foot", "heel"}, code: "E11.621"}},
		fallback: "E11.622",
	},
	{
		name:     "pressure",
		triggers: []string{"pressure", "sacral", "coccyx"},
		rules: []codeRule{
			{keywords: []string{"sacral"}, code: "L89.159"},
			{keywords: []string{"heel"}, code: "L89.619"},
		},
		fallback: "L89.90",
	},
	{
		name:     "venous",
		triggers: []string{"venous"},
		fallback: "I83.019",
	},
	{
		name:     "surgical",
		triggers: []string{"surgical", "post-surgical", "incision"},
		fallback: "T81.31XA",
	},
	{
		name:     "traumatic",
		triggers: []string{"traumatic", "trauma"},
		fallback: "S91.009A",
	},
}

var infectionAssessments = map[string]bool{"concern": true, "urgent": true}

var infectionKeywords = []string{"infection", "infected", "purulent", "pus"}

// ResolveDiagnosis maps an encounter's assessment and clinical note to an
// ICD-10 pair. It always returns a primary code.
func ResolveDiagnosis(assessment, note string) DiagnosisCodePair {
	text := strings.ToLower(note)

	pair := DiagnosisCodePair{Primary: DefaultPrimaryDiagnosis}
	if cat, ok := matchCategory(text); ok {
		pair.Primary = cat.resolve(text)
	}

	if infectionAssessments[strings.ToLower(strings.TrimSpace(assessment))] && containsAny(text, infectionKeywords) {
		code := InfectionDiagnosis
		pair.Secondary = &code
	}
	return pair
}

// DiagnosisCategory reports which category a note resolves through, or ""
// when the default applies.
func DiagnosisCategory(note string) string {
	if cat, ok := matchCategory(strings.ToLower(note)); ok {
		return cat.name
	}
	return ""
}

func matchCategory(text string) (diagnosisCategory, bool) {
	for _, cat := range diagnosisCategories {
		if containsAny(text, cat.triggers) {
			return cat, true
		}
	}
	return diagnosisCategory{}, false
}

func (c diagnosisCategory) resolve(text string) string {
	for _, r := range c.rules {
		if containsAny(text, r.keywords) {
			return r.code
		}
	}
	return c.fallback
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
