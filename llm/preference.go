package llm

// ModelPreferences expresses caller priorities used by Matcher.Best,
// grounded on the teacher's genai/llm/preference.go.
type ModelPreferences struct {
	IntelligencePriority float64
	SpeedPriority        float64
	CostPriority         float64
	Hints                []string
}

// NewModelPreferences returns balanced default preferences.
func NewModelPreferences() *ModelPreferences {
	return &ModelPreferences{IntelligencePriority: 0.5, SpeedPriority: 0.5, CostPriority: 0.5}
}
