package knowledge

// Entry is one record of the localization term dictionary. The JSON field
// names follow the external knowledge-base file format, which this service
// reads but never writes.
type Entry struct {
	Term         string   `json:"term"`
	Definition   string   `json:"definition"`
	ToneAdvice   string   `json:"tone_advice"`
	Suggestions  []string `json:"suggestions"`
	LocalContext string   `json:"local_context,omitempty"`
}

// Scenario is one record of the emotion-scenario knowledge base. Keyword and
// emotion data nest under contextual_analysis in the source files.
type Scenario struct {
	Category           string             `json:"category"`
	ContextualAnalysis ContextualAnalysis `json:"contextual_analysis"`
	ActionGuideline    string             `json:"ai_action_guideline"`
	LocalizationNote   string             `json:"localization_note"`
}

// ContextualAnalysis holds the matchable payload of a Scenario.
type ContextualAnalysis struct {
	Keywords       []string `json:"keywords"`
	CulturalClue   string   `json:"cultural_clue"`
	CorrectEmotion string   `json:"correct_emotion"`
	RiskLevel      string   `json:"risk_level"`
}
