package schema

// BusinessContext is a bot's configured persona and policy document. It is
// purely descriptive data injected into every reasoning prompt; it carries no
// behavior of its own.
type BusinessContext struct {
	BusinessName       string   `json:"business_name,omitempty"`
	Industry           string   `json:"industry,omitempty"`
	Description        string   `json:"description,omitempty"`
	Tone               string   `json:"tone,omitempty"`
	Language           string   `json:"language,omitempty"`
	Services           []string `json:"services,omitempty"`
	Guidelines         []string `json:"guidelines,omitempty"`
	ProhibitedTopics   []string `json:"prohibited_topics,omitempty"`
	EscalationTriggers []string `json:"escalation_triggers,omitempty"`
	CustomInstructions string   `json:"custom_instructions,omitempty"`
}
