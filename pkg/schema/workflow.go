package schema

import "encoding/json"

// GraphDefinition is the JSON-serializable workflow graph format produced by
// the workflow builder and consumed by the engine.
type GraphDefinition struct {
	Nodes    []NodeDefinition `json:"nodes"`
	Edges    []EdgeDefinition `json:"edges,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// NodeDefinition describes a single node in a workflow graph.
type NodeDefinition struct {
	ID     string          `json:"id"`
	Type   NodeType        `json:"type"`
	Title  string          `json:"title,omitempty"`
	Entry  bool            `json:"entry,omitempty"`  // explicit entry marker; at most one per graph
	Config json.RawMessage `json:"config,omitempty"` // type-specific config block
}

// EdgeDefinition is a directed, optionally tagged connection between nodes.
// Edge order is significant: the engine takes the first matching edge in
// declared order.
type EdgeDefinition struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Tag    string `json:"tag,omitempty"` // empty = matches any resolved tag
}

// NodeType enumerates the kinds of nodes in a workflow graph.
type NodeType string

const (
	NodeTypeMilestone   NodeType = "milestone"
	NodeTypeStart       NodeType = "start"
	NodeTypeMessage     NodeType = "message"
	NodeTypeAppointment NodeType = "appointment"
	NodeTypeCondition   NodeType = "condition"
	NodeTypeVariable    NodeType = "variable"
	NodeTypeAction      NodeType = "action"
	NodeTypeCRMAction   NodeType = "crm_action"
	NodeTypeAI          NodeType = "ai"
	NodeTypeEnd         NodeType = "end"
)

// Edge tags with engine-level meaning. Condition nodes may declare
// additional custom tags matching their condition labels.
const (
	EdgeTagStandard        = "standard"
	EdgeTagTrue            = "true"
	EdgeTagFalse           = "false"
	EdgeTagGoalAchieved    = "goal_achieved"
	EdgeTagGoalNotAchieved = "goal_not_achieved"
)

// MilestoneConfig is the config block for milestone nodes.
type MilestoneConfig struct {
	Goal             string   `json:"goal"`
	PossibleOutcomes []string `json:"possible_outcomes,omitempty"`
}

// MessageConfig is the config block for message nodes. The text is delivered
// naturally by the model, not verbatim.
type MessageConfig struct {
	Text string `json:"text"`
}

// AppointmentConfig is the config block for appointment nodes.
type AppointmentConfig struct {
	CalendarID         string `json:"calendar_id,omitempty"` // pin a calendar; empty = auto-select
	MaxOptions         int    `json:"max_options,omitempty"` // proposed slots per round (default 3)
	DefaultDurationMin int    `json:"default_duration_min,omitempty"`
}

// ConditionKind enumerates the supported condition evaluators, checked in
// the declared order of ConditionConfig.Conditions.
type ConditionKind string

const (
	ConditionKeyword    ConditionKind = "keyword"
	ConditionSentiment  ConditionKind = "sentiment"
	ConditionIntent     ConditionKind = "intent"
	ConditionData       ConditionKind = "data"
	ConditionExpression ConditionKind = "expression"
	ConditionCustom     ConditionKind = "custom"
)

// ConditionSpec is one typed condition attached to a condition node. The
// first spec that evaluates true selects the edge carrying its tag.
type ConditionSpec struct {
	Kind     ConditionKind `json:"kind"`
	Tag      string        `json:"tag"`                // edge tag selected when true
	Keywords []string      `json:"keywords,omitempty"` // keyword: case-insensitive containment
	Expected []string      `json:"expected,omitempty"` // sentiment/intent: accepted labels
	DataType string        `json:"data_type,omitempty"` // data: email|phone|date|time|number, or a variable name
	Language string        `json:"language,omitempty"`  // expression: cel (default) or expr
	Source   string        `json:"source,omitempty"`    // expression text, or custom natural-language logic
}

// ConditionConfig is the config block for condition nodes.
type ConditionConfig struct {
	Conditions []ConditionSpec `json:"conditions"`
}

// VariableConfig is the config block for variable nodes. Value may contain
// {{name}} placeholders resolved against session variables.
type VariableConfig struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ActionConfig is the config block for action and crm_action nodes.
type ActionConfig struct {
	Kind      string          `json:"kind"` // add_tags | update_contact | webhook
	Tags      []string        `json:"tags,omitempty"`
	Fields    map[string]any  `json:"fields,omitempty"`
	URL       string          `json:"url,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Transform string          `json:"transform,omitempty"` // optional jq expression applied to the payload
}

// AIConfig is the config block for ai nodes.
type AIConfig struct {
	Instructions string `json:"instructions,omitempty"`
}

// EndConfig is the config block for end nodes.
type EndConfig struct {
	ClosingMessage string `json:"closing_message,omitempty"`
}
