package store

import (
	"encoding/json"
	"time"

	"github.com/parleyhq/parley/pkg/schema"
)

// Graph is a persisted workflow graph definition.
type Graph struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Definition  schema.GraphDefinition `json:"definition"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Bot is a configured chatbot: a persona bound to a primary workflow graph
// within an organization.
type Bot struct {
	ID        string                 `json:"id"`
	OrgID     string                 `json:"org_id"`
	Name      string                 `json:"name"`
	GraphID   string                 `json:"graph_id"`
	Persona   schema.BusinessContext `json:"persona"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Session is one conversation between a contact and a bot. Variables hold
// accumulated state; Version is a monotonic counter bumped on every update
// and used for optimistic concurrency control.
type Session struct {
	ID             string               `json:"id"`
	BotID          string               `json:"bot_id"`
	ContactID      string               `json:"contact_id"`
	GraphID        string               `json:"graph_id"`
	CurrentNodeID  string               `json:"current_node_id"`
	Status         schema.SessionStatus `json:"status"`
	Variables      map[string]any       `json:"variables,omitempty"`
	Version        int64                `json:"version"`
	CreatedAt      time.Time            `json:"created_at"`
	LastActivityAt time.Time            `json:"last_activity_at"`
	EndedAt        *time.Time           `json:"ended_at,omitempty"`
}

// SessionPatch specifies mutable session fields. Variables, when non-nil,
// replaces the whole variable map.
type SessionPatch struct {
	CurrentNodeID  *string               `json:"current_node_id,omitempty"`
	Status         *schema.SessionStatus `json:"status,omitempty"`
	Variables      map[string]any        `json:"variables,omitempty"`
	LastActivityAt *time.Time            `json:"last_activity_at,omitempty"`
	EndedAt        *time.Time            `json:"ended_at,omitempty"`
}

// Message is an immutable entry in a session's conversation log.
type Message struct {
	ID        int64              `json:"id"`
	SessionID string             `json:"session_id"`
	Role      schema.MessageRole `json:"role"`
	Content   string             `json:"content"`
	NodeID    string             `json:"node_id,omitempty"`
	Sequence  int64              `json:"sequence"`
	CreatedAt time.Time          `json:"created_at"`
}

// Booking is an appointment negotiation anchored to an appointment node.
// At most one open (proposed) row exists per (session, node).
type Booking struct {
	ID         string               `json:"id"`
	SessionID  string               `json:"session_id"`
	NodeID     string               `json:"node_id"`
	CalendarID string               `json:"calendar_id,omitempty"`
	Status     schema.BookingStatus `json:"status"`
	Options    json.RawMessage      `json:"options,omitempty"` // proposed slots
	SlotStart  *time.Time           `json:"slot_start,omitempty"`
	SlotEnd    *time.Time           `json:"slot_end,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// BookingPatch specifies mutable booking fields.
type BookingPatch struct {
	Status     *schema.BookingStatus `json:"status,omitempty"`
	CalendarID *string               `json:"calendar_id,omitempty"`
	Options    json.RawMessage       `json:"options,omitempty"`
	SlotStart  *time.Time            `json:"slot_start,omitempty"`
	SlotEnd    *time.Time            `json:"slot_end,omitempty"`
}

// GoalEvaluation is an audit record of one reasoning call against a
// milestone goal.
type GoalEvaluation struct {
	ID            int64           `json:"id"`
	SessionID     string          `json:"session_id"`
	NodeID        string          `json:"node_id"`
	Achieved      bool            `json:"achieved"`
	Confidence    int             `json:"confidence"`
	Outcome       string          `json:"outcome,omitempty"`
	Reasoning     string          `json:"reasoning,omitempty"`
	ExtractedData json.RawMessage `json:"extracted_data,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
