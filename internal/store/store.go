package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Graphs
	CreateGraph(ctx context.Context, g *Graph) error
	GetGraph(ctx context.Context, id string) (*Graph, error)
	ListGraphs(ctx context.Context) ([]*Graph, error)
	DeleteGraph(ctx context.Context, id string) error

	// Bots
	RegisterBot(ctx context.Context, b *Bot) error
	GetBot(ctx context.Context, id string) (*Bot, error)
	ListBots(ctx context.Context) ([]*Bot, error)

	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	FindActiveSession(ctx context.Context, botID, contactID string) (*Session, error)
	// UpdateSession applies patch only when the stored version matches
	// expectedVersion, then bumps the version. A mismatch returns a
	// VERSION_CONFLICT error.
	UpdateSession(ctx context.Context, id string, patch SessionPatch, expectedVersion int64) error
	ListIdleSessions(ctx context.Context, before time.Time) ([]*Session, error)

	// Messages (append-only)
	AppendMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, sessionID string, since int64) ([]*Message, error)

	// Bookings
	CreateBooking(ctx context.Context, b *Booking) error
	GetOpenBooking(ctx context.Context, sessionID, nodeID string) (*Booking, error)
	UpdateBooking(ctx context.Context, id string, patch BookingPatch) error

	// Goal evaluations (append-only audit trail)
	LogGoalEvaluation(ctx context.Context, e *GoalEvaluation) error
	ListGoalEvaluations(ctx context.Context, sessionID string) ([]*GoalEvaluation, error)

	// Credentials (encrypted blobs, one per organization)
	PutCredential(ctx context.Context, orgID string, ciphertext []byte) error
	GetCredential(ctx context.Context, orgID string) ([]byte, error)
	DeleteCredential(ctx context.Context, orgID string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
