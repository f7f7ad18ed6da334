package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/parleyhq/parley/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Graphs ---

func (s *LibSQLStore) CreateGraph(ctx context.Context, g *Graph) error {
	def, err := json.Marshal(g.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graphs (id, name, description, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, description=excluded.description,
		   definition=excluded.definition, updated_at=CURRENT_TIMESTAMP`,
		g.ID, g.Name, nullStr(g.Description), string(def),
		timeOrNow(g.CreatedAt), timeOrNow(g.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetGraph(ctx context.Context, id string) (*Graph, error) {
	g := &Graph{}
	var desc sql.NullString
	var defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, definition, created_at, updated_at FROM graphs WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &desc, &defJSON, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("graph", id)
	}
	if err != nil {
		return nil, err
	}
	g.Description = desc.String
	if err := json.Unmarshal([]byte(defJSON), &g.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return g, nil
}

func (s *LibSQLStore) ListGraphs(ctx context.Context) ([]*Graph, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, definition, created_at, updated_at FROM graphs ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var graphs []*Graph
	for rows.Next() {
		g := &Graph{}
		var desc sql.NullString
		var defJSON string
		if err := rows.Scan(&g.ID, &g.Name, &desc, &defJSON, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Description = desc.String
		if err := json.Unmarshal([]byte(defJSON), &g.Definition); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		graphs = append(graphs, g)
	}
	return graphs, rows.Err()
}

func (s *LibSQLStore) DeleteGraph(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM graphs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "graph", id)
}

// --- Bots ---

func (s *LibSQLStore) RegisterBot(ctx context.Context, b *Bot) error {
	persona, err := json.Marshal(b.Persona)
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bots (id, org_id, name, graph_id, persona, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   org_id=excluded.org_id, name=excluded.name, graph_id=excluded.graph_id,
		   persona=excluded.persona, updated_at=CURRENT_TIMESTAMP`,
		b.ID, b.OrgID, b.Name, b.GraphID, string(persona),
		timeOrNow(b.CreatedAt), timeOrNow(b.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetBot(ctx context.Context, id string) (*Bot, error) {
	b := &Bot{}
	var persona sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, graph_id, persona, created_at, updated_at FROM bots WHERE id = ?`, id,
	).Scan(&b.ID, &b.OrgID, &b.Name, &b.GraphID, &persona, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("bot", id)
	}
	if err != nil {
		return nil, err
	}
	if persona.Valid && persona.String != "" {
		if err := json.Unmarshal([]byte(persona.String), &b.Persona); err != nil {
			return nil, fmt.Errorf("unmarshal persona: %w", err)
		}
	}
	return b, nil
}

func (s *LibSQLStore) ListBots(ctx context.Context) ([]*Bot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, name, graph_id, persona, created_at, updated_at FROM bots ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []*Bot
	for rows.Next() {
		b := &Bot{}
		var persona sql.NullString
		if err := rows.Scan(&b.ID, &b.OrgID, &b.Name, &b.GraphID, &persona, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if persona.Valid && persona.String != "" {
			if err := json.Unmarshal([]byte(persona.String), &b.Persona); err != nil {
				return nil, fmt.Errorf("unmarshal persona: %w", err)
			}
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// --- Sessions ---

const sessionColumns = `id, bot_id, contact_id, graph_id, current_node_id, status, variables, version, created_at, last_activity_at, ended_at`

func (s *LibSQLStore) CreateSession(ctx context.Context, sess *Session) error {
	vars, err := marshalMapOrDefault(sess.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.BotID, sess.ContactID, sess.GraphID, sess.CurrentNodeID,
		string(sess.Status), string(vars), sess.Version,
		timeOrNow(sess.CreatedAt), timeOrNow(sess.LastActivityAt), nullTime(sess.EndedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"active session already exists for bot %q and contact %q", sess.BotID, sess.ContactID).
			WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", id)
	}
	return sess, err
}

func (s *LibSQLStore) FindActiveSession(ctx context.Context, botID, contactID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE bot_id = ? AND contact_id = ? AND status = 'active'`,
		botID, contactID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("active session", botID+"/"+contactID)
	}
	return sess, err
}

func (s *LibSQLStore) UpdateSession(ctx context.Context, id string, patch SessionPatch, expectedVersion int64) error {
	var sets []string
	var args []any

	if patch.CurrentNodeID != nil {
		sets = append(sets, "current_node_id = ?")
		args = append(args, *patch.CurrentNodeID)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Variables != nil {
		vars, err := marshalMapOrDefault(patch.Variables)
		if err != nil {
			return fmt.Errorf("marshal variables: %w", err)
		}
		sets = append(sets, "variables = ?")
		args = append(args, string(vars))
	}
	if patch.LastActivityAt != nil {
		sets = append(sets, "last_activity_at = ?")
		args = append(args, *patch.LastActivityAt)
	}
	if patch.EndedAt != nil {
		sets = append(sets, "ended_at = ?")
		args = append(args, *patch.EndedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "version = version + 1")
	args = append(args, id, expectedVersion)

	query := fmt.Sprintf("UPDATE sessions SET %s WHERE id = ? AND version = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Distinguish a stale version from a missing row.
	var current int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM sessions WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return storeNotFound("session", id)
	}
	if err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeVersionConflict,
		"session %q version mismatch: expected %d, found %d", id, expectedVersion, current)
}

func (s *LibSQLStore) ListIdleSessions(ctx context.Context, before time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = 'active' AND last_activity_at < ?
		 ORDER BY last_activity_at ASC`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	var status, varsJSON string
	var endedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.BotID, &sess.ContactID, &sess.GraphID, &sess.CurrentNodeID,
		&status, &varsJSON, &sess.Version, &sess.CreatedAt, &sess.LastActivityAt, &endedAt)
	if err != nil {
		return nil, err
	}
	sess.Status = schema.SessionStatus(status)
	if varsJSON != "" {
		_ = json.Unmarshal([]byte(varsJSON), &sess.Variables)
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return sess, nil
}

// --- Messages ---

func (s *LibSQLStore) AppendMessage(ctx context.Context, m *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE session_id = ?`, m.SessionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	m.Sequence = seq
	ts := timeOrNow(m.CreatedAt)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, node_id, sequence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.SessionID, string(m.Role), m.Content, nullStr(m.NodeID), seq, ts,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (s *LibSQLStore) ListMessages(ctx context.Context, sessionID string, since int64) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, node_id, sequence, created_at
		 FROM messages WHERE session_id = ? AND sequence > ? ORDER BY sequence ASC`,
		sessionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var role string
		var nodeID sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &nodeID, &m.Sequence, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = schema.MessageRole(role)
		m.NodeID = nodeID.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// --- Bookings ---

func (s *LibSQLStore) CreateBooking(ctx context.Context, b *Booking) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bookings (id, session_id, node_id, calendar_id, status, options, slot_start, slot_end, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.SessionID, b.NodeID, nullStr(b.CalendarID), string(b.Status),
		nullRaw(b.Options), nullTime(b.SlotStart), nullTime(b.SlotEnd),
		timeOrNow(b.CreatedAt), timeOrNow(b.UpdatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"open booking already exists for session %q node %q", b.SessionID, b.NodeID).
			WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetOpenBooking(ctx context.Context, sessionID, nodeID string) (*Booking, error) {
	b := &Booking{}
	var calendarID, options sql.NullString
	var status string
	var slotStart, slotEnd sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, node_id, calendar_id, status, options, slot_start, slot_end, created_at, updated_at
		 FROM bookings WHERE session_id = ? AND node_id = ? AND status = 'proposed'`,
		sessionID, nodeID,
	).Scan(&b.ID, &b.SessionID, &b.NodeID, &calendarID, &status, &options,
		&slotStart, &slotEnd, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("open booking", sessionID+"/"+nodeID)
	}
	if err != nil {
		return nil, err
	}
	b.CalendarID = calendarID.String
	b.Status = schema.BookingStatus(status)
	b.Options = rawOrNil(options)
	if slotStart.Valid {
		b.SlotStart = &slotStart.Time
	}
	if slotEnd.Valid {
		b.SlotEnd = &slotEnd.Time
	}
	return b, nil
}

func (s *LibSQLStore) UpdateBooking(ctx context.Context, id string, patch BookingPatch) error {
	var sets []string
	var args []any

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.CalendarID != nil {
		sets = append(sets, "calendar_id = ?")
		args = append(args, *patch.CalendarID)
	}
	if patch.Options != nil {
		sets = append(sets, "options = ?")
		args = append(args, string(patch.Options))
	}
	if patch.SlotStart != nil {
		sets = append(sets, "slot_start = ?")
		args = append(args, *patch.SlotStart)
	}
	if patch.SlotEnd != nil {
		sets = append(sets, "slot_end = ?")
		args = append(args, *patch.SlotEnd)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE bookings SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "booking", id)
}

// --- Goal Evaluations ---

func (s *LibSQLStore) LogGoalEvaluation(ctx context.Context, e *GoalEvaluation) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO goal_evaluations (session_id, node_id, achieved, confidence, outcome, reasoning, extracted_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.NodeID, e.Achieved, e.Confidence,
		nullStr(e.Outcome), nullStr(e.Reasoning), nullRaw(e.ExtractedData),
		timeOrNow(e.CreatedAt),
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (s *LibSQLStore) ListGoalEvaluations(ctx context.Context, sessionID string) ([]*GoalEvaluation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, node_id, achieved, confidence, outcome, reasoning, extracted_data, created_at
		 FROM goal_evaluations WHERE session_id = ? ORDER BY id ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*GoalEvaluation
	for rows.Next() {
		e := &GoalEvaluation{}
		var outcome, reasoning, extracted sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.NodeID, &e.Achieved, &e.Confidence,
			&outcome, &reasoning, &extracted, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Outcome = outcome.String
		e.Reasoning = reasoning.String
		e.ExtractedData = rawOrNil(extracted)
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

// --- Credentials ---

func (s *LibSQLStore) PutCredential(ctx context.Context, orgID string, ciphertext []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (org_id, ciphertext, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(org_id) DO UPDATE SET ciphertext=excluded.ciphertext, rotated_at=CURRENT_TIMESTAMP`,
		orgID, ciphertext,
	)
	return err
}

func (s *LibSQLStore) GetCredential(ctx context.Context, orgID string) ([]byte, error) {
	var ciphertext []byte
	err := s.db.QueryRowContext(ctx, `SELECT ciphertext FROM credentials WHERE org_id = ?`, orgID).Scan(&ciphertext)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("credential", orgID)
	}
	return ciphertext, err
}

func (s *LibSQLStore) DeleteCredential(ctx context.Context, orgID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE org_id = ?`, orgID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "credential", orgID)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
