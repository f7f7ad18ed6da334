// Package engine orchestrates conversation turns: it resolves the session,
// dispatches the current node through the handler registry, follows edges,
// and persists the outcome with optimistic concurrency.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/booking"
	"github.com/parleyhq/parley/internal/crm"
	"github.com/parleyhq/parley/internal/expressions"
	"github.com/parleyhq/parley/internal/graph"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/reasoning"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/pkg/schema"
)

const (
	// maxStepsPerTurn caps auto-advance chains within one turn.
	maxStepsPerTurn = 10
	// maxHistoryTurns bounds the conversation window sent to the model.
	maxHistoryTurns = 30

	// User-safe replies for failure modes. The session is never advanced
	// when one of these is returned, so a retry of the same message is safe.
	apologyReply   = "I'm sorry, something went wrong on my end. Could you send that again?"
	lostTrackReply = "I'm sorry, I seem to have lost track of our conversation. Please reach out to us directly and we'll help you right away."
)

// Request is one inbound customer message.
type Request struct {
	BotID     string `json:"bot_id"`
	ContactID string `json:"contact_id"`
	Message   string `json:"message"`
	// SessionID optionally resumes a specific session. A message to an ended
	// session starts a fresh one.
	SessionID string `json:"session_id,omitempty"`
}

// Reply is the engine's response to one turn.
type Reply struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// Engine executes conversation turns against workflow graphs.
type Engine struct {
	store    store.Store
	registry *Registry
	effects  *SideEffectRunner
	sink     EventSink
	logger   *slog.Logger
	now      func() time.Time

	// Per-session locks serialize turns; a session has a single writer.
	locks sync.Map // string -> *sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink sets the event sink for all turns. Per-turn sinks via
// ProcessMessageWithSink override it.
func WithSink(s EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock pins the clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRegistry substitutes the handler registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// New creates an Engine with the default handler registry wired to the given
// collaborators.
func New(st store.Store, svc *reasoning.Service, crmClient crm.Client, bookingModule *booking.Module, opts ...Option) (*Engine, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:    st,
		registry: NewRegistry(),
		effects:  NewSideEffectRunner(8, nil),
		sink:     NopSink{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.registry.Register(schema.NodeTypeMilestone, NewMilestoneHandler(svc, st))
	e.registry.Register(schema.NodeTypeStart, HandlerFunc(startNode))
	e.registry.Register(schema.NodeTypeMessage, NewMessageHandler(svc, e.logger))
	e.registry.Register(schema.NodeTypeAppointment, NewAppointmentHandler(bookingModule))
	e.registry.Register(schema.NodeTypeCondition, NewConditionHandler(svc, celEngine, expressions.NewExprEngine(), e.logger))
	e.registry.Register(schema.NodeTypeVariable, NewVariableHandler())
	e.registry.Register(schema.NodeTypeAction, NewActionHandler(crmClient, expressions.NewGoJQEngine()))
	e.registry.Register(schema.NodeTypeCRMAction, NewActionHandler(crmClient, expressions.NewGoJQEngine()))
	e.registry.Register(schema.NodeTypeAI, NewAIHandler(svc))
	e.registry.Register(schema.NodeTypeEnd, NewEndHandler())

	return e, nil
}

// startNode is a pure pass-through: greetings live in the nodes it points at.
func startNode(context.Context, *ExecContext) (*NodeResult, error) {
	return &NodeResult{EdgeTag: schema.EdgeTagStandard, Continue: true}, nil
}

// Shutdown drains in-flight side effects.
func (e *Engine) Shutdown() {
	e.effects.Shutdown()
}

// ProcessMessage runs one conversation turn.
func (e *Engine) ProcessMessage(ctx context.Context, req Request) (*Reply, error) {
	return e.ProcessMessageWithSink(ctx, req, e.sink)
}

// ProcessMessageWithSink runs one turn, emitting events to the given sink.
func (e *Engine) ProcessMessageWithSink(ctx context.Context, req Request, sink EventSink) (*Reply, error) {
	if req.BotID == "" || req.ContactID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "bot_id and contact_id are required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "message must not be empty")
	}
	if sink == nil {
		sink = NopSink{}
	}

	bot, err := e.store.GetBot(ctx, req.BotID)
	if err != nil {
		return nil, err
	}

	// One writer per conversation. The lock key is the conversation identity
	// so session creation races are serialized too.
	mu := e.lockFor(req.BotID + "/" + req.ContactID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.resolveSession(ctx, bot, req)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithIDs(ctx, sess.ID, "", bot.ID)
	return e.runTurn(ctx, bot, sess, req.Message, sink)
}

func (e *Engine) lockFor(key string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// resolveSession resumes the contact's active session or creates one at the
// graph entry. A requested session that has ended rolls over to a new one.
func (e *Engine) resolveSession(ctx context.Context, bot *store.Bot, req Request) (*store.Session, error) {
	if req.SessionID != "" {
		sess, err := e.store.GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if sess.Status == schema.SessionStatusActive {
			return sess, nil
		}
		// Ended session: fall through to resume-or-create for the contact.
	}

	sess, err := e.store.FindActiveSession(ctx, bot.ID, req.ContactID)
	if err == nil {
		return sess, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	return e.createSession(ctx, bot, req.ContactID)
}

func (e *Engine) createSession(ctx context.Context, bot *store.Bot, contactID string) (*store.Session, error) {
	g, err := e.loadGraph(ctx, bot.GraphID)
	if err != nil {
		return nil, err
	}
	if g.EntryImplicit() {
		e.logger.WarnContext(ctx, "graph has no explicit entry node, using fallback",
			"graph_id", bot.GraphID, "entry", g.Entry().ID)
	}

	now := e.now()
	sess := &store.Session{
		ID:             uuid.NewString(),
		BotID:          bot.ID,
		ContactID:      contactID,
		GraphID:        bot.GraphID,
		CurrentNodeID:  g.Entry().ID,
		Status:         schema.SessionStatusActive,
		Variables:      map[string]any{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "session created",
		"session_id", sess.ID, "bot_id", bot.ID, "entry_node", sess.CurrentNodeID)
	return sess, nil
}

func (e *Engine) loadGraph(ctx context.Context, graphID string) (*graph.Graph, error) {
	stored, err := e.store.GetGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	return graph.ParseGraph(&stored.Definition)
}

// runTurn appends the user message, walks the graph from the current node,
// and persists the outcome. Handler failures produce an apologetic reply
// without advancing the session; graph integrity failures produce a terminal
// reply.
func (e *Engine) runTurn(ctx context.Context, bot *store.Bot, sess *store.Session, message string, sink EventSink) (*Reply, error) {
	if err := e.store.AppendMessage(ctx, &store.Message{
		SessionID: sess.ID,
		Role:      schema.RoleUser,
		Content:   message,
	}); err != nil {
		return nil, err
	}

	g, err := e.loadGraph(ctx, sess.GraphID)
	if err != nil {
		e.logger.ErrorContext(ctx, "graph unloadable for session",
			"graph_id", sess.GraphID, "error", err)
		e.emitError(sink, sess.ID, "", err)
		return &Reply{Text: lostTrackReply, SessionID: sess.ID}, nil
	}

	currentID := sess.CurrentNodeID
	if currentID == "" {
		currentID = g.Entry().ID
	}
	if _, ok := g.Node(currentID); !ok {
		e.logger.ErrorContext(ctx, "session points at a node missing from the graph",
			"node_id", currentID, "graph_id", sess.GraphID)
		e.emitError(sink, sess.ID, currentID,
			schema.NewErrorf(schema.ErrCodeGraph, "node %q not in graph", currentID))
		return &Reply{Text: lostTrackReply, SessionID: sess.ID}, nil
	}

	history, err := e.loadHistory(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]any, len(sess.Variables))
	for k, v := range sess.Variables {
		vars[k] = v
	}

	var replies []string
	var endSession bool
	lastNodeID := currentID

	for step := 0; step < maxStepsPerTurn; step++ {
		node, _ := g.Node(currentID)
		lastNodeID = currentID
		nodeCtx := logging.WithNodeID(ctx, node.ID)

		sink.Emit(Event{
			Type: schema.EventNodeExecution, SessionID: sess.ID, NodeID: node.ID,
			Data:      map[string]any{"node_type": string(node.Type), "step": step},
			Timestamp: e.now(),
		})

		res, err := e.dispatch(nodeCtx, &ExecContext{
			Session: sess, Bot: bot, Graph: g, Node: node,
			Message: message, History: history, Variables: vars, Sink: sink,
		})
		if err != nil {
			e.logger.ErrorContext(nodeCtx, "node dispatch failed",
				"node_type", string(node.Type), "error", err)
			e.emitError(sink, sess.ID, node.ID, err)
			return &Reply{Text: apologyReply, SessionID: sess.ID}, nil
		}

		if res.Reply != "" {
			replies = append(replies, res.Reply)
			sink.Emit(Event{
				Type: schema.EventMessage, SessionID: sess.ID, NodeID: node.ID,
				Data:      map[string]any{"content": res.Reply},
				Timestamp: e.now(),
			})
		}
		for k, v := range res.VariableUpdates {
			vars[k] = v
			sink.Emit(Event{
				Type: schema.EventVariableUpdate, SessionID: sess.ID, NodeID: node.ID,
				Data:      map[string]any{"name": k, "value": v},
				Timestamp: e.now(),
			})
		}
		for _, effect := range res.SideEffects {
			if err := e.effects.Submit(nodeCtx, effect); err != nil {
				e.logger.WarnContext(nodeCtx, "side effect not scheduled",
					"effect", effect.Name, "error", err)
				continue
			}
			sink.Emit(Event{
				Type: schema.EventBackendLog, SessionID: sess.ID, NodeID: node.ID,
				Data:      map[string]any{"message": "scheduled " + effect.Name},
				Timestamp: e.now(),
			})
		}

		if res.EndSession {
			endSession = true
			break
		}

		next := res.NextNodeID
		if next == "" && res.EdgeTag != "" {
			if edge, ok := g.ResolveEdge(node.ID, res.EdgeTag); ok {
				next = edge.Target
			}
		}
		if next == "" || next == currentID {
			break
		}
		if _, ok := g.Node(next); !ok {
			e.emitError(sink, sess.ID, node.ID,
				schema.NewErrorf(schema.ErrCodeGraph, "edge target %q not in graph", next))
			return &Reply{Text: lostTrackReply, SessionID: sess.ID}, nil
		}
		currentID = next

		if !res.Continue {
			break
		}
		if step == maxStepsPerTurn-1 {
			e.logger.ErrorContext(ctx, "turn exceeded step ceiling",
				"session_id", sess.ID, "node_id", currentID)
		}
	}

	if err := e.persistTurn(ctx, sess, currentID, vars, endSession); err != nil {
		return nil, err
	}

	text := strings.Join(replies, "\n\n")
	if text != "" {
		if err := e.store.AppendMessage(ctx, &store.Message{
			SessionID: sess.ID,
			Role:      schema.RoleAssistant,
			Content:   text,
			NodeID:    lastNodeID,
		}); err != nil {
			return nil, err
		}
	}

	sink.Emit(Event{
		Type: schema.EventComplete, SessionID: sess.ID, NodeID: currentID,
		Data:      map[string]any{"ended": endSession},
		Timestamp: e.now(),
	})

	return &Reply{Text: text, SessionID: sess.ID}, nil
}

// dispatch runs the node's handler with panic containment.
func (e *Engine) dispatch(ctx context.Context, ec *ExecContext) (res *NodeResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = schema.NewErrorf(schema.ErrCodeExecution, "handler panicked: %v", p).
				WithNode(ec.Node.ID)
		}
	}()

	handler, ok := e.registry.Get(ec.Node.Type)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeGraph, "no handler for node type %q", ec.Node.Type).
			WithNode(ec.Node.ID)
	}
	res, err = handler.Execute(ctx, ec)
	if err == nil && res == nil {
		err = schema.NewError(schema.ErrCodeExecution, "handler returned no result").
			WithNode(ec.Node.ID)
	}
	return res, err
}

// persistTurn writes the turn's outcome through the session's optimistic
// version check.
func (e *Engine) persistTurn(ctx context.Context, sess *store.Session, currentID string, vars map[string]any, endSession bool) error {
	now := e.now()
	patch := store.SessionPatch{
		CurrentNodeID:  &currentID,
		Variables:      vars,
		LastActivityAt: &now,
	}
	if endSession {
		if err := CheckSessionTransition(sess.ID, sess.Status, schema.SessionStatusEnded); err != nil {
			return err
		}
		ended := schema.SessionStatusEnded
		patch.Status = &ended
		patch.EndedAt = &now
	}

	if err := e.store.UpdateSession(ctx, sess.ID, patch, sess.Version); err != nil {
		return err
	}
	sess.CurrentNodeID = currentID
	sess.Variables = vars
	sess.Version++
	if endSession {
		sess.Status = schema.SessionStatusEnded
	}
	return nil
}

// loadHistory returns the most recent conversation turns, oldest first.
func (e *Engine) loadHistory(ctx context.Context, sessionID string) ([]reasoning.Turn, error) {
	msgs, err := e.store.ListMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	if len(msgs) > maxHistoryTurns {
		msgs = msgs[len(msgs)-maxHistoryTurns:]
	}
	turns := make([]reasoning.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == schema.RoleSystem {
			continue
		}
		turns = append(turns, reasoning.Turn{Role: string(m.Role), Content: m.Content})
	}
	return turns, nil
}

func (e *Engine) emitError(sink EventSink, sessionID, nodeID string, err error) {
	sink.Emit(Event{
		Type: schema.EventError, SessionID: sessionID, NodeID: nodeID,
		Data:      map[string]any{"error": err.Error()},
		Timestamp: e.now(),
	})
}

func isNotFound(err error) bool {
	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Code == schema.ErrCodeNotFound
	}
	return false
}
