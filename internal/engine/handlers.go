package engine

import (
	"context"
	"log/slog"

	"github.com/parleyhq/parley/internal/booking"
	"github.com/parleyhq/parley/internal/expressions"
	"github.com/parleyhq/parley/internal/graph"
	"github.com/parleyhq/parley/internal/reasoning"
	"github.com/parleyhq/parley/pkg/schema"
)

// MessageHandler delivers a scripted message node: the configured text is
// interpolated, then rephrased naturally by the model. The node proceeds in
// the same turn after speaking.
type MessageHandler struct {
	reasoning *reasoning.Service
	logger    *slog.Logger
}

// NewMessageHandler creates a message handler.
func NewMessageHandler(svc *reasoning.Service, logger *slog.Logger) *MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageHandler{reasoning: svc, logger: logger}
}

func (h *MessageHandler) Execute(ctx context.Context, ec *ExecContext) (*NodeResult, error) {
	cfg, err := graph.DecodeConfig[schema.MessageConfig](ec.Node)
	if err != nil {
		return nil, err
	}
	if cfg.Text == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "message node has no text").
			WithNode(ec.Node.ID)
	}

	text := expressions.Interpolate(cfg.Text, ec.Variables)

	reply, err := h.reasoning.Generate(ctx,
		"Convey the following to the customer in your own words; do not repeat it verbatim: "+text,
		ec.History, &ec.Bot.Persona)
	if err != nil || reply == "" {
		// The scripted text is the safety net when generation is unavailable.
		if err != nil {
			h.logger.WarnContext(ctx, "message generation failed, using scripted text",
				"node_id", ec.Node.ID, "error", err)
		}
		reply = text
	}

	return &NodeResult{Reply: reply, EdgeTag: schema.EdgeTagStandard, Continue: true}, nil
}

// VariableHandler sets one session variable. The value may reference other
// variables through {{name}} placeholders.
type VariableHandler struct{}

// NewVariableHandler creates a variable handler.
func NewVariableHandler() *VariableHandler { return &VariableHandler{} }

func (h *VariableHandler) Execute(_ context.Context, ec *ExecContext) (*NodeResult, error) {
	cfg, err := graph.DecodeConfig[schema.VariableConfig](ec.Node)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "variable node has no name").
			WithNode(ec.Node.ID)
	}

	value := expressions.Interpolate(cfg.Value, ec.Variables)
	return &NodeResult{
		VariableUpdates: map[string]any{cfg.Name: value},
		EdgeTag:         schema.EdgeTagStandard,
		Continue:        true,
	}, nil
}

// AIHandler produces a persona-driven free response. The node advances along
// its standard edge (if one exists) after replying; a node without outgoing
// edges keeps the conversation here.
type AIHandler struct {
	reasoning *reasoning.Service
}

// NewAIHandler creates an ai handler.
func NewAIHandler(svc *reasoning.Service) *AIHandler {
	return &AIHandler{reasoning: svc}
}

func (h *AIHandler) Execute(ctx context.Context, ec *ExecContext) (*NodeResult, error) {
	cfg, err := graph.DecodeConfig[schema.AIConfig](ec.Node)
	if err != nil {
		return nil, err
	}

	instructions := cfg.Instructions
	if instructions == "" {
		instructions = "Continue the conversation helpfully."
	}

	reply, err := h.reasoning.Generate(ctx, instructions, ec.History, &ec.Bot.Persona)
	if err != nil {
		return nil, err
	}

	return &NodeResult{Reply: reply, EdgeTag: schema.EdgeTagStandard}, nil
}

// AppointmentHandler delegates to the booking sub-flow. A confirmed booking
// takes the goal_achieved edge; everything else stays on the node awaiting
// the customer's next message.
type AppointmentHandler struct {
	booking *booking.Module
}

// NewAppointmentHandler creates an appointment handler.
func NewAppointmentHandler(m *booking.Module) *AppointmentHandler {
	return &AppointmentHandler{booking: m}
}

func (h *AppointmentHandler) Execute(ctx context.Context, ec *ExecContext) (*NodeResult, error) {
	cfg, err := graph.DecodeConfig[schema.AppointmentConfig](ec.Node)
	if err != nil {
		return nil, err
	}

	res, err := h.booking.Handle(ctx, ec.Session, ec.Node.ID, cfg, ec.Message)
	if err != nil {
		return nil, err
	}

	out := &NodeResult{Reply: res.Reply}
	if res.Confirmed {
		out.EdgeTag = schema.EdgeTagGoalAchieved
		out.Continue = true
	}
	return out, nil
}

// EndHandler closes the session with the configured closing message.
type EndHandler struct{}

// NewEndHandler creates an end handler.
func NewEndHandler() *EndHandler {
	return &EndHandler{}
}

func (h *EndHandler) Execute(_ context.Context, ec *ExecContext) (*NodeResult, error) {
	cfg, err := graph.DecodeConfig[schema.EndConfig](ec.Node)
	if err != nil {
		return nil, err
	}

	reply := ""
	if cfg.ClosingMessage != "" {
		reply = expressions.Interpolate(cfg.ClosingMessage, ec.Variables)
	}

	return &NodeResult{Reply: reply, EndSession: true}, nil
}
