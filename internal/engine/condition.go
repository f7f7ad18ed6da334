package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/parleyhq/parley/internal/expressions"
	"github.com/parleyhq/parley/internal/graph"
	"github.com/parleyhq/parley/internal/reasoning"
	"github.com/parleyhq/parley/pkg/schema"
)

// Patterns for data-presence checks on the customer message.
var dataPatterns = map[string]*regexp.Regexp{
	"email":  regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"phone":  regexp.MustCompile(`\+?[0-9][0-9 .\-()]{6,}[0-9]`),
	"date":   regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}[/.]\d{1,2}([/.]\d{2,4})?)\b`),
	"time":   regexp.MustCompile(`\b\d{1,2}:\d{2}\b|\b\d{1,2}\s?(am|pm|AM|PM)\b`),
	"number": regexp.MustCompile(`\b\d+([.,]\d+)?\b`),
}

// ConditionHandler evaluates a condition node's specs in declared order and
// takes the edge tagged by the first spec that holds. When none hold the
// standard edge is the fallback.
type ConditionHandler struct {
	reasoning *reasoning.Service
	cel       *expressions.CELEngine
	expr      *expressions.ExprEngine
	logger    *slog.Logger
}

// NewConditionHandler creates a condition handler.
func NewConditionHandler(svc *reasoning.Service, cel *expressions.CELEngine, expr *expressions.ExprEngine, logger *slog.Logger) *ConditionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConditionHandler{reasoning: svc, cel: cel, expr: expr, logger: logger}
}

func (h *ConditionHandler) Execute(ctx context.Context, ec *ExecContext) (*NodeResult, error) {
	cfg, err := graph.DecodeConfig[schema.ConditionConfig](ec.Node)
	if err != nil {
		return nil, err
	}

	for i, spec := range cfg.Conditions {
		matched, err := h.evaluate(ctx, ec, spec)
		if err != nil {
			// A broken spec is skipped so a later spec or the standard
			// fallback can still route the conversation.
			h.logger.WarnContext(ctx, "condition evaluation failed",
				"node_id", ec.Node.ID, "index", i, "kind", spec.Kind, "error", err)
			continue
		}
		if matched {
			return &NodeResult{EdgeTag: spec.Tag, Continue: true}, nil
		}
	}

	return &NodeResult{EdgeTag: schema.EdgeTagStandard, Continue: true}, nil
}

func (h *ConditionHandler) evaluate(ctx context.Context, ec *ExecContext, spec schema.ConditionSpec) (bool, error) {
	switch spec.Kind {
	case schema.ConditionKeyword:
		msg := strings.ToLower(ec.Message)
		for _, kw := range spec.Keywords {
			if kw != "" && strings.Contains(msg, strings.ToLower(kw)) {
				return true, nil
			}
		}
		return false, nil

	case schema.ConditionSentiment:
		label, err := h.reasoning.Classify(ctx,
			"What is the overall sentiment of the customer's message?",
			[]string{"positive", "negative", "neutral"}, ec.Message)
		if err != nil {
			return false, err
		}
		return labelAccepted(label, spec.Expected), nil

	case schema.ConditionIntent:
		label, err := h.reasoning.Classify(ctx,
			"What is the customer's intent?", spec.Expected, ec.Message)
		if err != nil {
			return false, err
		}
		return label != "none" && labelAccepted(label, spec.Expected), nil

	case schema.ConditionData:
		if re, ok := dataPatterns[strings.ToLower(spec.DataType)]; ok {
			return re.MatchString(ec.Message), nil
		}
		// Otherwise DataType names a session variable that must be set.
		v, ok := ec.Variables[spec.DataType]
		return ok && v != nil && v != "", nil

	case schema.ConditionExpression:
		return h.evaluateExpression(ctx, ec, spec)

	case schema.ConditionCustom:
		question := fmt.Sprintf(
			"Answer yes or no. Based on the customer's message, is the following true? %s",
			spec.Source)
		label, err := h.reasoning.Classify(ctx, question, []string{"yes", "no"}, ec.Message)
		if err != nil {
			return false, err
		}
		return label == "yes", nil

	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown condition kind %q", spec.Kind).WithNode(ec.Node.ID)
	}
}

func (h *ConditionHandler) evaluateExpression(ctx context.Context, ec *ExecContext, spec schema.ConditionSpec) (bool, error) {
	env := expressions.BuildEnv(ec.Message, ec.Variables, nil, map[string]any{
		"id":         ec.Session.ID,
		"contact_id": ec.Session.ContactID,
	})

	var out any
	var err error
	switch strings.ToLower(spec.Language) {
	case "", "cel":
		out, err = h.cel.Evaluate(ctx, spec.Source, env)
	case "expr":
		out, err = h.expr.Evaluate(ctx, spec.Source, env)
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown expression language %q", spec.Language).WithNode(ec.Node.ID)
	}
	if err != nil {
		return false, err
	}

	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"condition expression returned %T, want bool", out).WithNode(ec.Node.ID)
	}
	return b, nil
}

func labelAccepted(label string, expected []string) bool {
	if len(expected) == 0 {
		return false
	}
	for _, e := range expected {
		if strings.EqualFold(e, label) {
			return true
		}
	}
	return false
}
