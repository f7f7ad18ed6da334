package engine

import (
	"context"
	"encoding/json"

	"github.com/parleyhq/parley/internal/crm"
	"github.com/parleyhq/parley/internal/expressions"
	"github.com/parleyhq/parley/internal/graph"
	"github.com/parleyhq/parley/pkg/schema"
)

// Action kinds for action and crm_action nodes.
const (
	ActionAddTags       = "add_tags"
	ActionUpdateContact = "update_contact"
	ActionWebhook       = "webhook"
)

// ActionHandler runs action and crm_action nodes: provider calls scheduled
// as fire-and-forget side effects so a slow CRM never stalls the reply.
type ActionHandler struct {
	crm  crm.Client
	gojq *expressions.GoJQEngine
}

// NewActionHandler creates an action handler.
func NewActionHandler(client crm.Client, gojq *expressions.GoJQEngine) *ActionHandler {
	return &ActionHandler{crm: client, gojq: gojq}
}

func (h *ActionHandler) Execute(ctx context.Context, ec *ExecContext) (*NodeResult, error) {
	cfg, err := graph.DecodeConfig[schema.ActionConfig](ec.Node)
	if err != nil {
		return nil, err
	}

	contactID := ec.Session.ContactID
	res := &NodeResult{EdgeTag: schema.EdgeTagStandard, Continue: true}

	switch cfg.Kind {
	case ActionAddTags:
		tags := make([]string, 0, len(cfg.Tags))
		for _, t := range cfg.Tags {
			tags = append(tags, expressions.Interpolate(t, ec.Variables))
		}
		res.SideEffects = append(res.SideEffects, SideEffect{
			Name: "add_tags",
			Run: func(ctx context.Context) error {
				return h.crm.AddTags(ctx, contactID, tags)
			},
		})

	case ActionUpdateContact:
		fields := make(map[string]any, len(cfg.Fields))
		for k, v := range cfg.Fields {
			if s, ok := v.(string); ok {
				fields[k] = expressions.Interpolate(s, ec.Variables)
			} else {
				fields[k] = v
			}
		}
		res.SideEffects = append(res.SideEffects, SideEffect{
			Name: "update_contact",
			Run: func(ctx context.Context) error {
				return h.crm.UpdateContact(ctx, contactID, fields)
			},
		})

	case ActionWebhook:
		payload, err := h.buildPayload(ctx, ec, cfg)
		if err != nil {
			return nil, err
		}
		url := expressions.Interpolate(cfg.URL, ec.Variables)
		res.SideEffects = append(res.SideEffects, SideEffect{
			Name: "webhook",
			Run: func(ctx context.Context) error {
				return h.crm.SendWebhook(ctx, url, payload)
			},
		})

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown action kind %q", cfg.Kind).WithNode(ec.Node.ID)
	}

	return res, nil
}

// buildPayload interpolates the configured payload and applies the optional
// jq transform. A missing payload defaults to the session variables.
func (h *ActionHandler) buildPayload(ctx context.Context, ec *ExecContext, cfg *schema.ActionConfig) (json.RawMessage, error) {
	var payload json.RawMessage
	if len(cfg.Payload) > 0 {
		payload = expressions.InterpolateJSON(cfg.Payload, ec.Variables)
	} else {
		data, err := json.Marshal(map[string]any{
			"session_id": ec.Session.ID,
			"contact_id": ec.Session.ContactID,
			"variables":  ec.Variables,
		})
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "failed to build webhook payload").
				WithNode(ec.Node.ID).WithCause(err)
		}
		payload = data
	}

	if cfg.Transform == "" {
		return payload, nil
	}

	var input map[string]any
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "webhook payload is not valid JSON").
			WithNode(ec.Node.ID).WithCause(err)
	}
	out, err := h.gojq.Evaluate(ctx, cfg.Transform, input)
	if err != nil {
		return nil, err
	}
	transformed, err := json.Marshal(out)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "jq transform produced unencodable output").
			WithNode(ec.Node.ID).WithCause(err)
	}
	return transformed, nil
}
