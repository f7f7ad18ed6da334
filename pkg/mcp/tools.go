package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/pkg/schema"
)

// handleChat runs one conversation turn through the engine.
func (s *ParleyServer) handleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	botID, err := req.RequireString("bot_id")
	if err != nil {
		return mcp.NewToolResultError("bot_id is required"), nil
	}
	contactID, err := req.RequireString("contact_id")
	if err != nil {
		return mcp.NewToolResultError("contact_id is required"), nil
	}
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("message is required"), nil
	}
	sessionID := req.GetString("session_id", "")

	reply, runErr := s.engine.ProcessMessage(ctx, engine.Request{
		BotID:     botID,
		ContactID: contactID,
		Message:   message,
		SessionID: sessionID,
	})
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("turn failed: %v", runErr)), nil
	}

	return marshalResult(reply)
}

// handleSession returns the session state, transcript and goal audit trail.
func (s *ParleyServer) handleSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	includeTranscript := req.GetBool("include_transcript", true)

	sess, getErr := s.store.GetSession(ctx, sessionID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session lookup failed: %v", getErr)), nil
	}

	out := map[string]any{"session": sess}

	if includeTranscript {
		msgs, msgErr := s.store.ListMessages(ctx, sessionID, 0)
		if msgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("transcript lookup failed: %v", msgErr)), nil
		}
		out["messages"] = msgs
	}

	evals, evalErr := s.store.ListGoalEvaluations(ctx, sessionID)
	if evalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("evaluation lookup failed: %v", evalErr)), nil
	}
	out["goal_evaluations"] = evals

	return marshalResult(out)
}

// handleValidate checks a graph definition against the validation pipeline.
func (s *ParleyServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "definition", nil)
	if raw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("definition is not encodable: %v", err)), nil
	}
	var def schema.GraphDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("definition is not a graph: %v", err)), nil
	}

	return marshalResult(s.validator.Validate(&def))
}

// handleBots lists the configured bots.
func (s *ParleyServer) handleBots(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bots, err := s.store.ListBots(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("bot listing failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"bots": bots, "count": len(bots)})
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
