package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/parleyhq/parley/internal/graph"
	"github.com/parleyhq/parley/internal/reasoning"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/pkg/schema"
)

// goalConfidenceThreshold is the minimum confidence for a goal to count as
// achieved. An evaluation at 69 stays on the milestone; 70 advances.
const goalConfidenceThreshold = 70

// MilestoneHandler evaluates the node's goal against the conversation every
// turn and branches on the verdict. Extracted facts are merged into the
// session variables whether or not the goal was achieved.
type MilestoneHandler struct {
	reasoning *reasoning.Service
	store     store.Store
}

// NewMilestoneHandler creates a milestone handler.
func NewMilestoneHandler(svc *reasoning.Service, st store.Store) *MilestoneHandler {
	return &MilestoneHandler{reasoning: svc, store: st}
}

func (h *MilestoneHandler) Execute(ctx context.Context, ec *ExecContext) (*NodeResult, error) {
	cfg, err := graph.DecodeConfig[schema.MilestoneConfig](ec.Node)
	if err != nil {
		return nil, err
	}
	if cfg.Goal == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "milestone node has no goal").
			WithNode(ec.Node.ID)
	}

	eval, err := h.reasoning.EvaluateGoal(ctx, cfg.Goal, cfg.PossibleOutcomes,
		ec.History, &ec.Bot.Persona, ec.Variables)
	if err != nil {
		return nil, err
	}

	h.audit(ctx, ec, eval)

	res := &NodeResult{
		Reply:           eval.SuggestedResponse,
		VariableUpdates: eval.ExtractedData,
	}

	// Three-way branch: a confident verdict either way takes the matching
	// edge (pointer moves, turn ends); anything below the threshold stays on
	// the node and keeps probing next turn.
	switch {
	case eval.Achieved && eval.Confidence >= goalConfidenceThreshold:
		res.EdgeTag = schema.EdgeTagGoalAchieved
		if eval.SelectedOutcome != "" {
			if res.VariableUpdates == nil {
				res.VariableUpdates = map[string]any{}
			}
			res.VariableUpdates["outcome_"+ec.Node.ID] = eval.SelectedOutcome
		}
	case !eval.Achieved && eval.Confidence >= goalConfidenceThreshold:
		res.EdgeTag = schema.EdgeTagGoalNotAchieved
	}

	if res.Reply == "" {
		reply, genErr := h.reasoning.Generate(ctx,
			"Keep the conversation moving toward this goal: "+cfg.Goal,
			ec.History, &ec.Bot.Persona)
		if genErr != nil {
			return nil, genErr
		}
		res.Reply = reply
	}

	return res, nil
}

// audit logs the evaluation to the goal audit trail. A failed write never
// fails the turn.
func (h *MilestoneHandler) audit(ctx context.Context, ec *ExecContext, eval *reasoning.GoalResult) {
	var extracted json.RawMessage
	if len(eval.ExtractedData) > 0 {
		extracted, _ = json.Marshal(eval.ExtractedData)
	}
	_ = h.store.LogGoalEvaluation(ctx, &store.GoalEvaluation{
		SessionID:     ec.Session.ID,
		NodeID:        ec.Node.ID,
		Achieved:      eval.Achieved,
		Confidence:    eval.Confidence,
		Outcome:       eval.SelectedOutcome,
		Reasoning:     eval.Reasoning,
		ExtractedData: extracted,
		CreatedAt:     time.Now(),
	})
}
