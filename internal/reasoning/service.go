package reasoning

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/pkg/schema"
)

// Temperatures per capability. Goal evaluation and extraction need
// determinism; free generation can afford some variety.
const (
	tempEvaluate float32 = 0.2
	tempGenerate float32 = 0.7
	tempExtract  float32 = 0.1
	tempClassify float32 = 0.0
)

// Turn is one message of conversation history supplied to the service.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// GoalResult is the outcome of a goal evaluation.
type GoalResult struct {
	Achieved          bool           `json:"achieved"`
	Confidence        int            `json:"confidence"` // 0..100
	Reasoning         string         `json:"reasoning"`
	SelectedOutcome   string         `json:"selected_outcome,omitempty"`
	SuggestedResponse string         `json:"suggested_response,omitempty"`
	ExtractedData     map[string]any `json:"extracted_data,omitempty"`
}

// Service exposes the stateless reasoning capabilities the engine's node
// handlers use. Every call carries the full history; the service keeps no
// conversation state of its own.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a reasoning service over the given client.
func NewService(client *Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, logger: logger}
}

// EvaluateGoal asks whether the conversation so far has achieved the given
// goal. A malformed model response degrades to a zero-value result (not
// achieved, zero confidence) rather than failing the turn.
func (s *Service) EvaluateGoal(ctx context.Context, goal string, outcomes []string, history []Turn, persona *schema.BusinessContext, variables map[string]any) (*GoalResult, error) {
	if goal == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "goal evaluation requires a goal")
	}

	messages := buildGoalMessages(goal, outcomes, history, persona, variables)
	content, err := s.client.Complete(ctx, messages, tempEvaluate, 800)
	if err != nil {
		return nil, err
	}

	result := &GoalResult{}
	raw := ExtractJSON(content)
	if raw == "" {
		s.logger.WarnContext(ctx, "goal evaluation returned no JSON", "content_len", len(content))
		return result, nil
	}
	if err := json.Unmarshal([]byte(raw), result); err != nil {
		s.logger.WarnContext(ctx, "goal evaluation JSON unparseable", "error", err)
		return &GoalResult{}, nil
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 100 {
		result.Confidence = 100
	}
	return result, nil
}

// Generate produces a free-form assistant reply following the node's
// instructions and the bot persona.
func (s *Service) Generate(ctx context.Context, instructions string, history []Turn, persona *schema.BusinessContext) (string, error) {
	messages := buildGenerateMessages(instructions, history, persona)
	content, err := s.client.Complete(ctx, messages, tempGenerate, 600)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// Extract pulls a structured object described in plain language out of free
// text. A response without parseable JSON yields an empty map.
func (s *Service) Extract(ctx context.Context, description, text string) (map[string]any, error) {
	messages := buildExtractMessages(description, text)
	content, err := s.client.Complete(ctx, messages, tempExtract, 500)
	if err != nil {
		return nil, err
	}

	raw := ExtractJSON(content)
	if raw == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.logger.WarnContext(ctx, "extraction JSON unparseable", "error", err)
		return map[string]any{}, nil
	}
	return out, nil
}

// Classify answers a question about the text with exactly one of the given
// labels, or "none" when no label applies or the answer is unusable.
func (s *Service) Classify(ctx context.Context, question string, labels []string, text string) (string, error) {
	messages := buildClassifyMessages(question, labels, text)
	content, err := s.client.Complete(ctx, messages, tempClassify, 20)
	if err != nil {
		return "", err
	}

	answer := normalizeLabel(content)
	for _, label := range labels {
		if strings.EqualFold(label, answer) {
			return label, nil
		}
	}
	return "none", nil
}

// normalizeLabel reduces a model response to a bare label: first line,
// lowercased, stripped of surrounding punctuation and quotes.
func normalizeLabel(content string) string {
	line := content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	line = strings.Trim(line, `"'.,:;!`)
	return strings.ToLower(line)
}
