package expressions

import "context"

// Engine evaluates expressions inside condition nodes and action transforms.
// Three implementations: CEL and Expr (conditions), GoJQ (payload transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// BuildEnv assembles the evaluation environment for condition expressions.
// Expressions see four top-level variables: the contact's latest message,
// the session variable map, contact metadata, and session metadata.
// Missing maps default to empty to avoid nil-ref errors at runtime.
func BuildEnv(message string, variables, contact, session map[string]any) map[string]any {
	if variables == nil {
		variables = map[string]any{}
	}
	if contact == nil {
		contact = map[string]any{}
	}
	if session == nil {
		session = map[string]any{}
	}
	return map[string]any{
		"message":   message,
		"variables": variables,
		"contact":   contact,
		"session":   session,
	}
}
