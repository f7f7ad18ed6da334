package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/parleyhq/parley/pkg/schema"
)

// ExprEngine evaluates expr-lang condition sources against the conversation
// environment (message, variables, contact, session — see BuildEnv). Sources
// compile once against that fixed shape and the programs are reused across
// turns; identifiers a session has not set yet resolve to nil instead of
// failing the condition.
type ExprEngine struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
}

// conversationEnv declares the compile-time shape every condition expression
// is checked against. Values are placeholders; only the keys matter.
var conversationEnv = map[string]any{
	"message":   "",
	"variables": map[string]any{},
	"contact":   map[string]any{},
	"session":   map[string]any{},
}

// NewExprEngine creates an engine with an empty program cache.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: make(map[string]*vm.Program)}
}

// Name returns the engine identifier used in condition specs.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate runs a condition source against one turn's environment.
func (e *ExprEngine) Evaluate(ctx context.Context, source string, data map[string]any) (any, error) {
	if source == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.program(source)
	if err != nil {
		return nil, err
	}

	if data == nil {
		data = map[string]any{}
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", source, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": source})
	}
	return out, nil
}

// program returns the cached compiled form of source, compiling on first use.
// Compilation is against the fixed conversation environment, so one program
// serves every session regardless of which variables it has set.
func (e *ExprEngine) program(source string) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.programs[source]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(source,
		expr.Env(conversationEnv),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", source, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": source})
	}

	e.programs[source] = prg
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
