package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/parleyhq/parley/pkg/schema"
)

// graphSchemaJSON is the JSON Schema for GraphDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://parley.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "metadata": {
      "type": "object"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "enum": ["milestone", "start", "message", "appointment", "condition", "variable", "action", "crm_action", "ai", "end"]
        },
        "title": { "type": "string" },
        "entry": { "type": "boolean" },
        "config": {}
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "source": {
          "type": "string",
          "minLength": 1
        },
        "target": {
          "type": "string",
          "minLength": 1
        },
        "tag": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// Validator runs the three-stage validation pipeline over graph definitions:
// 1. Structural (JSON Schema)
// 2. Semantic (endpoints, configs, edge tags, entry markers)
// 3. Traversal (reachability from the entry node)
// It is safe for concurrent use.
type Validator struct {
	graphSchema *jsonschema.Schema
}

// NewValidator creates a Validator with the graph schema pre-compiled.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource("https://parley.dev/schemas/graph.json", doc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}

	compiled, err := c.Compile("https://parley.dev/schemas/graph.json")
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	return &Validator{graphSchema: compiled}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and traversal stages are skipped.
func (v *Validator) Validate(def *schema.GraphDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "graph definition is nil")
		return r
	}

	result := v.validateStructural(def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def))

	if result.Valid() {
		result.Merge(validateTraversal(def))
	}

	return result
}

// ValidateDefinition returns a FlowError if the graph is invalid, nil otherwise.
func (v *Validator) ValidateDefinition(def *schema.GraphDefinition) error {
	return v.Validate(def).ToError()
}

func (v *Validator) validateStructural(def *schema.GraphDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	doc, err := toJSONValue(def)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "failed to serialize graph definition")
		return result
	}

	if err := v.graphSchema.Validate(doc); err != nil {
		for _, violation := range collectViolations(err) {
			result.AddError("/", schema.ErrCodeValidation, violation)
		}
		return result
	}

	// Structural checks JSON Schema cannot express: duplicate node IDs.
	seen := make(map[string]struct{}, len(def.Nodes))
	for i, n := range def.Nodes {
		if _, exists := seen[n.ID]; exists {
			result.AddError(fmt.Sprintf("nodes[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = struct{}{}
	}

	return result
}

// validateSemantic checks edge endpoints, entry markers, per-type config
// blocks, and edge tag coverage.
func validateSemantic(def *schema.GraphDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		nodeIDs[n.ID] = true
	}

	entries := 0
	for i := range def.Nodes {
		if def.Nodes[i].Entry {
			entries++
		}
		validateNodeConfig(&def.Nodes[i], fmt.Sprintf("nodes[%d]", i), def, result)
	}
	if entries > 1 {
		result.AddError("nodes", schema.ErrCodeValidation,
			fmt.Sprintf("graph has %d entry nodes, expected at most one", entries))
	}
	if entries == 0 {
		result.AddWarning("nodes", schema.ErrCodeValidation,
			"no entry node marked; the entry will be inferred from node types")
	}

	// Edge endpoints and duplicate outgoing tags. A repeated (source, tag)
	// pair makes one edge unreachable, so it is rejected outright.
	type edgeKey struct{ source, tag string }
	seenTags := make(map[edgeKey]int, len(def.Edges))
	for i, e := range def.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if !nodeIDs[e.Source] {
			result.AddError(path+".source", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddError(path+".target", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Target))
		}
		key := edgeKey{e.Source, e.Tag}
		if first, dup := seenTags[key]; dup {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate edge tag %q from node %q (first declared at edges[%d])",
					e.Tag, e.Source, first))
		} else {
			seenTags[key] = i
		}
	}

	return result
}

// validateNodeConfig decodes and checks a node's type-specific config block.
func validateNodeConfig(n *schema.NodeDefinition, path string, def *schema.GraphDefinition, result *schema.ValidationResult) {
	switch n.Type {
	case schema.NodeTypeMilestone:
		cfg, ok := decodeConfigChecked[schema.MilestoneConfig](n, path, result)
		if ok && cfg.Goal == "" {
			result.AddError(path+".config.goal", schema.ErrCodeValidation,
				fmt.Sprintf("milestone node %q has no goal", n.ID))
		}

	case schema.NodeTypeMessage:
		cfg, ok := decodeConfigChecked[schema.MessageConfig](n, path, result)
		if ok && cfg.Text == "" {
			result.AddError(path+".config.text", schema.ErrCodeValidation,
				fmt.Sprintf("message node %q has no text", n.ID))
		}

	case schema.NodeTypeVariable:
		cfg, ok := decodeConfigChecked[schema.VariableConfig](n, path, result)
		if ok && cfg.Name == "" {
			result.AddError(path+".config.name", schema.ErrCodeValidation,
				fmt.Sprintf("variable node %q has no variable name", n.ID))
		}

	case schema.NodeTypeAction, schema.NodeTypeCRMAction:
		cfg, ok := decodeConfigChecked[schema.ActionConfig](n, path, result)
		if !ok {
			return
		}
		switch cfg.Kind {
		case "add_tags":
			if len(cfg.Tags) == 0 {
				result.AddError(path+".config.tags", schema.ErrCodeValidation,
					fmt.Sprintf("add_tags action %q has no tags", n.ID))
			}
		case "update_contact":
			if len(cfg.Fields) == 0 {
				result.AddError(path+".config.fields", schema.ErrCodeValidation,
					fmt.Sprintf("update_contact action %q has no fields", n.ID))
			}
		case "webhook":
			if cfg.URL == "" {
				result.AddError(path+".config.url", schema.ErrCodeValidation,
					fmt.Sprintf("webhook action %q has no url", n.ID))
			}
		default:
			result.AddError(path+".config.kind", schema.ErrCodeValidation,
				fmt.Sprintf("unknown action kind %q", cfg.Kind))
		}

	case schema.NodeTypeCondition:
		cfg, ok := decodeConfigChecked[schema.ConditionConfig](n, path, result)
		if !ok {
			return
		}
		if len(cfg.Conditions) == 0 {
			result.AddError(path+".config.conditions", schema.ErrCodeValidation,
				fmt.Sprintf("condition node %q has no conditions", n.ID))
			return
		}
		outTags := make(map[string]bool)
		for _, e := range def.Edges {
			if e.Source == n.ID {
				outTags[e.Tag] = true
			}
		}
		for j, c := range cfg.Conditions {
			cpath := fmt.Sprintf("%s.config.conditions[%d]", path, j)
			switch c.Kind {
			case schema.ConditionKeyword:
				if len(c.Keywords) == 0 {
					result.AddError(cpath+".keywords", schema.ErrCodeValidation,
						"keyword condition has no keywords")
				}
			case schema.ConditionSentiment, schema.ConditionIntent:
				if len(c.Expected) == 0 {
					result.AddError(cpath+".expected", schema.ErrCodeValidation,
						fmt.Sprintf("%s condition has no expected labels", c.Kind))
				}
			case schema.ConditionData:
				if c.DataType == "" {
					result.AddError(cpath+".data_type", schema.ErrCodeValidation,
						"data condition has no data_type")
				}
			case schema.ConditionExpression:
				if c.Source == "" {
					result.AddError(cpath+".source", schema.ErrCodeValidation,
						"expression condition has no source")
				}
				if c.Language != "" && c.Language != "cel" && c.Language != "expr" {
					result.AddError(cpath+".language", schema.ErrCodeValidation,
						fmt.Sprintf("unknown expression language %q", c.Language))
				}
			case schema.ConditionCustom:
				if c.Source == "" {
					result.AddError(cpath+".source", schema.ErrCodeValidation,
						"custom condition has no source")
				}
			default:
				result.AddError(cpath+".kind", schema.ErrCodeValidation,
					fmt.Sprintf("unknown condition kind %q", c.Kind))
			}
			if c.Tag != "" && !outTags[c.Tag] && !outTags[""] {
				result.AddWarning(cpath+".tag", schema.ErrCodeValidation,
					fmt.Sprintf("condition tag %q has no matching outgoing edge on node %q", c.Tag, n.ID))
			}
		}

	case schema.NodeTypeEnd:
		if _, err := DecodeConfig[schema.EndConfig](n); err != nil {
			result.AddError(path+".config", schema.ErrCodeValidation, err.Error())
		}
		for _, e := range def.Edges {
			if e.Source == n.ID {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("end node %q has outgoing edges; they are never followed", n.ID))
				break
			}
		}

	case schema.NodeTypeAppointment:
		decodeConfigChecked[schema.AppointmentConfig](n, path, result)

	case schema.NodeTypeAI:
		decodeConfigChecked[schema.AIConfig](n, path, result)
	}
}

func decodeConfigChecked[T any](n *schema.NodeDefinition, path string, result *schema.ValidationResult) (*T, bool) {
	cfg, err := DecodeConfig[T](n)
	if err != nil {
		result.AddError(path+".config", schema.ErrCodeValidation, err.Error())
		return nil, false
	}
	return cfg, true
}

// validateTraversal runs reachability analysis from the entry node. Cycles
// are legal in conversation graphs (retry loops), so only unreachable nodes
// and dead-end non-terminal nodes are reported, both as warnings.
func validateTraversal(def *schema.GraphDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	g, err := ParseGraph(def)
	if err != nil {
		// Parse failures here mean semantic stage missed something.
		result.AddError("/", schema.ErrCodeGraph, err.Error())
		return result
	}

	reachable := make(map[string]bool, g.Len())
	queue := []string{g.Entry().ID}
	reachable[g.Entry().ID] = true

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(node) {
			if !reachable[e.Target] {
				reachable[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	for i, n := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if !reachable[n.ID] {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from the entry node", n.ID))
			continue
		}
		if n.Type != schema.NodeTypeEnd && len(g.Outgoing(n.ID)) == 0 {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q has no outgoing edges; the conversation cannot advance past it", n.ID))
		}
	}

	return result
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	return collectLeaves(verr)
}

func collectLeaves(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectLeaves(cause)...)
	}
	return violations
}
