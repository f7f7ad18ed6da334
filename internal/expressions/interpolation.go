package expressions

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Interpolate resolves {{name}} placeholders in text against the given
// variable map. Names may use dotted paths into nested maps. Placeholders
// that resolve to nothing are left verbatim so a misconfigured template is
// visible instead of silently blanked.
func Interpolate(text string, vars map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	var result strings.Builder
	result.Grow(len(text))

	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], "{{")
		if idx == -1 {
			result.WriteString(text[i:])
			break
		}

		result.WriteString(text[i : i+idx])
		start := i + idx + 2

		end := strings.Index(text[start:], "}}")
		if end == -1 {
			// Unclosed marker: keep the rest verbatim.
			result.WriteString(text[i+idx:])
			break
		}
		end += start

		name := strings.TrimSpace(text[start:end])
		val, ok := lookupPath(vars, name)
		if !ok {
			result.WriteString(text[i+idx : end+2])
		} else {
			result.WriteString(stringify(val))
		}

		i = end + 2
	}

	return result.String()
}

// InterpolateJSON resolves {{name}} placeholders inside a raw JSON document,
// embedding values JSON-safely: strings are escaped in place, other values
// are marshalled inline. Unresolved placeholders stay verbatim.
func InterpolateJSON(raw json.RawMessage, vars map[string]any) json.RawMessage {
	if len(raw) == 0 || !strings.Contains(string(raw), "{{") {
		return raw
	}

	s := string(raw)
	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "{{")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}

		result.WriteString(s[i : i+idx])
		start := i + idx + 2

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			result.WriteString(s[i+idx:])
			break
		}
		end += start

		name := strings.TrimSpace(s[start:end])
		val, ok := lookupPath(vars, name)
		if !ok {
			result.WriteString(s[i+idx : end+2])
		} else {
			result.WriteString(marshalInline(val))
		}

		i = end + 2
	}

	return json.RawMessage(result.String())
}

// lookupPath resolves a dotted path like "contact.name" through nested maps.
func lookupPath(vars map[string]any, path string) (any, bool) {
	if vars == nil || path == "" {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var current any = vars
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// stringify renders a resolved value for plain-text embedding.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case float64:
		// Trim the ".0" JSON decoding adds to whole numbers.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// marshalInline renders a resolved value for embedding inside a JSON
// document. Strings are escaped without surrounding quotes, since templates
// place placeholders inside quoted JSON strings.
func marshalInline(v any) string {
	switch val := v.(type) {
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b[1 : len(b)-1]) // strip surrounding quotes
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "null"
		}
		return string(b)
	}
}
