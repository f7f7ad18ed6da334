package reasoning

import (
	"regexp"
	"strings"
)

// Models wrap JSON in markdown fences, sprinkle // comments, and leave
// trailing commas. These patterns recover the object before parsing.
var (
	jsonFencePattern  = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	jsonObjectPattern = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	trailingCommas    = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls a JSON object out of a model response, tolerating
// markdown code fences, line comments, and trailing commas. Returns ""
// when no object is present.
func ExtractJSON(content string) string {
	var raw string
	if m := jsonFencePattern.FindStringSubmatch(content); len(m) > 1 {
		raw = m[1]
	} else {
		raw = jsonObjectPattern.FindString(content)
	}
	if raw == "" {
		return ""
	}

	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	cleaned := strings.Join(lines, "\n")

	return trailingCommas.ReplaceAllString(cleaned, "$1")
}

// stripLineComment drops a // comment from a line unless it sits inside a
// string value, so URLs like "https://..." survive.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
