package nl2sql

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \\t]*\\r?\\n?(.*?)```")

var statementKeywords = map[string]struct{}{
	"select": {}, "insert": {}, "update": {}, "delete": {}, "drop": {}, "alter": {},
	"create": {}, "attach": {}, "detach": {}, "pragma": {}, "truncate": {}, "merge": {},
	"copy": {}, "export": {}, "import": {}, "install": {}, "load": {}, "call": {},
	"begin": {}, "commit": {}, "rollback": {}, "grant": {}, "revoke": {}, "vacuum": {},
}

// "With" also opens prose sentences, so a CTE must look like one.
var ctePattern = regexp.MustCompile(`(?i)^with\s*$|^with\s+(recursive\s+)?[A-Za-z_"][A-Za-z0-9_"]*\s*(\([^)]*\)\s*)?as\s*(\(|$)`)

// ExtractStatement locates the first statement-like span in a model response.
// Fenced code blocks win; otherwise the span runs from the first line that opens
// with a statement keyword to a blank line or an explanation marker. Semicolons
// are kept so the sanitizer can see chained statements.
func ExtractStatement(raw string) (string, bool) {
	if match := fencePattern.FindStringSubmatch(raw); match != nil {
		if body := strings.TrimSpace(match[1]); body != "" {
			return body, true
		}
	}
	if idx := strings.Index(raw, "```"); idx >= 0 {
		rest := raw[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest, "```") {
			if body := strings.TrimSpace(rest[nl+1:]); body != "" {
				return trimAtExplanation(body), true
			}
		}
	}

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	for i, line := range lines {
		start, ok := statementStart(line)
		if !ok {
			continue
		}
		collected := []string{start}
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" || isExplanationLine(next) {
				break
			}
			collected = append(collected, next)
		}
		statement := strings.TrimSpace(strings.Join(collected, "\n"))
		if statement != "" {
			return statement, true
		}
	}
	return "", false
}

// ExtractRationale returns the text following an "Explanation:" marker.
func ExtractRationale(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if !isExplanationLine(line) {
			continue
		}
		text := strings.TrimSpace(line)
		text = strings.TrimLeft(text, "*_ ")
		text = strings.TrimSpace(text[len("explanation:"):])
		text = strings.TrimLeft(text, "*_ ")
		parts := []string{}
		if text != "" {
			parts = append(parts, text)
		}
		for _, next := range lines[i+1:] {
			trimmed := strings.TrimSpace(next)
			if trimmed == "" || strings.HasPrefix(trimmed, "```") {
				break
			}
			parts = append(parts, trimmed)
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	}
	return ""
}

func statementStart(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	if opensStatement(trimmed) {
		return trimmed, true
	}
	// "SQL: SELECT ..." or "Query: SELECT ..."
	if colon := strings.IndexByte(trimmed, ':'); colon > 0 && colon < 24 {
		rest := strings.TrimSpace(trimmed[colon+1:])
		if rest != "" && opensStatement(rest) {
			return rest, true
		}
	}
	return "", false
}

func opensStatement(line string) bool {
	word := firstWord(line)
	if strings.EqualFold(word, "with") {
		return ctePattern.MatchString(line)
	}
	_, ok := statementKeywords[strings.ToLower(word)]
	return ok
}

func firstWord(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

func isExplanationLine(line string) bool {
	trimmed := strings.TrimLeft(strings.TrimSpace(line), "*_ ")
	return len(trimmed) >= len("explanation:") && strings.EqualFold(trimmed[:len("explanation:")], "explanation:")
}

func trimAtExplanation(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if isExplanationLine(line) {
			return strings.TrimSpace(strings.Join(lines[:i], "\n"))
		}
	}
	return body
}
