package reconcile

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// ParseKind tags the outcome of parsing a model response.
type ParseKind int

const (
	// Malformed means no step recovered an object; Raw holds the original text.
	Malformed ParseKind = iota
	// Structured means Object holds the decoded response.
	Structured
)

func (k ParseKind) String() string {
	if k == Structured {
		return "structured"
	}
	return "malformed"
}

// ParseResult is the tagged outcome of ParseResponse.
type ParseResult struct {
	Kind   ParseKind
	Object map[string]any
	Raw    string
	Step   string // which recovery step succeeded
}

var (
	reFenced        = regexp.MustCompile("(?i)```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	reTrailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseResponse recovers a JSON object from free-form model output. Steps run in order and each
// runs only if the previous failed: the whole text, fenced block, balanced-brace scan, trailing-comma cleanup,
// permissive literal parse. A top-level array is wrapped as {"fields": [...]}.
func ParseResponse(raw string) ParseResult {
	malformed := ParseResult{Kind: Malformed, Raw: raw}
	if strings.TrimSpace(raw) == "" {
		return malformed
	}

	if obj, ok := decodeObject(raw); ok {
		return ParseResult{Kind: Structured, Object: obj, Raw: raw, Step: "direct"}
	}

	var candidates []string
	if m := reFenced.FindStringSubmatch(raw); m != nil {
		fenced := strings.TrimSpace(m[1])
		if obj, ok := decodeObject(fenced); ok {
			return ParseResult{Kind: Structured, Object: obj, Raw: raw, Step: "fenced"}
		}
		candidates = append(candidates, fenced)
	}

	if balanced := extractObject(raw, false); balanced != "" {
		if obj, ok := decodeObject(balanced); ok {
			return ParseResult{Kind: Structured, Object: obj, Raw: raw, Step: "balanced"}
		}
		candidates = append(candidates, balanced)
	}

	for _, c := range candidates {
		cleaned := reTrailingComma.ReplaceAllString(c, "$1")
		if obj, ok := decodeObject(cleaned); ok {
			return ParseResult{Kind: Structured, Object: obj, Raw: raw, Step: "trailing_commas"}
		}
	}

	// Literal-style output (single quotes, True/False/None) may defeat the JSON-aware scan above.
	literalCandidates := candidates
	if lit := extractObject(raw, true); lit != "" {
		literalCandidates = append(literalCandidates, lit)
	}
	for _, c := range literalCandidates {
		converted := reTrailingComma.ReplaceAllString(literalToJSON(c), "$1")
		if obj, ok := decodeObject(converted); ok {
			return ParseResult{Kind: Structured, Object: obj, Raw: raw, Step: "literal"}
		}
	}
	return malformed
}

func decodeObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	// reject trailing garbage after the first value
	if dec.More() {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		return map[string]any{"fields": t}, true
	}
	return nil, false
}

// extractObject returns the first balanced {...} span, ignoring braces inside quoted strings.
// With singleQuotes, '...' also counts as a string.
func extractObject(text string, singleQuotes bool) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	var quote byte
	escape := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if quote != 0 {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == quote:
				quote = 0
			}
			continue
		}
		switch ch {
		case '"':
			quote = ch
		case '\'':
			if singleQuotes {
				quote = ch
			}
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// literalToJSON rewrites a literal-style structure into JSON: single-quoted strings become
// double-quoted and bare True/False/None become true/false/null.
func literalToJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	escape := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			switch {
			case escape:
				escape = false
				if quote == '\'' && ch == '\'' {
					b.WriteByte('\'')
					continue
				}
				b.WriteByte('\\')
				b.WriteByte(ch)
			case ch == '\\':
				escape = true
			case ch == quote:
				quote = 0
				b.WriteByte('"')
			case ch == '"' && quote == '\'':
				b.WriteString(`\"`)
			default:
				b.WriteByte(ch)
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
			b.WriteByte('"')
			continue
		}
		if word, repl, ok := literalKeyword(s, i); ok {
			b.WriteString(repl)
			i += len(word) - 1
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func literalKeyword(s string, i int) (string, string, bool) {
	if i > 0 && isIdentByte(s[i-1]) {
		return "", "", false
	}
	for _, kw := range [...][2]string{{"True", "true"}, {"False", "false"}, {"None", "null"}} {
		word := kw[0]
		if strings.HasPrefix(s[i:], word) {
			end := i + len(word)
			if end < len(s) && isIdentByte(s[end]) {
				continue
			}
			return word, kw[1], true
		}
	}
	return "", "", false
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
