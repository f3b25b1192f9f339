package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// keptPunct survives normalization alongside letters, digits and spaces.
const keptPunct = "-/%№#"

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName folds a field, column or group name for comparison: lower-cased, diacritics
// removed, punctuation outside the allow-list replaced by spaces, whitespace collapsed.
func NormalizeName(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case strings.ContainsRune(keptPunct, r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// matcher resolves response names onto a fixed, ordered list of canonical names.
type matcher struct {
	names []string
	norm  []string
}

func newMatcher(names []string) *matcher {
	m := &matcher{names: names, norm: make([]string, len(names))}
	for i, n := range names {
		m.norm[i] = NormalizeName(n)
	}
	return m
}

// match returns the index of the canonical name for candidate: exact normalized equality
// first, then the first name where either side contains the other.
func (m *matcher) match(candidate string) (int, bool) {
	if i, ok := m.exact(candidate); ok {
		return i, true
	}
	return m.substring(candidate)
}

func (m *matcher) exact(candidate string) (int, bool) {
	c := NormalizeName(candidate)
	if c == "" {
		return -1, false
	}
	for i, n := range m.norm {
		if n == c {
			return i, true
		}
	}
	return -1, false
}

func (m *matcher) substring(candidate string) (int, bool) {
	c := NormalizeName(candidate)
	if c == "" {
		return -1, false
	}
	for i, n := range m.norm {
		if n == "" {
			continue
		}
		if strings.Contains(n, c) || strings.Contains(c, n) {
			return i, true
		}
	}
	return -1, false
}
