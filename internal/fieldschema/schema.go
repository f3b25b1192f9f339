// Package fieldschema parses the flat field list of a document type into scalar fields and
// table groups. Table columns are encoded as "table:<group>::<column>" tokens.
package fieldschema

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
)

// TableGroup is a named, ordered set of columns representing a repeating structure.
type TableGroup struct {
	Name    string
	Columns []string
}

// Schema is the requested-field schema of a document type.
type Schema struct {
	Scalars []string
	Tables  []TableGroup
}

// Parse splits tokens into scalar fields and table groups, preserving first-seen order.
// Duplicate scalar names and duplicate columns within a group are collapsed. Malformed table
// tokens (empty group or column) are skipped; use Validate to reject them instead.
func Parse(tokens []string) Schema {
	var s Schema
	groupIdx := map[string]int{}
	seenScalar := map[string]struct{}{}

	for _, raw := range tokens {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			continue
		}
		if group, column, ok := splitTableToken(tok); ok {
			if group == "" || column == "" {
				continue
			}
			i, exists := groupIdx[group]
			if !exists {
				i = len(s.Tables)
				groupIdx[group] = i
				s.Tables = append(s.Tables, TableGroup{Name: group})
			}
			if !contains(s.Tables[i].Columns, column) {
				s.Tables[i].Columns = append(s.Tables[i].Columns, column)
			}
			continue
		}
		if _, dup := seenScalar[tok]; dup {
			continue
		}
		seenScalar[tok] = struct{}{}
		s.Scalars = append(s.Scalars, tok)
	}
	return s
}

// Validate reports the first table token that does not parse into a non-empty group and column.
func Validate(tokens []string) error {
	for _, raw := range tokens {
		tok := strings.TrimSpace(raw)
		if !strings.HasPrefix(tok, constants.TableFieldPrefix) {
			continue
		}
		group, column, ok := splitTableToken(tok)
		if !ok {
			return fmt.Errorf("field %q: missing %q separator", raw, constants.TableFieldSeparator)
		}
		if group == "" || column == "" {
			return fmt.Errorf("field %q: table group and column must be non-empty", raw)
		}
	}
	return nil
}

// Token encodes a table column back into the flat token form.
func Token(group, column string) string {
	return constants.TableFieldPrefix + group + constants.TableFieldSeparator + column
}

// Tokens flattens the schema back into the flat field list.
func (s Schema) Tokens() []string {
	out := make([]string, 0, len(s.Scalars))
	out = append(out, s.Scalars...)
	for _, g := range s.Tables {
		for _, c := range g.Columns {
			out = append(out, Token(g.Name, c))
		}
	}
	return out
}

// Empty reports whether nothing is requested.
func (s Schema) Empty() bool {
	return len(s.Scalars) == 0 && len(s.Tables) == 0
}

// HasTables reports whether at least one table group is configured.
func (s Schema) HasTables() bool {
	return len(s.Tables) > 0
}

// Group returns the group with exactly this name.
func (s Schema) Group(name string) (TableGroup, bool) {
	for _, g := range s.Tables {
		if g.Name == name {
			return g, true
		}
	}
	return TableGroup{}, false
}

func splitTableToken(tok string) (group, column string, ok bool) {
	if !strings.HasPrefix(tok, constants.TableFieldPrefix) {
		return "", "", false
	}
	payload := tok[len(constants.TableFieldPrefix):]
	group, column, ok = strings.Cut(payload, constants.TableFieldSeparator)
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(group), strings.TrimSpace(column), true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
