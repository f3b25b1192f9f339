package reconcile

import (
	"sort"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/fieldschema"
	"github.com/joseph-ayodele/docflow/internal/locate"
)

type rawTable struct {
	name string
	rows []any
}

// tableEntries accepts a list of {group|name|title, rows|items} objects or a group to rows map.
func tableEntries(raw any) []rawTable {
	var out []rawTable
	switch t := raw.(type) {
	case []any:
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			nameRaw, _ := firstKey(m, "group", "name", "title")
			rowsRaw, _ := firstKey(m, "rows", "items")
			rows, _ := rowsRaw.([]any)
			out = append(out, rawTable{name: stringify(nameRaw), rows: rows})
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rows, _ := t[k].([]any)
			out = append(out, rawTable{name: k, rows: rows})
		}
	}
	return out
}

// resolveGroup: exact normalized name, then the sole configured group (a missing name is
// accepted only here), then bidirectional substring.
func resolveGroup(name string, groups []fieldschema.TableGroup, m *matcher) (int, bool) {
	if i, ok := m.exact(name); ok {
		return i, true
	}
	if len(groups) == 1 {
		return 0, true
	}
	return m.substring(name)
}

func (e *Engine) reconcileTables(raw any, in Input) ([]entity.ExtractedField, []string) {
	groups := in.Schema.Tables
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name
	}
	gm := newMatcher(names)

	var (
		out     []entity.ExtractedField
		dropped []string
	)
	// row indexes continue across tables of the same group so (group, row, column) stays unique
	nextRow := make([]int, len(groups))

	for _, tbl := range tableEntries(raw) {
		gi, ok := resolveGroup(tbl.name, groups, gm)
		if !ok {
			dropped = append(dropped, tableFieldLabel(tbl.name))
			continue
		}
		group := groups[gi]
		cm := newMatcher(group.Columns)
		for _, row := range tbl.rows {
			cells, ok := rowCells(row, group.Columns, cm)
			if !ok {
				continue
			}
			rowIndex := nextRow[gi]
			nextRow[gi]++
			for ci, col := range group.Columns {
				value, conf := constants.NotFoundValue, constants.DefaultConfidence
				if c, has := cells[ci]; has {
					value, conf = c.value, c.conf
					if value == "" {
						value = constants.NotFoundValue
					}
				}
				idx := rowIndex
				f := entity.ExtractedField{
					Name:       col,
					Value:      value,
					Confidence: conf,
					Group:      group.Name,
					RowIndex:   &idx,
				}
				if !constants.IsPlaceholder(value) {
					f.Coordinate = locate.Find(value, in.Blocks)
				}
				out = append(out, f)
			}
		}
	}
	return out, dropped
}

func tableFieldLabel(name string) string {
	if name == "" {
		return constants.TableFieldPrefix + "<unnamed>"
	}
	return constants.TableFieldPrefix + name
}

// rowCells maps one response row onto column indexes. Dict rows match keys by name (exact
// before substring); list rows map by position. Rows matching no column are rejected.
func rowCells(row any, columns []string, cm *matcher) (map[int]scalarValue, bool) {
	cells := make(map[int]scalarValue)
	switch t := row.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var pending []string
		for _, k := range keys {
			ci, ok := cm.exact(k)
			if !ok {
				pending = append(pending, k)
				continue
			}
			if _, taken := cells[ci]; taken {
				continue
			}
			v, c := cellValue(t[k])
			cells[ci] = scalarValue{value: v, conf: c}
		}
		for _, k := range pending {
			ci, ok := cm.substring(k)
			if !ok {
				continue
			}
			if _, taken := cells[ci]; taken {
				continue
			}
			v, c := cellValue(t[k])
			cells[ci] = scalarValue{value: v, conf: c}
		}
	case []any:
		for i, el := range t {
			if i >= len(columns) {
				break
			}
			v, c := cellValue(el)
			cells[i] = scalarValue{value: v, conf: c}
		}
	default:
		return nil, false
	}
	return cells, len(cells) > 0
}
