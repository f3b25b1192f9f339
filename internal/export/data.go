// Package export renders a document's extracted fields in formats 1C can import:
// an XLSX workbook, an XML document and a JSON payload for 1C HTTP services.
package export

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/fieldschema"
)

// 1C data type names written next to each value.
const (
	TypeString = "Строка"
	TypeNumber = "Число"
	TypeDate   = "Дата"
)

const FormatVersion = "1.0"

// Field is one scalar under its export label.
type Field struct {
	Label    string
	Value    string
	DataType string
}

// Table is one table group with its rows in extraction order.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Data is what every format renders.
type Data struct {
	DocumentType string
	Source       string
	ExtractedAt  time.Time
	Fields       []Field
	Tables       []Table
}

// Build remaps the document's fields through the type's export keys. Placeholder values
// are exported as empty strings.
func Build(doc *entity.ProcessedDocument, dt *entity.DocumentType) Data {
	d := Data{Source: doc.Filename, ExtractedAt: doc.UpdatedAt}
	var tokens []string
	if dt != nil {
		d.DocumentType = dt.Name
		tokens = dt.Fields
	}
	schema := fieldschema.Parse(tokens)

	type cells struct {
		columns []string
		rows    map[int]map[string]string
	}
	groups := map[string]*cells{}
	var order []string

	for _, f := range doc.ExtractedFields {
		value := f.Value
		if constants.IsPlaceholder(value) {
			value = ""
		}
		if !f.IsTableCell() {
			d.Fields = append(d.Fields, Field{Label: dt.ExportLabel(f.Name), Value: value, DataType: DataType(value)})
			continue
		}
		g, ok := groups[f.Group]
		if !ok {
			g = &cells{rows: map[int]map[string]string{}}
			if tg, found := schema.Group(f.Group); found {
				g.columns = append(g.columns, tg.Columns...)
			}
			groups[f.Group] = g
			order = append(order, f.Group)
		}
		if !containsString(g.columns, f.Name) {
			g.columns = append(g.columns, f.Name)
		}
		row := g.rows[*f.RowIndex]
		if row == nil {
			row = map[string]string{}
			g.rows[*f.RowIndex] = row
		}
		row[f.Name] = value
	}

	for _, name := range order {
		g := groups[name]
		t := Table{Name: dt.ExportLabel(name)}
		for _, c := range g.columns {
			t.Columns = append(t.Columns, columnLabel(dt, name, c))
		}
		idx := make([]int, 0, len(g.rows))
		for i := range g.rows {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		for _, i := range idx {
			out := make([]string, len(g.columns))
			for j, c := range g.columns {
				out[j] = g.rows[i][c]
			}
			t.Rows = append(t.Rows, out)
		}
		d.Tables = append(d.Tables, t)
	}
	return d
}

var (
	numberRe = regexp.MustCompile(`^-?\d[\d\s]*([.,]\d+)?$`)
	dateRe   = regexp.MustCompile(`^\d{1,2}[./-]\d{1,2}[./-]\d{2,4}$|^\d{4}-\d{2}-\d{2}$|^\d{1,2}\s+\p{L}+\s+\d{4}`)
)

// DataType guesses the 1C type of a value.
func DataType(v string) string {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return TypeString
	case dateRe.MatchString(v):
		return TypeDate
	case numberRe.MatchString(v):
		return TypeNumber
	}
	return TypeString
}

// columnLabel looks up the export key of a column by its table token. Without one the bare
// column name is used.
func columnLabel(dt *entity.DocumentType, group, column string) string {
	tok := fieldschema.Token(group, column)
	if label := dt.ExportLabel(tok); label != tok {
		return label
	}
	return column
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
