package export

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	MainSheet = "Данные документа"
	Namespace = "http://v8.1c.ru/data"
)

// XLSX writes the scalars to the main sheet as Поле/Значение/Тип данных rows and every table
// to a sheet of its own.
func XLSX(d Data) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), MainSheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	rows := [][]any{{"Поле", "Значение", "Тип данных"}}
	for _, fl := range d.Fields {
		rows = append(rows, []any{fl.Label, fl.Value, fl.DataType})
	}
	if err := writeRows(f, MainSheet, rows); err != nil {
		return nil, err
	}
	_ = f.SetColWidth(MainSheet, "A", "A", 25)
	_ = f.SetColWidth(MainSheet, "B", "B", 50)
	_ = f.SetColWidth(MainSheet, "C", "C", 35)

	used := map[string]struct{}{MainSheet: {}}
	for _, t := range d.Tables {
		name := sheetName(t.Name, used)
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("xlsx sheet %q: %w", name, err)
		}
		header := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			header[i] = c
		}
		trows := [][]any{header}
		for _, r := range t.Rows {
			row := make([]any, len(r))
			for i, v := range r {
				row[i] = v
			}
			trows = append(trows, row)
		}
		if err := writeRows(f, name, trows); err != nil {
			return nil, err
		}
		if len(t.Columns) > 0 {
			last, _ := excelize.ColumnNumberToName(len(t.Columns))
			_ = f.SetColWidth(name, "A", last, 25)
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+1, err)
		}
	}
	return nil
}

// sheetName makes a valid, unique sheet name: at most 31 characters and none of []:*?/\.
func sheetName(name string, used map[string]struct{}) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		name = "Таблица"
	}
	base := truncateRunes(name, 31)
	name = base
	for n := 2; ; n++ {
		if _, ok := used[name]; !ok {
			break
		}
		suffix := fmt.Sprintf(" (%d)", n)
		name = truncateRunes(base, 31-len([]rune(suffix))) + suffix
	}
	used[name] = struct{}{}
	return name
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type xmlDocument struct {
	XMLName xml.Name   `xml:"http://v8.1c.ru/data ДанныеДокумента"`
	Version string     `xml:"ВерсияФормата,attr"`
	Meta    xmlMeta    `xml:"Метаданные"`
	Fields  []xmlField `xml:"Реквизиты>Реквизит"`
	Tables  []xmlTable `xml:"Таблицы>Таблица"`
}

type xmlMeta struct {
	Source       string `xml:"ИсходныйФайл"`
	ExtractedAt  string `xml:"ДатаИзвлечения"`
	DocumentType string `xml:"ТипДокумента"`
}

type xmlField struct {
	Name  string `xml:"Имя,attr"`
	Type  string `xml:"Тип,attr,omitempty"`
	Value string `xml:",chardata"`
}

type xmlTable struct {
	Name string   `xml:"Имя,attr"`
	Rows []xmlRow `xml:"Строка"`
}

type xmlRow struct {
	Fields []xmlField `xml:"Реквизит"`
}

// XML renders the ДанныеДокумента document.
func XML(d Data) ([]byte, error) {
	doc := xmlDocument{
		Version: FormatVersion,
		Meta: xmlMeta{
			Source:       d.Source,
			ExtractedAt:  timestamp(d.ExtractedAt),
			DocumentType: d.DocumentType,
		},
	}
	for _, f := range d.Fields {
		doc.Fields = append(doc.Fields, xmlField{Name: f.Label, Type: f.DataType, Value: f.Value})
	}
	for _, t := range d.Tables {
		xt := xmlTable{Name: t.Name}
		for _, r := range t.Rows {
			var row xmlRow
			for i, v := range r {
				row.Fields = append(row.Fields, xmlField{Name: t.Columns[i], Value: v})
			}
			xt.Rows = append(xt.Rows, row)
		}
		doc.Tables = append(doc.Tables, xt)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("xml encode: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

type jsonDocument struct {
	Document jsonBody `json:"Документ"`
	Meta     jsonMeta `json:"_meta"`
}

type jsonBody struct {
	Type   string                         `json:"Тип"`
	Fields map[string]string              `json:"Реквизиты"`
	Tables map[string][]map[string]string `json:"Таблицы"`
}

type jsonMeta struct {
	Source        string `json:"source"`
	ExtractedAt   string `json:"extracted_at"`
	FormatVersion string `json:"format_version"`
}

// JSON renders the payload for 1C HTTP services. Labels that repeat keep their first value.
func JSON(d Data) ([]byte, error) {
	body := jsonBody{
		Type:   d.DocumentType,
		Fields: make(map[string]string, len(d.Fields)),
		Tables: make(map[string][]map[string]string, len(d.Tables)),
	}
	for _, f := range d.Fields {
		if _, dup := body.Fields[f.Label]; !dup {
			body.Fields[f.Label] = f.Value
		}
	}
	for _, t := range d.Tables {
		rows := make([]map[string]string, 0, len(t.Rows))
		for _, r := range t.Rows {
			row := make(map[string]string, len(r))
			for i, v := range r {
				row[t.Columns[i]] = v
			}
			rows = append(rows, row)
		}
		body.Tables[t.Name] = append(body.Tables[t.Name], rows...)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	err := enc.Encode(jsonDocument{
		Document: body,
		Meta: jsonMeta{
			Source:        d.Source,
			ExtractedAt:   timestamp(d.ExtractedAt),
			FormatVersion: FormatVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return buf.Bytes(), nil
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
