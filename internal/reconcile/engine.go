// Package reconcile turns free-form model output into extracted field records that conform
// to a document type's field schema.
package reconcile

import (
	"log/slog"
	"sort"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/fieldschema"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/locate"
)

// envelopeSchema accepts the canonical {"fields": ..., "tables": ...} response shape.
// Objects failing it are read as a flat name to value map.
var envelopeSchema = llm.MustCompileSchema(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"fields": map[string]any{"type": []any{"array", "object"}},
		"tables": map[string]any{"type": []any{"array", "object"}},
	},
	"anyOf": []any{
		map[string]any{"required": []any{"fields"}},
		map[string]any{"required": []any{"tables"}},
	},
})

// Input is everything reconciliation needs for one document.
type Input struct {
	Response string
	Schema   fieldschema.Schema
	Blocks   []entity.OCRBlock
	Text     string
}

// Result is the reconciled record list plus parse diagnostics.
type Result struct {
	Fields  []entity.ExtractedField
	Parse   ParseKind
	Step    string
	Dropped []string // response names that matched nothing in the schema
}

type Engine struct {
	log *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{log: logger}
}

type scalarValue struct {
	value string
	conf  float64
}

// Reconcile maps a model response onto the schema. Every requested scalar yields at least one
// record; table cells are emitted only for rows present in a structured response.
func (e *Engine) Reconcile(in Input) Result {
	pr := ParseResponse(in.Response)
	res := Result{Parse: pr.Kind, Step: pr.Step}

	var obj map[string]any
	if pr.Kind == Structured {
		obj = pr.Object
		if err := llm.ValidateValue(envelopeSchema, obj); err != nil {
			obj = map[string]any{"fields": obj}
		}
	} else {
		e.log.Warn("reconcile.parse.malformed",
			"error", common.ErrParseFailure, "response_len", len(in.Response))
	}

	scalars := newMatcher(in.Schema.Scalars)
	collected := make([][]scalarValue, len(in.Schema.Scalars))
	for _, entry := range scalarEntries(obj["fields"]) {
		idx, ok := scalars.match(entry.name)
		if !ok {
			res.Dropped = append(res.Dropped, entry.name)
			continue
		}
		collected[idx] = append(collected[idx], entry.values...)
	}

	for i, name := range in.Schema.Scalars {
		emitted := false
		for _, v := range collected[i] {
			if constants.IsPlaceholder(v.value) {
				continue
			}
			res.Fields = append(res.Fields, entity.ExtractedField{
				Name:       name,
				Value:      v.value,
				Confidence: v.conf,
				Coordinate: locate.Find(v.value, in.Blocks),
			})
			emitted = true
		}
		if emitted {
			continue
		}
		if v, ok := fallbackValue(name, in.Text); ok {
			res.Fields = append(res.Fields, entity.ExtractedField{
				Name:       name,
				Value:      v,
				Confidence: constants.FallbackConfidence,
			})
			continue
		}
		res.Fields = append(res.Fields, entity.ExtractedField{Name: name, Value: constants.NotFoundValue})
	}

	if obj != nil && in.Schema.HasTables() {
		cells, dropped := e.reconcileTables(obj["tables"], in)
		res.Fields = append(res.Fields, cells...)
		res.Dropped = append(res.Dropped, dropped...)
	}

	if len(res.Dropped) > 0 {
		e.log.Debug("reconcile.dropped",
			"error", common.ErrReconciliationMismatch, "names", res.Dropped)
	}
	e.log.Info("reconcile.done",
		"parse", res.Parse.String(), "step", res.Step,
		"records", len(res.Fields), "dropped", len(res.Dropped))
	return res
}

// ErrorPlaceholders is the result used when the generator call itself failed: every requested
// scalar gets the extraction error marker unless the OCR text fallback recovers it.
func (e *Engine) ErrorPlaceholders(in Input, cause error) Result {
	e.log.Warn("reconcile.generator_failed", "error", cause)
	res := Result{Parse: Malformed}
	for _, name := range in.Schema.Scalars {
		if v, ok := fallbackValue(name, in.Text); ok {
			res.Fields = append(res.Fields, entity.ExtractedField{
				Name:       name,
				Value:      v,
				Confidence: constants.FallbackConfidence,
			})
			continue
		}
		res.Fields = append(res.Fields, entity.ExtractedField{Name: name, Value: constants.ExtractionErrorValue})
	}
	return res
}

type scalarEntry struct {
	name   string
	values []scalarValue
}

// scalarEntries accepts either a list of {name, value|values, confidence} objects or a
// name to value map.
func scalarEntries(raw any) []scalarEntry {
	var out []scalarEntry
	switch t := raw.(type) {
	case []any:
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			nameRaw, _ := firstKey(m, "name", "field", "key")
			name := stringify(nameRaw)
			if name == "" {
				continue
			}
			conf := confidence(m["confidence"], constants.DefaultConfidence)
			v, ok := firstKey(m, "values", "value")
			if !ok {
				out = append(out, scalarEntry{name: name})
				continue
			}
			out = append(out, scalarEntry{name: name, values: expandValues(v, conf)})
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := t[k]
			conf := constants.DefaultConfidence
			if m, ok := v.(map[string]any); ok {
				conf = confidence(m["confidence"], conf)
				if inner, ok := firstKey(m, "values", "value"); ok {
					v = inner
				}
			}
			out = append(out, scalarEntry{name: k, values: expandValues(v, conf)})
		}
	}
	return out
}

// expandValues turns a list value into one record per element, in order.
func expandValues(v any, conf float64) []scalarValue {
	list, ok := v.([]any)
	if !ok {
		return []scalarValue{{value: stringify(v), conf: conf}}
	}
	out := make([]scalarValue, 0, len(list))
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			val, c := cellValue(m)
			if _, has := m["confidence"]; !has {
				c = conf
			}
			out = append(out, scalarValue{value: val, conf: c})
			continue
		}
		out = append(out, scalarValue{value: stringify(el), conf: conf})
	}
	return out
}
