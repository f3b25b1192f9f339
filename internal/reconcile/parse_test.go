package reconcile

import (
	"encoding/json"
	"testing"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind ParseKind
		wantStep string
		key      string
		want     any
	}{
		{"direct", `{"a": "1"}`, Structured, "direct", "a", "1"},
		{"fenced", "Here you go:\n```json\n{\"a\": \"x\"}\n```\nthanks", Structured, "fenced", "a", "x"},
		{"balanced", `Result: {"a": "x}"} and some chatter`, Structured, "balanced", "a", "x}"},
		{"trailing commas", `Answer {"a": ["1", "2",],}`, Structured, "trailing_commas", "", nil},
		{"literal", `{'a': 'x', 'b': True, 'c': None,}`, Structured, "literal", "b", true},
		{"literal embedded quote", `{'a': 'say "hi"'}`, Structured, "literal", "a", `say "hi"`},
		{"malformed", "Sorry, I cannot help with that.", Malformed, "", "", nil},
		{"empty", "   ", Malformed, "", "", nil},
		{"unbalanced", `{"a": "1"`, Malformed, "", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseResponse(tt.raw)
			if got.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Step != tt.wantStep {
				t.Errorf("Step = %q, want %q", got.Step, tt.wantStep)
			}
			if got.Kind == Malformed {
				if got.Raw != tt.raw {
					t.Errorf("Raw = %q, want original text", got.Raw)
				}
				return
			}
			if tt.key != "" && got.Object[tt.key] != tt.want {
				t.Errorf("Object[%q] = %#v, want %#v", tt.key, got.Object[tt.key], tt.want)
			}
		})
	}
}

func TestParseResponseWrapsArray(t *testing.T) {
	got := ParseResponse(`[{"name": "Date", "value": "2024-01-01"}]`)
	if got.Kind != Structured {
		t.Fatalf("Kind = %v, want Structured", got.Kind)
	}
	list, ok := got.Object["fields"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("fields = %#v, want one-element list", got.Object["fields"])
	}
}

func TestParseResponseKeepsNumbers(t *testing.T) {
	got := ParseResponse(`{"confidence": 0.95}`)
	n, ok := got.Object["confidence"].(json.Number)
	if !ok || n.String() != "0.95" {
		t.Errorf("confidence = %#v, want json.Number 0.95", got.Object["confidence"])
	}
}

func TestNormalizeNameParse(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Invoice   Number: ", "invoice number"},
		{"Дата  документа", "дата документа"},
		{"Café", "cafe"},
		{"Сумма, %", "сумма %"},
		{"ИНН/КПП", "инн/кпп"},
		{"***", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
