package reconcile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
)

// stringify renders a decoded JSON scalar as field text. Nested values are re-encoded.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := stringify(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// confidence reads a model-supplied confidence, falling back to def and clamping to [0,1].
func confidence(v any, def float64) float64 {
	var f float64
	switch t := v.(type) {
	case json.Number:
		p, err := t.Float64()
		if err != nil {
			return def
		}
		f = p
	case float64:
		f = t
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return def
		}
		f = p
	default:
		return def
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// cellValue unwraps {value, confidence} objects.
func cellValue(v any) (string, float64) {
	if m, ok := v.(map[string]any); ok {
		return stringify(m["value"]), confidence(m["confidence"], constants.DefaultConfidence)
	}
	return stringify(v), constants.DefaultConfidence
}

func firstKey(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}
