package validation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/emberhaus/ember-core/internal/platform"
)

// FieldKind is the closed set of payload value shapes the pipeline can
// check. Service catalogs advertise selectors; we project each selector
// onto one of these kinds and interpret the constraint generically.
type FieldKind string

const (
	KindString   FieldKind = "string"
	KindNumber   FieldKind = "number"
	KindBool     FieldKind = "bool"
	KindObject   FieldKind = "object"
	KindArray    FieldKind = "array"
	KindTime     FieldKind = "time"
	KindDuration FieldKind = "duration"
)

// FieldSchema is one field's constraint set.
type FieldSchema struct {
	Kind     FieldKind
	Required bool
	Enum     []string
	Min      *float64
	Max      *float64
}

// schemaForField projects a catalog field onto a FieldSchema. The
// second return is false when the selector gives us nothing to check
// beyond presence.
func schemaForField(f platform.ServiceField) (FieldSchema, bool) {
	s := FieldSchema{Required: f.Required}
	for kind, raw := range f.Selector {
		switch kind {
		case "number":
			s.Kind = KindNumber
			if m, ok := raw.(map[string]any); ok {
				if v, ok := numeric(m["min"]); ok {
					s.Min = &v
				}
				if v, ok := numeric(m["max"]); ok {
					s.Max = &v
				}
			}
			return s, true
		case "boolean":
			s.Kind = KindBool
			return s, true
		case "select":
			s.Kind = KindString
			if m, ok := raw.(map[string]any); ok {
				s.Enum = selectOptions(m["options"])
			}
			return s, true
		case "text", "entity", "area", "device":
			s.Kind = KindString
			return s, true
		case "object", "target":
			s.Kind = KindObject
			return s, true
		case "time":
			s.Kind = KindTime
			return s, true
		case "duration":
			s.Kind = KindDuration
			return s, true
		}
	}
	return s, false
}

// checkField interprets one schema against one payload value.
func checkField(name string, schema FieldSchema, value any) error {
	switch schema.Kind {
	case KindString:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q: expected string, got %T", name, value)
		}
		if len(schema.Enum) > 0 && !contains(schema.Enum, str) {
			return fmt.Errorf("field %q: %q not in allowed options %v", name, str, schema.Enum)
		}
	case KindNumber:
		n, ok := numeric(value)
		if !ok {
			return fmt.Errorf("field %q: expected number, got %T", name, value)
		}
		if schema.Min != nil && n < *schema.Min {
			return fmt.Errorf("field %q: %v below minimum %v", name, n, *schema.Min)
		}
		if schema.Max != nil && n > *schema.Max {
			return fmt.Errorf("field %q: %v above maximum %v", name, n, *schema.Max)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q: expected bool, got %T", name, value)
		}
	case KindObject:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("field %q: expected object, got %T", name, value)
		}
	case KindArray:
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("field %q: expected array, got %T", name, value)
		}
	case KindTime:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q: expected time string, got %T", name, value)
		}
		if _, err := parseClock(str); err != nil {
			return fmt.Errorf("field %q: %v", name, err)
		}
	case KindDuration:
		switch v := value.(type) {
		case string:
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("field %q: invalid duration %q", name, v)
			}
		case map[string]any:
			// {hours, minutes, seconds} object form.
		default:
			if _, ok := numeric(value); !ok {
				return fmt.Errorf("field %q: expected duration, got %T", name, value)
			}
		}
	}
	return nil
}

// numeric coerces the JSON number representations into a float64.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func selectOptions(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if val, ok := v["value"].(string); ok {
				out = append(out, val)
			}
		}
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
