package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// SemanticType is the declared type of a schema field
type SemanticType string

const (
	TypeString    SemanticType = "string"
	TypeNumber    SemanticType = "number"
	TypeTimestamp SemanticType = "timestamp"
	TypeEnum      SemanticType = "enum"
	TypeObject    SemanticType = "object"
)

// ParseSemanticType converts a config value to a SemanticType
func ParseSemanticType(s string) (SemanticType, error) {
	switch t := SemanticType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeString, TypeNumber, TypeTimestamp, TypeEnum, TypeObject:
		return t, nil
	}
	return "", fmt.Errorf("unknown field type %q", s)
}

// FieldSpec declares one field of an event schema. Values lists the allowed
// members of an enum field.
type FieldSpec struct {
	Name     string
	Type     SemanticType
	Required bool
	Values   []string
}

// Schema is the ordered field list an inbound payload is checked against.
// Classifier names the field whose value selects the target stream.
type Schema struct {
	Classifier string
	Fields     []FieldSpec
}

// NewSchema builds a schema and checks that it is usable: field names are
// unique, types are known, enums list their values and the classifier is a
// required string or enum field.
func NewSchema(classifier string, fields ...FieldSpec) (Schema, error) {
	seen := make(map[string]struct{}, len(fields))
	var classifierSpec *FieldSpec

	for i := range fields {
		f := fields[i]
		if f.Name == "" {
			return Schema{}, errors.New("schema field without a name")
		}
		if _, dup := seen[f.Name]; dup {
			return Schema{}, fmt.Errorf("duplicate schema field %q", f.Name)
		}
		seen[f.Name] = struct{}{}

		if _, err := ParseSemanticType(string(f.Type)); err != nil {
			return Schema{}, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if f.Type == TypeEnum && len(f.Values) == 0 {
			return Schema{}, fmt.Errorf("enum field %q has no values", f.Name)
		}
		if f.Name == classifier {
			classifierSpec = &fields[i]
		}
	}

	if classifierSpec == nil {
		return Schema{}, fmt.Errorf("classifier field %q is not declared", classifier)
	}
	if !classifierSpec.Required || (classifierSpec.Type != TypeString && classifierSpec.Type != TypeEnum) {
		return Schema{}, fmt.Errorf("classifier field %q must be a required string or enum", classifier)
	}

	return Schema{Classifier: classifier, Fields: fields}, nil
}

// DefaultSchema is the reading schema used when none is configured: a
// classifier, a finite numeric value and an optional unit. It fails when the
// classifier collides with one of the other field names.
func DefaultSchema(classifier string) (Schema, error) {
	return NewSchema(classifier,
		FieldSpec{Name: classifier, Type: TypeString, Required: true},
		FieldSpec{Name: "value", Type: TypeNumber, Required: true},
		FieldSpec{Name: "unit", Type: TypeString},
	)
}

// Timestamps must fall in years 0 through 9999 so they stay encodable as
// RFC 3339.
var (
	minTimestamp = time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC)
)

// Value is a field value converted to its semantic type
type Value struct {
	Type   SemanticType
	String string
	Number float64
	Time   time.Time
	Object map[string]any
}

// Interface returns the value in the form it is stored in
func (v Value) Interface() any {
	switch v.Type {
	case TypeNumber:
		return v.Number
	case TypeTimestamp:
		return v.Time
	case TypeObject:
		return v.Object
	}
	return v.String
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// ValidatedEvent is a payload that passed schema validation. Fields holds the
// declared fields that were present; Extra holds every undeclared field
// unchanged.
type ValidatedEvent struct {
	Classifier string
	Fields     map[string]Value
	Extra      map[string]any
}

// Validate checks payload against schema and returns a typed event, or a
// *ValidationError listing every failing field in schema order.
func Validate(payload map[string]any, schema Schema) (*ValidatedEvent, error) {
	ev := &ValidatedEvent{
		Fields: make(map[string]Value, len(schema.Fields)),
		Extra:  make(map[string]any),
	}
	declared := make(map[string]struct{}, len(schema.Fields))
	var failures []FieldFailure

	for _, spec := range schema.Fields {
		declared[spec.Name] = struct{}{}

		raw, ok := payload[spec.Name]
		if !ok || raw == nil {
			if spec.Required {
				failures = append(failures, FieldFailure{Field: spec.Name, Reason: ReasonMissing})
			}
			continue
		}

		v, reason := coerce(raw, spec)
		if reason != "" {
			failures = append(failures, FieldFailure{Field: spec.Name, Reason: reason})
			continue
		}
		ev.Fields[spec.Name] = v
	}

	if len(failures) > 0 {
		return nil, &ValidationError{Failures: failures}
	}

	for k, v := range payload {
		if _, ok := declared[k]; !ok {
			ev.Extra[k] = copyJSON(v)
		}
	}
	ev.Classifier = ev.Fields[schema.Classifier].String

	return ev, nil
}

func coerce(raw any, spec FieldSpec) (Value, Reason) {
	switch spec.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, ReasonInvalidType
		}
		return Value{Type: TypeString, String: s}, ""

	case TypeEnum:
		s, ok := raw.(string)
		if !ok {
			return Value{}, ReasonInvalidType
		}
		for _, allowed := range spec.Values {
			if s == allowed {
				return Value{Type: TypeEnum, String: s}, ""
			}
		}
		return Value{}, ReasonNotAllowed

	case TypeNumber:
		f, reason := toFloat(raw)
		if reason != "" {
			return Value{}, reason
		}
		return Value{Type: TypeNumber, Number: f}, ""

	case TypeTimestamp:
		if s, ok := raw.(string); ok {
			t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
			if err != nil {
				return Value{}, ReasonInvalidTimestamp
			}
			t = t.UTC()
			if t.Before(minTimestamp) || t.After(maxTimestamp) {
				return Value{}, ReasonInvalidTimestamp
			}
			return Value{Type: TypeTimestamp, Time: t}, ""
		}
		secs, reason := toFloat(raw)
		if reason != "" {
			if reason == ReasonNotFinite {
				return Value{}, ReasonInvalidTimestamp
			}
			return Value{}, reason
		}
		if secs < float64(minTimestamp.Unix()) || secs >= float64(maxTimestamp.Unix()+1) {
			return Value{}, ReasonInvalidTimestamp
		}
		whole, frac := math.Modf(secs)
		return Value{Type: TypeTimestamp, Time: time.Unix(int64(whole), int64(frac*1e9)).UTC()}, ""

	case TypeObject:
		m, ok := raw.(map[string]any)
		if !ok {
			return Value{}, ReasonInvalidType
		}
		return Value{Type: TypeObject, Object: copyJSON(m).(map[string]any)}, ""
	}
	return Value{}, ReasonInvalidType
}

// toFloat accepts JSON numbers, Go numeric types and numeric strings and
// rejects anything that is not a finite float64.
func toFloat(raw any) (float64, Reason) {
	var f float64
	switch n := raw.(type) {
	case json.Number:
		return parseFloat(n.String())
	case string:
		return parseFloat(strings.TrimSpace(n))
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint64:
		f = float64(n)
	case uint32:
		f = float64(n)
	default:
		return 0, ReasonInvalidType
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ReasonNotFinite
	}
	return f, ""
}

func parseFloat(s string) (float64, Reason) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) && math.IsInf(f, 0) {
			return 0, ReasonNotFinite
		}
		if !errors.Is(err, strconv.ErrRange) {
			return 0, ReasonInvalidType
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ReasonNotFinite
	}
	return f, ""
}

// copyJSON deep copies decoded JSON containers so later stages never share
// maps or slices with the request payload.
func copyJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyJSON(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyJSON(e)
		}
		return out
	}
	return v
}
