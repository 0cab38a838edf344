package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/timxx/qgitc-sub000/internal/errors"
)

// Kind is the JSON type of a parameter.
type Kind string

const (
	String  Kind = "string"
	Integer Kind = "integer"
	Boolean Kind = "boolean"
	Array   Kind = "array"
)

// Param describes one tool argument.
type Param struct {
	Name        string
	Kind        Kind
	Description string
	Required    bool
	Default     any
	// Min and Max bound integers.
	Min, Max *int
	// Choices restricts strings.
	Choices []string
	// MinItems and MaxItems bound arrays of strings. Zero MaxItems means
	// unbounded.
	MinItems, MaxItems int
}

// Bound returns a pointer to v, for Param.Min and Param.Max.
func Bound(v int) *int {
	return &v
}

// Schema is the parameter list of a tool.
type Schema struct {
	Params []Param
}

// JSON returns the schema as a JSON Schema object, the form function
// calling APIs expect.
func (s Schema) JSON() map[string]any {
	props := make(map[string]any, len(s.Params))
	required := []string{}
	for _, p := range s.Params {
		prop := map[string]any{"type": string(p.Kind)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Min != nil {
			prop["minimum"] = *p.Min
		}
		if p.Max != nil {
			prop["maximum"] = *p.Max
		}
		if len(p.Choices) > 0 {
			prop["enum"] = p.Choices
		}
		if p.Kind == Array {
			prop["items"] = map[string]any{"type": "string"}
			if p.MinItems > 0 {
				prop["minItems"] = p.MinItems
			}
			if p.MaxItems > 0 {
				prop["maxItems"] = p.MaxItems
			}
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Args are validated tool arguments. Values have the Go type of their
// Kind: string, int, bool or []string.
type Args map[string]any

// String returns the named string argument.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns the named integer argument.
func (a Args) Int(name string) int {
	n, _ := a[name].(int)
	return n
}

// Bool returns the named boolean argument.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Strings returns the named array argument.
func (a Args) Strings(name string) []string {
	s, _ := a[name].([]string)
	return s
}

// Has reports whether the argument was given or defaulted.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Parse decodes a JSON object of arguments and validates it. Empty input
// is an empty object.
func (s Schema) Parse(raw string) (Args, error) {
	in := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&in); err != nil {
			return nil, errors.NewValidationError("arguments are not a JSON object: " + err.Error()).WithField("arguments")
		}
	}
	return s.Validate(in)
}

// Validate checks in against the schema, coercing the loose forms models
// tend to send: numbers as strings, booleans as strings or numbers, a
// single string for a list, or a list encoded as a JSON string. Unknown
// arguments are dropped.
func (s Schema) Validate(in map[string]any) (Args, error) {
	out := make(Args, len(s.Params))
	for _, p := range s.Params {
		v, ok := in[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, errors.NewValidationError("missing required argument").WithField(p.Name)
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}
		cv, err := p.coerce(v)
		if err != nil {
			return nil, err
		}
		out[p.Name] = cv
	}
	return out, nil
}

func (p Param) invalid(reason string, v any) error {
	return errors.NewValidationError(reason).WithField(p.Name).WithValue(v)
}

func (p Param) coerce(v any) (any, error) {
	switch p.Kind {
	case String:
		s, ok := toString(v)
		if !ok {
			return nil, p.invalid("expected a string", v)
		}
		if len(p.Choices) > 0 && !slices.Contains(p.Choices, s) {
			return nil, p.invalid("must be one of "+strings.Join(p.Choices, ", "), v)
		}
		return s, nil

	case Integer:
		n, ok := toInt(v)
		if !ok {
			return nil, p.invalid("expected an integer", v)
		}
		if p.Min != nil && n < *p.Min {
			return nil, p.invalid(fmt.Sprintf("must be at least %d", *p.Min), v)
		}
		if p.Max != nil && n > *p.Max {
			return nil, p.invalid(fmt.Sprintf("must be at most %d", *p.Max), v)
		}
		return n, nil

	case Boolean:
		b, ok := toBool(v)
		if !ok {
			return nil, p.invalid("expected a boolean", v)
		}
		return b, nil

	case Array:
		list, ok := toStrings(v)
		if !ok {
			return nil, p.invalid("expected a list of strings", v)
		}
		if len(list) < p.MinItems {
			return nil, p.invalid(fmt.Sprintf("needs at least %d items", p.MinItems), v)
		}
		if p.MaxItems > 0 && len(list) > p.MaxItems {
			return nil, p.invalid(fmt.Sprintf("takes at most %d items", p.MaxItems), v)
		}
		return list, nil
	}
	return nil, p.invalid("unsupported parameter kind "+string(p.Kind), v)
}

func toString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
		if f, err := x.Float64(); err == nil {
			return toInt(f)
		}
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return toInt(f)
		}
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "1", "on":
			return true, true
		case "false", "no", "0", "off":
			return false, true
		}
	case json.Number, float64, int:
		n, ok := toInt(x)
		if ok && (n == 0 || n == 1) {
			return n == 1, true
		}
	}
	return false, false
}

func toStrings(v any) ([]string, bool) {
	switch x := v.(type) {
	case []string:
		return x, true
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := toString(e)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		t := strings.TrimSpace(x)
		if strings.HasPrefix(t, "[") {
			var list []any
			if err := json.Unmarshal([]byte(t), &list); err == nil {
				return toStrings(list)
			}
		}
		return []string{x}, true
	}
	return nil, false
}
