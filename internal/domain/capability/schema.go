package capability

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldType enumerates the parameter types the shared validator understands.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldObject FieldType = "object"
	FieldList   FieldType = "list"
)

// Field describes one parameter in a capability's schema.
type Field struct {
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Enum     []string  `json:"enum,omitempty" yaml:"enum,omitempty"`
	Pattern  string    `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	MaxLen   int       `json:"max_len,omitempty" yaml:"max_len,omitempty"`
	Min      *float64  `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64  `json:"max,omitempty" yaml:"max,omitempty"`
	Default  any       `json:"default,omitempty" yaml:"default,omitempty"`
}

// Schema is the data-driven parameter schema attached to each ToolCapability.
// All executors validate through the one Validate routine below rather than
// bespoke per-executor code.
type Schema map[string]Field

// ValidationResult is the outcome of checking raw parameters against a Schema.
type ValidationResult struct {
	Valid           bool           `json:"valid"`
	Errors          []string       `json:"errors,omitempty"`
	SanitizedParams map[string]any `json:"sanitized_params,omitempty"`
}

// Validate checks params against the schema and returns sanitized parameters
// on success. Unknown keys are dropped, missing optional fields pick up their
// defaults, and strings are trimmed. Validating sanitized output again always
// succeeds with the same result.
func (s Schema) Validate(params map[string]any) ValidationResult {
	var errs []string
	sanitized := make(map[string]any, len(s))

	for name, field := range s {
		raw, ok := params[name]
		if !ok || raw == nil {
			if field.Required {
				errs = append(errs, fmt.Sprintf("%s: required", name))
				continue
			}
			if field.Default != nil {
				sanitized[name] = field.Default
			}
			continue
		}

		val, err := coerce(name, field, raw)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		sanitized[name] = val
	}

	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs}
	}
	return ValidationResult{Valid: true, SanitizedParams: sanitized}
}

// coerce validates a single value against its field definition.
func coerce(name string, f Field, raw any) (any, error) {
	switch f.Type {
	case FieldString:
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected string", name)
		}
		str = strings.TrimSpace(str)
		if f.Required && str == "" {
			return nil, fmt.Errorf("%s: required", name)
		}
		if f.MaxLen > 0 && len(str) > f.MaxLen {
			return nil, fmt.Errorf("%s: exceeds max length %d", name, f.MaxLen)
		}
		if len(f.Enum) > 0 && !contains(f.Enum, str) {
			return nil, fmt.Errorf("%s: must be one of %s", name, strings.Join(f.Enum, ", "))
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid pattern: %w", name, err)
			}
			if !re.MatchString(str) {
				return nil, fmt.Errorf("%s: does not match %s", name, f.Pattern)
			}
		}
		return str, nil

	case FieldNumber:
		num, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("%s: expected number", name)
		}
		if f.Min != nil && num < *f.Min {
			return nil, fmt.Errorf("%s: below minimum %v", name, *f.Min)
		}
		if f.Max != nil && num > *f.Max {
			return nil, fmt.Errorf("%s: above maximum %v", name, *f.Max)
		}
		return num, nil

	case FieldBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("%s: expected bool", name)
		}
		return b, nil

	case FieldObject:
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected object", name)
		}
		return m, nil

	case FieldList:
		l, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected list", name)
		}
		return l, nil
	}
	return nil, fmt.Errorf("%s: unknown field type %q", name, f.Type)
}

// toFloat accepts the numeric types JSON decoding and Go callers produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
