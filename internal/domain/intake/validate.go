package intake

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldError is one invalid field of a submission
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "intake validation failed: " + strings.Join(parts, "; ")
}

// Validate checks values against the schema. Unknown keys are ignored.
func Validate(schema Schema, values map[string]interface{}) error {
	var errs []FieldError
	for _, f := range schema.Fields() {
		raw, present := values[f.Name]
		if !present || isBlank(raw) {
			if f.Required {
				errs = append(errs, FieldError{Field: f.Name, Message: f.Label + " is required"})
			}
			continue
		}
		if msg := validateField(f, raw); msg != "" {
			errs = append(errs, FieldError{Field: f.Name, Message: msg})
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func validateField(f Field, raw interface{}) string {
	switch f.Type {
	case FieldText, FieldTextarea:
		if _, ok := raw.(string); !ok {
			return "must be text"
		}
	case FieldDate:
		s, ok := raw.(string)
		if !ok {
			return "must be a date"
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return "must be a date in YYYY-MM-DD format"
		}
	case FieldNumber:
		if !isNumber(raw) {
			return "must be a number"
		}
	case FieldSelect:
		s, ok := raw.(string)
		if !ok {
			return "must be one of the listed options"
		}
		for _, opt := range f.Options {
			if s == opt {
				return ""
			}
		}
		return fmt.Sprintf("must be one of %s", strings.Join(f.Options, ", "))
	case FieldCheckbox:
		b, ok := raw.(bool)
		if !ok {
			return "must be true or false"
		}
		if f.Required && !b {
			return f.Label + " must be checked"
		}
	default:
		return fmt.Sprintf("unsupported field type %q", f.Type)
	}
	return ""
}

func isBlank(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func isNumber(v interface{}) bool {
	switch t := v.(type) {
	case float64, float32, int, int64, int32:
		return true
	case json.Number:
		_, err := t.Float64()
		return err == nil
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return err == nil
	}
	return false
}
