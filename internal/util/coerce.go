// Package util holds small shared helpers that do not justify a public
// package: declared-type coercion for capability parameters and the
// validation error shape reported on mismatches.
package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError reports a parameter that could not be coerced to its
// declared type.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for parameter '%s': %s", e.Field, e.Message)
}

// Coerce converts value to the declared parameter type (string, integer,
// number, boolean, array). Providers frequently deliver every parameter as a
// string, so string sources are parsed for the numeric and boolean types.
func Coerce(value any, declaredType string) (any, error) {
	switch declaredType {
	case "string", "":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", value), nil
	case "integer":
		return coerceInteger(value)
	case "number":
		return coerceNumber(value)
	case "boolean":
		return coerceBoolean(value)
	case "array":
		return coerceArray(value)
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", declaredType)
	}
}

func coerceInteger(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as integer", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to integer", value)
	}
}

func coerceNumber(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as number", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to number", value)
	}
}

func coerceBoolean(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as boolean", v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to boolean", value)
	}
}

func coerceArray(value any) (any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case string:
		// Comma-separated fallback for providers that flatten arrays.
		parts := strings.Split(v, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to array", value)
	}
}
