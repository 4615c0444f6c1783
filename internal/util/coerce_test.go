package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		typ      string
		expected any
		wantErr  bool
	}{
		{name: "string passthrough", value: "x", typ: "string", expected: "x"},
		{name: "string from number", value: 3.5, typ: "string", expected: "3.5"},
		{name: "integer from string", value: "42", typ: "integer", expected: int64(42)},
		{name: "integer from float", value: 7.0, typ: "integer", expected: int64(7)},
		{name: "integer garbage", value: "seven", typ: "integer", wantErr: true},
		{name: "number from string", value: "2.25", typ: "number", expected: 2.25},
		{name: "number from int", value: 3, typ: "number", expected: 3.0},
		{name: "boolean from string", value: "true", typ: "boolean", expected: true},
		{name: "boolean garbage", value: "maybe", typ: "boolean", wantErr: true},
		{name: "array passthrough", value: []any{"a", "b"}, typ: "array", expected: []any{"a", "b"}},
		{name: "array from csv", value: "a, b,c", typ: "array", expected: []any{"a", "b", "c"}},
		{name: "unknown type", value: "x", typ: "tuple", wantErr: true},
		{name: "untyped defaults to string", value: "x", typ: "", expected: "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.value, tt.typ)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "limit", Message: "cannot parse"}
	assert.Contains(t, err.Error(), "limit")
}
