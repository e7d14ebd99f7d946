package socketio

import (
	"testing"
)

func TestGetIntFromMap(t *testing.T) {
	tests := []struct {
		name       string
		m          map[string]interface{}
		key        string
		defaultVal int
		expected   int
	}{
		{"nil map", nil, "index", -1, -1},
		{"missing key", map[string]interface{}{"other": 5}, "index", -1, -1},
		{"int value", map[string]interface{}{"index": 42}, "index", -1, 42},
		{"float64 value", map[string]interface{}{"index": float64(42)}, "index", -1, 42},
		{"int64 value", map[string]interface{}{"index": int64(42)}, "index", -1, 42},
		{"string value returns default", map[string]interface{}{"index": "42"}, "index", -1, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getIntFromMap(tt.m, tt.key, tt.defaultVal); got != tt.expected {
				t.Errorf("getIntFromMap() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestIntArg(t *testing.T) {
	tests := []struct {
		name string
		args []any
		want int
	}{
		{"no args", nil, -1},
		{"bare number", []any{float64(3)}, 3},
		{"bare int", []any{2}, 2},
		{"object", []any{map[string]interface{}{"index": float64(1)}}, 1},
		{"object without key", []any{map[string]interface{}{}}, -1},
		{"string", []any{"1"}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := intArg(tt.args, "index"); got != tt.want {
				t.Errorf("intArg() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStringArg(t *testing.T) {
	tests := []struct {
		name string
		args []any
		want string
	}{
		{"no args", nil, ""},
		{"bare string", []any{"imagine"}, "imagine"},
		{"object", []any{map[string]interface{}{"query": "let it be"}}, "let it be"},
		{"object wrong type", []any{map[string]interface{}{"query": 5}}, ""},
		{"number", []any{float64(5)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stringArg(tt.args, "query"); got != tt.want {
				t.Errorf("stringArg() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMapArg(t *testing.T) {
	if mapArg(nil) != nil {
		t.Error("mapArg(nil) should be nil")
	}
	if mapArg([]any{"x"}) != nil {
		t.Error("mapArg of a string should be nil")
	}
	if m := mapArg([]any{map[string]interface{}{"a": 1}}); m["a"] != 1 {
		t.Errorf("mapArg = %v", m)
	}
}
