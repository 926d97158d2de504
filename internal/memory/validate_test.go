package memory

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", " \t\n ", ""},
		{"trim and lower", "  Hello World  ", "hello world"},
		{"collapse runs", "a \t\n  b", "a b"},
		{"unicode spaces", "a  b", "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeText(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeText(got), "normalization must be idempotent")
		})
	}
}

func TestNormalizeSubject(t *testing.T) {
	assert.Equal(t, "work", NormalizeSubject("  Work "))
	assert.Equal(t, "", NormalizeSubject(""))
	assert.Equal(t, "a  b", NormalizeSubject(" A  B"), "subject keeps inner whitespace")
}

func TestParseFloatOrDefault(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"nil", nil, -1},
		{"float", 0.75, 0.75},
		{"int", 3, 3},
		{"json number", json.Number("1.5e2"), 150},
		{"string", " 0.3 ", 0.3},
		{"bad string", "high", -1},
		{"nan string", "NaN", -1},
		{"inf string", "inf", -1},
		{"underscore digits", "1_000", 1000},
		{"underscore fraction", "0.2_5", 0.25},
		{"leading dot", ".5", 0.5},
		{"trailing dot", "5.", 5},
		{"double underscore", "1__0", -1},
		{"trailing underscore", "10_", -1},
		{"hex float", "0x1p3", -1},
		{"hex integer", "0x10", -1},
		{"nan float", math.NaN(), -1},
		{"inf float", math.Inf(1), -1},
		{"true", true, 1},
		{"false", false, 0},
		{"object", json.RawMessage(`{}`), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFloatOrDefault(tt.in, -1))
		})
	}
}

func TestParseInt64OrDefault(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
	}{
		{"nil", nil, -7},
		{"true", true, -7},
		{"false", false, -7},
		{"int", 42, 42},
		{"int64 max", int64(math.MaxInt64), math.MaxInt64},
		{"uint64 overflow", uint64(math.MaxUint64), -7},
		{"integer string", "123", 123},
		{"signed string", "-123", -123},
		{"plus string", "+9", 9},
		{"padded string", "  77 ", 77},
		{"decimal string truncates", "12.99", 12},
		{"negative decimal truncates toward zero", "-12.99", -12},
		{"exponent string", "1e3", -7},
		{"garbage", "abc", -7},
		{"empty", "", -7},
		{"beyond int64", "9223372036854775808", -7},
		{"large id keeps precision", "9007199254740993", 9007199254740993},
		{"json integer literal", json.Number("9007199254740993"), 9007199254740993},
		{"json decimal literal", json.Number("7.9"), 7},
		{"json exponent literal", json.Number("1e3"), 1000},
		{"json fractional exponent truncates", json.Number("1.5e1"), 15},
		{"json negative exponent", json.Number("-2.5E0"), -2},
		{"json exponent beyond 2^53", json.Number("1e16"), -7},
		{"json exponent overflow", json.Number("1e400"), -7},
		{"float truncates", 3.7, 3},
		{"nan", math.NaN(), -7},
		{"object", json.RawMessage(`{"a":1}`), -7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseInt64OrDefault(tt.in, -7))
		})
	}
}

func TestIsValidVectorID(t *testing.T) {
	assert.True(t, IsValidVectorID(1))
	assert.True(t, IsValidVectorID("-5"))
	assert.True(t, IsValidVectorID(json.Number("9223372036854775807")))
	assert.True(t, IsValidVectorID(json.Number("-9223372036854775808")))

	assert.False(t, IsValidVectorID(0))
	assert.False(t, IsValidVectorID("0"))
	assert.False(t, IsValidVectorID("0.5"), "truncates to zero")
	assert.False(t, IsValidVectorID(nil))
	assert.False(t, IsValidVectorID(true))
	assert.False(t, IsValidVectorID("9223372036854775808"))
}
