package memory

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	intPattern     = regexp.MustCompile(`^[+-]?\d+$`)
	decimalPattern = regexp.MustCompile(`^[+-]?\d+\.\d+$`)

	// floatPattern is the decimal float syntax accepted in text fields:
	// digit groups may be separated by single underscores, hex floats are
	// rejected.
	floatPattern = regexp.MustCompile(`^[+-]?(?:\d(?:_?\d)*(?:\.(?:\d(?:_?\d)*)?)?|\.\d(?:_?\d)*)(?:[eE][+-]?\d(?:_?\d)*)?$`)
)

// maxExactFloatInt is 2^53, the bound below which every integer has an
// exact float64 representation.
const maxExactFloatInt = 1 << 53

// NormalizeText trims, lowercases and collapses whitespace runs to a single
// space. It is the deduplication and exact-drop key and is idempotent.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeSubject is the grouping key for the retention cap.
func NormalizeSubject(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseFloatOrDefault reads a numeric-like value as a finite float64.
// It returns def for nil, unparseable, NaN or infinite input.
func ParseFloatOrDefault(x any, def float64) float64 {
	if f, ok := parseFloat(x); ok {
		return f
	}
	return def
}

func parseFloat(x any) (float64, bool) {
	var f float64
	switch v := x.(type) {
	case nil:
		return 0, false
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, ok := parseFloatText(strings.TrimSpace(v))
		if !ok {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseFloatText(s string) (float64, bool) {
	if !floatPattern.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, "_", ""), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseInt64OrDefault reads an integer-like value without a float round trip,
// so identifiers above 2^53 keep every digit.
//
// Booleans yield def. Integer values are returned as-is. Strings and JSON
// number literals matching an integer pattern are parsed directly; those
// matching a plain decimal pattern are truncated toward zero. JSON exponent
// literals such as 1e3 are truncated when their magnitude is below 2^53;
// exponent strings are not numbers. Anything else, including values outside
// the int64 range, yields def.
func ParseInt64OrDefault(x any, def int64) int64 {
	switch v := x.(type) {
	case nil, bool:
		return def
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return def
		}
		return int64(v)
	case json.Number:
		return parseNumberLiteral(string(v), def)
	case string:
		return parseIntText(strings.TrimSpace(v), def)
	case float64:
		return truncateFloat(v, def)
	case float32:
		return truncateFloat(float64(v), def)
	default:
		return def
	}
}

func parseIntText(s string, def int64) int64 {
	if intPattern.MatchString(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return def
		}
		return n
	}
	if decimalPattern.MatchString(s) {
		whole := s[:strings.IndexByte(s, '.')]
		n, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return def
		}
		return n
	}
	return def
}

func parseNumberLiteral(s string, def int64) int64 {
	if intPattern.MatchString(s) || decimalPattern.MatchString(s) {
		return parseIntText(s, def)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.Abs(f) >= maxExactFloatInt {
		return def
	}
	return truncateFloat(f, def)
}

// truncateFloat handles values that already arrived as floats; precision has
// been lost upstream, so only the range is checked.
func truncateFloat(f float64, def int64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	t := math.Trunc(f)
	if t < math.MinInt64 || t >= math.MaxInt64 {
		return def
	}
	return int64(t)
}

// IsValidVectorID reports whether x parses to a non-zero int64. Zero is
// reserved for "missing".
func IsValidVectorID(x any) bool {
	return ParseInt64OrDefault(x, 0) != 0
}
