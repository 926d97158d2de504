// Package memory defines the metadata record of the hybrid memory and the
// value coercion and selection rules applied to it.
package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Well-known record fields.
const (
	FieldVectorID   = "vector_id"
	FieldOriginal   = "original"
	FieldSubject    = "subject"
	FieldConfidence = "confidence"
	FieldTimestamp  = "timestamp"
	FieldDecided    = "decided"
)

// ErrNotObject is returned when a record is decoded from JSON that is not an object.
var ErrNotObject = errors.New("record is not a JSON object")

// Record is one loosely-typed metadata entry.
//
// Fields are kept in source order with their raw JSON encoding so that keys
// the reconciler does not understand are written back unchanged. A Record is
// treated as immutable once decoded; copies share their backing storage.
type Record struct {
	keys   []string
	values map[string]json.RawMessage
}

// ParseRecord decodes a single JSON object into a Record.
func ParseRecord(data []byte) (Record, error) {
	if !gjson.ValidBytes(data) {
		return Record{}, fmt.Errorf("invalid JSON")
	}
	return FromResult(gjson.ParseBytes(data))
}

// MustParseRecord is ParseRecord for fixtures; it panics on error.
func MustParseRecord(data string) Record {
	r, err := ParseRecord([]byte(data))
	if err != nil {
		panic(fmt.Sprintf("memory: %v", err))
	}
	return r
}

// FromResult builds a Record from an already parsed gjson object.
// Duplicate keys keep their first position and their last value, which is
// what encoding/json and most JSON readers do.
func FromResult(obj gjson.Result) (Record, error) {
	if !obj.IsObject() {
		return Record{}, ErrNotObject
	}
	r := Record{values: make(map[string]json.RawMessage)}
	obj.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if _, seen := r.values[k]; !seen {
			r.keys = append(r.keys, k)
		}
		r.values[k] = json.RawMessage(value.Raw)
		return true
	})
	return r, nil
}

// Keys returns the record's field names in source order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.keys) }

// Has reports whether the field is present, including an explicit null.
func (r Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Raw returns the raw JSON encoding of a field.
func (r Record) Raw(key string) (json.RawMessage, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Value returns a field decoded into a loosely-typed Go value: nil for null,
// bool, string, json.Number (the literal text, never a float64) for numbers,
// and json.RawMessage for arrays and objects. The second result is false when
// the field is absent.
func (r Record) Value(key string) (any, bool) {
	raw, ok := r.values[key]
	if !ok {
		return nil, false
	}
	return resultValue(gjson.ParseBytes(raw)), true
}

func resultValue(res gjson.Result) any {
	switch res.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return json.Number(res.Raw)
	case gjson.String:
		return res.Str
	default:
		return json.RawMessage(res.Raw)
	}
}

// VectorID returns the record's identifier, or 0 when it is missing or invalid.
func (r Record) VectorID() int64 {
	v, _ := r.Value(FieldVectorID)
	return ParseInt64OrDefault(v, 0)
}

// HasValidVectorID reports whether the identifier field holds a usable id.
func (r Record) HasValidVectorID() bool {
	v, _ := r.Value(FieldVectorID)
	return IsValidVectorID(v)
}

// Original returns the record's free text. Non-string values read as empty.
func (r Record) Original() string {
	return r.stringField(FieldOriginal)
}

// Subject returns the raw subject label. Non-string values read as empty.
func (r Record) Subject() string {
	return r.stringField(FieldSubject)
}

func (r Record) stringField(key string) string {
	v, _ := r.Value(key)
	s, _ := v.(string)
	return s
}

// Confidence returns the confidence score, 0 when absent or malformed.
func (r Record) Confidence() float64 {
	v, _ := r.Value(FieldConfidence)
	return ParseFloatOrDefault(v, 0)
}

// Timestamp returns the timestamp, 0 when absent or malformed.
func (r Record) Timestamp() float64 {
	v, _ := r.Value(FieldTimestamp)
	return ParseFloatOrDefault(v, 0)
}

// Decided reports the decided flag. An absent field counts as decided; a
// present one is read for truthiness, so null, false, 0, "" and empty
// containers are undecided.
func (r Record) Decided() bool {
	raw, ok := r.values[FieldDecided]
	if !ok {
		return true
	}
	return truthy(gjson.ParseBytes(raw))
}

func truthy(res gjson.Result) bool {
	switch res.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		f := ParseFloatOrDefault(json.Number(res.Raw), 1)
		return f != 0
	case gjson.String:
		return res.Str != ""
	default:
		empty := true
		res.ForEach(func(_, _ gjson.Result) bool {
			empty = false
			return false
		})
		return !empty
	}
}

// CoercedFields counts numeric fields that are present but could not be read
// as finite numbers and therefore fell back to their default.
func (r Record) CoercedFields() int {
	n := 0
	for _, key := range []string{FieldConfidence, FieldTimestamp} {
		v, ok := r.Value(key)
		if !ok || v == nil {
			continue
		}
		if _, valid := parseFloat(v); !valid {
			n++
		}
	}
	return n
}

// MarshalJSON encodes the record with its fields in source order. Values are
// written exactly as they were read.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalNoEscape(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(r.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	rec, err := ParseRecord(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// marshalNoEscape encodes a string without HTML escaping so non-ASCII and
// markup characters survive verbatim.
func marshalNoEscape(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
