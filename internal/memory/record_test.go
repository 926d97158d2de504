package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecord_PreservesOrderAndValues(t *testing.T) {
	in := `{"zeta":1,"vector_id":9007199254740993,"nested":{"b":[1,2.50]},"original":"Héllo <b>","alpha":null}`

	r, err := ParseRecord([]byte(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "vector_id", "nested", "original", "alpha"}, r.Keys())
	assert.Equal(t, int64(9007199254740993), r.VectorID())

	out, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestParseRecord_RejectsNonObject(t *testing.T) {
	_, err := ParseRecord([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrNotObject)

	_, err = ParseRecord([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestParseRecord_DuplicateKeys(t *testing.T) {
	r := MustParseRecord(`{"a":1,"b":2,"a":3}`)
	assert.Equal(t, []string{"a", "b"}, r.Keys())

	raw, ok := r.Raw("a")
	require.True(t, ok)
	assert.Equal(t, "3", string(raw))
}

func TestRecord_Accessors(t *testing.T) {
	r := MustParseRecord(`{"vector_id":"42","original":"Text","subject":"Work","confidence":"0.8","timestamp":17}`)

	assert.Equal(t, int64(42), r.VectorID())
	assert.True(t, r.HasValidVectorID())
	assert.Equal(t, "Text", r.Original())
	assert.Equal(t, "Work", r.Subject())
	assert.Equal(t, 0.8, r.Confidence())
	assert.Equal(t, 17.0, r.Timestamp())
	assert.True(t, r.Decided(), "absent decided defaults to true")
	assert.Equal(t, 0, r.CoercedFields())
}

func TestRecord_NonStringText(t *testing.T) {
	r := MustParseRecord(`{"vector_id":1,"original":42,"subject":["x"]}`)
	assert.Equal(t, "", r.Original())
	assert.Equal(t, "", r.Subject())
}

func TestRecord_Decided(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{`{}`, true},
		{`{"decided":true}`, true},
		{`{"decided":false}`, false},
		{`{"decided":null}`, false},
		{`{"decided":0}`, false},
		{`{"decided":1}`, true},
		{`{"decided":""}`, false},
		{`{"decided":"false"}`, true},
		{`{"decided":[]}`, false},
		{`{"decided":{"x":1}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParseRecord(tt.raw).Decided())
		})
	}
}

func TestRecord_CoercedFields(t *testing.T) {
	r := MustParseRecord(`{"confidence":"high","timestamp":"NaN"}`)
	assert.Equal(t, 2, r.CoercedFields())
	assert.Equal(t, 0.0, r.Confidence())
	assert.Equal(t, 0.0, r.Timestamp())

	r = MustParseRecord(`{"confidence":null}`)
	assert.Equal(t, 0, r.CoercedFields(), "null is absent, not malformed")
}

func TestRecord_InvalidIdentifiers(t *testing.T) {
	for _, raw := range []string{
		`{}`,
		`{"vector_id":0}`,
		`{"vector_id":null}`,
		`{"vector_id":true}`,
		`{"vector_id":"abc"}`,
		`{"vector_id":99999999999999999999}`,
	} {
		r := MustParseRecord(raw)
		assert.False(t, r.HasValidVectorID(), raw)
		assert.Equal(t, int64(0), r.VectorID(), raw)
	}
}
