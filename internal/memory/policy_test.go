package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChooseBetter(t *testing.T) {
	tests := []struct {
		name   string
		a, b   string
		wantID int64
	}{
		{
			name:   "decided beats undecided",
			a:      `{"vector_id":1,"decided":false,"timestamp":99}`,
			b:      `{"vector_id":2,"timestamp":1}`,
			wantID: 2,
		},
		{
			name:   "newer timestamp wins",
			a:      `{"vector_id":1,"timestamp":1,"confidence":0.9}`,
			b:      `{"vector_id":2,"timestamp":2,"confidence":0.1}`,
			wantID: 2,
		},
		{
			name:   "higher confidence breaks timestamp tie",
			a:      `{"vector_id":1,"timestamp":5,"confidence":0.9}`,
			b:      `{"vector_id":2,"timestamp":5,"confidence":"0.5"}`,
			wantID: 1,
		},
		{
			name:   "longer text breaks confidence tie",
			a:      `{"vector_id":1,"original":"abc"}`,
			b:      `{"vector_id":2,"original":"abcd"}`,
			wantID: 2,
		},
		{
			name:   "equal length keeps a",
			a:      `{"vector_id":1,"original":"ABC"}`,
			b:      `{"vector_id":2,"original":"abc"}`,
			wantID: 1,
		},
		{
			name:   "missing fields default to zero",
			a:      `{"vector_id":1,"timestamp":"bogus"}`,
			b:      `{"vector_id":2,"timestamp":0}`,
			wantID: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := MustParseRecord(tt.a), MustParseRecord(tt.b)
			assert.Equal(t, tt.wantID, ChooseBetter(a, b).VectorID())
		})
	}
}

func TestChooseBetter_Symmetric(t *testing.T) {
	a := MustParseRecord(`{"vector_id":1,"timestamp":3,"confidence":0.2}`)
	b := MustParseRecord(`{"vector_id":2,"timestamp":3,"confidence":0.4}`)

	assert.Equal(t, int64(2), ChooseBetter(a, b).VectorID())
	assert.Equal(t, int64(2), ChooseBetter(b, a).VectorID())
}

func TestRankKey_Before(t *testing.T) {
	newer := RankKey{Timestamp: 2}
	older := RankKey{Timestamp: 1, Confidence: 1}
	assert.True(t, newer.Before(older))
	assert.False(t, older.Before(newer))

	surer := RankKey{Timestamp: 1, Confidence: 0.9}
	assert.True(t, surer.Before(RankKey{Timestamp: 1, Confidence: 0.1}))
	assert.False(t, surer.Before(surer), "equal keys are not ordered")

	assert.Equal(t, RankKey{Timestamp: 4, Confidence: 0.5},
		Rank(MustParseRecord(`{"timestamp":"4","confidence":0.5}`)))
}
