package memory

import "unicode/utf8"

// ChooseBetter picks the record to keep when a and b collide.
//
// Preference, each step breaking ties of the previous one:
//  1. decided over undecided
//  2. newer timestamp
//  3. higher confidence
//  4. longer original text; a wins ties
//
// The result depends only on the two records, never on the order in which a
// collection happened to be scanned, apart from the final tie going to a.
func ChooseBetter(a, b Record) Record {
	if ad, bd := a.Decided(), b.Decided(); ad != bd {
		if ad {
			return a
		}
		return b
	}

	if ta, tb := a.Timestamp(), b.Timestamp(); ta != tb {
		if ta > tb {
			return a
		}
		return b
	}

	if ca, cb := a.Confidence(), b.Confidence(); ca != cb {
		if ca > cb {
			return a
		}
		return b
	}

	if utf8.RuneCountInString(a.Original()) >= utf8.RuneCountInString(b.Original()) {
		return a
	}
	return b
}

// RankKey is the retention ordering key: newer first, then more confident.
type RankKey struct {
	Timestamp  float64
	Confidence float64
}

// Rank returns the record's retention key.
func Rank(r Record) RankKey {
	return RankKey{Timestamp: r.Timestamp(), Confidence: r.Confidence()}
}

// Before reports whether k ranks strictly ahead of other for retention.
func (k RankKey) Before(other RankKey) bool {
	if k.Timestamp != other.Timestamp {
		return k.Timestamp > other.Timestamp
	}
	return k.Confidence > other.Confidence
}
