package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Answer is a candidate's choice for one record. The zero value means
// unanswered.
type Answer struct {
	option int
	set    bool
}

// Unanswered is the empty answer.
var Unanswered = Answer{}

// Choice returns an answer selecting option i. Whether i is a valid option
// is decided at scoring time, not here.
func Choice(i int) Answer {
	return Answer{option: i, set: true}
}

// Option returns the selected option and whether any value was given.
func (a Answer) Option() (int, bool) {
	return a.option, a.set
}

// ValidFor reports whether the answer selects an existing option of a
// record with n options.
func (a Answer) ValidFor(n int) bool {
	return a.set && a.option >= 0 && a.option < n
}

// MarshalJSON encodes an answer as its option index or null.
func (a Answer) MarshalJSON() ([]byte, error) {
	if !a.set {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(a.option)), nil
}

// UnmarshalJSON accepts an integer or null. Any other value (fractions,
// strings, booleans) decodes as unanswered instead of failing, so a single
// malformed entry never loses the rest of an answer sheet.
func (a *Answer) UnmarshalJSON(b []byte) error {
	*a = Unanswered
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || len(b) == 0 || b[0] == '"' {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return nil
	}
	*a = Choice(int(f))
	return nil
}

// ParseAnswer decodes the string form stored in caches ("" means
// unanswered).
func ParseAnswer(s string) Answer {
	if s == "" {
		return Unanswered
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Unanswered
	}
	return Choice(n)
}

// String is the inverse of ParseAnswer.
func (a Answer) String() string {
	if !a.set {
		return ""
	}
	return strconv.Itoa(a.option)
}
