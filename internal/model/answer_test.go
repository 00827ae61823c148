package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswer_UnmarshalJSON(t *testing.T) {
	var sheet []Answer
	require.NoError(t, json.Unmarshal([]byte(`[2, null, -1, 1.5, "1", true, 3.0, {"a":1}, 99999999999]`), &sheet))
	require.Len(t, sheet, 9)

	want := []struct {
		opt int
		set bool
	}{
		{2, true}, {0, false}, {-1, true}, {0, false}, {0, false}, {0, false}, {3, true}, {0, false}, {0, false},
	}
	for i, w := range want {
		opt, set := sheet[i].Option()
		assert.Equal(t, w.set, set, "entry %d", i)
		if w.set {
			assert.Equal(t, w.opt, opt, "entry %d", i)
		}
	}
}

func TestAnswer_MarshalJSON(t *testing.T) {
	b, err := json.Marshal([]Answer{Choice(1), Unanswered})
	require.NoError(t, err)
	assert.JSONEq(t, `[1, null]`, string(b))
}

func TestAnswer_ValidFor(t *testing.T) {
	assert.True(t, Choice(0).ValidFor(4))
	assert.True(t, Choice(3).ValidFor(4))
	assert.False(t, Choice(4).ValidFor(4))
	assert.False(t, Choice(-1).ValidFor(4))
	assert.False(t, Unanswered.ValidFor(4))
}

func TestParseAnswer(t *testing.T) {
	assert.Equal(t, Unanswered, ParseAnswer(""))
	assert.Equal(t, Unanswered, ParseAnswer("x"))
	assert.Equal(t, Choice(2), ParseAnswer("2"))
	assert.Equal(t, "2", Choice(2).String())
	assert.Equal(t, "", Unanswered.String())
}

func TestQuestionRecord_Roles(t *testing.T) {
	q := QuestionRecord{PromptText: "q", Options: []string{"", "b"}}
	p := QuestionRecord{PromptText: "passage", Options: []string{" ", ""}}
	blank := QuestionRecord{}

	assert.True(t, q.IsScorable())
	assert.False(t, q.IsPassage())
	assert.True(t, p.IsPassage())
	assert.False(t, blank.IsScorable())
	assert.False(t, blank.IsPassage())
}
