package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runner/internal/model"
)

func TestDecodeAnswer(t *testing.T) {
	id := uuid.New().String()

	p, err := decodeAnswer(`{"attempt_id":"` + id + `","index":3,"option":2}`)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Index)
	require.NotNil(t, p.Option)
	assert.Equal(t, 2, *p.Option)

	p, err = decodeAnswer(`{"attempt_id":"` + id + `","index":0,"option":null}`)
	require.NoError(t, err)
	assert.Nil(t, p.Option)

	_, err = decodeAnswer(`{"attempt_id":"nope","index":0}`)
	assert.Error(t, err)
	_, err = decodeAnswer(`{"attempt_id":"` + id + `","index":-1}`)
	assert.Error(t, err)
	_, err = decodeAnswer(`not json`)
	assert.Error(t, err)
}

func TestCoalesceAnswers(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	raw := []string{
		`{"attempt_id":"` + a.String() + `","index":0,"option":1}`,
		`{"attempt_id":"` + b.String() + `","index":0,"option":3}`,
		`garbage`,
		`{"attempt_id":"` + a.String() + `","index":2,"option":0}`,
		`{"attempt_id":"` + a.String() + `","index":0,"option":null}`,
	}

	c := coalesceAnswers(raw, zerolog.Nop())

	assert.Equal(t, []uuid.UUID{a, b, a}, c.attempts)
	assert.Equal(t, []int32{0, 0, 2}, c.indexes)
	require.Len(t, c.options, 3)
	assert.Nil(t, c.options[0], "a cleared answer wins over the earlier write")
	require.NotNil(t, c.options[1])
	assert.Equal(t, int32(3), *c.options[1])
	require.NotNil(t, c.options[2])
	assert.Equal(t, int32(0), *c.options[2])
}

func TestCoalesceAnswers_AllInvalid(t *testing.T) {
	c := coalesceAnswers([]string{"{}", "nope"}, zerolog.Nop())
	assert.Empty(t, c.attempts)
}

func TestColumnsOf(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	batch := []*model.ExamResult{
		{
			AttemptID:   uuid.New(),
			Trigger:     model.SubmitTimeout,
			SubmittedAt: at,
			ScoreReport: model.ScoreReport{
				Score: 0.75, Answered: 2, Correct: 1, Wrong: 1, Skipped: 1,
				PerItem: []model.ItemStatus{model.ItemCorrect, model.ItemWrong, model.ItemUnanswered},
			},
		},
		{AttemptID: uuid.New(), Trigger: model.SubmitManual, SubmittedAt: at},
	}

	c, err := columnsOf(batch)
	require.NoError(t, err)

	assert.Equal(t, []string{"TIMEOUT", "MANUAL"}, c.triggers)
	assert.Equal(t, []float64{0.75, 0}, c.scores)
	assert.Equal(t, []int32{2, 0}, c.answered)
	assert.Equal(t, `["correct","wrong","unanswered"]`, c.perItems[0])
	assert.Equal(t, "null", c.perItems[1])
	assert.Equal(t, []time.Time{at, at}, c.finishedAts)
}

func TestColumnsOf_KeepsFirstResultPerAttempt(t *testing.T) {
	id := uuid.New()
	other := uuid.New()
	batch := []*model.ExamResult{
		{AttemptID: id, Trigger: model.SubmitManual, ScoreReport: model.ScoreReport{Score: 1}},
		{AttemptID: other, Trigger: model.SubmitTimeout},
		{AttemptID: id, Trigger: model.SubmitTimeout, ScoreReport: model.ScoreReport{Score: -0.25}},
	}

	c, err := columnsOf(batch)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{id, other}, c.ids)
	assert.Equal(t, []string{"MANUAL", "TIMEOUT"}, c.triggers)
	assert.Equal(t, []float64{1, 0}, c.scores)
	assert.Len(t, c.perItems, 2)
}

type countingExpirer struct{ calls atomic.Int32 }

func (c *countingExpirer) ExpireDue(context.Context) int {
	c.calls.Add(1)
	return 0
}

func TestTimeoutWorker_TicksUntilCancelled(t *testing.T) {
	exp := &countingExpirer{}
	w := NewTimeoutWorker(exp, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool { return exp.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
