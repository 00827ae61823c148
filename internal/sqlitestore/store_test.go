package sqlitestore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/service"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleExam() (model.Exam, []model.QuestionRecord) {
	one := 1
	exam := model.Exam{ID: uuid.New(), Title: "Reading", Subject: "English", DurationMinutes: 20}
	records := []model.QuestionRecord{
		{ID: "Q1", Options: []string{"a", "b"}, CorrectIndex: 1},
		{ID: "P1", PromptText: "passage", Options: []string{}},
		{ID: "S1", Options: []string{"a", "b", "c"}, CorrectIndex: 2, IsSubQuestion: true, ParentID: "P1", SubOrder: &one},
	}
	return exam, records
}

func TestImportAndLoadExam(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exam, records := sampleExam()

	require.NoError(t, s.ImportExam(ctx, exam, records))

	loaded, err := s.LoadExam(ctx, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "Reading", loaded.Exam.Title)
	assert.Equal(t, 20*time.Minute, loaded.Exam.Duration())
	assert.Equal(t, model.ExamStatusPublished, loaded.Exam.Status)
	require.Len(t, loaded.Records, 3)
	assert.Equal(t, "S1", loaded.Records[2].ID)
	require.NotNil(t, loaded.Records[2].SubOrder)
	assert.Equal(t, 1, *loaded.Records[2].SubOrder)
	assert.Equal(t, "P1", loaded.Records[2].ParentID)
}

func TestReimportReplacesRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exam, records := sampleExam()

	require.NoError(t, s.ImportExam(ctx, exam, records))
	exam.Title = "Reading v2"
	require.NoError(t, s.ImportExam(ctx, exam, records[:1]))

	loaded, err := s.LoadExam(ctx, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "Reading v2", loaded.Exam.Title)
	assert.Len(t, loaded.Records, 1)

	exams, err := s.ListExams(ctx)
	require.NoError(t, err)
	assert.Len(t, exams, 1)
}

func TestImportRejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exam, records := sampleExam()

	bad := exam
	bad.DurationMinutes = 0
	assert.ErrorIs(t, s.ImportExam(ctx, bad, records), service.ErrInvalidDuration)
	assert.ErrorIs(t, s.ImportExam(ctx, exam, nil), service.ErrNoQuestions)
	assert.ErrorIs(t, s.ImportExam(ctx, exam, []model.QuestionRecord{{ID: ""}}), service.ErrInvalidRecords)
}

func TestLoadUnknownExam(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadExam(context.Background(), uuid.New())
	assert.ErrorIs(t, err, service.ErrExamNotFound)
}

func TestPublishAndListResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exam, records := sampleExam()
	require.NoError(t, s.ImportExam(ctx, exam, records))

	at := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	result := model.ExamResult{
		AttemptID:   uuid.New(),
		ExamID:      exam.ID,
		Candidate:   model.Candidate{Name: "Rina", Contact: "rina@example.com"},
		Trigger:     model.SubmitTimeout,
		SubmittedAt: at,
		ScoreReport: model.ScoreReport{
			Score: 1, Answered: 1, Correct: 1, Skipped: 1,
			PerItem: []model.ItemStatus{model.ItemCorrect, model.ItemPassage, model.ItemUnanswered},
		},
	}
	require.NoError(t, s.Publish(ctx, result))
	// A second publish of the same attempt is ignored.
	dup := result
	dup.Score = 0
	require.NoError(t, s.Publish(ctx, dup))

	results, err := s.ListResults(ctx, exam.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, result, results[0])

	none, err := s.ListResults(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}
