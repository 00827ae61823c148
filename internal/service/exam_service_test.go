package service

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runner/internal/model"
)

func TestBuildPaper_HidesCorrectIndex(t *testing.T) {
	exam := &model.Exam{ID: uuid.New(), Title: "Biology", DurationMinutes: 45}

	paper := BuildPaper(exam, sampleRecords())

	assert.Equal(t, exam.ID, paper.ExamID)
	assert.Equal(t, 45, paper.Duration)
	require.Len(t, paper.Questions, 4)
	assert.Equal(t, "2.2", paper.Questions[3].Number)
	assert.Equal(t, model.RolePassage, paper.Questions[1].Role)
	assert.Equal(t, []model.Group{
		{Lead: 0, Members: []int{0}},
		{Lead: 1, Members: []int{1, 2, 3}},
	}, paper.Groups)

	raw, err := json.Marshal(paper)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "correct_index")
}

func TestBuildOutline(t *testing.T) {
	examID := uuid.New()
	records := sampleRecords()
	records = append(records, model.QuestionRecord{ID: "S9", IsSubQuestion: true, ParentID: "nope", Options: []string{"x"}})

	outline := BuildOutline(examID, records)

	assert.Equal(t, examID, outline.ExamID)
	assert.Len(t, outline.Displays, 5)
	assert.Equal(t, "5", outline.Displays[4].Number)
	require.Len(t, outline.Anomalies, 1)
	assert.Equal(t, model.AnomalyOrphanSubQuestion, outline.Anomalies[0].Kind)

	clean := BuildOutline(examID, sampleRecords())
	assert.NotNil(t, clean.Anomalies)
	assert.Empty(t, clean.Anomalies)
}

func TestValidateRecords(t *testing.T) {
	assert.NoError(t, ValidateRecords(sampleRecords()))
	assert.ErrorIs(t, ValidateRecords(nil), ErrNoQuestions)
	assert.ErrorIs(t, ValidateRecords([]model.QuestionRecord{{ID: ""}}), ErrInvalidRecords)
	assert.ErrorIs(t, ValidateRecords([]model.QuestionRecord{{ID: "a", Options: []string{"1", "2", "3", "4", "5"}}}), ErrInvalidRecords)
	assert.ErrorIs(t, ValidateRecords([]model.QuestionRecord{{ID: "a", CorrectIndex: -1}}), ErrInvalidRecords)

	// Out of range correct indexes are reported by the outline, not rejected.
	assert.NoError(t, ValidateRecords([]model.QuestionRecord{{ID: "a", Options: []string{"x"}, CorrectIndex: 3}}))
}

func TestPagination(t *testing.T) {
	page, perPage := normalizePage(0, 500)
	assert.Equal(t, 1, page)
	assert.Equal(t, 100, perPage)
}
