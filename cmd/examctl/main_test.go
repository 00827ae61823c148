package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runner/internal/model"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// readingRecords is a passage with two sub-questions followed by a
// standalone question.
func readingRecords() []model.QuestionRecord {
	one, two := 1, 2
	return []model.QuestionRecord{
		{ID: "P1", PromptText: "Read the passage.", Options: []string{}},
		{ID: "S1", PromptText: "First?", Options: []string{"yes", "no"}, CorrectIndex: 0, IsSubQuestion: true, ParentID: "P1", SubOrder: &one},
		{ID: "S2", PromptText: "Second?", Options: []string{"yes", "no"}, CorrectIndex: 1, IsSubQuestion: true, ParentID: "P1", SubOrder: &two},
		{ID: "Q2", PromptText: "2+2?", Options: []string{"3", "5", "4"}, CorrectIndex: 2},
	}
}

func TestOutlineText(t *testing.T) {
	records := append(readingRecords(), model.QuestionRecord{
		ID: "S9", Options: []string{"a", "b"}, IsSubQuestion: true, ParentID: "missing",
	})
	file := writeFile(t, "records.json", records)

	out, err := runCLI(t, "", "outline", "--file", file)
	require.NoError(t, err)

	assert.Contains(t, out, "INDEX")
	assert.Regexp(t, `0\s+1\s+PASSAGE\s+P1`, out)
	assert.Regexp(t, `2\s+1\.2\s+SUB_QUESTION\s+S2`, out)
	assert.Regexp(t, `3\s+4\s+STANDALONE\s+Q2`, out)
	assert.Contains(t, out, "! ORPHAN_SUB_QUESTION at 4 (S9)")
}

func TestOutlineJSON(t *testing.T) {
	file := writeFile(t, "records.json", readingRecords())

	out, err := runCLI(t, "", "outline", "--file", file, "--json")
	require.NoError(t, err)

	var outline model.ExamOutline
	require.NoError(t, json.Unmarshal([]byte(out), &outline))
	require.Len(t, outline.Displays, 4)
	assert.Equal(t, "1.1", outline.Displays[1].Number)
	assert.Equal(t, []int{0, 1, 2}, outline.Groups[0].Members)
	assert.Empty(t, outline.Anomalies)
}

func TestOutlineRequiresFile(t *testing.T) {
	_, err := runCLI(t, "", "outline")
	assert.ErrorContains(t, err, "--file is required")
}

func TestScore(t *testing.T) {
	file := writeFile(t, "records.json", readingRecords())
	answers := writeFile(t, "answers.json", []any{0, nil, 1, 0})

	out, err := runCLI(t, "", "score", "--file", file, "--answers", answers)
	require.NoError(t, err)

	var got struct {
		Score     float64            `json:"score"`
		MaxScore  float64            `json:"max_score"`
		Correct   int                `json:"correct"`
		Wrong     int                `json:"wrong"`
		Skipped   int                `json:"skipped"`
		PerItem   []model.ItemStatus `json:"per_item"`
		AttemptID *string            `json:"attempt_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 0.75, got.Score)
	assert.Equal(t, 3.0, got.MaxScore)
	assert.Equal(t, 1, got.Correct)
	assert.Equal(t, 1, got.Wrong)
	assert.Equal(t, 1, got.Skipped)
	assert.Equal(t, []model.ItemStatus{
		model.ItemPassage, model.ItemUnanswered, model.ItemCorrect, model.ItemWrong,
	}, got.PerItem)
	assert.Nil(t, got.AttemptID)
}

func TestImportScoreAndResults(t *testing.T) {
	file := writeFile(t, "records.json", readingRecords())
	answers := writeFile(t, "answers.json", []any{nil, 0, 1, 2})
	db := filepath.Join(t.TempDir(), "exstem.db")

	out, err := runCLI(t, "", "import", "--file", file, "--db", db, "--title", "Reading", "--duration", "15")
	require.NoError(t, err)
	examID, err := uuid.Parse(strings.TrimSpace(out))
	require.NoError(t, err)

	_, err = runCLI(t, "", "score", "--file", file, "--answers", answers,
		"--db", db, "--exam-id", examID.String(), "--name", "Ani")
	require.NoError(t, err)

	out, err = runCLI(t, "", "results", "--db", db, "--exam-id", examID.String())
	require.NoError(t, err)

	var results []model.ExamResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, examID, results[0].ExamID)
	assert.Equal(t, "Ani", results[0].Candidate.Name)
	assert.Equal(t, 3.0, results[0].Score)
	assert.Equal(t, model.SubmitManual, results[0].Trigger)
}

func TestImportRejectsBadDuration(t *testing.T) {
	file := writeFile(t, "records.json", readingRecords())
	db := filepath.Join(t.TempDir(), "exstem.db")

	_, err := runCLI(t, "", "import", "--file", file, "--db", db, "--title", "Reading", "--duration", "0")
	assert.Error(t, err)
}

func TestResultsRequiresExamID(t *testing.T) {
	db := filepath.Join(t.TempDir(), "exstem.db")
	_, err := runCLI(t, "", "results", "--db", db)
	assert.ErrorContains(t, err, "--exam-id is required")
}

func TestTakeManualSubmit(t *testing.T) {
	file := writeFile(t, "records.json", readingRecords())
	input := strings.Join([]string{"n", "a", "1.2", "z", "a", "s"}, "\n") + "\n"

	out, err := runCLI(t, input, "take", "--file", file, "--title", "Reading", "--duration", "10")
	require.NoError(t, err)

	assert.Contains(t, out, "Reading (10 minutes)")
	assert.Contains(t, out, "Passage")
	assert.Contains(t, out, "> Question 1.1")
	assert.Contains(t, out, "   * A) yes")
	assert.Contains(t, out, "Unrecognized input.")
	assert.Contains(t, out, "Submitted.")
	assert.Contains(t, out, "Score 0.75 of 3")
	assert.Contains(t, out, "2 questions answered.")
	assert.NotContains(t, out, "Time is up")
}

func TestTakeIndonesianPrompts(t *testing.T) {
	file := writeFile(t, "records.json", readingRecords())

	out, err := runCLI(t, "s\n", "take", "--file", file, "--lang", "id")
	require.NoError(t, err)

	assert.Contains(t, out, "Bacaan")
	assert.Contains(t, out, "Soal 1.1")
	assert.Contains(t, out, "0 soal dijawab.")
}

func TestTakeEndOfInputSubmits(t *testing.T) {
	file := writeFile(t, "records.json", readingRecords())

	out, err := runCLI(t, "4\nc\n", "take", "--file", file)
	require.NoError(t, err)

	assert.Contains(t, out, "> Question 4")
	assert.Contains(t, out, "Score 1 of 3")
	assert.Contains(t, out, "1 question answered.")
}

// jumpClock returns start on its first call and an hour later after that.
type jumpClock struct {
	start time.Time
	calls int
}

func (c *jumpClock) Now() time.Time {
	c.calls++
	if c.calls == 1 {
		return c.start
	}
	return c.start.Add(time.Hour)
}

func TestTakeTimeout(t *testing.T) {
	prev := clock
	clock = &jumpClock{start: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	t.Cleanup(func() { clock = prev })

	file := writeFile(t, "records.json", readingRecords())
	db := filepath.Join(t.TempDir(), "exstem.db")
	examID := uuid.New()

	out, err := runCLI(t, "", "take", "--file", file, "--duration", "5",
		"--db", db, "--exam-id", examID.String(), "--name", "Budi")
	require.NoError(t, err)
	assert.Contains(t, out, "Time is up. Your answers have been submitted.")
	assert.Contains(t, out, "Score 0 of 3")

	out, err = runCLI(t, "", "results", "--db", db, "--exam-id", examID.String())
	require.NoError(t, err)

	var results []model.ExamResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, model.SubmitTimeout, results[0].Trigger)
	assert.Equal(t, "Budi", results[0].Candidate.Name)
	assert.Equal(t, 3, results[0].Skipped)
}

func TestReadLinesStopsWhenCancelled(t *testing.T) {
	input := strings.Repeat("a 1\n", 1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	received := 0
	for range readLines(ctx, strings.NewReader(input)) {
		received++
	}
	assert.Less(t, received, 1000)
}

func TestReadLinesTrimsUntilEOF(t *testing.T) {
	var got []string
	for line := range readLines(context.Background(), strings.NewReader(" n \nsubmit\n")) {
		got = append(got, line)
	}
	assert.Equal(t, []string{"n", "submit"}, got)
}

func TestTakeFromDatabase(t *testing.T) {
	file := writeFile(t, "records.json", readingRecords())
	db := filepath.Join(t.TempDir(), "exstem.db")

	out, err := runCLI(t, "", "import", "--file", file, "--db", db, "--title", "Stored", "--duration", "7")
	require.NoError(t, err)
	examID := strings.TrimSpace(out)

	out, err = runCLI(t, "s\n", "take", "--db", db, "--exam-id", examID)
	require.NoError(t, err)
	assert.Contains(t, out, "Stored (7 minutes)")
}

func TestTakeNeedsSource(t *testing.T) {
	_, err := runCLI(t, "", "take")
	assert.ErrorContains(t, err, "either --file or --db")
}
