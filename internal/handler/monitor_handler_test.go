package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runner/internal/i18n"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/repository"
	"github.com/stemsi/exstem-runner/internal/service"
)

type fakeMonitor struct {
	calls  atomic.Int32
	closed atomic.Bool
	events chan string
	err    error
}

func (f *fakeMonitor) Progress(context.Context, uuid.UUID) (*service.ProgressSnapshot, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &service.ProgressSnapshot{
		TotalJoined:     1,
		TotalInProgress: 1,
		Attempts: []repository.AttemptProgress{{
			AttemptID: uuid.New(), CandidateName: "Ani", Status: model.SessionStatusInProgress, AnsweredCount: 2,
		}},
	}, nil
}

func (f *fakeMonitor) Subscribe(context.Context, uuid.UUID) (<-chan string, func() error) {
	return f.events, func() error {
		f.closed.Store(true)
		return nil
	}
}

func TestMonitorExam_StreamsSnapshotEventsAndRefreshes(t *testing.T) {
	require.NoError(t, i18n.Init("en"))
	examID := uuid.New()
	exams := &fakeExams{
		exam:    model.Exam{ID: examID, Title: "Reading", DurationMinutes: 30},
		records: sampleRecords(examID),
	}
	mon := &fakeMonitor{events: make(chan string)}

	r := gin.New()
	r.GET("/exams/:exam_id/monitor", NewMonitorHandler(exams, mon, 5*time.Millisecond, zerolog.Nop()).MonitorExam)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/exams/"+examID.String()+"/monitor", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ServeHTTP(w, req)
	}()

	mon.events <- `{"type":"joined","candidate_name":"Budi"}`
	assert.Eventually(t, func() bool { return mon.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor stream did not stop")
	}

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"), w.Header().Get("Content-Type"))
	assert.Contains(t, body, "event:message")
	assert.Contains(t, body, `"type":"snapshot"`)
	assert.Contains(t, body, `"total_questions":3`)
	assert.Contains(t, body, `"candidate_name":"Ani"`)
	assert.Contains(t, body, "data: {\"type\":\"joined\",\"candidate_name\":\"Budi\"}\n\n")
	assert.Contains(t, body, `"type":"refresh"`)
	assert.True(t, mon.closed.Load())
}

func TestMonitorExam_ProgressFailureStillStreams(t *testing.T) {
	require.NoError(t, i18n.Init("en"))
	examID := uuid.New()
	exams := &fakeExams{exam: model.Exam{ID: examID}, records: sampleRecords(examID)}
	mon := &fakeMonitor{events: make(chan string), err: errors.New("db down")}

	r := gin.New()
	r.GET("/exams/:exam_id/monitor", NewMonitorHandler(exams, mon, time.Hour, zerolog.Nop()).MonitorExam)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/exams/"+examID.String()+"/monitor", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ServeHTTP(w, req)
	}()
	assert.Eventually(t, func() bool { return mon.calls.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"attempts":[]`)
	assert.Contains(t, w.Body.String(), `"total_joined":0`)
}

func TestMonitorExam_UnknownExam(t *testing.T) {
	require.NoError(t, i18n.Init("en"))
	exams := &fakeExams{exam: model.Exam{ID: uuid.New()}}

	r := gin.New()
	r.GET("/exams/:exam_id/monitor", NewMonitorHandler(exams, &fakeMonitor{}, 0, zerolog.Nop()).MonitorExam)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exams/"+uuid.NewString()+"/monitor", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "EXAM_NOT_FOUND")
}

type fakeDashboard struct {
	data *service.ExamDashboard
	err  error
}

func (f fakeDashboard) ExamDashboard(context.Context, uuid.UUID) (*service.ExamDashboard, error) {
	return f.data, f.err
}

func TestGetExamDashboard(t *testing.T) {
	require.NoError(t, i18n.Init("en"))
	examID := uuid.New()
	avg := 2.5
	dash := &service.ExamDashboard{
		ExamID:              examID,
		MaxScore:            3,
		AttemptStatusCounts: map[model.SessionStatus]int{model.SessionStatusCompleted: 4},
		TriggerCounts:       map[model.SubmitTrigger]int{model.SubmitTimeout: 1, model.SubmitManual: 3},
		Scores:              &repository.ScoreSummary{Graded: 4, AverageScore: &avg},
		Items:               []service.ItemStat{{Index: 0, Number: "1", RecordID: "Q1", Correct: 3, Wrong: 1, CorrectRate: 0.75}},
	}

	r := gin.New()
	r.GET("/exams/:exam_id/dashboard", NewDashboardHandler(fakeDashboard{data: dash}).GetExamDashboard)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exams/"+examID.String()+"/dashboard", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"COMPLETED":4`)
	assert.Contains(t, w.Body.String(), `"TIMEOUT":1`)
	assert.Contains(t, w.Body.String(), `"average_score":2.5`)
	assert.Contains(t, w.Body.String(), `"correct_rate":0.75`)

	r = gin.New()
	r.GET("/exams/:exam_id/dashboard", NewDashboardHandler(fakeDashboard{err: service.ErrExamNotFound}).GetExamDashboard)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exams/"+examID.String()+"/dashboard", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
