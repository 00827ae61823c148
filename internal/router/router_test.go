package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/handler"
	"github.com/stemsi/exstem-runner/internal/i18n"
)

type stubProbe struct{ err error }

func (p stubProbe) Check(context.Context) error { return p.err }

func (p stubProbe) QueueDepths(_ context.Context, queues ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(queues))
	for _, q := range queues {
		out[q] = 2
	}
	return out, p.err
}

type stubLive struct{}

func (stubLive) Live() int { return 3 }

func newRouter(t *testing.T, probe stubProbe) http.Handler {
	t.Helper()
	require.NoError(t, i18n.Init("en"))

	cfg := &config.Config{GinMode: "test", SubmitRateLimit: 1, AllowedOrigins: []string{"https://exam.example"}}
	r, stop := SetupRouter(&Handlers{
		Exam:      handler.NewExamHandler(nil),
		Attempt:   handler.NewAttemptHandler(nil, nil),
		WS:        handler.NewWSHandler(nil, 0, zerolog.Nop(), cfg.AllowedOrigins),
		System:    handler.NewSystemHandler(probe, stubLive{}, zerolog.Nop()),
		Monitor:   handler.NewMonitorHandler(nil, nil, 0, zerolog.Nop()),
		Dashboard: handler.NewDashboardHandler(nil),
	}, cfg, zerolog.Nop())
	t.Cleanup(stop)
	return r
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(t, stubProbe{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	newRouter(t, stubProbe{err: errors.New("down")}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "SERVICE_UNAVAILABLE")
}

func TestSystemStatus(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(t, stubProbe{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/system/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"live_sessions":3`)
	assert.Contains(t, w.Body.String(), `"persist_results_queue":2`)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/exams", nil)
	req.Header.Set("Origin", "https://exam.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	newRouter(t, stubProbe{}).ServeHTTP(w, req)

	assert.Equal(t, "https://exam.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestInvalidIDsAreRejectedBeforeServices(t *testing.T) {
	r := newRouter(t, stubProbe{})

	for _, path := range []string{
		"/api/v1/exams/nope",
		"/api/v1/exams/nope/dashboard",
		"/api/v1/exams/nope/monitor",
		"/api/v1/attempts/nope",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestAttemptRoutesAreNotCached(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(t, stubProbe{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/attempts/nope", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}
