package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/response"
)

// Probe checks the backing stores.
type Probe interface {
	Check(ctx context.Context) error
	QueueDepths(ctx context.Context, queues ...string) (map[string]int64, error)
}

// LiveCounter reports how many attempts are held in memory.
type LiveCounter interface {
	Live() int
}

// SystemHandler serves liveness and runtime status.
type SystemHandler struct {
	probe     Probe
	sessions  LiveCounter
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(probe Probe, sessions LiveCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		probe:     probe,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.probe.Check(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Health check failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrServiceUnavailable)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

type systemStatus struct {
	Uptime       string           `json:"uptime"`
	Goroutines   int              `json:"goroutines"`
	HeapAlloc    uint64           `json:"heap_alloc"`
	NumGC        uint32           `json:"num_gc"`
	GoVersion    string           `json:"go_version"`
	LiveSessions int              `json:"live_sessions"`
	Queues       map[string]int64 `json:"queues"`
}

// Status godoc
// GET /api/v1/system/status
// Runtime figures, live attempts and the persistence backlog.
func (h *SystemHandler) Status(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	queues, err := h.probe.QueueDepths(c.Request.Context(),
		config.WorkerKey.PersistAnswersQueue, config.WorkerKey.PersistResultsQueue)
	if err != nil {
		h.log.Warn().Err(err).Msg("Queue depth lookup failed")
		queues = map[string]int64{}
	}

	response.Success(c, http.StatusOK, gin.H{"system": systemStatus{
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Goroutines:   runtime.NumGoroutine(),
		HeapAlloc:    mem.HeapAlloc,
		NumGC:        mem.NumGC,
		GoVersion:    runtime.Version(),
		LiveSessions: h.sessions.Live(),
		Queues:       queues,
	}})
}
