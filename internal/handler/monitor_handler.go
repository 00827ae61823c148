package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/logger"
	"github.com/stemsi/exstem-runner/internal/repository"
	"github.com/stemsi/exstem-runner/internal/service"
)

const (
	defaultRefreshInterval = 15 * time.Second
	keepAliveInterval      = 30 * time.Second
	refreshTimeout         = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// ProgressSource is the part of service.MonitorService the monitor uses.
type ProgressSource interface {
	Progress(ctx context.Context, examID uuid.UUID) (*service.ProgressSnapshot, error)
	Subscribe(ctx context.Context, examID uuid.UUID) (<-chan string, func() error)
}

type MonitorHandler struct {
	exams   ExamManager
	monitor ProgressSource
	refresh time.Duration
	log     zerolog.Logger
}

func NewMonitorHandler(exams ExamManager, monitor ProgressSource, refresh time.Duration, log zerolog.Logger) *MonitorHandler {
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	return &MonitorHandler{
		exams:   exams,
		monitor: monitor,
		refresh: refresh,
		log:     logger.Component(log, "monitor_handler"),
	}
}

// MonitorExam godoc
// GET /api/v1/exams/:exam_id/monitor
// Server-sent events: a snapshot on connect, raw join/submit events as they
// happen and a progress refresh every interval.
func (h *MonitorHandler) MonitorExam(c *gin.Context) {
	examID, ok := examParam(c)
	if !ok {
		return
	}

	reqCtx := c.Request.Context()
	exam, err := h.exams.GetByID(reqCtx, examID)
	if err != nil {
		failFor(c, err)
		return
	}
	records, err := h.exams.Questions(reqCtx, examID)
	if err != nil {
		failFor(c, err)
		return
	}
	totalQuestions := 0
	for i := range records {
		if records[i].IsScorable() {
			totalQuestions++
		}
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	snap := h.progress(reqCtx, examID)
	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"exam": gin.H{
				"id":               examID.String(),
				"title":            exam.Title,
				"duration_minutes": exam.DurationMinutes,
				"total_questions":  totalQuestions,
			},
			"stats":    stats(snap),
			"attempts": snap.Attempts,
		},
	})
	c.Writer.Flush()

	events, closeFeed := h.monitor.Subscribe(reqCtx, examID)
	defer closeFeed()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(h.refresh)
	defer refreshTicker.Stop()

	// Skip refreshes until somebody has joined.
	hasAttempts := snap.TotalJoined > 0

	h.log.Info().Str("exam_id", examID.String()).Msg("Attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Detached from live monitor SSE")
			return

		case payload, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// Forward raw JSON directly, no deserialization needed
			h.writeData(c, []byte(payload))
			hasAttempts = true

		case <-refreshTicker.C:
			if !hasAttempts {
				continue
			}
			snap := h.progress(reqCtx, examID)
			c.SSEvent("message", gin.H{
				"type":            "refresh",
				"total_questions": totalQuestions,
				"stats":           stats(snap),
				"attempts":        snap.Attempts,
			})
			c.Writer.Flush()

		case <-keepAliveTicker.C:
			h.writeData(c, pingPayload)
		}
	}
}

// progress reads a snapshot with a scoped timeout. Failures yield an empty
// snapshot so the stream stays up.
func (h *MonitorHandler) progress(parent context.Context, examID uuid.UUID) *service.ProgressSnapshot {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	snap, err := h.monitor.Progress(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to fetch attempt progress")
		return &service.ProgressSnapshot{Attempts: []repository.AttemptProgress{}}
	}
	return snap
}

func (h *MonitorHandler) writeData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

func stats(s *service.ProgressSnapshot) gin.H {
	return gin.H{
		"total_joined":      s.TotalJoined,
		"total_in_progress": s.TotalInProgress,
		"total_completed":   s.TotalCompleted,
		"total_abandoned":   s.TotalAbandoned,
	}
}
