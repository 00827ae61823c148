package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/logger"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/repository"
)

// Monitor event types published on an exam's monitor channel.
const (
	MonitorEventJoined    = "joined"
	MonitorEventSubmitted = "submitted"
)

// MonitorEvent is a live attempt change pushed to monitor subscribers.
type MonitorEvent struct {
	Type          string              `json:"type"`
	AttemptID     uuid.UUID           `json:"attempt_id"`
	CandidateName string              `json:"candidate_name"`
	Status        model.SessionStatus `json:"status"`
	Trigger       model.SubmitTrigger `json:"trigger,omitempty"`
	Score         *float64            `json:"score,omitempty"`
}

// publishMonitorEvent queues a PUBLISH on rdb, which may be a pipeline.
func publishMonitorEvent(ctx context.Context, rdb redis.Cmdable, examID uuid.UUID, ev MonitorEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), raw)
}

// ProgressSnapshot is the monitor view of every attempt of an exam.
type ProgressSnapshot struct {
	TotalJoined     int                          `json:"total_joined"`
	TotalInProgress int                          `json:"total_in_progress"`
	TotalCompleted  int                          `json:"total_completed"`
	TotalAbandoned  int                          `json:"total_abandoned"`
	Attempts        []repository.AttemptProgress `json:"attempts"`
}

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		monitorRepo: monitorRepo,
		rdb:         rdb,
		log:         logger.Component(log, "monitor_service"),
	}
}

// Progress lists the exam's attempts. Answer counts of running attempts come
// from Redis when available since the autosave worker lags behind.
func (s *MonitorService) Progress(ctx context.Context, examID uuid.UUID) (*ProgressSnapshot, error) {
	attempts, err := s.monitorRepo.ListAttemptProgress(ctx, examID)
	if err != nil {
		return nil, err
	}

	snap := &ProgressSnapshot{TotalJoined: len(attempts), Attempts: attempts}
	running := make([]uuid.UUID, 0, len(attempts))
	for _, a := range attempts {
		switch a.Status {
		case model.SessionStatusInProgress:
			snap.TotalInProgress++
			running = append(running, a.AttemptID)
		case model.SessionStatusCompleted:
			snap.TotalCompleted++
		case model.SessionStatusAbandoned:
			snap.TotalAbandoned++
		}
	}

	// Live counts are best-effort.
	live, err := s.monitorRepo.GetLiveAnsweredCounts(ctx, running)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to read live answer counts")
		return snap, nil
	}
	for i := range snap.Attempts {
		if n, ok := live[snap.Attempts[i].AttemptID]; ok {
			snap.Attempts[i].AnsweredCount = n
		}
	}
	return snap, nil
}

// Subscribe streams raw monitor events of an exam until ctx ends or the
// returned close function is called.
func (s *MonitorService) Subscribe(ctx context.Context, examID uuid.UUID) (<-chan string, func() error) {
	pubsub := s.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))

	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, pubsub.Close
}
