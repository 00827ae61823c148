package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/model"
)

// ResultSink receives each completed attempt exactly once.
type ResultSink interface {
	Publish(ctx context.Context, result model.ExamResult) error
}

// ResultQueue hands graded attempts to the result worker through Redis.
type ResultQueue struct {
	rdb *redis.Client
}

func NewResultQueue(rdb *redis.Client) *ResultQueue {
	return &ResultQueue{rdb: rdb}
}

// Publish pushes the result onto persist_results_queue and announces it
// to the exam's monitor channel. The result is also kept under the
// attempt's result key in the same transaction, so an attempt that has
// been published is never resumed while the worker is behind.
func (q *ResultQueue) Publish(ctx context.Context, result model.ExamResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	score := result.Score
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.AttemptResultKey(result.AttemptID.String()), raw, 0)
	pipe.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw)
	publishMonitorEvent(ctx, pipe, result.ExamID, MonitorEvent{
		Type:          MonitorEventSubmitted,
		AttemptID:     result.AttemptID,
		CandidateName: result.Candidate.Name,
		Status:        model.SessionStatusCompleted,
		Trigger:       result.Trigger,
		Score:         &score,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue result: %w", err)
	}
	return nil
}
