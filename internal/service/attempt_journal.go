package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/repository"
)

var ErrAttemptNotFound = errors.New("attempt not found")

// StoredAttempt is what survives a process restart: the attempt row and its
// autosaved answers keyed by record index.
type StoredAttempt struct {
	Attempt model.ExamAttempt
	Answers map[int]model.Answer
}

// AttemptStore persists attempts while they run.
type AttemptStore interface {
	Begin(ctx context.Context, attempt *model.ExamAttempt) error
	SaveAnswer(ctx context.Context, attemptID uuid.UUID, index int, ans model.Answer) error
	Load(ctx context.Context, attemptID uuid.UUID) (*StoredAttempt, error)
	Discard(ctx context.Context, attemptID uuid.UUID) error
}

// AnswerPayload is one autosave entry on persist_answers_queue.
type AnswerPayload struct {
	AttemptID string `json:"attempt_id"`
	Index     int    `json:"index"`
	Option    *int   `json:"option"`
}

// AttemptJournal keeps attempt progress in Redis and hands durable writes to
// the autosave worker.
type AttemptJournal struct {
	attemptRepo *repository.AttemptRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewAttemptJournal creates a new AttemptJournal.
func NewAttemptJournal(attemptRepo *repository.AttemptRepository, rdb *redis.Client, log zerolog.Logger) *AttemptJournal {
	return &AttemptJournal{
		attemptRepo: attemptRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "attempt_journal").Logger(),
	}
}

// Begin inserts the attempt row and caches its start time.
func (j *AttemptJournal) Begin(ctx context.Context, attempt *model.ExamAttempt) error {
	if err := j.attemptRepo.Create(ctx, attempt); err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}

	startKey := config.CacheKey.AttemptStartKey(attempt.ID.String())
	pipe := j.rdb.Pipeline()
	pipe.Set(ctx, startKey, attempt.StartedAt.UnixMilli(), 0)
	publishMonitorEvent(ctx, pipe, attempt.ExamID, MonitorEvent{
		Type:          MonitorEventJoined,
		AttemptID:     attempt.ID,
		CandidateName: attempt.Candidate.Name,
		Status:        attempt.Status,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		// Load falls back to PostgreSQL.
		j.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to cache start time")
	}
	return nil
}

// SaveAnswer writes the answer into the Redis hash and queues it for the
// autosave worker.
func (j *AttemptJournal) SaveAnswer(ctx context.Context, attemptID uuid.UUID, index int, ans model.Answer) error {
	payload := AnswerPayload{AttemptID: attemptID.String(), Index: index}
	if opt, ok := ans.Option(); ok {
		payload.Option = &opt
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	pipe := j.rdb.Pipeline()
	pipe.HSet(ctx, config.CacheKey.AttemptAnswersKey(payload.AttemptID), strconv.Itoa(index), ans.String())
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("autosave answer: %w", err)
	}
	return nil
}

// Load rebuilds an attempt. A result published but not yet persisted
// closes the attempt. Otherwise the start time comes from Redis with the
// PostgreSQL row as fallback; answers come from the Redis hash, or from
// attempt_answers when the hash is gone, in which case the hash is
// repopulated.
func (j *AttemptJournal) Load(ctx context.Context, attemptID uuid.UUID) (*StoredAttempt, error) {
	attempt, err := j.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	stored := &StoredAttempt{Attempt: *attempt}
	if attempt.Status != model.SessionStatusInProgress {
		return stored, nil
	}

	id := attemptID.String()
	raw, err := j.rdb.Get(ctx, config.CacheKey.AttemptResultKey(id)).Bytes()
	switch {
	case err == nil:
		if err := closeWithResult(stored, raw); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		return stored, nil
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("get result: %w", err)
	}

	startKey := config.CacheKey.AttemptStartKey(id)
	if ms, err := j.rdb.Get(ctx, startKey).Int64(); err == nil {
		stored.Attempt.StartedAt = time.UnixMilli(ms)
	} else {
		_ = j.rdb.Set(ctx, startKey, attempt.StartedAt.UnixMilli(), 0).Err()
	}

	cached, err := j.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get answers: %w", err)
	}
	if len(cached) > 0 {
		stored.Answers = make(map[int]model.Answer, len(cached))
		for field, val := range cached {
			idx, err := strconv.Atoi(field)
			if err != nil {
				continue
			}
			stored.Answers[idx] = model.ParseAnswer(val)
		}
		return stored, nil
	}

	stored.Answers, err = j.attemptRepo.ListAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	if len(stored.Answers) > 0 {
		fields := make(map[string]any, len(stored.Answers))
		for idx, ans := range stored.Answers {
			fields[strconv.Itoa(idx)] = ans.String()
		}
		_ = j.rdb.HSet(ctx, config.CacheKey.AttemptAnswersKey(id), fields).Err()
	}
	return stored, nil
}

// closeWithResult marks stored as COMPLETED with the published result.
func closeWithResult(stored *StoredAttempt, raw []byte) error {
	var result model.ExamResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	report := result.ScoreReport
	finishedAt := result.SubmittedAt
	stored.Attempt.Status = model.SessionStatusCompleted
	stored.Attempt.Trigger = result.Trigger
	stored.Attempt.FinishedAt = &finishedAt
	stored.Attempt.Result = &report
	stored.Answers = nil
	return nil
}

// Discard marks an attempt ABANDONED and drops its Redis keys.
func (j *AttemptJournal) Discard(ctx context.Context, attemptID uuid.UUID) error {
	if err := j.attemptRepo.MarkAbandoned(ctx, attemptID); err != nil {
		return fmt.Errorf("abandon attempt: %w", err)
	}
	id := attemptID.String()
	return j.rdb.Del(ctx,
		config.CacheKey.AttemptStartKey(id),
		config.CacheKey.AttemptAnswersKey(id),
	).Err()
}
