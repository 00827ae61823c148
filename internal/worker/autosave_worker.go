package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/service"
)

const (
	AnswerBatchSize  = 200
	AnswerRetryDelay = 5 * time.Second
)

// AutosaveWorker moves buffered answer writes from persist_answers_queue
// into attempt_answers, one batch per round trip.
type AutosaveWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewAutosaveWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start blocks until ctx is cancelled, then drains what is left.
func (w *AutosaveWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("AutosaveWorker started")

	for ctx.Err() == nil {
		raw := w.nextBatch(ctx)
		if len(raw) == 0 {
			continue
		}
		if err := w.persist(ctx, raw); err != nil {
			w.log.Error().Err(err).Int("count", len(raw)).Msg("Answer batch failed, requeued")
			w.requeue(raw)
			select {
			case <-ctx.Done():
			case <-time.After(AnswerRetryDelay):
			}
		}
	}

	w.drain(context.Background())
	w.log.Info().Msg("AutosaveWorker stopped")
	return nil
}

// nextBatch waits up to a second for the first entry and then takes
// whatever else is already queued.
func (w *AutosaveWorker) nextBatch(ctx context.Context) []string {
	first, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return nil
	}
	if len(first) < 2 {
		return nil
	}

	rest, err := w.rdb.LPopCount(ctx, config.WorkerKey.PersistAnswersQueue, AnswerBatchSize-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		w.log.Warn().Err(err).Msg("LPopCount error")
	}
	return append([]string{first[1]}, rest...)
}

func (w *AutosaveWorker) persist(ctx context.Context, raw []string) error {
	rows := coalesceAnswers(raw, w.log)
	if len(rows.attempts) == 0 {
		return nil
	}

	_, err := w.pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_index, option_index)
		 SELECT * FROM UNNEST($1::uuid[], $2::int[], $3::int[])
		 ON CONFLICT (attempt_id, question_index) DO UPDATE
		 SET option_index = EXCLUDED.option_index, updated_at = NOW()`,
		rows.attempts, rows.indexes, rows.options,
	)
	if err == nil {
		w.log.Debug().Int("count", len(rows.attempts)).Msg("Answers persisted")
	}
	return err
}

// requeue puts raw back at the head of the queue in its original order so
// later writes for the same question still land last.
func (w *AutosaveWorker) requeue(raw []string) {
	pipe := w.rdb.Pipeline()
	for i := len(raw) - 1; i >= 0; i-- {
		pipe.LPush(context.Background(), config.WorkerKey.PersistAnswersQueue, raw[i])
	}
	if _, err := pipe.Exec(context.Background()); err != nil {
		w.log.Error().Err(err).Int("count", len(raw)).Msg("Requeue failed, answers lost")
	}
}

func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPopCount(ctx, config.WorkerKey.PersistAnswersQueue, AnswerBatchSize).Result()
		if err != nil || len(raw) == 0 {
			break
		}
		if err := w.persist(ctx, raw); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.requeue(raw)
			break
		}
		drained += len(raw)
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining answers")
	}
}

func decodeAnswer(raw string) (*service.AnswerPayload, error) {
	var p service.AnswerPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(p.AttemptID); err != nil {
		return nil, err
	}
	if p.Index < 0 {
		return nil, errors.New("negative question index")
	}
	return &p, nil
}

// answerColumns are the UNNEST arrays of one upsert.
type answerColumns struct {
	attempts []uuid.UUID
	indexes  []int32
	options  []*int32
}

type answerKey struct {
	attempt uuid.UUID
	index   int
}

// coalesceAnswers decodes a batch and keeps only the last write per
// attempt and question, since one upsert cannot touch a row twice.
// Undecodable entries are logged and dropped.
func coalesceAnswers(raw []string, log zerolog.Logger) answerColumns {
	pos := make(map[answerKey]int, len(raw))
	var c answerColumns

	for _, r := range raw {
		p, err := decodeAnswer(r)
		if err != nil {
			log.Error().Err(err).Msg("Invalid answer payload, dropped")
			continue
		}
		id := uuid.MustParse(p.AttemptID)

		var opt *int32
		if p.Option != nil {
			v := int32(*p.Option)
			opt = &v
		}

		k := answerKey{attempt: id, index: p.Index}
		if i, ok := pos[k]; ok {
			c.options[i] = opt
			continue
		}
		pos[k] = len(c.attempts)
		c.attempts = append(c.attempts, id)
		c.indexes = append(c.indexes, int32(p.Index))
		c.options = append(c.options, opt)
	}
	return c
}
