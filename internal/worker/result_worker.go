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
	"github.com/stemsi/exstem-runner/internal/model"
)

const (
	ResultBatchSize    = 50
	ResultBatchTimeout = 2 * time.Second
	ResultPollTimeout  = 1 * time.Second
)

// ResultWorker persists graded attempts from persist_results_queue in
// batches.
type ResultWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewResultWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "result_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ResultWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("ResultWorker started")

	batch := make([]*model.ExamResult, 0, ResultBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ResultBatchSize || time.Since(lastFlush) >= ResultBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return nil

		default:
			item, err := w.rdb.BLPop(ctx, ResultPollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var r model.ExamResult
			if err := json.Unmarshal([]byte(item[1]), &r); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &r)
		}
	}
}

// ----------------------------------------------------------------
// Batch update wrapper
// ----------------------------------------------------------------

func (w *ResultWorker) flushSafe(ctx context.Context, batch []*model.ExamResult) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkSaveResults(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("bulk result update failed, using fallback")

		persisted := make([]*model.ExamResult, 0, len(batch))
		for _, r := range batch {
			if err := w.persistSingle(ctx, r); err != nil {
				w.log.Error().Err(err).Str("attempt_id", r.AttemptID.String()).Msg("persistSingle failed, requeueing")
				raw, _ := json.Marshal(r)
				w.rdb.RPush(context.Background(), config.WorkerKey.PersistResultsQueue, raw)
				continue
			}
			persisted = append(persisted, r)
		}
		w.bulkClearAttemptCache(ctx, persisted)
		return
	}

	w.log.Debug().Int("count", len(batch)).Msg("Results persisted")
	w.bulkClearAttemptCache(ctx, batch)
}

// resultColumns splits a batch into the parallel arrays UNNEST expects.
type resultColumns struct {
	ids         []uuid.UUID
	triggers    []string
	scores      []float64
	answered    []int32
	correct     []int32
	wrong       []int32
	skipped     []int32
	perItems    []string
	finishedAts []time.Time
}

// Only the first result of an attempt is kept, since UPDATE ... FROM picks
// an arbitrary row when ids repeat.
func columnsOf(batch []*model.ExamResult) (*resultColumns, error) {
	n := len(batch)
	seen := make(map[uuid.UUID]struct{}, n)
	c := &resultColumns{
		ids:         make([]uuid.UUID, 0, n),
		triggers:    make([]string, 0, n),
		scores:      make([]float64, 0, n),
		answered:    make([]int32, 0, n),
		correct:     make([]int32, 0, n),
		wrong:       make([]int32, 0, n),
		skipped:     make([]int32, 0, n),
		perItems:    make([]string, 0, n),
		finishedAts: make([]time.Time, 0, n),
	}
	for _, r := range batch {
		if _, dup := seen[r.AttemptID]; dup {
			continue
		}
		seen[r.AttemptID] = struct{}{}
		perItem, err := json.Marshal(r.PerItem)
		if err != nil {
			return nil, err
		}
		c.ids = append(c.ids, r.AttemptID)
		c.triggers = append(c.triggers, string(r.Trigger))
		c.scores = append(c.scores, r.Score)
		c.answered = append(c.answered, int32(r.Answered))
		c.correct = append(c.correct, int32(r.Correct))
		c.wrong = append(c.wrong, int32(r.Wrong))
		c.skipped = append(c.skipped, int32(r.Skipped))
		c.perItems = append(c.perItems, string(perItem))
		c.finishedAts = append(c.finishedAts, r.SubmittedAt)
	}
	return c, nil
}

// ----------------------------------------------------------------
// BULK PostgreSQL UPDATE using UNNEST + alias
// ----------------------------------------------------------------

// A result for an attempt that is already COMPLETED is ignored, so a
// duplicate publish after a restart never overwrites the first grade.
func (w *ResultWorker) bulkSaveResults(ctx context.Context, batch []*model.ExamResult) error {
	c, err := columnsOf(batch)
	if err != nil {
		return err
	}

	query := `
		UPDATE exam_attempts AS a
		SET status = 'COMPLETED',
		    submit_trigger = t.submit_trigger,
		    score = t.score,
		    answered = t.answered,
		    correct = t.correct,
		    wrong = t.wrong,
		    skipped = t.skipped,
		    per_item = t.per_item::jsonb,
		    finished_at = t.finished_at
		FROM (
			SELECT *
			FROM UNNEST(
				$1::uuid[],
				$2::text[],
				$3::float8[],
				$4::int[],
				$5::int[],
				$6::int[],
				$7::int[],
				$8::text[],
				$9::timestamptz[]
			) AS u (id, submit_trigger, score, answered, correct, wrong, skipped, per_item, finished_at)
		) AS t
		WHERE a.id = t.id
		  AND a.status <> 'COMPLETED'
	`

	_, err = w.pool.Exec(ctx, query,
		c.ids, c.triggers, c.scores, c.answered, c.correct, c.wrong, c.skipped, c.perItems, c.finishedAts)
	return err
}

// ----------------------------------------------------------------
// BULK Redis DEL for clearing autosave buffers
// ----------------------------------------------------------------

func (w *ResultWorker) bulkClearAttemptCache(ctx context.Context, batch []*model.ExamResult) {
	if len(batch) == 0 {
		return
	}
	pipe := w.rdb.Pipeline()

	for _, r := range batch {
		id := r.AttemptID.String()
		pipe.Del(ctx,
			config.CacheKey.AttemptAnswersKey(id),
			config.CacheKey.AttemptStartKey(id),
			config.CacheKey.AttemptResultKey(id),
		)
	}

	_, _ = pipe.Exec(ctx)
}

// ----------------------------------------------------------------
// FALLBACK single update
// ----------------------------------------------------------------

func (w *ResultWorker) persistSingle(ctx context.Context, r *model.ExamResult) error {
	perItem, err := json.Marshal(r.PerItem)
	if err != nil {
		return err
	}

	_, err = w.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = 'COMPLETED',
		     submit_trigger = $1,
		     score = $2,
		     answered = $3,
		     correct = $4,
		     wrong = $5,
		     skipped = $6,
		     per_item = $7::jsonb,
		     finished_at = $8
		 WHERE id = $9 AND status <> 'COMPLETED'`,
		string(r.Trigger), r.Score, r.Answered, r.Correct, r.Wrong, r.Skipped, string(perItem), r.SubmittedAt, r.AttemptID,
	)

	return err
}
