package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/model"
)

// AttemptProgress is one row of the live monitor.
type AttemptProgress struct {
	AttemptID     uuid.UUID           `json:"attempt_id"`
	CandidateName string              `json:"candidate_name"`
	Status        model.SessionStatus `json:"status"`
	StartedAt     time.Time           `json:"started_at"`
	Score         *float64            `json:"score"`
	AnsweredCount int64               `json:"answered_count"`
}

// MonitorRepository provides data access for the live exam monitoring feature.
// It combines PostgreSQL (attempt state) and Redis (live answer counts).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// ListAttemptProgress returns every attempt of the exam with the number of
// answers the autosave worker has persisted so far.
func (r *MonitorRepository) ListAttemptProgress(ctx context.Context, examID uuid.UUID) ([]AttemptProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.candidate_name, a.status, a.started_at, a.score,
		        COUNT(aa.option_index)
		 FROM exam_attempts a
		 LEFT JOIN attempt_answers aa ON aa.attempt_id = a.id
		 WHERE a.exam_id = $1
		 GROUP BY a.id
		 ORDER BY a.started_at ASC`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]AttemptProgress, 0)
	for rows.Next() {
		var p AttemptProgress
		if err := rows.Scan(&p.AttemptID, &p.CandidateName, &p.Status, &p.StartedAt, &p.Score, &p.AnsweredCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetLiveAnsweredCounts counts the answered entries of each attempt's Redis
// autosave hash. Attempts without a hash are left out.
func (r *MonitorRepository) GetLiveAnsweredCounts(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	result := make(map[uuid.UUID]int64, len(attemptIDs))
	if len(attemptIDs) == 0 {
		return result, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(attemptIDs))
	for i, id := range attemptIDs {
		cmds[i] = pipe.HVals(ctx, config.CacheKey.AttemptAnswersKey(id.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		var n int64
		for _, v := range vals {
			if v != "" {
				n++
			}
		}
		result[attemptIDs[i]] = n
	}
	return result, nil
}
