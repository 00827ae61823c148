package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-runner/internal/model"
)

// ScoreSummary aggregates the graded attempts of an exam. The score fields
// are nil until something has been graded.
type ScoreSummary struct {
	Graded       int      `json:"graded"`
	AverageScore *float64 `json:"average_score"`
	MinScore     *float64 `json:"min_score"`
	MaxScore     *float64 `json:"max_score"`
	AverageTaken *float64 `json:"average_minutes_taken"`
}

// ItemCounts is how candidates fared on one record across graded attempts.
type ItemCounts struct {
	Index      int `json:"index"`
	Correct    int `json:"correct"`
	Wrong      int `json:"wrong"`
	Unanswered int `json:"unanswered"`
}

// DashboardRepository handles the exam dashboard aggregates.
type DashboardRepository struct {
	pool *pgxpool.Pool
}

// NewDashboardRepository creates a new DashboardRepository.
func NewDashboardRepository(pool *pgxpool.Pool) *DashboardRepository {
	return &DashboardRepository{pool: pool}
}

// GetAttemptStatusCounts retrieves the distribution of an exam's attempts
// by status.
func (r *DashboardRepository) GetAttemptStatusCounts(ctx context.Context, examID uuid.UUID) (map[model.SessionStatus]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM exam_attempts WHERE exam_id = $1 GROUP BY status`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.SessionStatus]int)
	for rows.Next() {
		var status model.SessionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// GetTriggerCounts counts graded attempts by what ended them.
func (r *DashboardRepository) GetTriggerCounts(ctx context.Context, examID uuid.UUID) (map[model.SubmitTrigger]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT submit_trigger, COUNT(*)
		 FROM exam_attempts
		 WHERE exam_id = $1 AND status = $2 AND submit_trigger IS NOT NULL
		 GROUP BY submit_trigger`,
		examID, model.SessionStatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.SubmitTrigger]int)
	for rows.Next() {
		var trigger model.SubmitTrigger
		var count int
		if err := rows.Scan(&trigger, &count); err != nil {
			return nil, err
		}
		counts[trigger] = count
	}
	return counts, rows.Err()
}

// GetScoreSummary retrieves score spread and average time taken.
func (r *DashboardRepository) GetScoreSummary(ctx context.Context, examID uuid.UUID) (*ScoreSummary, error) {
	var s ScoreSummary
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), AVG(score), MIN(score), MAX(score),
		        AVG(EXTRACT(EPOCH FROM (finished_at - started_at)) / 60)
		 FROM exam_attempts
		 WHERE exam_id = $1 AND status = $2 AND score IS NOT NULL`,
		examID, model.SessionStatusCompleted,
	).Scan(&s.Graded, &s.AverageScore, &s.MinScore, &s.MaxScore, &s.AverageTaken)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetItemCounts unpacks the per_item arrays of graded attempts into
// per-record tallies, ordered by record index. Passages are left out.
func (r *DashboardRepository) GetItemCounts(ctx context.Context, examID uuid.UUID) ([]ItemCounts, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT (t.ord - 1)::int AS idx,
		        COUNT(*) FILTER (WHERE t.status = $3),
		        COUNT(*) FILTER (WHERE t.status = $4),
		        COUNT(*) FILTER (WHERE t.status = $5)
		 FROM exam_attempts a,
		      jsonb_array_elements_text(a.per_item) WITH ORDINALITY AS t(status, ord)
		 WHERE a.exam_id = $1 AND a.status = $2 AND t.status <> $6
		 GROUP BY idx
		 ORDER BY idx ASC`,
		examID, model.SessionStatusCompleted,
		model.ItemCorrect, model.ItemWrong, model.ItemUnanswered, model.ItemPassage,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]ItemCounts, 0)
	for rows.Next() {
		var it ItemCounts
		if err := rows.Scan(&it.Index, &it.Correct, &it.Wrong, &it.Unanswered); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
