package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-runner/internal/model"
)

// AttemptResult is one row of an exam's result listing.
type AttemptResult struct {
	AttemptID        uuid.UUID           `json:"attempt_id"`
	CandidateName    string              `json:"candidate_name"`
	CandidateContact string              `json:"candidate_contact"`
	Status           model.SessionStatus `json:"status"`
	Trigger          *string             `json:"trigger"`
	Score            *float64            `json:"score"`
	Answered         *int                `json:"answered"`
	Correct          *int                `json:"correct"`
	Wrong            *int                `json:"wrong"`
	Skipped          *int                `json:"skipped"`
	StartedAt        time.Time           `json:"started_at"`
	FinishedAt       *time.Time          `json:"finished_at"`
}

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a new in-progress attempt. StartedAt must already be set
// so the stored start matches the running countdown.
func (r *AttemptRepository) Create(ctx context.Context, a *model.ExamAttempt) error {
	a.Status = model.SessionStatusInProgress
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, candidate_name, candidate_contact, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		a.ExamID, a.Candidate.Name, a.Candidate.Contact, a.Status, a.StartedAt,
	).Scan(&a.ID)
}

// GetByID retrieves an attempt, including its graded sheet when one has
// been persisted.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	var (
		a        = &model.ExamAttempt{}
		trigger  *string
		score    *float64
		counts   [4]*int
		perItems []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, candidate_name, candidate_contact, status, started_at, finished_at,
		        submit_trigger, score, answered, correct, wrong, skipped, per_item
		 FROM exam_attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ExamID, &a.Candidate.Name, &a.Candidate.Contact, &a.Status,
		&a.StartedAt, &a.FinishedAt,
		&trigger, &score, &counts[0], &counts[1], &counts[2], &counts[3], &perItems)
	if err != nil {
		return nil, err
	}

	if trigger != nil {
		a.Trigger = model.SubmitTrigger(*trigger)
	}
	if score != nil {
		rep := &model.ScoreReport{Score: *score}
		for i, dst := range []*int{&rep.Answered, &rep.Correct, &rep.Wrong, &rep.Skipped} {
			if counts[i] != nil {
				*dst = *counts[i]
			}
		}
		if len(perItems) > 0 {
			if err := json.Unmarshal(perItems, &rep.PerItem); err != nil {
				return nil, err
			}
		}
		a.Result = rep
	}
	return a, nil
}

// MarkAbandoned ends an in-progress attempt without a score. Finished
// attempts are left alone.
func (r *AttemptRepository) MarkAbandoned(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $1, finished_at = NOW()
		 WHERE id = $2 AND status = $3`,
		model.SessionStatusAbandoned, id, model.SessionStatusInProgress)
	return err
}

// ListAnswers returns the persisted answers of an attempt keyed by record
// index.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID uuid.UUID) (map[int]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_index, option_index FROM attempt_answers WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[int]model.Answer)
	for rows.Next() {
		var (
			idx int
			opt *int
		)
		if err := rows.Scan(&idx, &opt); err != nil {
			return nil, err
		}
		if opt != nil {
			answers[idx] = model.Choice(*opt)
		} else {
			answers[idx] = model.Unanswered
		}
	}
	return answers, rows.Err()
}

// ListResultsByExam returns attempts of an exam, best score first.
func (r *AttemptRepository) ListResultsByExam(ctx context.Context, examID uuid.UUID, page, perPage int) ([]AttemptResult, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE exam_id = $1`, examID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, candidate_name, candidate_contact, status, submit_trigger, score,
		        answered, correct, wrong, skipped, started_at, finished_at
		 FROM exam_attempts
		 WHERE exam_id = $1
		 ORDER BY score DESC NULLS LAST, candidate_name ASC
		 LIMIT $2 OFFSET $3`, examID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results := make([]AttemptResult, 0, perPage)
	for rows.Next() {
		var res AttemptResult
		if err := rows.Scan(
			&res.AttemptID, &res.CandidateName, &res.CandidateContact, &res.Status, &res.Trigger, &res.Score,
			&res.Answered, &res.Correct, &res.Wrong, &res.Skipped, &res.StartedAt, &res.FinishedAt,
		); err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}
	return results, total, rows.Err()
}
