package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-runner/internal/model"
)

// QuestionRepository handles question record data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam retrieves all records of an exam in display order.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.QuestionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT record_id, exam_id, subject, prompt_text, options, correct_index,
		        is_sub_question, COALESCE(parent_id, ''), sub_order
		 FROM question_records WHERE exam_id = $1
		 ORDER BY position`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]model.QuestionRecord, 0)
	for rows.Next() {
		var (
			q       model.QuestionRecord
			options []byte
		)
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Subject, &q.PromptText, &options, &q.CorrectIndex,
			&q.IsSubQuestion, &q.ParentID, &q.SubOrder); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of %s: %w", q.ID, err)
		}
		records = append(records, q)
	}
	return records, rows.Err()
}

// Count returns how many records an exam has.
func (r *QuestionRepository) Count(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM question_records WHERE exam_id = $1`, examID).Scan(&n)
	return n, err
}

// ReplaceAll swaps an exam's record list in one transaction. The slice order
// becomes the display order.
func (r *QuestionRepository) ReplaceAll(ctx context.Context, examID uuid.UUID, records []model.QuestionRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM question_records WHERE exam_id = $1`, examID); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}

	rows := make([][]any, 0, len(records))
	for i, q := range records {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return err
		}
		var parent *string
		if q.IsSubQuestion {
			parent = &q.ParentID
		}
		rows = append(rows, []any{
			examID, i, q.ID, q.Subject, q.PromptText, options, q.CorrectIndex,
			q.IsSubQuestion, parent, q.SubOrder,
		})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"question_records"},
		[]string{"exam_id", "position", "record_id", "subject", "prompt_text", "options",
			"correct_index", "is_sub_question", "parent_id", "sub_order"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy records: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE exams SET updated_at = NOW() WHERE id = $1`, examID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
