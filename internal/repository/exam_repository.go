package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-runner/internal/model"
)

const examColumns = `id, title, subject, duration_minutes, status, created_at, updated_at`

// ExamRepository stores exam headers. Records live in question_records.
type ExamRepository struct {
	pool *pgxpool.Pool
}

func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

func scanExam(row pgx.CollectableRow) (model.Exam, error) {
	var e model.Exam
	err := row.Scan(&e.ID, &e.Title, &e.Subject, &e.DurationMinutes, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// GetByID returns pgx.ErrNoRows for an unknown exam.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	rows, _ := r.pool.Query(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id)
	e, err := pgx.CollectExactlyOneRow(rows, scanExam)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// examWhere renders filter as a WHERE clause with positional arguments.
func examWhere(f model.ExamFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR subject ILIKE $%d)", len(args), len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListPaginated returns one page of matching exams, newest first, and the
// total number of matches.
func (r *ExamRepository) ListPaginated(ctx context.Context, f model.ExamFilter, limit, offset int) ([]model.Exam, int, error) {
	where, args := examWhere(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exams`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	rows, _ := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams`+where+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2),
		append(args, limit, offset)...)
	exams, err := pgx.CollectRows(rows, scanExam)
	if err != nil {
		return nil, 0, err
	}
	return exams, total, nil
}

// Create inserts e and fills in its generated id and timestamps.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, subject, duration_minutes, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Subject, e.DurationMinutes, e.Status,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// ListPublished feeds the paper cache prewarm at startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, _ := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams WHERE status = $1 ORDER BY created_at DESC`,
		model.ExamStatusPublished)
	return pgx.CollectRows(rows, scanExam)
}
