// Package sqlitestore keeps exams and graded results in a local SQLite file
// for offline use by examctl.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/service"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open opens (and creates) the database at path. ":memory:" gives a
// throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases from splitting per
	// connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		exam_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		record TEXT NOT NULL,
		PRIMARY KEY (exam_id, position),
		FOREIGN KEY (exam_id) REFERENCES exams(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id TEXT NOT NULL,
		attempt_id TEXT NOT NULL UNIQUE,
		candidate_name TEXT NOT NULL DEFAULT '',
		candidate_contact TEXT NOT NULL DEFAULT '',
		submit_trigger TEXT NOT NULL,
		score REAL NOT NULL,
		answered INTEGER NOT NULL,
		correct INTEGER NOT NULL,
		wrong INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		per_item TEXT NOT NULL,
		submitted_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_exam ON results(exam_id, submitted_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ImportExam stores an exam and its record list, replacing any previous
// import with the same id.
func (s *Store) ImportExam(ctx context.Context, exam model.Exam, records []model.QuestionRecord) error {
	if exam.DurationMinutes <= 0 {
		return service.ErrInvalidDuration
	}
	if err := service.ValidateRecords(records); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO exams (id, title, subject, duration_minutes, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title,
		   subject = excluded.subject,
		   duration_minutes = excluded.duration_minutes`,
		exam.ID.String(), exam.Title, exam.Subject, exam.DurationMinutes, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("upsert exam: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE exam_id = ?`, exam.ID.String()); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (exam_id, position, record) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %d: %w", i+1, err)
		}
		if _, err := stmt.ExecContext(ctx, exam.ID.String(), i, string(raw)); err != nil {
			return fmt.Errorf("insert record %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

// ListExams returns every imported exam, newest first.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, subject, duration_minutes, created_at FROM exams ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var (
			e         model.Exam
			id        string
			createdAt string
		)
		if err := rows.Scan(&id, &e.Title, &e.Subject, &e.DurationMinutes, &createdAt); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("exam id %q: %w", id, err)
		}
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = e.CreatedAt
		e.Status = model.ExamStatusPublished
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// LoadExam returns an imported exam ready to run. Imported exams count as
// published.
func (s *Store) LoadExam(ctx context.Context, examID uuid.UUID) (*service.LoadedExam, error) {
	var (
		e         model.Exam
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT title, subject, duration_minutes, created_at FROM exams WHERE id = ?`, examID.String(),
	).Scan(&e.Title, &e.Subject, &e.DurationMinutes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, service.ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	e.ID = examID
	e.Status = model.ExamStatusPublished
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = e.CreatedAt

	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM records WHERE exam_id = ? ORDER BY position`, examID.String())
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []model.QuestionRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec model.QuestionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &service.LoadedExam{Exam: e, Records: records}, nil
}

// Publish stores a graded attempt. It satisfies service.ResultSink, so a
// result is written at most once per attempt id.
func (s *Store) Publish(ctx context.Context, r model.ExamResult) error {
	perItem, err := json.Marshal(r.PerItem)
	if err != nil {
		return fmt.Errorf("marshal per item: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (exam_id, attempt_id, candidate_name, candidate_contact, submit_trigger,
		                      score, answered, correct, wrong, skipped, per_item, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (attempt_id) DO NOTHING`,
		r.ExamID.String(), r.AttemptID.String(), r.Candidate.Name, r.Candidate.Contact, string(r.Trigger),
		r.Score, r.Answered, r.Correct, r.Wrong, r.Skipped, string(perItem), formatTime(r.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListResults returns the stored results of an exam in submission order.
func (s *Store) ListResults(ctx context.Context, examID uuid.UUID) ([]model.ExamResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT attempt_id, candidate_name, candidate_contact, submit_trigger,
		        score, answered, correct, wrong, skipped, per_item, submitted_at
		 FROM results WHERE exam_id = ? ORDER BY submitted_at, id`, examID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []model.ExamResult{}
	for rows.Next() {
		var (
			r           model.ExamResult
			attemptID   string
			trigger     string
			perItem     string
			submittedAt string
		)
		if err := rows.Scan(&attemptID, &r.Candidate.Name, &r.Candidate.Contact, &trigger,
			&r.Score, &r.Answered, &r.Correct, &r.Wrong, &r.Skipped, &perItem, &submittedAt); err != nil {
			return nil, err
		}
		if r.AttemptID, err = uuid.Parse(attemptID); err != nil {
			return nil, fmt.Errorf("attempt id %q: %w", attemptID, err)
		}
		if err := json.Unmarshal([]byte(perItem), &r.PerItem); err != nil {
			return nil, fmt.Errorf("decode per item: %w", err)
		}
		r.ExamID = examID
		r.Trigger = model.SubmitTrigger(trigger)
		r.SubmittedAt = parseTime(submittedAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
