package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/engine"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/repository"
	"github.com/stemsi/exstem-runner/internal/response"
)

// Domain Errors
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrNoQuestions      = errors.New("exam has no questions, cannot publish/start")
	ErrExamNotDraft     = errors.New("exam status is not DRAFT")
	ErrExamNotPublished = errors.New("exam status is not PUBLISHED")
	ErrInvalidDuration  = errors.New("exam duration must be positive")
	ErrInvalidRecords   = errors.New("question records are malformed")
)

// LoadedExam is an exam ready to be run: its countdown length and the record
// list in display order.
type LoadedExam struct {
	Exam    model.Exam
	Records []model.QuestionRecord
}

// RecordSource supplies the read-only record list of a published exam.
type RecordSource interface {
	LoadExam(ctx context.Context, examID uuid.UUID) (*LoadedExam, error)
}

// ExamService handles exam authoring and the Redis record cache.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	attemptRepo  *repository.AttemptRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	attemptRepo *repository.AttemptRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		attemptRepo:  attemptRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	return exam, err
}

// List retrieves the exams matching filter page by page.
func (s *ExamService) List(ctx context.Context, filter model.ExamFilter, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	page, perPage = normalizePage(page, perPage)

	exams, total, err := s.examRepo.ListPaginated(ctx, filter, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	return exams, response.NewPagination(page, perPage, total), nil
}

// Create inserts a new exam as DRAFT.
func (s *ExamService) Create(ctx context.Context, exam *model.Exam) error {
	if exam.DurationMinutes <= 0 {
		return ErrInvalidDuration
	}
	exam.Status = model.ExamStatusDraft
	return s.examRepo.Create(ctx, exam)
}

// Questions returns the authoring view of an exam's records, correct
// indexes included.
func (s *ExamService) Questions(ctx context.Context, examID uuid.UUID) ([]model.QuestionRecord, error) {
	if _, err := s.GetByID(ctx, examID); err != nil {
		return nil, err
	}
	return s.questionRepo.ListByExam(ctx, examID)
}

// ReplaceQuestions stores a new record list for a draft exam and returns how
// it will render. Data-quality anomalies are accepted and reported.
func (s *ExamService) ReplaceQuestions(ctx context.Context, examID uuid.UUID, records []model.QuestionRecord) (*model.ExamOutline, error) {
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusDraft {
		return nil, ErrExamNotDraft
	}
	if err := ValidateRecords(records); err != nil {
		return nil, err
	}

	if err := s.questionRepo.ReplaceAll(ctx, examID, records); err != nil {
		return nil, fmt.Errorf("replace records: %w", err)
	}

	outline := BuildOutline(examID, records)
	s.log.Info().
		Str("exam_id", examID.String()).
		Int("records", len(records)).
		Int("anomalies", len(outline.Anomalies)).
		Msg("Questions replaced")
	return outline, nil
}

// Outline returns per-index display metadata, passage groups and anomalies.
func (s *ExamService) Outline(ctx context.Context, examID uuid.UUID) (*model.ExamOutline, error) {
	records, err := s.Questions(ctx, examID)
	if err != nil {
		return nil, err
	}
	return BuildOutline(examID, records), nil
}

// Publish changes exam status to PUBLISHED and caches the records and paper
// in Redis.
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return err
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}

	exam.Status = model.ExamStatusPublished
	if _, err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// WarmExamCache loads an exam's records from PostgreSQL into Redis and
// returns them.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) ([]model.QuestionRecord, error) {
	records, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoQuestions
	}

	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	paperJSON, err := json.Marshal(BuildPaper(exam, records))
	if err != nil {
		return nil, fmt.Errorf("marshal paper: %w", err)
	}

	id := exam.ID.String()
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.ExamRecordsKey(id), recordsJSON, 0)
	pipe.Set(ctx, config.CacheKey.ExamPaperKey(id), paperJSON, 0)
	pipe.Set(ctx, config.CacheKey.ExamDurationKey(id), exam.DurationMinutes, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", id).
		Int("records", len(records)).
		Msg("Cache warmed")
	return records, nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming published exams...")

	warmed := 0
	for i := range exams {
		if _, err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// LoadExam reads a published exam from Redis, falling back to PostgreSQL and
// re-warming the cache on a miss.
func (s *ExamService) LoadExam(ctx context.Context, examID uuid.UUID) (*LoadedExam, error) {
	id := examID.String()
	vals, err := s.rdb.MGet(ctx, config.CacheKey.ExamRecordsKey(id), config.CacheKey.ExamDurationKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get records: %w", err)
	}

	if raw, ok := vals[0].(string); ok {
		if minutes, ok := vals[1].(string); ok {
			loaded, err := decodeCachedExam(examID, raw, minutes)
			if err == nil {
				return loaded, nil
			}
			s.log.Warn().Err(err).Str("exam_id", id).Msg("Corrupt exam cache, reloading")
		}
	}

	// Cache miss: PostgreSQL is the source of truth.
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotPublished
	}
	records, err := s.WarmExamCache(ctx, exam)
	if err != nil {
		return nil, err
	}
	return &LoadedExam{Exam: *exam, Records: records}, nil
}

func decodeCachedExam(examID uuid.UUID, raw, minutes string) (*LoadedExam, error) {
	var records []model.QuestionRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("unmarshal records: %w", err)
	}
	duration, err := strconv.Atoi(minutes)
	if err != nil {
		return nil, fmt.Errorf("invalid duration format in redis: %w", err)
	}
	return &LoadedExam{
		Exam: model.Exam{
			ID:              examID,
			DurationMinutes: duration,
			Status:          model.ExamStatusPublished,
		},
		Records: records,
	}, nil
}

// Paper returns the cached candidate paper of a published exam.
func (s *ExamService) Paper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPaperKey(examID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		if _, err := s.LoadExam(ctx, examID); err != nil {
			return nil, err
		}
		data, err = s.rdb.Get(ctx, config.CacheKey.ExamPaperKey(examID.String())).Bytes()
	}
	if err != nil {
		return nil, fmt.Errorf("get paper: %w", err)
	}

	var paper model.ExamPaper
	if err := json.Unmarshal(data, &paper); err != nil {
		return nil, fmt.Errorf("unmarshal paper: %w", err)
	}
	return &paper, nil
}

// Results lists graded attempts of an exam.
func (s *ExamService) Results(ctx context.Context, examID uuid.UUID, page, perPage int) ([]repository.AttemptResult, *response.Pagination, error) {
	if _, err := s.GetByID(ctx, examID); err != nil {
		return nil, nil, err
	}
	page, perPage = normalizePage(page, perPage)

	results, total, err := s.attemptRepo.ListResultsByExam(ctx, examID, page, perPage)
	if err != nil {
		return nil, nil, err
	}
	return results, response.NewPagination(page, perPage, int(total)), nil
}

// ValidateRecords rejects structurally broken records. Numbering and
// scoring issues are not errors here; see engine.Inspect.
func ValidateRecords(records []model.QuestionRecord) error {
	if len(records) == 0 {
		return ErrNoQuestions
	}
	for i := range records {
		rec := &records[i]
		switch {
		case rec.ID == "":
			return fmt.Errorf("%w: record %d has no id", ErrInvalidRecords, i+1)
		case len(rec.Options) > model.MaxOptions:
			return fmt.Errorf("%w: record %d has %d options", ErrInvalidRecords, i+1, len(rec.Options))
		case rec.CorrectIndex < 0:
			return fmt.Errorf("%w: record %d has a negative correct index", ErrInvalidRecords, i+1)
		}
	}
	return nil
}

// BuildOutline combines displays, groups and anomalies of a record list.
func BuildOutline(examID uuid.UUID, records []model.QuestionRecord) *model.ExamOutline {
	anomalies := engine.Inspect(records)
	if anomalies == nil {
		anomalies = []model.Anomaly{}
	}
	return &model.ExamOutline{
		ExamID:    examID,
		Displays:  engine.Outline(records),
		Groups:    engine.Groups(records),
		Anomalies: anomalies,
	}
}

// BuildPaper strips correct indexes and attaches display numbers.
func BuildPaper(exam *model.Exam, records []model.QuestionRecord) model.ExamPaper {
	displays := engine.Outline(records)
	questions := make([]model.PaperQuestion, len(records))
	for i, rec := range records {
		questions[i] = model.PaperQuestion{
			ID:         rec.ID,
			Subject:    rec.Subject,
			PromptText: rec.PromptText,
			Options:    rec.Options,
			Number:     displays[i].Number,
			Role:       displays[i].Role,
		}
	}
	return model.ExamPaper{
		ExamID:    exam.ID,
		Title:     exam.Title,
		Subject:   exam.Subject,
		Duration:  exam.DurationMinutes,
		Questions: questions,
		Groups:    engine.Groups(records),
	}
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

