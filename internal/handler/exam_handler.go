package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/repository"
	"github.com/stemsi/exstem-runner/internal/response"
	"github.com/stemsi/exstem-runner/internal/validator"
)

// ExamManager is the authoring side of the exam service.
type ExamManager interface {
	List(ctx context.Context, filter model.ExamFilter, page, perPage int) ([]model.Exam, *response.Pagination, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	Create(ctx context.Context, exam *model.Exam) error
	Questions(ctx context.Context, examID uuid.UUID) ([]model.QuestionRecord, error)
	ReplaceQuestions(ctx context.Context, examID uuid.UUID, records []model.QuestionRecord) (*model.ExamOutline, error)
	Outline(ctx context.Context, examID uuid.UUID) (*model.ExamOutline, error)
	Publish(ctx context.Context, examID uuid.UUID) error
	Results(ctx context.Context, examID uuid.UUID, page, perPage int) ([]repository.AttemptResult, *response.Pagination, error)
}

// ExamHandler handles exam management endpoints.
type ExamHandler struct {
	exams ExamManager
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(exams ExamManager) *ExamHandler {
	return &ExamHandler{exams: exams}
}

// ListExams godoc
// GET /api/v1/exams
func (h *ExamHandler) ListExams(c *gin.Context) {
	var filter model.ExamFilter
	if fields := validator.BindQuery(c, &filter); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	page, perPage := pageQuery(c)

	exams, pagination, err := h.exams.List(c.Request.Context(), filter, page, perPage)
	if err != nil {
		failFor(c, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, pagination)
}

// CreateExam godoc
// POST /api/v1/exams
// Creates a new draft exam.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam := &model.Exam{
		Title:           req.Title,
		Subject:         req.Subject,
		DurationMinutes: req.DurationMinutes,
	}
	if err := h.exams.Create(c.Request.Context(), exam); err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// GetExam godoc
// GET /api/v1/exams/:exam_id
func (h *ExamHandler) GetExam(c *gin.Context) {
	examID, ok := examParam(c)
	if !ok {
		return
	}

	exam, err := h.exams.GetByID(c.Request.Context(), examID)
	if err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// ListQuestions godoc
// GET /api/v1/exams/:exam_id/questions
// Returns the record list in display order, correct indexes included.
func (h *ExamHandler) ListQuestions(c *gin.Context) {
	examID, ok := examParam(c)
	if !ok {
		return
	}

	records, err := h.exams.Questions(c.Request.Context(), examID)
	if err != nil {
		failFor(c, err)
		return
	}
	if records == nil {
		records = []model.QuestionRecord{}
	}

	response.Success(c, http.StatusOK, gin.H{"questions": records})
}

// ReplaceQuestions godoc
// PUT /api/v1/exams/:exam_id/questions
// Replaces the whole record list of a draft exam and returns its outline.
func (h *ExamHandler) ReplaceQuestions(c *gin.Context) {
	examID, ok := examParam(c)
	if !ok {
		return
	}

	var req model.ReplaceQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	records := make([]model.QuestionRecord, len(req.Questions))
	for i, q := range req.Questions {
		records[i] = q.ToRecord(examID)
	}

	outline, err := h.exams.ReplaceQuestions(c.Request.Context(), examID, records)
	if err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"outline": outline})
}

// GetOutline godoc
// GET /api/v1/exams/:exam_id/outline
// Shows how every record will be numbered, the passage groups and any
// data-quality anomalies.
func (h *ExamHandler) GetOutline(c *gin.Context) {
	examID, ok := examParam(c)
	if !ok {
		return
	}

	outline, err := h.exams.Outline(c.Request.Context(), examID)
	if err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"outline": outline})
}

// PublishExam godoc
// POST /api/v1/exams/:exam_id/publish
// Caches the records and paper in Redis and opens the exam for attempts.
func (h *ExamHandler) PublishExam(c *gin.Context) {
	examID, ok := examParam(c)
	if !ok {
		return
	}

	if err := h.exams.Publish(c.Request.Context(), examID); err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": model.ExamStatusPublished})
}

// ListResults godoc
// GET /api/v1/exams/:exam_id/results
func (h *ExamHandler) ListResults(c *gin.Context) {
	examID, ok := examParam(c)
	if !ok {
		return
	}
	page, perPage := pageQuery(c)

	results, pagination, err := h.exams.Results(c.Request.Context(), examID, page, perPage)
	if err != nil {
		failFor(c, err)
		return
	}
	if results == nil {
		results = []repository.AttemptResult{}
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": results}, pagination)
}

func examParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func pageQuery(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	return page, perPage
}
