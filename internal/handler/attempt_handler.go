package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/response"
	"github.com/stemsi/exstem-runner/internal/validator"
)

// SessionRunner drives live attempts. service.SessionService implements it.
type SessionRunner interface {
	Start(ctx context.Context, examID uuid.UUID, candidate model.Candidate) (*model.SessionState, error)
	State(ctx context.Context, attemptID uuid.UUID) (*model.SessionState, error)
	SelectAnswer(ctx context.Context, attemptID uuid.UUID, index int, option *int) (*model.SessionState, bool, error)
	GoTo(ctx context.Context, attemptID uuid.UUID, index int) (*model.SessionState, error)
	Submit(ctx context.Context, attemptID uuid.UUID) (*model.SessionState, error)
	Abandon(ctx context.Context, attemptID uuid.UUID) (*model.SessionState, bool, error)
}

// PaperSource serves the candidate view of an exam.
type PaperSource interface {
	Paper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error)
}

// AttemptHandler handles the candidate-facing endpoints of a timed attempt.
type AttemptHandler struct {
	sessions SessionRunner
	papers   PaperSource
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(sessions SessionRunner, papers PaperSource) *AttemptHandler {
	return &AttemptHandler{sessions: sessions, papers: papers}
}

// StartAttempt godoc
// POST /api/v1/exams/:exam_id/attempts
// Starts the countdown of a new attempt at a published exam.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	examID, ok := examParam(c)
	if !ok {
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.sessions.Start(c.Request.Context(), examID, model.Candidate{
		Name:    req.CandidateName,
		Contact: req.CandidateContact,
	})
	if err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"attempt": state})
}

// GetAttempt godoc
// GET /api/v1/attempts/:attempt_id
// Returns the attempt as the candidate sees it. Reloading the page resumes
// the same countdown.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	state, err := h.sessions.State(c.Request.Context(), attemptID)
	if err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": state})
}

// GetPaper godoc
// GET /api/v1/attempts/:attempt_id/paper
// Returns the questions of the attempt's exam without correct indexes.
func (h *AttemptHandler) GetPaper(c *gin.Context) {
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	state, err := h.sessions.State(c.Request.Context(), attemptID)
	if err != nil {
		failFor(c, err)
		return
	}

	paper, err := h.papers.Paper(c.Request.Context(), state.ExamID)
	if err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"paper": paper})
}

// SaveAnswer godoc
// PUT /api/v1/attempts/:attempt_id/answers/:index
// Sets the answer of one question, or clears it with {"option": null}.
// applied is false when the write was ignored (passage, out of range or
// the attempt is no longer running).
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SelectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, applied, err := h.sessions.SelectAnswer(c.Request.Context(), attemptID, index, req.Option)
	if err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"applied": applied, "attempt": state})
}

// Navigate godoc
// POST /api/v1/attempts/:attempt_id/navigate
// Moves the current question. Out of range indexes are clamped.
func (h *AttemptHandler) Navigate(c *gin.Context) {
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.sessions.GoTo(c.Request.Context(), attemptID, *req.Index)
	if err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": state})
}

// SubmitAttempt godoc
// POST /api/v1/attempts/:attempt_id/submit
// Grades the attempt. Submitting again returns the same result.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	state, err := h.sessions.Submit(c.Request.Context(), attemptID)
	if err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": state})
}

// AbandonAttempt godoc
// DELETE /api/v1/attempts/:attempt_id
// Cancels a running attempt without grading it.
func (h *AttemptHandler) AbandonAttempt(c *gin.Context) {
	attemptID, ok := attemptParam(c)
	if !ok {
		return
	}

	state, applied, err := h.sessions.Abandon(c.Request.Context(), attemptID)
	if err != nil {
		failFor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"applied": applied, "attempt": state})
}

func attemptParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
