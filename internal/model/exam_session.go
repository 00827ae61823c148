package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "NOT_STARTED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitting SessionStatus = "SUBMITTING"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusAbandoned  SessionStatus = "ABANDONED"
)

// SubmitTrigger records what ended an attempt.
type SubmitTrigger string

const (
	SubmitManual  SubmitTrigger = "MANUAL"
	SubmitTimeout SubmitTrigger = "TIMEOUT"
)

// ItemStatus is the scoring classification of one record.
type ItemStatus string

const (
	ItemPassage    ItemStatus = "passage"
	ItemUnanswered ItemStatus = "unanswered"
	ItemCorrect    ItemStatus = "correct"
	ItemWrong      ItemStatus = "wrong"
)

// ScoreReport is the outcome of scoring one answer sheet.
type ScoreReport struct {
	Score    float64      `json:"score"`
	Answered int          `json:"answered"`
	Correct  int          `json:"correct"`
	Wrong    int          `json:"wrong"`
	Skipped  int          `json:"skipped"`
	PerItem  []ItemStatus `json:"per_item"`
}

// Candidate identifies the person taking an attempt.
type Candidate struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

// ExamAttempt is a candidate's persisted attempt at an exam.
type ExamAttempt struct {
	ID         uuid.UUID     `json:"id"`
	ExamID     uuid.UUID     `json:"exam_id"`
	Candidate  Candidate     `json:"candidate"`
	Status     SessionStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Trigger    SubmitTrigger `json:"trigger,omitempty"`
	// Result is set once the result worker has persisted the graded sheet.
	Result *ScoreReport `json:"result,omitempty"`
}

// ExamResult is the completed payload handed to the result sink.
type ExamResult struct {
	AttemptID   uuid.UUID     `json:"attempt_id"`
	ExamID      uuid.UUID     `json:"exam_id"`
	Candidate   Candidate     `json:"candidate"`
	Trigger     SubmitTrigger `json:"trigger"`
	SubmittedAt time.Time     `json:"submitted_at"`
	ScoreReport
}

// SessionState is what a candidate sees when (re)loading an attempt.
type SessionState struct {
	AttemptID   uuid.UUID     `json:"attempt_id"`
	ExamID      uuid.UUID     `json:"exam_id"`
	Status      SessionStatus `json:"status"`
	Current     int           `json:"current_index"`
	Answers     []Answer      `json:"answers"`
	RemainingMs int64         `json:"remaining_ms"`
	StartedAt   time.Time     `json:"started_at"`
	Result      *ScoreReport  `json:"result,omitempty"`
	Trigger     SubmitTrigger `json:"trigger,omitempty"`
}

// StartAttemptRequest is the payload for beginning an attempt.
type StartAttemptRequest struct {
	CandidateName    string `json:"candidate_name" binding:"required,min=1,max=255"`
	CandidateContact string `json:"candidate_contact" binding:"omitempty,max=255"`
}

// SelectAnswerRequest carries an option index, or null to clear.
type SelectAnswerRequest struct {
	Option *int `json:"option"`
}

// NavigateRequest moves the current index.
type NavigateRequest struct {
	Index *int `json:"index" binding:"required"`
}
