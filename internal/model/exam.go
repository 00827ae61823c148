package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam is the container a record list belongs to.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Subject         string     `json:"subject"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          ExamStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Duration returns the countdown length of one attempt.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title           string `json:"title" binding:"required,min=3,max=255"`
	Subject         string `json:"subject" binding:"omitempty,max=255"`
	DurationMinutes int    `json:"duration_minutes" binding:"required,min=1,max=480"`
}

// ExamFilter narrows an exam listing. Zero values match everything.
type ExamFilter struct {
	Status ExamStatus `form:"status" json:"status" binding:"omitempty,oneof=DRAFT PUBLISHED ARCHIVED"`
	Search string     `form:"q" json:"q" binding:"omitempty,max=100"`
}

// ExamPaper is the cached payload sent to candidates (no correct answers).
type ExamPaper struct {
	ExamID    uuid.UUID       `json:"exam_id"`
	Title     string          `json:"title"`
	Subject   string          `json:"subject"`
	Duration  int             `json:"duration_minutes"`
	Questions []PaperQuestion `json:"questions"`
	Groups    []Group         `json:"groups"`
}

// PaperQuestion is a record as a candidate sees it.
type PaperQuestion struct {
	ID         string   `json:"id"`
	Subject    string   `json:"subject"`
	PromptText string   `json:"prompt_text"`
	Options    []string `json:"options"`
	Number     string   `json:"number"`
	Role       Role     `json:"role"`
}

// ExamOutline is the author-facing view of how a record list will render.
type ExamOutline struct {
	ExamID    uuid.UUID `json:"exam_id"`
	Displays  []Display `json:"displays"`
	Groups    []Group   `json:"groups"`
	Anomalies []Anomaly `json:"anomalies"`
}
