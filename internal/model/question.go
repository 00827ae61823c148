package model

import (
	"strings"

	"github.com/google/uuid"
)

// MaxOptions is the largest number of options a record may carry.
const MaxOptions = 4

// QuestionRecord is one entry of an exam's flat question list: a standalone
// question, a passage, or a sub-question that points back at its passage.
// Records are read-only once an exam is loaded.
type QuestionRecord struct {
	ID            string    `json:"id"`
	ExamID        uuid.UUID `json:"exam_id,omitempty"`
	Subject       string    `json:"subject"`
	PromptText    string    `json:"prompt_text"`
	Options       []string  `json:"options"`
	CorrectIndex  int       `json:"correct_index"`
	IsSubQuestion bool      `json:"is_sub_question"`
	ParentID      string    `json:"parent_id,omitempty"`
	SubOrder      *int      `json:"sub_order,omitempty"`
}

// IsScorable reports whether the record has at least one non-empty option.
func (q *QuestionRecord) IsScorable() bool {
	for _, opt := range q.Options {
		if strings.TrimSpace(opt) != "" {
			return true
		}
	}
	return false
}

// IsPassage reports whether the record is a non-scored grouping header:
// prompt text but no usable options.
func (q *QuestionRecord) IsPassage() bool {
	return !q.IsScorable() && strings.TrimSpace(q.PromptText) != ""
}

// Role is the structural role a record plays in the rendered exam.
type Role string

const (
	RoleStandalone  Role = "STANDALONE"
	RolePassage     Role = "PASSAGE"
	RoleSubQuestion Role = "SUB_QUESTION"
)

// Display is the derived numbering of one record.
type Display struct {
	Index  int    `json:"index"`
	Number string `json:"number"`
	Role   Role   `json:"role"`
	// ParentIndex is the 0-based index of the resolved parent, or -1.
	ParentIndex int `json:"parent_index"`
}

// Group is one presentation page: a passage with its sub-questions, or a
// single record.
type Group struct {
	Lead    int   `json:"lead"`
	Members []int `json:"members"`
}

// AnomalyKind classifies a data-quality issue in a record list.
type AnomalyKind string

const (
	AnomalyOrphanSubQuestion AnomalyKind = "ORPHAN_SUB_QUESTION"
	AnomalyDuplicateSubOrder AnomalyKind = "DUPLICATE_SUB_ORDER"
	AnomalyDuplicateID       AnomalyKind = "DUPLICATE_ID"
	AnomalyCorrectOutOfRange AnomalyKind = "CORRECT_INDEX_OUT_OF_RANGE"
)

// Anomaly is a data-quality issue found in a record list. It never prevents
// the exam from being presented.
type Anomaly struct {
	Kind     AnomalyKind `json:"kind"`
	Index    int         `json:"index"`
	RecordID string      `json:"record_id"`
	Detail   string      `json:"detail"`
}

// QuestionRecordRequest is the authoring payload for a single record.
type QuestionRecordRequest struct {
	ID            string   `json:"id" binding:"required,max=64"`
	Subject       string   `json:"subject" binding:"max=255"`
	PromptText    string   `json:"prompt_text" binding:"max=10000"`
	Options       []string `json:"options" binding:"max=4,dive,max=2000"`
	CorrectIndex  int      `json:"correct_index" binding:"min=0,max=3"`
	IsSubQuestion bool     `json:"is_sub_question"`
	ParentID      string   `json:"parent_id" binding:"required_if=IsSubQuestion true,max=64"`
	SubOrder      *int     `json:"sub_order" binding:"omitempty,min=0"`
}

// ToRecord converts the request into a record bound to examID.
func (r QuestionRecordRequest) ToRecord(examID uuid.UUID) QuestionRecord {
	rec := QuestionRecord{
		ID:            r.ID,
		ExamID:        examID,
		Subject:       r.Subject,
		PromptText:    r.PromptText,
		Options:       r.Options,
		CorrectIndex:  r.CorrectIndex,
		IsSubQuestion: r.IsSubQuestion,
		SubOrder:      r.SubOrder,
	}
	if r.IsSubQuestion {
		rec.ParentID = r.ParentID
	}
	if rec.Options == nil {
		rec.Options = []string{}
	}
	return rec
}

// ReplaceQuestionsRequest replaces an exam's whole record list. Order is the
// display order.
type ReplaceQuestionsRequest struct {
	Questions []QuestionRecordRequest `json:"questions" binding:"required,min=1,dive"`
}
