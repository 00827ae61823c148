package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-runner/internal/engine"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/repository"
	"golang.org/x/sync/errgroup"
)

// ItemStat is the item analysis of one scorable record. CorrectRate is
// Correct over all graded sheets that reached the item.
type ItemStat struct {
	Index       int     `json:"index"`
	Number      string  `json:"number"`
	RecordID    string  `json:"record_id"`
	Correct     int     `json:"correct"`
	Wrong       int     `json:"wrong"`
	Unanswered  int     `json:"unanswered"`
	CorrectRate float64 `json:"correct_rate"`
}

// ExamDashboard consolidates all metrics of one exam.
type ExamDashboard struct {
	ExamID              uuid.UUID                   `json:"exam_id"`
	Title               string                      `json:"title"`
	MaxScore            float64                     `json:"max_score"`
	AttemptStatusCounts map[model.SessionStatus]int `json:"attempt_status_counts"`
	TriggerCounts       map[model.SubmitTrigger]int `json:"trigger_counts"`
	Scores              *repository.ScoreSummary    `json:"scores"`
	Items               []ItemStat                  `json:"items"`
}

type examReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	Questions(ctx context.Context, examID uuid.UUID) ([]model.QuestionRecord, error)
}

// DashboardService handles exam dashboard business logic.
type DashboardService struct {
	repo  *repository.DashboardRepository
	exams examReader
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(repo *repository.DashboardRepository, exams examReader) *DashboardService {
	return &DashboardService{repo: repo, exams: exams}
}

// ExamDashboard fetches the aggregates concurrently and labels the item
// analysis with display numbers.
func (s *DashboardService) ExamDashboard(ctx context.Context, examID uuid.UUID) (*ExamDashboard, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	records, err := s.exams.Questions(ctx, examID)
	if err != nil {
		return nil, err
	}

	d := &ExamDashboard{
		ExamID:   exam.ID,
		Title:    exam.Title,
		MaxScore: engine.MaxScore(records),
	}
	var counts []repository.ItemCounts

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.AttemptStatusCounts, err = s.repo.GetAttemptStatusCounts(gctx, examID)
		return err
	})
	g.Go(func() (err error) {
		d.TriggerCounts, err = s.repo.GetTriggerCounts(gctx, examID)
		return err
	})
	g.Go(func() (err error) {
		d.Scores, err = s.repo.GetScoreSummary(gctx, examID)
		return err
	})
	g.Go(func() (err error) {
		counts, err = s.repo.GetItemCounts(gctx, examID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.Items = ItemStats(records, counts)
	return d, nil
}

// ItemStats merges per-index tallies with the record list. Every scorable
// record gets an entry, with zero counts when nobody has been graded on it;
// tallies for indexes outside the list or on passages are dropped.
func ItemStats(records []model.QuestionRecord, counts []repository.ItemCounts) []ItemStat {
	byIndex := make(map[int]repository.ItemCounts, len(counts))
	for _, c := range counts {
		byIndex[c.Index] = c
	}

	displays := engine.Outline(records)
	out := make([]ItemStat, 0, len(records))
	for i := range records {
		if !records[i].IsScorable() {
			continue
		}
		c := byIndex[i]
		st := ItemStat{
			Index:      i,
			Number:     displays[i].Number,
			RecordID:   records[i].ID,
			Correct:    c.Correct,
			Wrong:      c.Wrong,
			Unanswered: c.Unanswered,
		}
		if total := c.Correct + c.Wrong + c.Unanswered; total > 0 {
			st.CorrectRate = float64(c.Correct) / float64(total)
		}
		out = append(out, st)
	}
	return out
}
