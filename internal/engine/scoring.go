package engine

import "github.com/stemsi/exstem-runner/internal/model"

// Marks awarded per scorable record.
const (
	CorrectMark  = 1.0
	WrongPenalty = -0.25
)

// Score grades answers against records index by index. Missing trailing
// answers count as unanswered and answers beyond the record list are
// ignored. Passages are reported but never counted.
func Score(records []model.QuestionRecord, answers []model.Answer) model.ScoreReport {
	report := model.ScoreReport{PerItem: make([]model.ItemStatus, len(records))}

	for i := range records {
		rec := &records[i]
		if !rec.IsScorable() {
			report.PerItem[i] = model.ItemPassage
			continue
		}

		ans := model.Unanswered
		if i < len(answers) {
			ans = answers[i]
		}
		if !ans.ValidFor(len(rec.Options)) {
			report.PerItem[i] = model.ItemUnanswered
			report.Skipped++
			continue
		}

		if opt, _ := ans.Option(); opt == rec.CorrectIndex {
			report.PerItem[i] = model.ItemCorrect
			report.Correct++
			report.Score += CorrectMark
		} else {
			report.PerItem[i] = model.ItemWrong
			report.Wrong++
			report.Score += WrongPenalty
		}
	}

	report.Answered = report.Correct + report.Wrong
	return report
}

// MaxScore is the score of a perfect sheet.
func MaxScore(records []model.QuestionRecord) float64 {
	var total float64
	for i := range records {
		if records[i].IsScorable() {
			total += CorrectMark
		}
	}
	return total
}
