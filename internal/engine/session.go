package engine

import (
	"time"

	"github.com/stemsi/exstem-runner/internal/model"
)

// Clock supplies the current time to a session.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Session is one candidate's timed pass over an exam. It is not safe for
// concurrent use: callers serialize every operation through a single
// writer. Operations that do not apply in the current state are ignored
// and report false; none of them panic or return errors.
type Session struct {
	clock Clock

	status    model.SessionStatus
	records   []model.QuestionRecord
	answers   []model.Answer
	current   int
	duration  time.Duration
	startedAt time.Time

	result      *model.ScoreReport
	trigger     model.SubmitTrigger
	submittedAt time.Time
}

// NewSession returns a session in NotStarted.
func NewSession(clock Clock) *Session {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Session{clock: clock, status: model.SessionStatusNotStarted}
}

// Resume rebuilds an in-progress session from a stored start time and
// answer buffer. If the countdown has already run out the session
// auto-submits on its next operation or Tick.
func Resume(clock Clock, records []model.QuestionRecord, duration time.Duration, startedAt time.Time, answers []model.Answer) *Session {
	s := NewSession(clock)
	s.begin(records, duration, startedAt)
	for i := range answers {
		if i < len(s.answers) {
			s.answers[i] = answers[i]
		}
	}
	return s
}

// Start moves NotStarted to InProgress. Records are borrowed and must not be
// modified afterwards.
func (s *Session) Start(records []model.QuestionRecord, duration time.Duration) bool {
	if s.status != model.SessionStatusNotStarted {
		return false
	}
	s.begin(records, duration, s.clock.Now())
	return true
}

func (s *Session) begin(records []model.QuestionRecord, duration time.Duration, startedAt time.Time) {
	s.status = model.SessionStatusInProgress
	s.records = records
	s.answers = make([]model.Answer, len(records))
	s.current = 0
	s.duration = duration
	s.startedAt = startedAt
	s.result = nil
	s.trigger = ""
	s.submittedAt = time.Time{}
}

// Status returns the current state.
func (s *Session) Status() model.SessionStatus { return s.status }

// Current returns the index being shown.
func (s *Session) Current() int { return s.current }

// StartedAt returns when the countdown began.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Records returns the borrowed record list.
func (s *Session) Records() []model.QuestionRecord { return s.records }

// Remaining is startedAt + duration - now, never negative. It is zero
// outside InProgress.
func (s *Session) Remaining() time.Duration {
	if s.status != model.SessionStatusInProgress {
		return 0
	}
	left := s.startedAt.Add(s.duration).Sub(s.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Answers returns a copy of the answer buffer.
func (s *Session) Answers() []model.Answer {
	out := make([]model.Answer, len(s.answers))
	copy(out, s.answers)
	return out
}

// SelectAnswer records option for a scorable record. Passage indexes, out
// of range indexes and any state other than InProgress are ignored.
func (s *Session) SelectAnswer(index, option int) bool {
	return s.write(index, model.Choice(option))
}

// ClearAnswer returns a scorable record to unanswered.
func (s *Session) ClearAnswer(index int) bool {
	return s.write(index, model.Unanswered)
}

func (s *Session) write(index int, ans model.Answer) bool {
	if !s.live() {
		return false
	}
	if index < 0 || index >= len(s.records) || !s.records[index].IsScorable() {
		return false
	}
	s.answers[index] = ans
	return true
}

// GoTo moves to index, clamped into the record list, and returns the new
// current index. It never touches answers.
func (s *Session) GoTo(index int) int {
	if !s.live() || len(s.records) == 0 {
		return s.current
	}
	switch {
	case index < 0:
		index = 0
	case index >= len(s.records):
		index = len(s.records) - 1
	}
	s.current = index
	return s.current
}

// Next advances one record.
func (s *Session) Next() int { return s.GoTo(s.current + 1) }

// Prev steps back one record.
func (s *Session) Prev() int { return s.GoTo(s.current - 1) }

// Tick checks the countdown. When time is up on an in-progress session it
// submits with the TIMEOUT trigger and returns the report with true. Late
// or missing ticks are harmless because remaining time is derived from the
// clock.
func (s *Session) Tick() (model.ScoreReport, bool) {
	if s.status != model.SessionStatusInProgress || s.Remaining() > 0 {
		return model.ScoreReport{}, false
	}
	return s.finish(model.SubmitTimeout), true
}

// Submit scores the attempt. The second value is true only for the call
// that actually completed the session; later calls return the stored
// report unchanged. Submitting a session that is not running returns a zero
// report and false.
func (s *Session) Submit() (model.ScoreReport, bool) {
	switch s.status {
	case model.SessionStatusCompleted:
		return *s.result, false
	case model.SessionStatusInProgress:
		trigger := model.SubmitManual
		if s.Remaining() == 0 {
			trigger = model.SubmitTimeout
		}
		return s.finish(trigger), true
	default:
		return model.ScoreReport{}, false
	}
}

func (s *Session) finish(trigger model.SubmitTrigger) model.ScoreReport {
	s.status = model.SessionStatusSubmitting
	report := Score(s.records, s.answers)
	s.result = &report
	s.trigger = trigger
	s.submittedAt = s.clock.Now()
	s.status = model.SessionStatusCompleted
	return report
}

// live reports whether mutations may apply. An expired countdown is
// submitted here first, so a write that arrives after the deadline is
// rejected instead of changing the scored sheet.
func (s *Session) live() bool {
	if s.status != model.SessionStatusInProgress {
		return false
	}
	if s.Remaining() == 0 {
		s.finish(model.SubmitTimeout)
		return false
	}
	return true
}

// Result returns the stored report once Completed.
func (s *Session) Result() (model.ScoreReport, model.SubmitTrigger, bool) {
	if s.status != model.SessionStatusCompleted {
		return model.ScoreReport{}, "", false
	}
	return *s.result, s.trigger, true
}

// SubmittedAt returns when the session completed.
func (s *Session) SubmittedAt() time.Time { return s.submittedAt }

// Abandon cancels an in-progress attempt without scoring it and drops its
// answers. The session ends in Abandoned.
func (s *Session) Abandon() bool {
	if s.status != model.SessionStatusInProgress {
		return false
	}
	s.answers = nil
	s.status = model.SessionStatusAbandoned
	return true
}

// Reset discards everything and returns to NotStarted so the session can
// be started again. It never scores.
func (s *Session) Reset() {
	*s = Session{clock: s.clock, status: model.SessionStatusNotStarted}
}
