package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/engine"
	"github.com/stemsi/exstem-runner/internal/model"
)

// SessionService owns the live exam sessions of this process. Every
// operation on one attempt runs under that attempt's mutex, so the engine
// sees a single writer even when HTTP requests, the WebSocket stream and
// the timeout worker race.
type SessionService struct {
	source    RecordSource
	store     AttemptStore
	sink      ResultSink
	clock     engine.Clock
	retention time.Duration
	log       zerolog.Logger

	mu   sync.Mutex
	live map[uuid.UUID]*liveSession
}

type liveSession struct {
	mu        sync.Mutex
	attemptID uuid.UUID
	examID    uuid.UUID
	candidate model.Candidate
	sess      *engine.Session
	published bool
	closedAt  time.Time
}

// NewSessionService creates a new SessionService. Finished sessions stay in
// memory for retention so late or repeated requests still see the stored
// result.
func NewSessionService(
	source RecordSource,
	store AttemptStore,
	sink ResultSink,
	clock engine.Clock,
	retention time.Duration,
	log zerolog.Logger,
) *SessionService {
	if clock == nil {
		clock = engine.SystemClock{}
	}
	return &SessionService{
		source:    source,
		store:     store,
		sink:      sink,
		clock:     clock,
		retention: retention,
		log:       log.With().Str("component", "session_service").Logger(),
		live:      make(map[uuid.UUID]*liveSession),
	}
}

// Start begins a new attempt at a published exam.
func (s *SessionService) Start(ctx context.Context, examID uuid.UUID, candidate model.Candidate) (*model.SessionState, error) {
	exam, err := s.source.LoadExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if len(exam.Records) == 0 {
		return nil, ErrNoQuestions
	}
	if exam.Exam.Duration() <= 0 {
		return nil, ErrInvalidDuration
	}

	sess := engine.NewSession(s.clock)
	sess.Start(exam.Records, exam.Exam.Duration())

	attempt := &model.ExamAttempt{
		ExamID:    examID,
		Candidate: candidate,
		StartedAt: sess.StartedAt(),
	}
	if err := s.store.Begin(ctx, attempt); err != nil {
		return nil, err
	}

	ls := &liveSession{
		attemptID: attempt.ID,
		examID:    examID,
		candidate: candidate,
		sess:      sess,
	}
	s.mu.Lock()
	s.live[attempt.ID] = ls
	s.mu.Unlock()

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Str("candidate", candidate.Name).
		Msg("Attempt started")

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.state(), nil
}

// State returns the attempt as the candidate sees it. An expired countdown
// is submitted first.
func (s *SessionService) State(ctx context.Context, attemptID uuid.UUID) (*model.SessionState, error) {
	return s.with(ctx, attemptID, func(ls *liveSession) {
		ls.sess.Tick()
	})
}

// SelectAnswer records option for index, or clears it when option is nil.
// The bool reports whether the write was applied; writes to passages, out of
// range indexes and finished attempts are ignored.
func (s *SessionService) SelectAnswer(ctx context.Context, attemptID uuid.UUID, index int, option *int) (*model.SessionState, bool, error) {
	var applied bool
	state, err := s.with(ctx, attemptID, func(ls *liveSession) {
		ans := model.Unanswered
		if option != nil {
			ans = model.Choice(*option)
			applied = ls.sess.SelectAnswer(index, *option)
		} else {
			applied = ls.sess.ClearAnswer(index)
		}
		if !applied {
			return
		}
		// Journal under the attempt lock so queued writes keep their order.
		if err := s.store.SaveAnswer(ctx, ls.attemptID, index, ans); err != nil {
			s.log.Warn().Err(err).
				Str("attempt_id", ls.attemptID.String()).
				Int("index", index).
				Msg("Autosave failed, answer kept in memory")
		}
	})
	return state, applied, err
}

// GoTo moves the current index, clamped into the record list.
func (s *SessionService) GoTo(ctx context.Context, attemptID uuid.UUID, index int) (*model.SessionState, error) {
	return s.with(ctx, attemptID, func(ls *liveSession) {
		ls.sess.GoTo(index)
	})
}

// Submit grades the attempt. Repeated submits return the stored result.
func (s *SessionService) Submit(ctx context.Context, attemptID uuid.UUID) (*model.SessionState, error) {
	return s.with(ctx, attemptID, func(ls *liveSession) {
		ls.sess.Submit()
	})
}

// Abandon cancels a running attempt without grading it.
func (s *SessionService) Abandon(ctx context.Context, attemptID uuid.UUID) (*model.SessionState, bool, error) {
	var applied bool
	state, err := s.with(ctx, attemptID, func(ls *liveSession) {
		if applied = ls.sess.Abandon(); !applied {
			return
		}
		if err := s.store.Discard(ctx, ls.attemptID); err != nil {
			s.log.Error().Err(err).Str("attempt_id", ls.attemptID.String()).Msg("Failed to discard attempt")
		}
		s.log.Info().Str("attempt_id", ls.attemptID.String()).Msg("Attempt abandoned")
	})
	return state, applied, err
}

// ExpireDue submits every live attempt whose countdown has run out, retries
// unpublished results and evicts sessions finished longer than the
// retention window. It returns how many attempts timed out.
func (s *SessionService) ExpireDue(ctx context.Context) int {
	s.mu.Lock()
	sessions := make([]*liveSession, 0, len(s.live))
	for _, ls := range s.live {
		sessions = append(sessions, ls)
	}
	s.mu.Unlock()

	expired := 0
	now := s.clock.Now()
	for _, ls := range sessions {
		ls.mu.Lock()
		if _, fired := ls.sess.Tick(); fired {
			expired++
		}
		s.settle(ctx, ls)
		evict := !ls.closedAt.IsZero() && now.Sub(ls.closedAt) >= s.retention &&
			(ls.published || ls.sess.Status() != model.SessionStatusCompleted)
		ls.mu.Unlock()

		if evict {
			s.mu.Lock()
			delete(s.live, ls.attemptID)
			s.mu.Unlock()
		}
	}

	if expired > 0 {
		s.log.Info().Int("count", expired).Msg("Attempts timed out")
	}
	return expired
}

// Live returns how many sessions are held in memory.
func (s *SessionService) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *SessionService) with(ctx context.Context, attemptID uuid.UUID, fn func(ls *liveSession)) (*model.SessionState, error) {
	ls, closed, err := s.acquire(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if closed != nil {
		return closed, nil
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	fn(ls)
	s.settle(ctx, ls)
	return ls.state(), nil
}

// acquire returns the live session of an attempt, rebuilding it from the
// store after a restart or eviction. Attempts that already finished are
// returned as a read-only state instead.
func (s *SessionService) acquire(ctx context.Context, attemptID uuid.UUID) (*liveSession, *model.SessionState, error) {
	s.mu.Lock()
	ls := s.live[attemptID]
	s.mu.Unlock()
	if ls != nil {
		return ls, nil, nil
	}

	stored, err := s.store.Load(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	attempt := stored.Attempt
	if attempt.Status != model.SessionStatusInProgress {
		return nil, closedState(&attempt), nil
	}

	exam, err := s.source.LoadExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, nil, err
	}
	answers := make([]model.Answer, len(exam.Records))
	for idx, ans := range stored.Answers {
		if idx >= 0 && idx < len(answers) {
			answers[idx] = ans
		}
	}

	ls = &liveSession{
		attemptID: attempt.ID,
		examID:    attempt.ExamID,
		candidate: attempt.Candidate,
		sess:      engine.Resume(s.clock, exam.Records, exam.Exam.Duration(), attempt.StartedAt, answers),
	}

	s.mu.Lock()
	if existing := s.live[attemptID]; existing != nil {
		ls = existing
	} else {
		s.live[attemptID] = ls
	}
	s.mu.Unlock()

	s.log.Info().Str("attempt_id", attemptID.String()).Msg("Attempt resumed")
	return ls, nil, nil
}

// settle records when a session finished and publishes its result once.
// A failed publish is retried on the next operation or sweep. Callers hold
// ls.mu.
func (s *SessionService) settle(ctx context.Context, ls *liveSession) {
	status := ls.sess.Status()
	if status == model.SessionStatusInProgress {
		return
	}
	if ls.closedAt.IsZero() {
		ls.closedAt = s.clock.Now()
	}
	if status != model.SessionStatusCompleted || ls.published {
		return
	}

	report, trigger, _ := ls.sess.Result()
	result := model.ExamResult{
		AttemptID:   ls.attemptID,
		ExamID:      ls.examID,
		Candidate:   ls.candidate,
		Trigger:     trigger,
		SubmittedAt: ls.sess.SubmittedAt(),
		ScoreReport: report,
	}
	if err := s.sink.Publish(ctx, result); err != nil {
		s.log.Error().Err(err).Str("attempt_id", ls.attemptID.String()).Msg("Failed to publish result, will retry")
		return
	}
	ls.published = true

	s.log.Info().
		Str("attempt_id", ls.attemptID.String()).
		Str("trigger", string(trigger)).
		Float64("score", report.Score).
		Msg("Attempt graded")
}

func (ls *liveSession) state() *model.SessionState {
	st := &model.SessionState{
		AttemptID:   ls.attemptID,
		ExamID:      ls.examID,
		Status:      ls.sess.Status(),
		Current:     ls.sess.Current(),
		Answers:     ls.sess.Answers(),
		RemainingMs: ls.sess.Remaining().Milliseconds(),
		StartedAt:   ls.sess.StartedAt(),
	}
	if report, trigger, ok := ls.sess.Result(); ok {
		st.Result = &report
		st.Trigger = trigger
	}
	return st
}

func closedState(a *model.ExamAttempt) *model.SessionState {
	return &model.SessionState{
		AttemptID: a.ID,
		ExamID:    a.ExamID,
		Status:    a.Status,
		Answers:   []model.Answer{},
		StartedAt: a.StartedAt,
		Result:    a.Result,
		Trigger:   a.Trigger,
	}
}
