package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stemsi/exstem-runner/internal/engine"
	"github.com/stemsi/exstem-runner/internal/i18n"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/service"
	"github.com/stemsi/exstem-runner/internal/sqlitestore"
)

// clock drives the countdown of `examctl take`.
var clock engine.Clock = engine.SystemClock{}

func takeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "take",
		Short: "Run a timed attempt in the terminal",
		Long: `Runs one timed attempt. Records come from --file, or from --db with
--exam-id. When --db is given the graded result is stored there.`,
		RunE: runTake,
	}
	f := cmd.Flags()
	f.StringP("file", "f", "", "Records JSON file")
	f.String("db", "", "SQLite database to load the exam from and store the result in")
	f.String("exam-id", "", "Exam id in --db")
	f.String("title", "Exam", "Title shown when records come from --file")
	f.Int("duration", 30, "Countdown in minutes when records come from --file")
	f.String("name", "", "Candidate name stored with the result")
	f.String("lang", "en", "Language of the prompts (en, id)")
	return cmd
}

func runTake(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	log := cmdLogger(cmd, v)

	if err := i18n.Init("en"); err != nil {
		return err
	}
	ctx := i18n.WithLocalizer(cmd.Context(), i18n.NewLocalizer(v.GetString("lang")))

	var st *sqlitestore.Store
	if path := v.GetString("db"); path != "" {
		var err error
		if st, err = sqlitestore.Open(path); err != nil {
			return err
		}
		defer st.Close()
	}

	exam, err := loadForTake(ctx, v.GetString("file"), st, v.GetString("exam-id"), v.GetString("title"), v.GetInt("duration"))
	if err != nil {
		return err
	}
	log.Debug().Str("exam_id", exam.Exam.ID.String()).Int("records", len(exam.Records)).Msg("Exam loaded")

	t := &taker{
		out:         cmd.OutOrStdout(),
		interactive: isTerminal(cmd.InOrStdin()),
		records:     exam.Records,
		displays:    engine.Outline(exam.Records),
		groups:      engine.Groups(exam.Records),
		sess:        engine.NewSession(clock),
	}

	fmt.Fprintln(t.out, i18n.Td(ctx, "TakeHeader", map[string]any{
		"Title":   exam.Exam.Title,
		"Minutes": exam.Exam.DurationMinutes,
	}))
	t.sess.Start(exam.Records, time.Duration(exam.Exam.DurationMinutes)*time.Minute)

	runCtx, stop := context.WithCancel(ctx)
	report, trigger := t.run(runCtx, readLines(runCtx, cmd.InOrStdin()))
	stop()

	fmt.Fprintln(t.out, i18n.Td(ctx, "ScoreSummary", map[string]any{
		"Score": strconv.FormatFloat(report.Score, 'f', -1, 64),
		"Max":   strconv.FormatFloat(engine.MaxScore(exam.Records), 'f', -1, 64),
	}))
	fmt.Fprintln(t.out, i18n.Tp(ctx, "QuestionsAnswered", report.Answered))

	if st == nil {
		return nil
	}
	result := model.ExamResult{
		AttemptID:   uuid.New(),
		ExamID:      exam.Exam.ID,
		Candidate:   model.Candidate{Name: v.GetString("name")},
		Trigger:     trigger,
		SubmittedAt: t.sess.SubmittedAt().UTC(),
		ScoreReport: report,
	}
	if err := st.Publish(ctx, result); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	log.Info().Str("attempt_id", result.AttemptID.String()).Msg("Result stored")
	return nil
}

func loadForTake(ctx context.Context, file string, st *sqlitestore.Store, examID, title string, minutes int) (*service.LoadedExam, error) {
	if file == "" {
		if st == nil {
			return nil, fmt.Errorf("either --file or --db with --exam-id is required")
		}
		id, err := uuid.Parse(examID)
		if err != nil {
			return nil, fmt.Errorf("invalid --exam-id %q: %w", examID, err)
		}
		return st.LoadExam(ctx, id)
	}

	records, err := readRecords(file)
	if err != nil {
		return nil, err
	}
	if minutes <= 0 {
		return nil, service.ErrInvalidDuration
	}
	if err := service.ValidateRecords(records); err != nil {
		return nil, err
	}

	id := uuid.Nil
	if examID != "" {
		if id, err = uuid.Parse(examID); err != nil {
			return nil, fmt.Errorf("invalid --exam-id %q: %w", examID, err)
		}
	}
	return &service.LoadedExam{
		Exam: model.Exam{
			ID:              id,
			Title:           title,
			DurationMinutes: minutes,
			Status:          model.ExamStatusPublished,
		},
		Records: records,
	}, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readLines feeds input lines to a channel that is closed at EOF or once
// ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

type taker struct {
	out         io.Writer
	interactive bool
	records     []model.QuestionRecord
	displays    []model.Display
	groups      []model.Group
	sess        *engine.Session
}

// run drives the session until it completes and returns the graded sheet.
// End of input submits.
func (t *taker) run(ctx context.Context, lines <-chan string) (model.ScoreReport, model.SubmitTrigger) {
	for {
		t.sess.Tick()
		if report, trigger, ok := t.sess.Result(); ok {
			if trigger == model.SubmitTimeout {
				fmt.Fprintln(t.out, i18n.T(ctx, "TimeUp"))
			}
			return report, trigger
		}

		t.render(ctx)

		select {
		case line, ok := <-lines:
			if !ok || !t.apply(ctx, line) {
				t.sess.Submit()
				if _, trigger, _ := t.sess.Result(); trigger == model.SubmitManual {
					fmt.Fprintln(t.out, i18n.T(ctx, "Submitted"))
				}
			}
		case <-time.After(t.sess.Remaining()):
		case <-ctx.Done():
			t.sess.Submit()
		}
	}
}

// apply handles one input line and reports false when the candidate asked
// to submit.
func (t *taker) apply(ctx context.Context, line string) bool {
	cur := t.sess.Current()
	switch cmd := strings.ToLower(line); {
	case cmd == "":
	case cmd == "s":
		return false
	case cmd == "n":
		t.sess.Next()
	case cmd == "p":
		t.sess.Prev()
	case cmd == "-":
		t.sess.ClearAnswer(cur)
	case len(cmd) == 1 && cmd[0] >= 'a' && cmd[0] <= 'z':
		opt := int(cmd[0] - 'a')
		if opt >= len(t.records[cur].Options) || !t.sess.SelectAnswer(cur, opt) {
			fmt.Fprintln(t.out, i18n.T(ctx, "InvalidCommand"))
		}
	default:
		if idx, ok := t.indexOf(line); ok {
			t.sess.GoTo(idx)
			return true
		}
		fmt.Fprintln(t.out, i18n.T(ctx, "InvalidCommand"))
	}
	return true
}

// indexOf finds the record shown as number, e.g. "3" or "2.1".
func (t *taker) indexOf(number string) (int, bool) {
	for _, d := range t.displays {
		if d.Number == number {
			return d.Index, true
		}
	}
	return 0, false
}

func (t *taker) render(ctx context.Context) {
	cur := t.sess.Current()
	g := engine.GroupOf(t.groups, cur)
	if g < 0 {
		return
	}
	answers := t.sess.Answers()

	if t.interactive {
		fmt.Fprint(t.out, "\033[H\033[2J")
	}
	fmt.Fprintln(t.out)
	fmt.Fprintln(t.out, i18n.Td(ctx, "TimeRemaining", map[string]any{
		"Remaining": t.sess.Remaining().Round(time.Second).String(),
	}))

	for _, m := range t.groups[g].Members {
		rec := &t.records[m]
		fmt.Fprintln(t.out)
		if !rec.IsScorable() {
			fmt.Fprintf(t.out, "  %s\n  %s\n", i18n.T(ctx, "PassageLabel"), rec.PromptText)
			continue
		}

		marker := " "
		if m == cur {
			marker = ">"
		}
		fmt.Fprintf(t.out, "%s %s\n  %s\n", marker,
			i18n.Td(ctx, "QuestionLabel", map[string]any{"Number": t.displays[m].Number}), rec.PromptText)

		chosen, answered := answers[m].Option()
		for i, opt := range rec.Options {
			sel := " "
			if answered && chosen == i {
				sel = "*"
			}
			fmt.Fprintf(t.out, "   %s %c) %s\n", sel, 'A'+i, opt)
		}
	}

	fmt.Fprintln(t.out)
	fmt.Fprintln(t.out, i18n.T(ctx, "TakePrompt"))
}
