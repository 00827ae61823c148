package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stemsi/exstem-runner/internal/engine"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/service"
	"github.com/stemsi/exstem-runner/internal/sqlitestore"
)

func outlineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outline",
		Short: "Show how a record list will be numbered and grouped",
		RunE:  runOutline,
	}
	f := cmd.Flags()
	f.StringP("file", "f", "", "Records JSON file")
	f.Bool("json", false, "Print the outline as JSON")
	return cmd
}

func runOutline(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	records, err := readRecords(v.GetString("file"))
	if err != nil {
		return err
	}

	outline := service.BuildOutline(uuid.Nil, records)
	if v.GetBool("json") {
		return writeJSON(cmd, outline)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNUMBER\tROLE\tID")
	for _, d := range outline.Displays {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.Index, d.Number, d.Role, records[d.Index].ID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(outline.Anomalies) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		for _, a := range outline.Anomalies {
			fmt.Fprintf(cmd.OutOrStdout(), "! %s at %d (%s): %s\n", a.Kind, a.Index, a.RecordID, a.Detail)
		}
	}
	return nil
}

// scoreOutput is what `examctl score` prints.
type scoreOutput struct {
	model.ScoreReport
	MaxScore  float64    `json:"max_score"`
	AttemptID *uuid.UUID `json:"attempt_id,omitempty"`
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score an answer sheet against a record list",
		RunE:  runScore,
	}
	f := cmd.Flags()
	f.StringP("file", "f", "", "Records JSON file")
	f.StringP("answers", "a", "", "Answers JSON file: one option index or null per record")
	f.String("db", "", "Store the result in this SQLite database")
	f.String("exam-id", "", "Exam the result belongs to (with --db)")
	f.String("name", "", "Candidate name stored with the result")
	_ = cmd.MarkFlagRequired("answers")
	return cmd
}

func runScore(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	log := cmdLogger(cmd, v)

	records, err := readRecords(v.GetString("file"))
	if err != nil {
		return err
	}
	answers, err := readAnswers(v.GetString("answers"))
	if err != nil {
		return err
	}
	if len(answers) != len(records) {
		log.Warn().Int("records", len(records)).Int("answers", len(answers)).Msg("Answer sheet length differs from record list")
	}

	out := scoreOutput{
		ScoreReport: engine.Score(records, answers),
		MaxScore:    engine.MaxScore(records),
	}

	if path := v.GetString("db"); path != "" {
		examID, err := examIDFlag(v)
		if err != nil {
			return err
		}
		id := uuid.New()
		if err := storeResult(cmd.Context(), path, model.ExamResult{
			AttemptID:   id,
			ExamID:      examID,
			Candidate:   model.Candidate{Name: v.GetString("name")},
			Trigger:     model.SubmitManual,
			SubmittedAt: time.Now().UTC(),
			ScoreReport: out.ScoreReport,
		}); err != nil {
			return err
		}
		out.AttemptID = &id
		log.Info().Str("attempt_id", id.String()).Msg("Result stored")
	}

	return writeJSON(cmd, out)
}

func storeResult(ctx context.Context, path string, result model.ExamResult) error {
	st, err := sqlitestore.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Publish(ctx, result)
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store an exam and its record list in a SQLite database",
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.StringP("file", "f", "", "Records JSON file")
	f.String("db", "exstem.db", "SQLite database path")
	f.String("title", "", "Exam title")
	f.String("subject", "", "Exam subject")
	f.Int("duration", 0, "Countdown length in minutes")
	f.String("exam-id", "", "Exam id to (re)use; a new one is generated when empty")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}

func runImport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	log := cmdLogger(cmd, v)

	records, err := readRecords(v.GetString("file"))
	if err != nil {
		return err
	}

	exam := model.Exam{
		ID:              uuid.New(),
		Title:           v.GetString("title"),
		Subject:         v.GetString("subject"),
		DurationMinutes: v.GetInt("duration"),
		Status:          model.ExamStatusPublished,
	}
	if v.GetString("exam-id") != "" {
		if exam.ID, err = examIDFlag(v); err != nil {
			return err
		}
	}

	st, err := sqlitestore.Open(v.GetString("db"))
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ImportExam(cmd.Context(), exam, records); err != nil {
		return fmt.Errorf("import exam: %w", err)
	}

	outline := service.BuildOutline(exam.ID, records)
	for _, a := range outline.Anomalies {
		log.Warn().Str("kind", string(a.Kind)).Int("index", a.Index).Str("record_id", a.RecordID).Msg(a.Detail)
	}
	log.Info().Str("exam_id", exam.ID.String()).Int("records", len(records)).Msg("Exam imported")

	fmt.Fprintln(cmd.OutOrStdout(), exam.ID.String())
	return nil
}

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List stored results of an exam as JSON",
		RunE:  runResults,
	}
	f := cmd.Flags()
	f.String("db", "exstem.db", "SQLite database path")
	f.String("exam-id", "", "Exam id")
	return cmd
}

func runResults(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)

	examID, err := examIDFlag(v)
	if err != nil {
		return err
	}

	st, err := sqlitestore.Open(v.GetString("db"))
	if err != nil {
		return err
	}
	defer st.Close()

	results, err := st.ListResults(cmd.Context(), examID)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	return writeJSON(cmd, results)
}
