// Command examctl works with exam record lists offline: it previews how a
// list will be numbered, scores answer sheets, keeps exams and results in a
// local SQLite file and runs timed attempts in the terminal.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stemsi/exstem-runner/internal/logger"
	"github.com/stemsi/exstem-runner/internal/model"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "examctl",
		Short:         "Offline tools for exstem exam record lists",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.String("log-level", "warn", "Log level (debug, info, warn, error)")
	pf.String("log-format", "pretty", "Log format (pretty, json)")

	root.AddCommand(outlineCmd(), scoreCmd(), importCmd(), resultsCmd(), takeCmd())
	return root
}

// viperForCmd binds a command's flags, EXSTEM_* environment variables and
// an optional examctl.yaml, in that order of precedence.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())
	_ = v.BindPFlags(cmd.InheritedFlags())

	v.SetEnvPrefix("EXSTEM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examctl")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/exstem")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: reading config file: %v\n", err)
		}
	}
	return v
}

// cmdLogger logs to stderr so stdout stays machine readable.
func cmdLogger(cmd *cobra.Command, v *viper.Viper) zerolog.Logger {
	return logger.New(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format")).
		With().Str("command", cmd.Name()).Logger()
}

func readRecords(path string) ([]model.QuestionRecord, error) {
	if path == "" {
		return nil, fmt.Errorf("--file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	var records []model.QuestionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode records %s: %w", path, err)
	}
	for i := range records {
		if records[i].Options == nil {
			records[i].Options = []string{}
		}
	}
	return records, nil
}

func readAnswers(path string) ([]model.Answer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	var answers []model.Answer
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("decode answers %s: %w", path, err)
	}
	return answers, nil
}

func examIDFlag(v *viper.Viper) (uuid.UUID, error) {
	raw := v.GetString("exam-id")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("--exam-id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --exam-id %q: %w", raw, err)
	}
	return id, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
