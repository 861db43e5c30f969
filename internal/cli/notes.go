package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/chronicle/internal/config"
	"github.com/dshills/chronicle/internal/notes"
	"github.com/dshills/chronicle/internal/output"
)

// Shared range flags
var (
	flagRepo         string
	flagPaths        string
	flagExclude      string
	flagContextLines int
	flagMaxRounds    int
	flagIndexDir     string
)

// Notes-only flags
var (
	flagProvider string
	flagModel    string
	flagFormat   string
	flagOut      string
	flagMaxNotes int
	flagReindex  bool
	flagNoRedact bool
)

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagRepo, "repo", "", "Repository directory (default: current directory)")
	cmd.Flags().StringVar(&flagPaths, "paths", "", "Include file path globs (comma-separated)")
	cmd.Flags().StringVar(&flagExclude, "exclude", "", "Exclude file path globs (comma-separated)")
	cmd.Flags().IntVar(&flagContextLines, "context-lines", 0, "Number of context lines in diff")
	cmd.Flags().StringVar(&flagIndexDir, "index-dir", "", "Directory holding evidence indexes")
}

func addNotesFlags(cmd *cobra.Command) {
	addRangeFlags(cmd)
	cmd.Flags().StringVar(&flagProvider, "provider", "", "LLM provider (anthropic, openai, gemini, ollama, lmstudio)")
	cmd.Flags().StringVar(&flagModel, "model", "", "Model name")
	cmd.Flags().StringVar(&flagFormat, "format", "", "Output format (text, json, markdown)")
	cmd.Flags().StringVar(&flagOut, "out", "", "Output file path (default: stdout)")
	cmd.Flags().IntVar(&flagMaxNotes, "max-notes", 0, "Maximum number of notes")
	cmd.Flags().IntVar(&flagMaxRounds, "max-rounds", 0, "Maximum evidence rounds")
	cmd.Flags().BoolVar(&flagReindex, "reindex", false, "Rebuild the evidence index even if one exists")
	cmd.Flags().BoolVar(&flagNoRedact, "no-redact", false, "Disable secret redaction (use with caution)")
}

// buildOverrides maps set flags to dotted config keys.
func buildOverrides() map[string]string {
	m := make(map[string]string)
	if flagProvider != "" {
		m["provider"] = flagProvider
	}
	if flagModel != "" {
		m["model"] = flagModel
	}
	if flagFormat != "" {
		m["format"] = flagFormat
	}
	if flagIndexDir != "" {
		m["indexDir"] = flagIndexDir
	}
	if flagMaxNotes > 0 {
		m["maxNotes"] = fmt.Sprintf("%d", flagMaxNotes)
	}
	if flagMaxRounds > 0 {
		m["limits.maxRounds"] = fmt.Sprintf("%d", flagMaxRounds)
	}
	if flagContextLines > 0 {
		m["contextLines"] = fmt.Sprintf("%d", flagContextLines)
	}
	if flagPaths != "" {
		m["include"] = strings.Join(splitComma(flagPaths), ",")
	}
	return m
}

// loadConfig builds the effective config for a command. --exclude appends
// to the configured excludes rather than replacing them.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(buildOverrides())
	if err != nil {
		return config.Config{}, err
	}
	if flagExclude != "" {
		cfg.Exclude = append(cfg.Exclude, splitComma(flagExclude)...)
	}
	if flagNoRedact {
		cfg.Privacy.RedactSecrets = false
	}
	return cfg, nil
}

func splitComma(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

var notesCmd = &cobra.Command{
	Use:   "notes <range>",
	Short: "Draft release notes for a revision range",
	Long: "Draft release notes for a revision range such as v1.2.0..HEAD, v1.2.0...main or a single " +
		"revision meaning rev..HEAD. Every note cites the changed files it describes.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagNoRedact {
			fmt.Fprintln(os.Stderr, "WARNING: secret redaction is disabled")
		}

		report, err := notes.Run(context.Background(), notes.Options{
			Dir:     flagRepo,
			Range:   args[0],
			Config:  cfg,
			Reindex: flagReindex,
			Version: version,
			Logger:  logger,
		})
		if err != nil {
			fail(err)
			return nil
		}
		logger.Debug("notes drafted",
			zap.String("run", report.RunID),
			zap.Int("notes", len(report.Notes)),
			zap.Int("rounds", report.Rounds.Rounds))

		if err := output.WriteReport(report, cfg.Format, flagOut); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			exitCode = ExitRuntimeError
		}
		return nil
	},
}

func init() {
	addNotesFlags(notesCmd)
}
