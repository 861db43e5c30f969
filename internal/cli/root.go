package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/chronicle/internal/errs"
	"github.com/dshills/chronicle/internal/providers"
)

const version = "0.3.0"

// Exit codes
const (
	ExitSuccess      = 0
	ExitUsageError   = 2
	ExitAuthError    = 3
	ExitRuntimeError = 4
)

var (
	flagVerbose bool

	// logger is replaced in PersistentPreRunE; commands run standalone in
	// tests keep the no-op logger.
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "chronicle",
	Short: "Evidence-backed release notes from git ranges",
	Long: "Chronicle indexes the diff of a revision range, lets a model gather evidence under fixed byte budgets, " +
		"and reconciles its draft into notes that each cite the changes they describe.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if flagVerbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Run executes the root command and returns an exit code.
func Run() int {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging to stderr")

	rootCmd.AddCommand(notesCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error
		return ExitUsageError
	}

	return exitCode
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

// fail reports err on stderr and sets the exit code for its class.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	switch {
	case providers.IsAuthError(err):
		exitCode = ExitAuthError
	case errs.Is(err, errs.CodeInvalidRequest), errs.Is(err, errs.CodeNotFound):
		exitCode = ExitUsageError
	default:
		exitCode = ExitRuntimeError
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print chronicle version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "chronicle version %s\n", version)
	},
}
