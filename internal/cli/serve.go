package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/chronicle/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve <range>",
	Short: "Serve the evidence of a revision range over MCP (stdio)",
	Long: "Index a revision range if needed and expose its evidence to an MCP client over stdio. " +
		"All tool calls share one set of byte budgets for the life of the process.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ws, err := prepare(args[0], flagReindex)
		if err != nil {
			fail(err)
			return nil
		}
		logger.Info("serving evidence",
			zap.String("range", ws.Range.Spec),
			zap.Int("files", ws.Index.Len()),
			zap.Strings("tools", mcp.ToolNames()))

		if err := mcp.Run(ws.Gateway(cfg, logger), version, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
		}
		return nil
	},
}

func init() {
	addRangeFlags(serveCmd)
	serveCmd.Flags().BoolVar(&flagReindex, "reindex", false, "Rebuild the evidence index even if one exists")
}
