package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/notes"
	"github.com/dshills/chronicle/internal/output"
)

func prepare(rangeSpec string, reindex bool) (*notes.Workspace, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return notes.Prepare(context.Background(), notes.PrepareOptions{
		Dir:     flagRepo,
		Range:   rangeSpec,
		Config:  cfg,
		Reindex: reindex,
		Logger:  logger,
	})
}

var indexCmd = &cobra.Command{
	Use:   "index <range>",
	Short: "Build the evidence index for a revision range",
	Long:  "Segment the diff of a revision range into content-addressed hunks and write its evidence index. An existing index for the range is replaced.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := prepare(args[0], true)
		if err != nil {
			fail(err)
			return nil
		}
		s := ws.Build.Stats
		fmt.Fprintf(os.Stdout, "Indexed %s (%s..%s)\n", ws.Range.Spec, output.Short(ws.Range.Base), output.Short(ws.Range.Head))
		fmt.Fprintf(os.Stdout, "  files: %d (skipped %d)\n", ws.Index.Len(), s.SkippedFiles)
		fmt.Fprintf(os.Stdout, "  hunks: %d (%d truncated, %d metadata)\n", s.Hunks, s.TruncatedHunks, s.MetaHunks)
		fmt.Fprintf(os.Stdout, "  bytes: %d\n", s.TotalBytes)
		if len(ws.Build.Added) > 0 {
			fmt.Fprintf(os.Stdout, "  added from name-status: %d\n", len(ws.Build.Added))
		}
		fmt.Fprintf(os.Stdout, "  dir: %s\n", ws.Store.Dir())
		return nil
	},
}

// evidenceView is the JSON printed by the evidence command.
type evidenceView struct {
	evidence.Export
	Surfaces map[evidence.Surface]int `json:"surfaces"`
	Dir      string                   `json:"dir"`
	Reused   bool                     `json:"reused"`
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence <range>",
	Short: "Print the evidence index of a revision range as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := prepare(args[0], flagReindex)
		if err != nil {
			fail(err)
			return nil
		}
		data, err := json.MarshalIndent(evidenceView{
			Export:   ws.Index.Export(),
			Surfaces: ws.Index.SurfaceCounts(),
			Dir:      ws.Store.Dir(),
			Reused:   ws.Build == nil,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	},
}

func init() {
	addRangeFlags(indexCmd)
	addRangeFlags(evidenceCmd)
	evidenceCmd.Flags().BoolVar(&flagReindex, "reindex", false, "Rebuild the evidence index even if one exists")
}
