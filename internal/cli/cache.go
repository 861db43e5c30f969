package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/chronicle/internal/cache"
	"github.com/dshills/chronicle/internal/config"
	"github.com/dshills/chronicle/internal/notes"
	"github.com/dshills/chronicle/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached model responses and evidence indexes",
}

// cacheView is the JSON printed by cache show.
type cacheView struct {
	Responses *cache.Stats `json:"responses,omitempty"`
	Indexes   store.Stats  `json:"indexes"`
}

var cacheClearCmd = &cobra.Command{
	Use:       "clear [responses|expired|indexes|all]",
	Short:     "Remove cached model responses, evidence indexes, or both",
	Long:      "Remove cached model responses, evidence indexes, or both (the default). \"expired\" removes only responses past their TTL.",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"responses", "expired", "indexes", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		what := "all"
		if len(args) == 1 {
			what = args[0]
		}
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}

		if what == "responses" || what == "all" {
			c, err := cache.New(true, cfg.Cache.Dir, cfg.Cache.TTLSeconds)
			if err != nil {
				return fmt.Errorf("opening cache: %w", err)
			}
			n, err := c.Clear()
			if err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Removed %d cached responses.\n", n)
		}
		if what == "expired" {
			c, err := cache.New(true, cfg.Cache.Dir, cfg.Cache.TTLSeconds)
			if err != nil {
				return fmt.Errorf("opening cache: %w", err)
			}
			n, err := c.Prune()
			if err != nil {
				return fmt.Errorf("pruning cache: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Removed %d expired responses.\n", n)
		}
		if what == "indexes" || what == "all" {
			root, err := notes.IndexRoot(cfg)
			if err != nil {
				return err
			}
			n, err := store.RemoveAll(root)
			if err != nil {
				return fmt.Errorf("clearing indexes: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Removed %d evidence indexes.\n", n)
		}
		return nil
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show cache and index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		var view cacheView

		c, err := cache.New(cfg.Cache.Enabled, cfg.Cache.Dir, cfg.Cache.TTLSeconds)
		if err != nil {
			return fmt.Errorf("opening cache: %w", err)
		}
		if c.Enabled() {
			stats, err := c.GetStats()
			if err != nil {
				return fmt.Errorf("reading cache stats: %w", err)
			}
			view.Responses = &stats
		} else {
			fmt.Fprintln(os.Stderr, "Response cache is disabled.")
		}

		root, err := notes.IndexRoot(cfg)
		if err != nil {
			return err
		}
		if view.Indexes, err = store.List(root); err != nil {
			return fmt.Errorf("reading indexes: %w", err)
		}

		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheShowCmd)
}
