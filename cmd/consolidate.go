package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/engine"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run one consolidation pass (decay and archival)",
	Long: `Run one consolidation pass over all shards: decay confidence on
memories that were not accessed since the last run, and archive anything
whose confidence falls below the archive threshold.

With --daemon the worker keeps running on the configured cadence.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		daemon, _ := cmd.Flags().GetBool("daemon")
		return runConsolidate(daemon)
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rebuild missing vector index entries from the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackfill()
	},
}

func init() {
	consolidateCmd.Flags().Bool("daemon", false, "Keep running on the decay cadence until interrupted")
}

func runConsolidate(daemon bool) error {
	return withEngine(func(_ *engine.Engine, worker *engine.Worker) error {
		if daemon {
			fmt.Println("Consolidation worker running; Ctrl-C to stop.")
			worker.Start()
			defer worker.Stop()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return nil
		}

		res, err := worker.RunOnce(context.Background())
		if err != nil {
			return fmt.Errorf("consolidation failed: %w", err)
		}
		fmt.Printf("✅ Consolidated %d shard(s): %d scanned, %d decayed, %d archived\n",
			res.ShardsRun, res.Scanned, res.Decayed, res.Archived)
		return nil
	})
}

func runBackfill() error {
	return withEngine(func(eng *engine.Engine, _ *engine.Worker) error {
		n, err := eng.Backfill(context.Background())
		if err != nil {
			return fmt.Errorf("backfill failed: %w", err)
		}
		fmt.Printf("✅ Backfilled %d vector index entr%s\n", n, plural(n, "y", "ies"))
		return nil
	})
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
