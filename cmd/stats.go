package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/engine"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics for an owner",
	Long: `Show memory statistics for an owner: active and archived counts,
average confidence, and the per-type breakdown.

Examples:
  engram stats --owner alice
  engram stats --owner alice --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		asJSON, _ := cmd.Flags().GetBool("json")
		return runStats(owner, asJSON)
	},
}

func init() {
	statsCmd.Flags().String("owner", "", "Owner to report on (required)")
	statsCmd.Flags().Bool("json", false, "Emit statistics as JSON")
	_ = statsCmd.MarkFlagRequired("owner")
}

func runStats(owner string, asJSON bool) error {
	return withEngine(func(eng *engine.Engine, _ *engine.Worker) error {
		stats, err := eng.GetStats(context.Background(), owner)
		if err != nil {
			return fmt.Errorf("stats failed: %w", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		fmt.Printf("🧠 Memory statistics for %s\n", owner)
		fmt.Printf("  Active:          %d\n", stats.ActiveCount)
		fmt.Printf("  Archived:        %d\n", stats.ArchivedCount)
		fmt.Printf("  Avg confidence:  %.2f\n", stats.AvgConfidence)
		if len(stats.ByType) > 0 {
			fmt.Println("  By type:")
			types := make([]string, 0, len(stats.ByType))
			for t := range stats.ByType {
				types = append(types, t)
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Printf("    %-13s %d\n", t, stats.ByType[t])
			}
		}
		return nil
	})
}
