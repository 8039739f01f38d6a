package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/engine"
	"github.com/engramhq/engram/internal/memory"
)

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Retrieve memories relevant to a query",
	Long: `Retrieve memories relevant to a query, ranked across the hot cache,
structured store, and vector index.

Examples:
  engram recall "editor preferences" --owner alice
  engram recall "deploy schedule" --owner team-infra --type pattern --limit 5 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		partial, _ := cmd.Flags().GetBool("allow-partial")
		asJSON, _ := cmd.Flags().GetBool("json")
		return runRecall(args[0], owner, typ, limit, partial, asJSON)
	},
}

func init() {
	recallCmd.Flags().String("owner", "", "Owner to search (required)")
	recallCmd.Flags().String("type", "", "Restrict results to one memory type")
	recallCmd.Flags().Int("limit", 0, "Maximum results; default from config")
	recallCmd.Flags().Bool("allow-partial", false, "Serve cache-only results if the store is down")
	recallCmd.Flags().Bool("json", false, "Emit results as JSON")
	_ = recallCmd.MarkFlagRequired("owner")
}

func runRecall(query, owner, typ string, limit int, allowPartial, asJSON bool) error {
	return withEngine(func(eng *engine.Engine, _ *engine.Worker) error {
		resp, err := eng.SearchMemory(context.Background(), owner, query, engine.SearchOptions{
			Limit:        limit,
			Type:         memory.Type(typ),
			AllowPartial: allowPartial,
		})
		if err != nil {
			return fmt.Errorf("recall failed: %w", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}

		if resp.Degraded {
			fmt.Println("⚠️  degraded: one or more tiers were unavailable")
		}
		if resp.Partial {
			fmt.Println("⚠️  partial: results served from the hot cache only")
		}
		if len(resp.Results) == 0 {
			fmt.Println("No memories found.")
			return nil
		}
		for i, r := range resp.Results {
			fmt.Printf("%d. [%.3f] (%s) %s\n   id=%s confidence=%.2f\n", i+1, r.Score, r.Type, r.Content, r.MemoryID, r.Confidence)
		}
		return nil
	})
}
