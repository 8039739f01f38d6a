package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/engine"
	"github.com/engramhq/engram/internal/memory"
)

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a memory for an owner",
	Long: `Store a memory for an owner.

Examples:
  engram remember "prefers dark mode" --owner alice
  engram remember "deploys happen on Fridays" --owner team-infra --type pattern --importance 0.8`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		typ, _ := cmd.Flags().GetString("type")
		source, _ := cmd.Flags().GetString("source")
		confidence, _ := cmd.Flags().GetFloat64("confidence")
		importance, _ := cmd.Flags().GetFloat64("importance")
		return runRemember(args[0], owner, typ, source, confidence, importance)
	},
}

func init() {
	rememberCmd.Flags().String("owner", "", "Owner the memory belongs to (required)")
	rememberCmd.Flags().String("type", string(memory.TypeFact), "Memory type: fact, preference, pattern, relationship, goal, correction")
	rememberCmd.Flags().String("source", "", "Provenance reference (conversation id, document, ...)")
	rememberCmd.Flags().Float64("confidence", 0, "Initial confidence in (0,1]; default from config")
	rememberCmd.Flags().Float64("importance", 0, "Importance in (0,1]; default from config")
	_ = rememberCmd.MarkFlagRequired("owner")
}

func runRemember(content, owner, typ, source string, confidence, importance float64) error {
	return withEngine(func(eng *engine.Engine, _ *engine.Worker) error {
		rec, err := eng.StoreMemory(context.Background(), engine.StoreInput{
			OwnerID:    owner,
			Content:    content,
			Type:       memory.Type(typ),
			SourceRef:  source,
			Confidence: confidence,
			Importance: importance,
		})
		if err != nil {
			return fmt.Errorf("remember failed: %w", err)
		}
		fmt.Printf("✅ Remembered %s (%s, confidence %.2f)\n", rec.ID, rec.Type, rec.Confidence)
		return nil
	})
}
