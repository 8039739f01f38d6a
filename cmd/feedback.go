package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/engine"
	"github.com/engramhq/engram/internal/memory"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <memory-id> <up|down>",
	Short: "Record thumbs feedback on a memory",
	Long: `Record thumbs feedback on a memory. Positive feedback nudges its
confidence up, negative nudges it down; both are kept in the audit trail.

Examples:
  engram feedback 3f1c... up
  engram feedback 3f1c... down`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFeedback(args[0], args[1])
	},
}

var correctCmd = &cobra.Command{
	Use:   "correct <memory-id> <new-content>",
	Short: "Supersede a memory with corrected content",
	Long: `Supersede a memory with corrected content. The old memory stays for
audit, marked as superseded and penalized; the replacement becomes the
active memory.

Example:
  engram correct 3f1c... "prefers light mode since the redesign"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCorrect(args[0], args[1])
	},
}

func runFeedback(memoryID, direction string) error {
	var kind memory.FeedbackKind
	switch direction {
	case "up":
		kind = memory.FeedbackUp
	case "down":
		kind = memory.FeedbackDown
	default:
		return fmt.Errorf("feedback direction must be \"up\" or \"down\", got %q", direction)
	}

	return withEngine(func(eng *engine.Engine, _ *engine.Worker) error {
		rec, err := eng.SubmitFeedback(context.Background(), memoryID, kind)
		if err != nil {
			return fmt.Errorf("feedback failed: %w", err)
		}
		fmt.Printf("✅ Recorded thumbs %s; confidence now %.2f\n", direction, rec.Confidence)
		return nil
	})
}

func runCorrect(memoryID, newContent string) error {
	return withEngine(func(eng *engine.Engine, _ *engine.Worker) error {
		replacement, err := eng.ApplyCorrection(context.Background(), memoryID, newContent)
		if err != nil {
			return fmt.Errorf("correction failed: %w", err)
		}
		fmt.Printf("✅ Superseded %s with %s\n", memoryID, replacement.ID)
		return nil
	})
}
