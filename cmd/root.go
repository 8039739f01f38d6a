// Package cmd implements the engram command line: maintenance and
// introspection entry points over the memory engine.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/engine"
	"github.com/engramhq/engram/internal/hotcache"
	"github.com/engramhq/engram/internal/store"
	"github.com/engramhq/engram/internal/vecindex"
)

// Build-time variables
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// SetVersion sets the version info from main
func SetVersion(v, c, d string) {
	Version = v
	Commit = c
	Date = d
}

var configFile string

var rootCmd = &cobra.Command{
	Use:           "engram",
	Short:         "Engram - tiered memory retrieval and consolidation engine",
	Long:          "Durable user memory with hybrid retrieval, feedback learning, and scheduled decay.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the engram command
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("engram %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to YAML config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(correctCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(statsCmd)
}

// loadConfig resolves the effective configuration for a command run.
func loadConfig() (config.Config, error) {
	cfg := config.Load()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFile(cfg, configFile)
		if err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// withEngine bootstraps the tiers, runs fn, and tears everything down.
// Client handles are built here and injected; nothing holds them globally.
func withEngine(fn func(*engine.Engine, *engine.Worker) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer db.Close()

	embedder := engine.NewLocalEmbedder()
	vec := vecindex.New(db.SQL(), embedder.Dimensions(), logger)
	cache := hotcache.New(cfg.HotCacheSize, cfg.HotCacheTTL)
	cache.StartSweep(cfg.HotCacheSweep)

	eng := engine.New(db, vec, cache, embedder, cfg, logger)
	defer eng.Close()

	worker := engine.NewWorker(db, vec, cache, cfg, logger)

	return fn(eng, worker)
}
