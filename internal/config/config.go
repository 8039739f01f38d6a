// Package config holds all tunables for the memory engine and the
// process-level logger setup. Values come from environment variables with
// sensible defaults, optionally overridden by a YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Storage
	DataDir string `yaml:"data_dir"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`

	// Hot cache
	HotCacheTTL       time.Duration `yaml:"hot_cache_ttl"`
	HotCacheSize      int           `yaml:"hot_cache_size"` // entries per owner shard
	HotCacheSweep     time.Duration `yaml:"hot_cache_sweep"`

	// Retrieval
	TierTimeout     time.Duration `yaml:"tier_timeout"`
	DefaultLimit    int           `yaml:"default_limit"`
	SemanticWeight  float64       `yaml:"semantic_weight"`
	FeedbackWeight  float64       `yaml:"feedback_weight"`
	RecencyWeight   float64       `yaml:"recency_weight"`
	FrequencyWeight float64       `yaml:"frequency_weight"`
	// RecencyHalfLife controls the exponential recency score.
	RecencyHalfLife time.Duration `yaml:"recency_half_life"`
	// FrequencyCap is the access count at which the frequency score saturates.
	FrequencyCap int64 `yaml:"frequency_cap"`

	// Write defaults
	DefaultConfidence float64 `yaml:"default_confidence"`
	DefaultImportance float64 `yaml:"default_importance"`

	// Feedback
	ThumbsDelta       float64 `yaml:"thumbs_delta"`
	UseBoost          float64 `yaml:"use_boost"`
	CorrectionPenalty float64 `yaml:"correction_penalty"`

	// Consolidation
	BaseDecayRate    float64       `yaml:"base_decay_rate"`
	DecayPeriod      time.Duration `yaml:"decay_period"`
	ArchiveThreshold float64       `yaml:"archive_threshold"`
	ShardCount       int           `yaml:"shard_count"`
	LeaseTTL         time.Duration `yaml:"lease_ttl"`
}

// Load reads configuration from environment variables, falling back to
// defaults. The cache TTL and decay cadence intentionally live here rather
// than as constants; deployments disagree on both.
func Load() Config {
	return Config{
		DataDir: getEnv("ENGRAM_DATA_DIR", defaultDataDir()),

		LogFile:  getEnv("ENGRAM_LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("ENGRAM_LOG_LEVEL", "INFO")),

		HotCacheTTL:   getDuration("ENGRAM_HOT_CACHE_TTL", time.Hour),
		HotCacheSize:  getInt("ENGRAM_HOT_CACHE_SIZE", 256),
		HotCacheSweep: getDuration("ENGRAM_HOT_CACHE_SWEEP", 5*time.Minute),

		TierTimeout:     getDuration("ENGRAM_TIER_TIMEOUT", 200*time.Millisecond),
		DefaultLimit:    getInt("ENGRAM_DEFAULT_LIMIT", 10),
		SemanticWeight:  getFloat("ENGRAM_SEMANTIC_WEIGHT", 0.50),
		FeedbackWeight:  getFloat("ENGRAM_FEEDBACK_WEIGHT", 0.25),
		RecencyWeight:   getFloat("ENGRAM_RECENCY_WEIGHT", 0.15),
		FrequencyWeight: getFloat("ENGRAM_FREQUENCY_WEIGHT", 0.10),
		RecencyHalfLife: getDuration("ENGRAM_RECENCY_HALF_LIFE", 168*time.Hour),
		FrequencyCap:    int64(getInt("ENGRAM_FREQUENCY_CAP", 100)),

		DefaultConfidence: getFloat("ENGRAM_DEFAULT_CONFIDENCE", 0.7),
		DefaultImportance: getFloat("ENGRAM_DEFAULT_IMPORTANCE", 0.5),

		ThumbsDelta:       getFloat("ENGRAM_THUMBS_DELTA", 0.05),
		UseBoost:          getFloat("ENGRAM_USE_BOOST", 0.02),
		CorrectionPenalty: getFloat("ENGRAM_CORRECTION_PENALTY", 0.3),

		BaseDecayRate:    getFloat("ENGRAM_BASE_DECAY_RATE", 0.03),
		DecayPeriod:      getDuration("ENGRAM_DECAY_PERIOD", 168*time.Hour),
		ArchiveThreshold: getFloat("ENGRAM_ARCHIVE_THRESHOLD", 0.2),
		ShardCount:       getInt("ENGRAM_SHARD_COUNT", 16),
		LeaseTTL:         getDuration("ENGRAM_LEASE_TTL", 10*time.Minute),
	}
}

// LoadFile overlays values from a YAML file onto cfg. Zero values in the
// file leave the existing value untouched.
func LoadFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	merge(&cfg, file)
	return cfg, nil
}

// merge copies non-zero fields from src onto dst.
func merge(dst *Config, src Config) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.LogFile != "" {
		dst.LogFile = src.LogFile
	}
	if src.HotCacheTTL > 0 {
		dst.HotCacheTTL = src.HotCacheTTL
	}
	if src.HotCacheSize > 0 {
		dst.HotCacheSize = src.HotCacheSize
	}
	if src.HotCacheSweep > 0 {
		dst.HotCacheSweep = src.HotCacheSweep
	}
	if src.TierTimeout > 0 {
		dst.TierTimeout = src.TierTimeout
	}
	if src.DefaultLimit > 0 {
		dst.DefaultLimit = src.DefaultLimit
	}
	if src.SemanticWeight > 0 {
		dst.SemanticWeight = src.SemanticWeight
	}
	if src.FeedbackWeight > 0 {
		dst.FeedbackWeight = src.FeedbackWeight
	}
	if src.RecencyWeight > 0 {
		dst.RecencyWeight = src.RecencyWeight
	}
	if src.FrequencyWeight > 0 {
		dst.FrequencyWeight = src.FrequencyWeight
	}
	if src.RecencyHalfLife > 0 {
		dst.RecencyHalfLife = src.RecencyHalfLife
	}
	if src.FrequencyCap > 0 {
		dst.FrequencyCap = src.FrequencyCap
	}
	if src.DefaultConfidence > 0 {
		dst.DefaultConfidence = src.DefaultConfidence
	}
	if src.DefaultImportance > 0 {
		dst.DefaultImportance = src.DefaultImportance
	}
	if src.ThumbsDelta > 0 {
		dst.ThumbsDelta = src.ThumbsDelta
	}
	if src.UseBoost > 0 {
		dst.UseBoost = src.UseBoost
	}
	if src.CorrectionPenalty > 0 {
		dst.CorrectionPenalty = src.CorrectionPenalty
	}
	if src.BaseDecayRate > 0 {
		dst.BaseDecayRate = src.BaseDecayRate
	}
	if src.DecayPeriod > 0 {
		dst.DecayPeriod = src.DecayPeriod
	}
	if src.ArchiveThreshold > 0 {
		dst.ArchiveThreshold = src.ArchiveThreshold
	}
	if src.ShardCount > 0 {
		dst.ShardCount = src.ShardCount
	}
	if src.LeaseTTL > 0 {
		dst.LeaseTTL = src.LeaseTTL
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".engram"
	}
	return filepath.Join(home, ".engram")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
