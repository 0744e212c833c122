// Package config loads bizgraph configuration from a YAML file and BIZGRAPH_*
// environment variables.
//
// Every resource bound of a build (input caps, similarity candidate cap,
// batch size, lookahead, global edge cap) and every insight threshold is a
// configuration value. Defaults come from DefaultConfig; a file overrides
// the defaults and the environment overrides the file.
//
// Example Usage:
//
//	cfg, err := config.LoadFromEnvOrFile(os.Getenv("BIZGRAPH_CONFIG"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Environment Variables:
//
// Storage and snapshots:
//   - BIZGRAPH_DATA_DIR="./data"
//   - BIZGRAPH_IN_MEMORY=false
//   - BIZGRAPH_SNAPSHOT_PATH="./data/graph.graphml"
//   - BIZGRAPH_SNAPSHOT_PASSPHRASE="" (empty = unencrypted)
//   - BIZGRAPH_AUTO_SAVE=true
//
// Build bounds:
//   - BIZGRAPH_MAX_CUSTOMERS=10000
//   - BIZGRAPH_MAX_PRODUCTS=5000
//   - BIZGRAPH_MAX_TRANSACTIONS=50000
//   - BIZGRAPH_SIMILARITY_MIN_SHARED=2
//   - BIZGRAPH_SIMILARITY_MIN_SCORE=0.2
//   - BIZGRAPH_SIMILARITY_MAX_CANDIDATES=1000
//   - BIZGRAPH_SIMILARITY_BATCH_SIZE=100
//   - BIZGRAPH_SIMILARITY_LOOKAHEAD=100
//   - BIZGRAPH_SIMILARITY_GLOBAL_CAP=5000
//
// For the rest, see the Config struct.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/bizgraph/pkg/builder"
	"github.com/orneryd/bizgraph/pkg/graph"
	"github.com/orneryd/bizgraph/pkg/linkpredict"
	"github.com/orneryd/bizgraph/pkg/query"
)

// Config holds all bizgraph configuration.
type Config struct {
	Storage    StorageConfig      `yaml:"storage"`
	Snapshot   SnapshotConfig     `yaml:"snapshot"`
	Limits     builder.Limits     `yaml:"limits"`
	Similarity linkpredict.Config `yaml:"similarity"`
	Query      query.Options      `yaml:"query"`
	Cache      CacheConfig        `yaml:"cache"`
	Schedule   ScheduleConfig     `yaml:"schedule"`
	Logging    LoggingConfig      `yaml:"logging"`
	Runtime    RuntimeConfig      `yaml:"runtime"`
}

// StorageConfig configures the badger record store.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir" validate:"required_without=InMemory"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// SnapshotConfig configures GraphML snapshots.
type SnapshotConfig struct {
	// Path of the snapshot file. Empty disables Save, Load and AutoSave.
	Path string `yaml:"path"`
	// Passphrase seals snapshots with AES-256-GCM. Never logged.
	Passphrase string `yaml:"passphrase"`
	Iterations int    `yaml:"iterations" validate:"gte=0"`
	// AutoSave writes a snapshot after every successful build.
	AutoSave bool `yaml:"auto_save"`
	// LoadOnStart restores the snapshot when the service opens.
	LoadOnStart bool `yaml:"load_on_start"`
}

// CacheConfig configures the query result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size" validate:"gte=0"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

// ScheduleConfig configures periodic rebuilds from the record store.
type ScheduleConfig struct {
	// Rebuild is a cron expression or descriptor such as "@every 1h".
	// Empty disables scheduled rebuilds.
	Rebuild string `yaml:"rebuild"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// RuntimeConfig tunes the Go runtime for large builds.
type RuntimeConfig struct {
	// MemoryLimit is a GOMEMLIMIT-style size such as "2GB". "0" = unlimited.
	MemoryLimit string `yaml:"memory_limit"`
	GCPercent   int    `yaml:"gc_percent"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Snapshot: SnapshotConfig{
			Path:     "./data/graph.graphml",
			AutoSave: true,
		},
		Limits:     builder.DefaultLimits(),
		Similarity: linkpredict.DefaultConfig(),
		Query:      query.DefaultOptions(),
		Cache: CacheConfig{
			Enabled: true,
			Size:    1000,
			TTL:     5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Runtime: RuntimeConfig{
			MemoryLimit: "0",
			GCPercent:   100,
		},
	}
}

// LoadFromEnv returns the defaults overridden by BIZGRAPH_* variables.
func LoadFromEnv() *Config {
	c := DefaultConfig()
	c.applyEnv()
	return c
}

// LoadFile returns the defaults overridden by the YAML file at path.
// Unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	c := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %v: %w", path, err, graph.ErrValidation)
	}
	return c, nil
}

// LoadFromEnvOrFile loads path (when non-empty) and applies environment
// overrides on top.
func LoadFromEnvOrFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromEnv(), nil
	}
	c, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	c.Storage.DataDir = getEnv("BIZGRAPH_DATA_DIR", c.Storage.DataDir)
	c.Storage.InMemory = getEnvBool("BIZGRAPH_IN_MEMORY", c.Storage.InMemory)
	c.Storage.SyncWrites = getEnvBool("BIZGRAPH_SYNC_WRITES", c.Storage.SyncWrites)

	c.Snapshot.Path = getEnv("BIZGRAPH_SNAPSHOT_PATH", c.Snapshot.Path)
	c.Snapshot.Passphrase = getEnv("BIZGRAPH_SNAPSHOT_PASSPHRASE", c.Snapshot.Passphrase)
	c.Snapshot.Iterations = getEnvInt("BIZGRAPH_SNAPSHOT_ITERATIONS", c.Snapshot.Iterations)
	c.Snapshot.AutoSave = getEnvBool("BIZGRAPH_AUTO_SAVE", c.Snapshot.AutoSave)
	c.Snapshot.LoadOnStart = getEnvBool("BIZGRAPH_LOAD_ON_START", c.Snapshot.LoadOnStart)

	c.Limits.MaxCustomers = getEnvInt("BIZGRAPH_MAX_CUSTOMERS", c.Limits.MaxCustomers)
	c.Limits.MaxProducts = getEnvInt("BIZGRAPH_MAX_PRODUCTS", c.Limits.MaxProducts)
	c.Limits.MaxTransactions = getEnvInt("BIZGRAPH_MAX_TRANSACTIONS", c.Limits.MaxTransactions)

	c.Similarity.MinShared = getEnvInt("BIZGRAPH_SIMILARITY_MIN_SHARED", c.Similarity.MinShared)
	c.Similarity.MinScore = getEnvFloat("BIZGRAPH_SIMILARITY_MIN_SCORE", c.Similarity.MinScore)
	c.Similarity.MaxCandidates = getEnvInt("BIZGRAPH_SIMILARITY_MAX_CANDIDATES", c.Similarity.MaxCandidates)
	c.Similarity.BatchSize = getEnvInt("BIZGRAPH_SIMILARITY_BATCH_SIZE", c.Similarity.BatchSize)
	c.Similarity.Lookahead = getEnvInt("BIZGRAPH_SIMILARITY_LOOKAHEAD", c.Similarity.Lookahead)
	c.Similarity.GlobalCap = getEnvInt("BIZGRAPH_SIMILARITY_GLOBAL_CAP", c.Similarity.GlobalCap)

	c.Query.TopN = getEnvInt("BIZGRAPH_TOP_N", c.Query.TopN)
	c.Query.HighValueSpend = getEnvFloat("BIZGRAPH_HIGH_VALUE_SPEND", c.Query.HighValueSpend)
	c.Query.ChurnAfter = getEnvDuration("BIZGRAPH_CHURN_AFTER", c.Query.ChurnAfter)
	c.Query.LowStock = getEnvInt("BIZGRAPH_LOW_STOCK", c.Query.LowStock)

	c.Cache.Enabled = getEnvBool("BIZGRAPH_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.Size = getEnvInt("BIZGRAPH_CACHE_SIZE", c.Cache.Size)
	c.Cache.TTL = getEnvDuration("BIZGRAPH_CACHE_TTL", c.Cache.TTL)

	c.Schedule.Rebuild = getEnv("BIZGRAPH_REBUILD_SCHEDULE", c.Schedule.Rebuild)

	c.Logging.Level = strings.ToLower(getEnv("BIZGRAPH_LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(getEnv("BIZGRAPH_LOG_FORMAT", c.Logging.Format))

	c.Runtime.MemoryLimit = getEnv("BIZGRAPH_MEMORY_LIMIT", c.Runtime.MemoryLimit)
	c.Runtime.GCPercent = getEnvInt("BIZGRAPH_GC_PERCENT", c.Runtime.GCPercent)
}

var validate = validator.New()

// Validate checks the configuration for errors. Failures wrap
// graph.ErrValidation.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %v: %w", err, graph.ErrValidation)
	}
	if err := c.Similarity.Validate(); err != nil {
		return fmt.Errorf("config: similarity: %w", err)
	}
	if c.Query.ChurnAfter <= 0 {
		return fmt.Errorf("config: churn_after must be positive: %w", graph.ErrValidation)
	}
	if c.Schedule.Rebuild != "" {
		if _, err := cron.ParseStandard(c.Schedule.Rebuild); err != nil {
			return fmt.Errorf("config: rebuild schedule %q: %v: %w", c.Schedule.Rebuild, err, graph.ErrValidation)
		}
	}
	if c.Snapshot.AutoSave && c.Snapshot.Path == "" {
		return fmt.Errorf("config: auto_save needs a snapshot path: %w", graph.ErrValidation)
	}
	if s := c.Runtime.MemoryLimit; s != "" && s != "0" && parseMemorySize(s) == 0 {
		return fmt.Errorf("config: bad memory limit %q: %w", s, graph.ErrValidation)
	}
	return nil
}

// String returns a representation safe for logging. The passphrase is
// reported only as present or absent.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, InMemory: %v, Snapshot: %s, Encrypted: %v, Limits: %d/%d/%d, GlobalCap: %d, Schedule: %q}",
		c.Storage.DataDir, c.Storage.InMemory,
		c.Snapshot.Path, c.Snapshot.Passphrase != "",
		c.Limits.MaxCustomers, c.Limits.MaxProducts, c.Limits.MaxTransactions,
		c.Similarity.GlobalCap, c.Schedule.Rebuild,
	)
}

// ApplyRuntime applies the runtime memory settings. Call it early in main.
func (c *RuntimeConfig) ApplyRuntime() {
	if limit := parseMemorySize(c.MemoryLimit); limit > 0 {
		debug.SetMemoryLimit(limit)
	}
	if c.GCPercent != 0 && c.GCPercent != 100 {
		debug.SetGCPercent(c.GCPercent)
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// bare number = seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// parseMemorySize parses "1024", "512MB", "2GB" and the like. Unparseable
// input gives 0.
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}
	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1 << 40
		s = strings.TrimSuffix(s, "T")
	}
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}
