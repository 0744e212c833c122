package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/bizgraph/pkg/graph"
)

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, 10000, c.Limits.MaxCustomers)
	assert.Equal(t, 5000, c.Similarity.GlobalCap)
	assert.Equal(t, 90*24*time.Hour, c.Query.ChurnAfter)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BIZGRAPH_DATA_DIR", "/var/lib/bizgraph")
	t.Setenv("BIZGRAPH_MAX_TRANSACTIONS", "123")
	t.Setenv("BIZGRAPH_SIMILARITY_MIN_SCORE", "0.5")
	t.Setenv("BIZGRAPH_CACHE_TTL", "30") // seconds
	t.Setenv("BIZGRAPH_AUTO_SAVE", "no")
	t.Setenv("BIZGRAPH_LOG_LEVEL", "DEBUG")
	t.Setenv("BIZGRAPH_MAX_PRODUCTS", "not-a-number")

	c := LoadFromEnv()
	assert.Equal(t, "/var/lib/bizgraph", c.Storage.DataDir)
	assert.Equal(t, 123, c.Limits.MaxTransactions)
	assert.Equal(t, 5000, c.Limits.MaxProducts, "unparseable value keeps the default")
	assert.Equal(t, 0.5, c.Similarity.MinScore)
	assert.Equal(t, 30*time.Second, c.Cache.TTL)
	assert.False(t, c.Snapshot.AutoSave)
	assert.Equal(t, "debug", c.Logging.Level)
	require.NoError(t, c.Validate())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bizgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  in_memory: true
  data_dir: ""
limits:
  max_customers: 50
similarity:
  global_cap: 10
  lookahead: 7
query:
  churn_after: 720h
schedule:
  rebuild: "@every 15m"
logging:
  format: console
`)
	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, c.Storage.InMemory)
	assert.Equal(t, 50, c.Limits.MaxCustomers)
	assert.Equal(t, 5000, c.Limits.MaxProducts, "unset keys keep defaults")
	assert.Equal(t, 10, c.Similarity.GlobalCap)
	assert.Equal(t, 7, c.Similarity.Lookahead)
	assert.Equal(t, 2, c.Similarity.MinShared)
	assert.Equal(t, 30*24*time.Hour, c.Query.ChurnAfter)
	assert.Equal(t, "console", c.Logging.Format)
	require.NoError(t, c.Validate())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadFile(writeConfig(t, "limits:\n  max_customer: 5\n"))
	assert.ErrorIs(t, err, graph.ErrValidation, "unknown keys are rejected")

	c, err := LoadFile(writeConfig(t, ""))
	require.NoError(t, err, "empty file means defaults")
	assert.Equal(t, DefaultConfig(), c)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "limits:\n  max_customers: 50\n")
	t.Setenv("BIZGRAPH_MAX_CUSTOMERS", "60")

	c, err := LoadFromEnvOrFile(path)
	require.NoError(t, err)
	assert.Equal(t, 60, c.Limits.MaxCustomers)

	c, err = LoadFromEnvOrFile("")
	require.NoError(t, err)
	assert.Equal(t, 60, c.Limits.MaxCustomers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"no data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"negative cache size", func(c *Config) { c.Cache.Size = -1 }},
		{"zero top n", func(c *Config) { c.Query.TopN = 0 }},
		{"min score out of range", func(c *Config) { c.Similarity.MinScore = 1 }},
		{"zero batch size", func(c *Config) { c.Similarity.BatchSize = 0 }},
		{"zero churn window", func(c *Config) { c.Query.ChurnAfter = 0 }},
		{"bad schedule", func(c *Config) { c.Schedule.Rebuild = "every now and then" }},
		{"auto save without path", func(c *Config) { c.Snapshot.Path = "" }},
		{"bad memory limit", func(c *Config) { c.Runtime.MemoryLimit = "lots" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			assert.ErrorIs(t, c.Validate(), graph.ErrValidation)
		})
	}

	t.Run("in memory needs no data dir", func(t *testing.T) {
		c := DefaultConfig()
		c.Storage.DataDir = ""
		c.Storage.InMemory = true
		assert.NoError(t, c.Validate())
	})
}

func TestStringHidesPassphrase(t *testing.T) {
	c := DefaultConfig()
	c.Snapshot.Passphrase = "hunter2"
	s := c.String()
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "Encrypted: true")
}

func TestParseMemorySize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"1KB", 1 << 10},
		{"512mb", 512 << 20},
		{"  2GB  ", 2 << 30},
		{"1T", 1 << 40},
		{"0", 0},
		{"unlimited", 0},
		{"", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseMemorySize(tt.in))
		})
	}
}
