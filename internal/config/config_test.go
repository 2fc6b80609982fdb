package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/cache"
)

func chtmp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	chtmp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "intake.db", cfg.Store.SQLitePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "cache.db", cfg.Cache.Path)
	assert.Equal(t, 7, cfg.Cache.SearchTTLDays)
	assert.Equal(t, 30, cfg.Cache.DetailsTTLDays)
	assert.InDelta(t, 0.032, cfg.Pricing.Places.TextSearch, 0.0001)
	assert.InDelta(t, 0.45, cfg.Intake.Accept.Threshold, 0.001)
	assert.InDelta(t, 0.30, cfg.Intake.Accept.Weights.Reputation, 0.001)
	assert.Contains(t, cfg.Intake.Accept.DirectoryBlocklist, "yelp.com")
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Content.Model)
	assert.Equal(t, 4, cfg.Content.BatchSize)
	assert.Equal(t, int64(400), cfg.Content.MaxTokensPerMember)
	assert.InDelta(t, 3.0, cfg.Notion.RateLimit, 0.001)
	// Token rates fall back to the built-in table.
	assert.NotEmpty(t, cfg.Pricing.Anthropic)
	assert.InDelta(t, 0.80, cfg.Pricing.Anthropic["claude-haiku-4-5-20251001"].Input, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	chtmp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/intake
budget:
  daily_ceiling_usd: 5.0
  monthly_ceiling_usd: 80.0
  timezone: America/Chicago
content:
  batch_size: 2
log:
  level: debug
  format: console
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.InDelta(t, 5.0, cfg.Budget.DailyCeilingUSD, 0.001)
	assert.InDelta(t, 80.0, cfg.Budget.MonthlyCeilingUSD, 0.001)
	assert.Equal(t, "America/Chicago", cfg.Budget.Timezone)
	assert.Equal(t, 2, cfg.Content.BatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 7, cfg.Cache.SearchTTLDays)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chtmp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("INTAKE_STORE_DRIVER", "postgres")
	t.Setenv("INTAKE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtmp(t)

	t.Setenv("INTAKE_SERVER_PORT", "3000")
	t.Setenv("INTAKE_PLACES_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "test-key", cfg.Places.Key)
}

func TestCacheWindows(t *testing.T) {
	cfg := &Config{Cache: CacheConfig{SearchTTLDays: 7, DetailsTTLDays: 30}}
	windows := cfg.CacheWindows()
	assert.Equal(t, 7*24*time.Hour, windows[cache.ClassSearch])
	assert.Equal(t, 30*24*time.Hour, windows[cache.ClassDetails])
}

func validDefaults() *Config {
	return &Config{
		Store:  StoreConfig{Driver: "sqlite", SQLitePath: "intake.db"},
		Cache:  CacheConfig{Path: "cache.db"},
		Server: ServerConfig{Port: 8080},
	}
}

func TestValidateIntake(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("intake")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "places.key is required")

	cfg.Places.Key = "key"
	assert.NoError(t, cfg.Validate("intake"))
}

func TestValidateContent(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("content")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("content"))
}

func TestValidatePublish(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("publish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion.token is required")
	assert.Contains(t, err.Error(), "notion.database_id is required")

	cfg.Notion.Token = "ntn_token"
	cfg.Notion.DatabaseID = "db-id"
	assert.NoError(t, cfg.Validate("publish"))
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite or postgres")
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
