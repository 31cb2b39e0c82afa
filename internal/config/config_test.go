package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, 10, cfg.SMTP.SendsPerMinute)
	assert.Equal(t, 3, cfg.SMTP.MaxRetries)
	assert.Equal(t, 30, cfg.Warmup.DispatchIntervalMins)
	assert.Equal(t, 60, cfg.Warmup.ResetIntervalSecs)
	assert.Equal(t, 3, cfg.Warmup.MaxSendAttempts)
	assert.Equal(t, 5, cfg.Queue.PollIntervalSecs)
	assert.Equal(t, 20, cfg.Queue.BatchSize)
	assert.Equal(t, 4, cfg.Queue.Concurrency)
	assert.Equal(t, 24, cfg.Monitoring.CheckIntervalHours)
	assert.Equal(t, 30, cfg.Monitoring.ValidateTimeoutSecs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: outreach.db
log:
  level: debug
  format: console
server:
  port: 9090
warmup:
  dispatch_interval_mins: 15
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "outreach.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15, cfg.Warmup.DispatchIntervalMins)
	// Defaults still apply for unset values
	assert.Equal(t, 60, cfg.Warmup.ResetIntervalSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("OUTREACH_STORE_DRIVER", "postgres")
	t.Setenv("OUTREACH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("OUTREACH_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
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

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "outreach.db"
	cfg.Server.Port = 8080
	cfg.Queue.Concurrency = 4
	cfg.Warmup.DispatchIntervalMins = 30
	cfg.Warmup.ResetIntervalSecs = 60
	cfg.Monitoring.CheckIntervalHours = 24
	return cfg
}

func TestValidateServe_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidatePostgresRequiresURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateWarmupIntervals(t *testing.T) {
	cfg := validDefaults()
	cfg.Warmup.DispatchIntervalMins = 0

	err := cfg.Validate("warmup")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch_interval_mins")

	cfg.Warmup.DispatchIntervalMins = 30
	cfg.Warmup.ResetIntervalSecs = -1
	err = cfg.Validate("warmup")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reset_interval_secs")
}

func TestValidateMonitorInterval(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.CheckIntervalHours = 0

	err := cfg.Validate("monitor")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "check_interval_hours")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Queue.Concurrency = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "queue.concurrency must be between 1 and 50")

	cfg.Queue.Concurrency = 51
	err = cfg.Validate("serve")
	assert.Error(t, err)

	cfg.Queue.Concurrency = 50
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
