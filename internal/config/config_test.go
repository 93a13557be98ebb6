package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func parse(t *testing.T, args ...string) Config {
	t.Helper()
	fs := Flags("test")
	require.NoError(t, fs.Parse(args))
	cfg, err := Load(fs)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := parse(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "hoksip.db", cfg.Database.DSN)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.Session.SweepInterval)
	assert.Equal(t, []int{9, 21}, cfg.Reminder.Hours)
	assert.True(t, cfg.Reminder.Enabled)
	assert.Equal(t, "repos", cfg.ReposDir)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
	assert.Empty(t, cfg.HTTP.ImportRoot)
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hoksip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: development
database:
  dsn: from-file.db
log:
  level: debug
  max_size_mb: 50
session:
  idle_timeout: 10m
reminder:
  hours: [8, 20]
`), 0o600))

	t.Setenv("HOKSIP_DATABASE__DSN", "from-env.db")
	t.Setenv("HOKSIP_LOG__MAX_SIZE_MB", "20")
	t.Setenv("HOKSIP_TELEGRAM__TOKEN", "123:abc")

	cfg := parse(t, "--config", path, "--log.level", "warn")

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "from-env.db", cfg.Database.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 20, cfg.Log.MaxSizeMB)
	assert.Equal(t, 10*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, []int{8, 20}, cfg.Reminder.Hours)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
}

func TestLoad_TokenFromKeyring(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, StoreToken("bot", "999:secret"))
	t.Setenv("HOKSIP_TELEGRAM__KEYRING_USER", "bot")

	cfg := parse(t, "--config", "")
	assert.Equal(t, "999:secret", cfg.Telegram.Token)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Env:      "production",
			Log:      LogConfig{Level: "info", MaxSizeMB: 10},
			Database: DatabaseConfig{Driver: "sqlite", DSN: "x.db"},
			Session:  SessionConfig{IdleTimeout: time.Minute, SweepInterval: time.Second},
			Reminder: ReminderConfig{Hours: []int{9}, Timezone: "UTC"},
			ReposDir: "repos",
		}
	}
	require.NoError(t, Validate(base()))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"bad hour", func(c *Config) { c.Reminder.Hours = []int{24} }},
		{"bad timezone", func(c *Config) { c.Reminder.Timezone = "Mars/Olympus" }},
		{"zero idle timeout", func(c *Config) { c.Session.IdleTimeout = 0 }},
		{"bad env", func(c *Config) { c.Env = "staging" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "log.max_size_mb", envKey("HOKSIP_LOG__MAX_SIZE_MB"))
	assert.Equal(t, "repos_dir", envKey("HOKSIP_REPOS_DIR"))
}
