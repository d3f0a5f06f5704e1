package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 4, cfg.Download.Workers)
	assert.Equal(t, 256*1024, cfg.Download.ChunkSize)
	assert.False(t, cfg.Download.Concurrent)
	assert.Equal(t, StrategyStructured, cfg.Resolver.Strategy)
	assert.Equal(t, []string{"hd", "sd", "mobile"}, cfg.Resolver.Qualities)
	assert.Equal(t, "Log Out</a>", cfg.Site.LoggedInMarker)
	assert.Equal(t, 0, cfg.RateLimit.RequestsPerMinute)
	require.NoError(t, cfg.Validate())
}

func TestAccountURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Site.BaseURL = "http://example.test/"
	cfg.Site.AccountPath = "/my-account/"

	assert.Equal(t, "http://example.test/my-account/", cfg.AccountURL())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("COURSEDL_LOGIN", "alice")
	t.Setenv("COURSEDL_PASSWORD", "s3cret")
	t.Setenv("COURSEDL_OUTPUT_DIR", "/tmp/courses")
	t.Setenv("COURSEDL_CONCURRENT", "true")
	t.Setenv("COURSEDL_WORKERS", "6")
	t.Setenv("COURSEDL_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "alice", cfg.Credentials.Login)
	assert.Equal(t, "s3cret", cfg.Credentials.Password)
	assert.Equal(t, "/tmp/courses", cfg.Output.BaseDirectory)
	assert.True(t, cfg.Download.Concurrent)
	assert.Equal(t, 6, cfg.Download.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("COURSEDL_WORKERS", "many")
	t.Setenv("COURSEDL_CONCURRENT", "perhaps")

	err := DefaultConfig().LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COURSEDL_WORKERS")
	assert.Contains(t, err.Error(), "COURSEDL_CONCURRENT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero workers", mutate: func(c *Config) { c.Download.Workers = 0 }, wantErr: "workers must be positive"},
		{name: "unknown strategy", mutate: func(c *Config) { c.Resolver.Strategy = "guess" }, wantErr: "unknown resolver strategy"},
		{name: "bad pattern", mutate: func(c *Config) {
			c.Resolver.Strategy = StrategyPattern
			c.Resolver.VideoPattern = "(["
		}, wantErr: "invalid video pattern"},
		{name: "no qualities", mutate: func(c *Config) { c.Resolver.Qualities = nil }, wantErr: "quality tier"},
		{name: "negative rate", mutate: func(c *Config) { c.RateLimit.RequestsPerMinute = -1 }, wantErr: "cannot be negative"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "chatty" }, wantErr: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"login":      "bob",
		"password":   "pw",
		"output":     "/data",
		"concurrent": true,
		"workers":    8,
		"keep-going": true,
		"log-level":  "warn",
	})

	assert.Equal(t, "bob", cfg.Credentials.Login)
	assert.Equal(t, "pw", cfg.Credentials.Password)
	assert.Equal(t, "/data", cfg.Output.BaseDirectory)
	assert.True(t, cfg.Download.Concurrent)
	assert.Equal(t, 8, cfg.Download.Workers)
	assert.True(t, cfg.Download.ContinueOnError)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestSaveAndLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Credentials.Login = "carol"
	cfg.Credentials.Password = "never-saved"
	cfg.Download.Workers = 2
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "never-saved")

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, "carol", loaded.Credentials.Login)
	assert.Empty(t, loaded.Credentials.Password)
	assert.Equal(t, 2, loaded.Download.Workers)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("download:\n  workers: 3\nlogging:\n  level: error\n"), 0600))
	t.Setenv("COURSEDL_WORKERS", "5")

	cfg, err := Load(path, map[string]interface{}{"log-level": "debug"})
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Download.Workers, "env overrides file")
	assert.Equal(t, "debug", cfg.Logging.Level, "flags override file")
}
