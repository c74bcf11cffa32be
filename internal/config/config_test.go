package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"BOOKGEN_API_URL", "BOOKGEN_API_TOKEN", "BOOKGEN_REQUEST_TIMEOUT",
	"BOOKGEN_POLL_INTERVAL", "BOOKGEN_MAX_POLLS", "BOOKGEN_ERROR_CEILING",
	"BOOKGEN_WARN_EVERY", "BOOKGEN_STALE_AFTER", "BOOKGEN_PROBE_PATHS",
	"BOOKGEN_PROBE_TIMEOUT", "BOOKGEN_STATE_DRIVER", "BOOKGEN_STATE_DSN",
	"BOOKGEN_DATA_DIR", "BOOKGEN_MAX_BACKOFF", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every setting so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOOKGEN_API_URL", "https://books.example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://books.example.com", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.RequestTimeout)
	assert.Equal(t, PollConfig{
		Interval:     5 * time.Second,
		MaxPolls:     360,
		ErrorCeiling: 20,
		WarnEvery:    5,
		StaleAfter:   5 * time.Minute,
	}, cfg.Poll)
	assert.Equal(t, []string{"/env-status", "/books", "/health", "/"}, cfg.Probe.Paths)
	assert.Equal(t, 5*time.Second, cfg.Probe.Timeout)
	assert.Equal(t, "file", cfg.State.Driver)
	assert.Equal(t, "./data", cfg.State.DataDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOOKGEN_API_URL", "http://localhost:8000")
	t.Setenv("BOOKGEN_API_TOKEN", "tok")
	t.Setenv("BOOKGEN_POLL_INTERVAL", "2500")
	t.Setenv("BOOKGEN_STALE_AFTER", "90s")
	t.Setenv("BOOKGEN_MAX_POLLS", "10")
	t.Setenv("BOOKGEN_MAX_BACKOFF", "2m")
	t.Setenv("BOOKGEN_PROBE_PATHS", " /health , /")
	t.Setenv("BOOKGEN_STATE_DRIVER", "Postgres")
	t.Setenv("BOOKGEN_STATE_DSN", "postgres://u:p@localhost/bookgen")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tok", cfg.API.Token)
	assert.Equal(t, 2500*time.Millisecond, cfg.Poll.Interval)
	assert.Equal(t, 90*time.Second, cfg.Poll.StaleAfter)
	assert.Equal(t, 10, cfg.Poll.MaxPolls)
	assert.Equal(t, 2*time.Minute, cfg.Poll.MaxBackoff)
	assert.Equal(t, []string{"/health", "/"}, cfg.Probe.Paths)
	assert.Equal(t, "postgres", cfg.State.Driver)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("BOOKGEN_API_URL")
	os.Unsetenv("BOOKGEN_MAX_POLLS")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BOOKGEN_API_URL=http://from-file:8000\nBOOKGEN_MAX_POLLS=12\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-file:8000", cfg.API.BaseURL)
	assert.Equal(t, 12, cfg.Poll.MaxPolls)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOOKGEN_API_URL", "http://localhost:8000")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing url", env: map[string]string{}, wantErr: "BOOKGEN_API_URL is required"},
		{name: "unknown driver", env: map[string]string{"BOOKGEN_API_URL": "http://x", "BOOKGEN_STATE_DRIVER": "redis"}, wantErr: "unknown BOOKGEN_STATE_DRIVER"},
		{name: "sql without dsn", env: map[string]string{"BOOKGEN_API_URL": "http://x", "BOOKGEN_STATE_DRIVER": "mysql"}, wantErr: "BOOKGEN_STATE_DSN is required"},
		{name: "backoff below interval", env: map[string]string{"BOOKGEN_API_URL": "http://x", "BOOKGEN_MAX_BACKOFF": "1s"}, wantErr: "BOOKGEN_MAX_BACKOFF"},
		{name: "warn above ceiling", env: map[string]string{"BOOKGEN_API_URL": "http://x", "BOOKGEN_WARN_EVERY": "30"}, wantErr: "BOOKGEN_WARN_EVERY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
