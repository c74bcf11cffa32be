package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings of the bookgen tracker.
type Config struct {
	API   APIConfig
	Poll  PollConfig
	Probe ProbeConfig
	State StateConfig
	Log   LogConfig
}

// APIConfig describes the generation service.
type APIConfig struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
}

// PollConfig tunes the polling loop.
type PollConfig struct {
	Interval     time.Duration
	MaxPolls     int
	ErrorCeiling int
	WarnEvery    int
	StaleAfter   time.Duration
	MaxBackoff   time.Duration // 0 disables backoff
}

// ProbeConfig tunes the connectivity probe.
type ProbeConfig struct {
	Paths   []string
	Timeout time.Duration
}

// StateConfig selects where tracked jobs are persisted.
type StateConfig struct {
	Driver  string // "file", "postgres" or "mysql"
	DSN     string
	DataDir string
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads settings from the environment, after loading envFilePath when it exists.
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// Environment variables alone are enough.
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL:        getEnv("BOOKGEN_API_URL", ""),
			Token:          getEnv("BOOKGEN_API_TOKEN", ""),
			RequestTimeout: getEnvAsDuration("BOOKGEN_REQUEST_TIMEOUT", 0),
		},
		Poll: PollConfig{
			Interval:     getEnvAsDuration("BOOKGEN_POLL_INTERVAL", 0),
			MaxPolls:     getEnvAsInt("BOOKGEN_MAX_POLLS", 0),
			ErrorCeiling: getEnvAsInt("BOOKGEN_ERROR_CEILING", 0),
			WarnEvery:    getEnvAsInt("BOOKGEN_WARN_EVERY", 0),
			StaleAfter:   getEnvAsDuration("BOOKGEN_STALE_AFTER", 0),
			MaxBackoff:   getEnvAsDuration("BOOKGEN_MAX_BACKOFF", 0),
		},
		Probe: ProbeConfig{
			Paths:   getEnvAsList("BOOKGEN_PROBE_PATHS"),
			Timeout: getEnvAsDuration("BOOKGEN_PROBE_TIMEOUT", 0),
		},
		State: StateConfig{
			Driver:  strings.ToLower(getEnv("BOOKGEN_STATE_DRIVER", "file")),
			DSN:     getEnv("BOOKGEN_STATE_DSN", ""),
			DataDir: getEnv("BOOKGEN_DATA_DIR", "./data"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	var problems []string
	if cfg.API.BaseURL == "" {
		problems = append(problems, "BOOKGEN_API_URL is required")
	}
	switch cfg.State.Driver {
	case "file":
	case "postgres", "mysql":
		if cfg.State.DSN == "" {
			problems = append(problems, "BOOKGEN_STATE_DSN is required for driver "+cfg.State.Driver)
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown BOOKGEN_STATE_DRIVER %q", cfg.State.Driver))
	}
	if cfg.Poll.MaxBackoff < 0 {
		problems = append(problems, "BOOKGEN_MAX_BACKOFF must not be negative")
	} else if cfg.Poll.MaxBackoff > 0 && cfg.Poll.MaxBackoff < cfg.Poll.Interval {
		problems = append(problems, "BOOKGEN_MAX_BACKOFF must be 0 or at least BOOKGEN_POLL_INTERVAL")
	}
	if cfg.Poll.WarnEvery > cfg.Poll.ErrorCeiling {
		problems = append(problems, "BOOKGEN_WARN_EVERY must not exceed BOOKGEN_ERROR_CEILING")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.RequestTimeout <= 0 {
		cfg.API.RequestTimeout = 30 * time.Second
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = 5 * time.Second
	}
	if cfg.Poll.MaxPolls <= 0 {
		cfg.Poll.MaxPolls = 360
	}
	if cfg.Poll.ErrorCeiling <= 0 {
		cfg.Poll.ErrorCeiling = 20
	}
	if cfg.Poll.WarnEvery <= 0 {
		cfg.Poll.WarnEvery = 5
	}
	if cfg.Poll.StaleAfter <= 0 {
		cfg.Poll.StaleAfter = 5 * time.Minute
	}
	if len(cfg.Probe.Paths) == 0 {
		cfg.Probe.Paths = []string{"/env-status", "/books", "/health", "/"}
	}
	if cfg.Probe.Timeout <= 0 {
		cfg.Probe.Timeout = 5 * time.Second
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("5s") or plain milliseconds ("5000").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
