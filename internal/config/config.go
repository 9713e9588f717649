package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the dashboard settings read from the environment.
type Config struct {
	API     APIConfig
	Poll    PollConfig
	Log     LogConfig
	Exports ExportConfig
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PollConfig struct {
	Interval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type ExportConfig struct {
	Dir   string
	Limit int
}

// Load reads an optional .env file, then the environment, and validates the result.
// A missing env file is not an error.
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	env := &envReader{}
	cfg := &Config{
		API: APIConfig{
			BaseURL: envString("IDH_API_URL", "http://localhost:8080"),
			Timeout: env.duration("IDH_API_TIMEOUT", 10*time.Second),
		},
		Poll: PollConfig{
			Interval: env.duration("IDH_POLL_INTERVAL", 3*time.Second),
		},
		Log: LogConfig{
			Level:  envString("IDH_LOG_LEVEL", "info"),
			Format: envString("IDH_LOG_FORMAT", "json"),
			File:   envString("IDH_LOG_FILE", "idh-tui.log"),
		},
		Exports: ExportConfig{
			Dir:   envString("IDH_EXPORT_DIR", "exports"),
			Limit: env.integer("IDH_EXPORT_LIMIT", 50),
		},
	}

	if err := cfg.validate(env.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks the loaded values. parseErrs are malformed numeric or
// duration variables and are reported before anything else.
func (c *Config) validate(parseErrs ...error) error {
	if err := errors.Join(parseErrs...); err != nil {
		return err
	}
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("IDH_API_URL must start with http:// or https://, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("IDH_API_TIMEOUT must be positive, got %s", c.API.Timeout)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("IDH_POLL_INTERVAL must be positive, got %s", c.Poll.Interval)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("IDH_LOG_FORMAT must be json or text; got %q", c.Log.Format)
	}
	if strings.TrimSpace(c.Exports.Dir) == "" {
		return fmt.Errorf("IDH_EXPORT_DIR must not be empty")
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("IDH_LOG_LEVEL must be one of debug, info, warn, error; got %q", s)
	}
	return level, nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envReader parses typed variables and remembers every malformed value.
type envReader struct {
	errs []error
}

func (r *envReader) integer(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return defaultVal
	}
	return i
}

func (r *envReader) duration(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a duration like 5s or 500ms, got %q", key, v))
		return defaultVal
	}
	return d
}
