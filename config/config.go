package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when none is given. It may be absent.
const DefaultPath = "./config.yaml"

// ErrMissingSetting is returned when a required setting is not provided.
var ErrMissingSetting = errors.New("required setting missing")

// MaxPollTimeoutSecs bounds poll_timeout_secs.
const MaxPollTimeoutSecs = 100

// LogLevels lists the accepted log_level values.
var LogLevels = []string{"debug", "info", "warn", "error"}

// Config holds all application configuration.
type Config struct {
	TelegramToken   string  `yaml:"telegram_token"`
	TargetChannel   int64   `yaml:"target_channel"`
	TargetGroup     int64   `yaml:"target_group"`
	DBPath          string  `yaml:"db_path"`
	LogLevel        string  `yaml:"log_level"`
	Workers         int     `yaml:"workers"`
	PollTimeoutSecs int     `yaml:"poll_timeout_secs"`
	MetricsAddr     string  `yaml:"metrics_addr"`
	ResyncSchedule  string  `yaml:"resync_schedule"`
	ResyncDepth     int     `yaml:"resync_depth"`
	Timezone        string  `yaml:"timezone"`
	Notices         Notices `yaml:"notices"`
}

// Notices are the texts shown to users when a reaction is refused.
type Notices struct {
	InvalidReaction string `yaml:"invalid_reaction"`
	AlreadyReacted  string `yaml:"already_reacted"`
}

// Load reads configuration from path, .env and the process environment.
func Load(path string) (*Config, error) {
	return LoadFrom(path, ".env", os.Getenv)
}

// LoadFrom layers defaults, the YAML file at path, the dotenv file envFile
// and getenv, in increasing priority. A missing DefaultPath or envFile is
// not an error.
func LoadFrom(path, envFile string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyDefaults(cfg)

	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	lookup := func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	if err := applyEnvironmentOverrides(cfg, lookup); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from environment or default.
func GetConfigPath() string {
	if path := os.Getenv("RELAY_BOT_CONFIG"); path != "" {
		return path
	}
	return DefaultPath
}

// PollTimeout returns the long-polling timeout as a duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSecs) * time.Second
}

func applyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "dumbmemebot.sqlite"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.PollTimeoutSecs == 0 {
		cfg.PollTimeoutSecs = 30
	}
	if cfg.ResyncDepth == 0 {
		cfg.ResyncDepth = 20
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.Notices.InvalidReaction == "" {
		cfg.Notices.InvalidReaction = "Invalid reaction"
	}
	if cfg.Notices.AlreadyReacted == "" {
		cfg.Notices.AlreadyReacted = "Вы уже оставили реакцию на этот пост"
	}
}

func applyEnvironmentOverrides(cfg *Config, lookup func(string) string) error {
	if v := lookup("TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	for key, dst := range map[string]*int64{
		"TARGET_CHANNEL": &cfg.TargetChannel,
		"TARGET_GROUP":   &cfg.TargetGroup,
	} {
		v := lookup(key)
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = id
	}
	if v := lookup("SQLITE_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := lookup("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := lookup("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := lookup("RESYNC_SCHEDULE"); v != "" {
		cfg.ResyncSchedule = v
	}
	return nil
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.TelegramToken == "" {
		errs = append(errs, fmt.Errorf("%w: TELEGRAM_TOKEN", ErrMissingSetting))
	}
	if cfg.TargetChannel == 0 {
		errs = append(errs, fmt.Errorf("%w: TARGET_CHANNEL", ErrMissingSetting))
	}
	if cfg.TargetGroup == 0 {
		errs = append(errs, fmt.Errorf("%w: TARGET_GROUP", ErrMissingSetting))
	}
	if !slices.Contains(LogLevels, cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of %v, got %q", LogLevels, cfg.LogLevel))
	}
	if cfg.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", cfg.Workers))
	}
	if cfg.PollTimeoutSecs < 0 || cfg.PollTimeoutSecs > MaxPollTimeoutSecs {
		errs = append(errs, fmt.Errorf("poll_timeout_secs must be between 0 and %d, got %d", MaxPollTimeoutSecs, cfg.PollTimeoutSecs))
	}
	if cfg.ResyncDepth < 1 {
		errs = append(errs, fmt.Errorf("resync_depth must be >= 1, got %d", cfg.ResyncDepth))
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err))
	}
	return errors.Join(errs...)
}
