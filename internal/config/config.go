package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DBFile                string
	AdminAddr             string
	APIAddr               string
	AuthSecret            string
	AuthIssuer            string
	TokenCacheTTL         time.Duration
	WebhookSecret         string
	TypingTTL             time.Duration
	TypingSweepInterval   time.Duration
	PresenceTimeout       time.Duration
	PresenceSweepInterval time.Duration
	LogLevel              string
	LogDevelopment        bool
}

var defaults = map[string]any{
	"PARLEY_DB":               "parley.db",
	"ADMIN_ADDR":              "localhost:8081",
	"API_ADDR":                ":8080",
	"AUTH_SECRET":             "",
	"AUTH_ISSUER":             "",
	"TOKEN_CACHE_TTL":         "5m",
	"WEBHOOK_SECRET":          "",
	"TYPING_TTL":              "2s",
	"TYPING_SWEEP_INTERVAL":   "0s",
	"PRESENCE_TIMEOUT":        "0s",
	"PRESENCE_SWEEP_INTERVAL": "30s",
	"LOG_LEVEL":               "info",
	"LOG_DEVELOPMENT":         false,
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; variables already set in
// the environment win.
func Load(cliMode bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{
		DBFile:         v.GetString("PARLEY_DB"),
		AdminAddr:      v.GetString("ADMIN_ADDR"),
		APIAddr:        v.GetString("API_ADDR"),
		AuthSecret:     v.GetString("AUTH_SECRET"),
		AuthIssuer:     v.GetString("AUTH_ISSUER"),
		WebhookSecret:  v.GetString("WEBHOOK_SECRET"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogDevelopment: v.GetBool("LOG_DEVELOPMENT"),
	}

	durations := map[string]*time.Duration{
		"TOKEN_CACHE_TTL":         &cfg.TokenCacheTTL,
		"TYPING_TTL":              &cfg.TypingTTL,
		"TYPING_SWEEP_INTERVAL":   &cfg.TypingSweepInterval,
		"PRESENCE_TIMEOUT":        &cfg.PresenceTimeout,
		"PRESENCE_SWEEP_INTERVAL": &cfg.PresenceSweepInterval,
	}
	for key, dst := range durations {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenCacheTTL <= 0 {
		return fmt.Errorf("TOKEN_CACHE_TTL must be greater than 0")
	}

	if c.TypingTTL <= 0 {
		return fmt.Errorf("TYPING_TTL must be greater than 0")
	}

	if c.TypingSweepInterval < 0 || c.PresenceTimeout < 0 || c.PresenceSweepInterval < 0 {
		return fmt.Errorf("sweep intervals and timeouts must not be negative")
	}

	if c.PresenceTimeout > 0 && c.PresenceSweepInterval == 0 {
		return fmt.Errorf("PRESENCE_SWEEP_INTERVAL must be set when PRESENCE_TIMEOUT is enabled")
	}

	return nil
}
