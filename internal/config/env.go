package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Overrides are secrets and deploy-time knobs read from the environment.
// Set variables win over file values.
type Overrides struct {
	TelegramToken string `env:"TELEGRAM_TOKEN"`
	ChatID        string `env:"CHAT_ID"`
	NVDAPIKey     string `env:"NVD_API"`
	HTTPAddr      string `env:"SENTINEL_HTTP_ADDR"`
	LogLevel      string `env:"SENTINEL_LOG_LEVEL"`
}

// ParseEnv loads overrides from the process environment.
func ParseEnv() (Overrides, error) {
	var o Overrides
	if err := env.Parse(&o); err != nil {
		return o, fmt.Errorf("parse env: %w", err)
	}
	return o, nil
}

// ParseEnvFrom loads overrides from an explicit variable set.
func ParseEnvFrom(vars map[string]string) (Overrides, error) {
	var o Overrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: vars}); err != nil {
		return o, fmt.Errorf("parse env: %w", err)
	}
	return o, nil
}

// Apply copies set overrides into cfg.
func (o Overrides) Apply(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if v := strings.TrimSpace(o.TelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(o.ChatID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CHAT_ID: invalid chat id %q: %w", v, err)
		}
		cfg.Telegram.ChatID = id
	}
	if v := strings.TrimSpace(o.NVDAPIKey); v != "" {
		cfg.Sources.NVD.APIKey = v
	}
	if v := strings.TrimSpace(o.HTTPAddr); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
