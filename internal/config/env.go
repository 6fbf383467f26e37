package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHATSYNC_"

// LoadDotEnv loads the first of files that exists into the process
// environment. Variables already set are kept.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		err := godotenv.Load(f)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

type envVar struct {
	key string
	set func(c *Config, v string) error
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *dst(c) = v; return nil }
}

func integer(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func duration(dst func(c *Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error { return dst(c).UnmarshalText([]byte(v)) }
}

var envVars = []envVar{
	{"DATA_DIR", str(func(c *Config) *string { return &c.DataDir })},
	{"ACCOUNT_ID", str(func(c *Config) *string { return &c.AccountID })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FILE", str(func(c *Config) *string { return &c.Log.File })},
	{"HTTP_ADDR", str(func(c *Config) *string { return &c.HTTP.Addr })},
	{"GATEWAY_BASE_URL", str(func(c *Config) *string { return &c.Gateway.BaseURL })},
	{"GATEWAY_API_KEY", str(func(c *Config) *string { return &c.Gateway.APIKey })},
	{"GATEWAY_TIMEOUT", duration(func(c *Config) *Duration { return &c.Gateway.Timeout })},
	{"GATEWAY_PAGE_SIZE", integer(func(c *Config) *int { return &c.Gateway.PageSize })},
	{"SYNC_INTERVAL", duration(func(c *Config) *Duration { return &c.Sync.Interval })},
	{"SYNC_WORKERS", integer(func(c *Config) *int { return &c.Sync.Workers })},
	{"RECONCILE_INTERVAL", duration(func(c *Config) *Duration { return &c.Reconcile.Interval })},
	{"RECONCILE_DEBOUNCE", duration(func(c *Config) *Duration { return &c.Reconcile.Debounce })},
	{"RECONCILE_MAX_ATTEMPTS", integer(func(c *Config) *int { return &c.Reconcile.MaxAttempts })},
	{"OUTBOX_BLOCK_IGNORED", boolean(func(c *Config) *bool { return &c.Outbox.BlockIgnored })},
	{"WEBHOOK_PUBLIC_URL", str(func(c *Config) *string { return &c.Webhook.PublicURL })},
	{"WEBHOOK_NAME", str(func(c *Config) *string { return &c.Webhook.Name })},
	{"FANOUT_AMQP_URL", str(func(c *Config) *string { return &c.Fanout.AMQPURL })},
	{"FANOUT_AMQP_QUEUE", str(func(c *Config) *string { return &c.Fanout.AMQPQueue })},
	{"AUTOPILOT_ENABLED", boolean(func(c *Config) *bool { return &c.Autopilot.Enabled })},
	{"AUTOPILOT_PROMPT", str(func(c *Config) *string { return &c.Autopilot.Prompt })},
	{"AUTOPILOT_SUGGESTER_URL", str(func(c *Config) *string { return &c.Autopilot.SuggesterURL })},
}

// ApplyEnv overrides cfg with CHATSYNC_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.key)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(cfg, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, ev.key, err)
		}
	}
	return nil
}
