// Package config loads the daemon configuration from a TOML or YAML file,
// an optional .env file and CHATSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Every section has working defaults
// except the gateway credentials.
type Config struct {
	DataDir   string `toml:"data_dir" yaml:"data_dir"`
	AccountID string `toml:"account_id" yaml:"account_id"`

	Log       LogConfig       `toml:"log" yaml:"log"`
	HTTP      HTTPConfig      `toml:"http" yaml:"http"`
	Gateway   GatewayConfig   `toml:"gateway" yaml:"gateway"`
	Sync      SyncConfig      `toml:"sync" yaml:"sync"`
	Reconcile ReconcileConfig `toml:"reconcile" yaml:"reconcile"`
	Outbox    OutboxConfig    `toml:"outbox" yaml:"outbox"`
	Attendees AttendeeConfig  `toml:"attendees" yaml:"attendees"`
	Webhook   WebhookConfig   `toml:"webhook" yaml:"webhook"`
	Fanout    FanoutConfig    `toml:"fanout" yaml:"fanout"`
	Autopilot AutopilotConfig `toml:"autopilot" yaml:"autopilot"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
	File  string `toml:"file" yaml:"file"`
}

type HTTPConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

type GatewayConfig struct {
	BaseURL  string   `toml:"base_url" yaml:"base_url"`
	APIKey   string   `toml:"api_key" yaml:"api_key"`
	Timeout  Duration `toml:"timeout" yaml:"timeout"`
	PageSize int      `toml:"page_size" yaml:"page_size"`
}

type SyncConfig struct {
	Interval Duration `toml:"interval" yaml:"interval"` // zero disables the scheduled pull
	Workers  int      `toml:"workers" yaml:"workers"`
	MaxPages int      `toml:"max_pages" yaml:"max_pages"`
}

type ReconcileConfig struct {
	Interval    Duration `toml:"interval" yaml:"interval"`
	Debounce    Duration `toml:"debounce" yaml:"debounce"`
	Retention   Duration `toml:"retention" yaml:"retention"`
	MaxAttempts int      `toml:"max_attempts" yaml:"max_attempts"`
}

type OutboxConfig struct {
	BlockIgnored bool `toml:"block_ignored" yaml:"block_ignored"`
}

type AttendeeConfig struct {
	CacheTTL Duration `toml:"cache_ttl" yaml:"cache_ttl"`
}

type WebhookConfig struct {
	PublicURL string `toml:"public_url" yaml:"public_url"`
	Name      string `toml:"name" yaml:"name"`
}

type FanoutConfig struct {
	WriteTimeout Duration `toml:"write_timeout" yaml:"write_timeout"`
	AMQPURL      string   `toml:"amqp_url" yaml:"amqp_url"`
	AMQPQueue    string   `toml:"amqp_queue" yaml:"amqp_queue"`
}

type AutopilotConfig struct {
	Enabled      bool     `toml:"enabled" yaml:"enabled"`
	Prompt       string   `toml:"prompt" yaml:"prompt"`
	HistoryLimit int      `toml:"history_limit" yaml:"history_limit"`
	SuggesterURL string   `toml:"suggester_url" yaml:"suggester_url"`
	Timeout      Duration `toml:"timeout" yaml:"timeout"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		DataDir: BaseDir(),
		Log:     LogConfig{Level: "info"},
		HTTP:    HTTPConfig{Addr: "127.0.0.1:8088"},
		Gateway: GatewayConfig{
			Timeout:  Duration{30 * time.Second},
			PageSize: 100,
		},
		Sync: SyncConfig{
			Workers:  4,
			MaxPages: 1000,
		},
		Reconcile: ReconcileConfig{
			Interval:    Duration{10 * time.Second},
			Debounce:    Duration{10 * time.Second},
			Retention:   Duration{24 * time.Hour},
			MaxAttempts: 3,
		},
		Outbox:    OutboxConfig{BlockIgnored: true},
		Attendees: AttendeeConfig{CacheTTL: Duration{10 * time.Minute}},
		Webhook:   WebhookConfig{Name: "chatsync"},
		Fanout: FanoutConfig{
			WriteTimeout: Duration{5 * time.Second},
			AMQPQueue:    "chatsync_messages",
		},
		Autopilot: AutopilotConfig{
			HistoryLimit: 20,
			Timeout:      Duration{30 * time.Second},
		},
	}
}

// Load builds the configuration: defaults, then the file at path (TOML, or
// YAML for .yaml/.yml), then a .env file next to it or in the working
// directory, then CHATSYNC_* variables. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	envFiles := []string{".env"}
	if path != "" {
		envFiles = append([]string{filepath.Join(filepath.Dir(path), ".env")}, envFiles...)
	}
	if err := LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

// Validate reports every setting the daemon cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("gateway.base_url is required"))
	}
	if c.Gateway.APIKey == "" {
		errs = append(errs, errors.New("gateway.api_key is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Reconcile.MaxAttempts < 1 {
		errs = append(errs, errors.New("reconcile.max_attempts must be at least 1"))
	}
	if c.Sync.Interval.Duration < 0 || c.Reconcile.Interval.Duration <= 0 {
		errs = append(errs, errors.New("sync.interval must not be negative and reconcile.interval must be positive"))
	}
	if c.Autopilot.Enabled && strings.TrimSpace(c.Autopilot.Prompt) == "" {
		errs = append(errs, errors.New("autopilot.prompt is required when autopilot is enabled"))
	}
	return errors.Join(errs...)
}

// Save writes cfg as TOML, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Duration is a time.Duration written as a string such as "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}
