package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Config is the full service configuration, loaded from a YAML file.
// Every field has a working default so the service starts with no file at
// all (SQLite database, no Kafka, port 8080).
type Config struct {
	Server   ServerConfig          `yaml:"server"`
	Database DatabaseConfig        `yaml:"database"`
	Kafka    KafkaConfig           `yaml:"kafka"`
	Log      LogConfig             `yaml:"log"`
	Postmark PostmarkConfig        `yaml:"postmark"`
	Tasks    map[string]TaskConfig `yaml:"tasks"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default) or "mysql"
	DSN    string `yaml:"dsn"`
}

type KafkaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers"`
	RunEventsTopic string   `yaml:"run_events_topic"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PostmarkConfig struct {
	ServerToken string `yaml:"server_token"`
	BaseURL     string `yaml:"base_url"`
}

// TaskConfig overrides one registered task: whether its timer is armed, how
// often it fires, and a free-form settings block the task validates against
// its own JSON schema.
type TaskConfig struct {
	Enabled  *bool          `yaml:"enabled"` // nil means enabled
	Cron     string         `yaml:"cron"`    // takes precedence over every
	Every    string         `yaml:"every"`   // Go duration string, e.g. "5m"
	Settings map[string]any `yaml:"settings"`
}

func (t TaskConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// Interval parses the every field. An empty value yields def.
func (t TaskConfig) Interval(def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(t.Every)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", t.Every, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", t.Every)
	}
	return d, nil
}

// SettingsJSON renders the settings block as a JSON document so tasks can
// validate it against their settings schema.
func (t TaskConfig) SettingsJSON() (string, error) {
	if len(t.Settings) == 0 {
		return "", nil
	}
	normalized := normalizeYAML(t.Settings)
	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("settings yaml->json: %w", err)
	}
	return string(raw), nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

// Load reads the config file at path. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "reconciler.db"
	}
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.RunEventsTopic == "" {
		c.Kafka.RunEventsTopic = "reconciliation_run_events"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Tasks == nil {
		c.Tasks = map[string]TaskConfig{}
	}
}
