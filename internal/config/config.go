// Package config loads controller and agent settings from defaults, an optional YAML
// file and BEACON_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "BEACON_"

type Config struct {
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Monitor  MonitorConfig  `koanf:"monitor"`
	Notify   NotifyConfig   `koanf:"notify"`
	Admin    AdminConfig    `koanf:"admin"`
	Consul   ConsulConfig   `koanf:"consul"`
	Agent    AgentConfig    `koanf:"agent"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
	DSN    string `koanf:"dsn"`
}

// Source returns the driver-specific connection string.
func (d DatabaseConfig) Source() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return d.DSN
}

type ServerConfig struct {
	GRPCAddr string `koanf:"grpc_addr"`
	HTTPAddr string `koanf:"http_addr"`
}

type MonitorConfig struct {
	OfflineThreshold  time.Duration `koanf:"offline_threshold"`
	SweepInterval     time.Duration `koanf:"sweep_interval"`
	Retention         time.Duration `koanf:"retention"`
	RetentionInterval time.Duration `koanf:"retention_interval"`
	HealthInterval    time.Duration `koanf:"health_interval"`
}

type NotifyConfig struct {
	TelegramBotToken string        `koanf:"telegram_bot_token"`
	TelegramChatID   string        `koanf:"telegram_chat_id"`
	TelegramAPIURL   string        `koanf:"telegram_api_url"`
	Timeout          time.Duration `koanf:"timeout"`
	Workers          int           `koanf:"workers"`
	QueueSize        int           `koanf:"queue_size"`
}

type AdminConfig struct {
	// Token guards the admin API; an empty token disables it.
	Token string `koanf:"token"`
}

type ConsulConfig struct {
	Address     string `koanf:"address"`
	ServiceName string `koanf:"service_name"`
}

type AgentConfig struct {
	HostID       string        `koanf:"host_id"`
	Secret       string        `koanf:"secret"`
	CollectorURL string        `koanf:"collector_url"`
	Transport    string        `koanf:"transport"`
	Interval     time.Duration `koanf:"interval"`
	DiskPath     string        `koanf:"disk_path"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "INFO", Format: "JSON"},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "/data/beacon.db",
		},
		Server: ServerConfig{
			GRPCAddr: ":9090",
			HTTPAddr: ":8080",
		},
		Monitor: MonitorConfig{
			OfflineThreshold:  35 * time.Second,
			SweepInterval:     5 * time.Second,
			RetentionInterval: time.Hour,
			HealthInterval:    10 * time.Second,
		},
		Notify: NotifyConfig{
			TelegramAPIURL: "https://api.telegram.org",
			Timeout:        10 * time.Second,
			Workers:        2,
			QueueSize:      128,
		},
		Consul: ConsulConfig{ServiceName: "beacon-controller"},
		Agent: AgentConfig{
			Transport: "http",
			Interval:  10 * time.Second,
			DiskPath:  "/",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when empty) and
// the environment. BEACON_MONITOR__OFFLINE_THRESHOLD=40s sets monitor.offline_threshold.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ValidationError aggregates multiple configuration validation failures.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	return errors.As(target, &other)
}

// Validate checks the controller settings.
func (c *Config) Validate() error {
	var problems []string

	switch c.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			problems = append(problems, "database.path is required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			problems = append(problems, "database.dsn is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}

	if c.Server.HTTPAddr == "" {
		problems = append(problems, "server.http_addr is required")
	}
	if c.Monitor.OfflineThreshold <= 0 {
		problems = append(problems, "monitor.offline_threshold must be greater than zero")
	}
	if c.Monitor.SweepInterval < time.Second {
		problems = append(problems, "monitor.sweep_interval must be at least 1s")
	}
	if c.Monitor.Retention < 0 {
		problems = append(problems, "monitor.retention must be non-negative")
	}
	if c.Monitor.Retention > 0 && c.Monitor.RetentionInterval < time.Second {
		problems = append(problems, "monitor.retention_interval must be at least 1s when retention is enabled")
	}
	if c.Notify.Timeout <= 0 {
		problems = append(problems, "notify.timeout must be greater than zero")
	}
	if c.Notify.Workers <= 0 {
		problems = append(problems, "notify.workers must be greater than zero")
	}
	if c.Notify.QueueSize <= 0 {
		problems = append(problems, "notify.queue_size must be greater than zero")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateAgent checks the agent settings. Either a collector URL or a Consul address
// is needed to find the collector.
func (c *Config) ValidateAgent() error {
	var problems []string

	if strings.TrimSpace(c.Agent.HostID) == "" {
		problems = append(problems, "agent.host_id is required")
	}
	if strings.TrimSpace(c.Agent.Secret) == "" {
		problems = append(problems, "agent.secret is required")
	}
	if c.Agent.CollectorURL == "" && c.Consul.Address == "" {
		problems = append(problems, "agent.collector_url or consul.address must be set")
	}
	if c.Agent.Transport != "http" && c.Agent.Transport != "grpc" {
		problems = append(problems, fmt.Sprintf("agent.transport %q must be http or grpc", c.Agent.Transport))
	}
	if c.Agent.Interval < time.Second {
		problems = append(problems, "agent.interval must be at least 1s")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
