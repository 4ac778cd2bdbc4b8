package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const fileName = "projectservice.yml"

// Config models projectservice.yml.
type Config struct {
	Stages struct {
		// ReserveOnInvite adds fulfillment candidates to the executor list
		// as soon as their invitation is issued.
		ReserveOnInvite bool `yaml:"reserve_on_invite" json:"reserve_on_invite"`
	} `yaml:"stages" json:"stages"`
	Projects struct {
		DefaultVisibility     string `yaml:"default_visibility" json:"default_visibility"`
		DefaultMaxStorageSize int64  `yaml:"default_max_storage_size" json:"default_max_storage_size"`
	} `yaml:"projects" json:"projects"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
	Log   LogConfig   `yaml:"log" json:"log"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Username string `yaml:"username" json:"username,omitempty"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Channel  string `yaml:"channel" json:"channel"`
}

// Enabled reports whether events should be published to Redis.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ps config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to defaults when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Projects.DefaultVisibility {
	case "PUBLIC", "PRIVATE":
	default:
		return fmt.Errorf("config.projects.default_visibility must be PUBLIC or PRIVATE")
	}
	if c.Projects.DefaultMaxStorageSize < 0 {
		return fmt.Errorf("config.projects.default_max_storage_size must be >= 0")
	}
	if c.Redis.Enabled() && strings.TrimSpace(c.Redis.Channel) == "" {
		return fmt.Errorf("config.redis.channel is required when config.redis.addr is set")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config.redis.db must be >= 0")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config.log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.Projects.DefaultVisibility = strings.ToUpper(strings.TrimSpace(cfg.Projects.DefaultVisibility))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ConfigureLogger applies the log section to a logrus logger.
func (c *Config) ConfigureLogger(l *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	l.SetLevel(level)
	if c.Log.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

const defaultTemplate = `stages:
  reserve_on_invite: true

projects:
  default_visibility: PUBLIC
  default_max_storage_size: 2147483648

redis:
  addr: ""
  db: 0
  channel: projectservice.events

log:
  level: info
  format: text
`
