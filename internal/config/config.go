package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models cohortdash.yml.
type Config struct {
	Upstream struct {
		Host           string `yaml:"host"`
		Token          string `yaml:"token"`
		Academy        int    `yaml:"academy"`
		Language       string `yaml:"language"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"upstream"`
	Site struct {
		Domain          string   `yaml:"domain"`
		WebsiteURL      string   `yaml:"website_url"`
		Syllabus        string   `yaml:"syllabus"`
		StaticPages     []string `yaml:"static_pages"`
		PrivatePrefixes []string `yaml:"private_prefixes"`
	} `yaml:"site"`
	Dashboard struct {
		OverdueDays         int    `yaml:"overdue_days"`
		TaskLimit           int    `yaml:"task_limit"`
		CleanupDelaySeconds int    `yaml:"cleanup_delay_seconds"`
		NoInstructions      string `yaml:"no_instructions"`
		FallbackRoute       string `yaml:"fallback_route"`
	} `yaml:"dashboard"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Log           LogConfig       `yaml:"log"`
	Notifications []WebhookConfig `yaml:"notifications,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WebhookConfig is a notification sink. Hooks listing Events also receive the
// matching sync events while the API server runs.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Statuses       []string `yaml:"statuses"`
	Events         []string `yaml:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Upstream.Host) == "" {
		return fmt.Errorf("config.upstream.host is required")
	}
	if !strings.HasPrefix(c.Upstream.Host, "http://") && !strings.HasPrefix(c.Upstream.Host, "https://") {
		return fmt.Errorf("config.upstream.host must be an http(s) url")
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("config.upstream.timeout_seconds must not be negative")
	}
	if c.Dashboard.OverdueDays <= 0 {
		return fmt.Errorf("config.dashboard.overdue_days must be positive")
	}
	if c.Dashboard.TaskLimit <= 0 {
		return fmt.Errorf("config.dashboard.task_limit must be positive")
	}
	if c.Dashboard.CleanupDelaySeconds < 0 {
		return fmt.Errorf("config.dashboard.cleanup_delay_seconds must not be negative")
	}
	if !strings.HasPrefix(c.Dashboard.FallbackRoute, "/") {
		return fmt.Errorf("config.dashboard.fallback_route must start with /")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	for i, hook := range c.Notifications {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("notification %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("notification %d has negative timeout", i)
		}
	}
	return nil
}

// UpstreamTimeout is the per-request timeout for upstream calls.
func (c *Config) UpstreamTimeout() time.Duration {
	if c.Upstream.TimeoutSeconds == 0 {
		return 0
	}
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// CleanupDelay is how long an invalid cohort session is kept before removal.
func (c *Config) CleanupDelay() time.Duration {
	return time.Duration(c.Dashboard.CleanupDelaySeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cohortdash config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "cohortdash.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults and
// validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
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

// ToYAML renders the config back to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `upstream:
  host: https://breathecode.herokuapp.com
  language: en
  timeout_seconds: 30

site:
  domain: https://4geeks.com
  website_url: https://4geeks.com
  static_pages:
    - /
    - /lesson
    - /interactive-exercises
    - /interactive-coding-tutorials
    - /how-to
    - /login
  private_prefixes:
    - /cohort/
    - /profile
    - /choose-program

dashboard:
  overdue_days: 14
  task_limit: 1000
  cleanup_delay_seconds: 4
  no_instructions: "No instructions for this module"
  fallback_route: /choose-program

server:
  addr: 127.0.0.1:8080
  base_path: /v0

log:
  level: info
  format: json
`
