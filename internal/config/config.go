package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models eventline.yml.
type Config struct {
	Oracle Oracle `yaml:"oracle"`
	Loop struct {
		MaxIterations int `yaml:"max_iterations"`
	} `yaml:"loop"`
	Booking Booking `yaml:"booking"`
	Catalog struct {
		Allowed []string `yaml:"allowed"`
	} `yaml:"catalog"`
	Server struct {
		Addr         string `yaml:"addr"`
		BasePath     string `yaml:"base_path"`
		JWTSecretEnv string `yaml:"jwt_secret_env"`
	} `yaml:"server"`
	Logging struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`
}

type Oracle struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
	Script    string        `yaml:"script"`
}

type Booking struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	Retries         int           `yaml:"retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	StepDelay       time.Duration `yaml:"step_delay"`
	PollAttempts    int           `yaml:"poll_attempts"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	Country         string        `yaml:"country"`
	Templates       map[int]int64 `yaml:"templates"`
	DefaultTemplate int64         `yaml:"default_template"`
}

// TemplateFor picks the event template for an event lasting days.
func (b Booking) TemplateFor(days int) int64 {
	if id, ok := b.Templates[days]; ok {
		return id
	}
	return b.DefaultTemplate
}

var providers = map[string]bool{"openai": true, "gemini": true, "scripted": true}

// Load reads and validates config from workspace, falling back to defaults
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !providers[c.Oracle.Provider] {
		return fmt.Errorf("config.oracle.provider must be one of openai, gemini, scripted")
	}
	if c.Oracle.Provider == "scripted" && c.Oracle.Script == "" {
		return fmt.Errorf("config.oracle.script is required for the scripted provider")
	}
	if c.Oracle.Provider != "scripted" && c.Oracle.Model == "" {
		return fmt.Errorf("config.oracle.model is required")
	}
	if c.Loop.MaxIterations <= 0 {
		return fmt.Errorf("config.loop.max_iterations must be > 0")
	}
	if c.Booking.BaseURL == "" {
		return fmt.Errorf("config.booking.base_url is required")
	}
	if c.Booking.Retries < 0 {
		return fmt.Errorf("config.booking.retries must be >= 0")
	}
	if c.Booking.PollAttempts <= 0 {
		return fmt.Errorf("config.booking.poll_attempts must be > 0")
	}
	if c.Booking.DefaultTemplate == 0 {
		return fmt.Errorf("config.booking.default_template is required")
	}
	for days := range c.Booking.Templates {
		if days <= 0 {
			return fmt.Errorf("config.booking.templates has invalid day count %d", days)
		}
	}
	for _, name := range c.Catalog.Allowed {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.catalog.allowed contains an empty category")
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level %q is not a level", c.Logging.Level)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "eventline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
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

const defaultTemplate = `oracle:
  provider: openai
  model: gpt-4o-mini
  base_url: https://api.openai.com/v1
  api_key_env: OPENAI_API_KEY
  timeout: 120s

loop:
  max_iterations: 25

booking:
  base_url: http://localhost:8000
  timeout: 30s
  retries: 3
  retry_backoff: 500ms
  step_delay: 500ms
  poll_attempts: 5
  poll_interval: 500ms
  country: Sweden
  templates:
    1: 1240021
    2: 1239948
    3: 1227509
  default_template: 1240021

catalog:
  allowed:
    - activity
    - hotel
    - conference_meeting_space
    - event_space
    - party_space
    - restaurant
    - bus
    - Transportation
    - Catering
    - Yoga

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret_env: EVENTLINE_JWT_SECRET

logging:
  level: info
  json: false
`
