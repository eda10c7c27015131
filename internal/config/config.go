package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models orderline.yml.
type Config struct {
	Store struct {
		// Backend is "sqlite" (local workspace file) or "http" (remote
		// shared document service).
		Backend   string `yaml:"backend"`
		BaseURL   string `yaml:"base_url"`
		APIKey    string `yaml:"api_key"`
		Orders    string `yaml:"orders_collection"`
		Inventory string `yaml:"inventory_collection"`
	} `yaml:"store"`
	Upstream struct {
		BaseURL         string `yaml:"base_url"`
		Token           string `yaml:"token"`
		PageSize        int    `yaml:"page_size"`
		MaxPages        int    `yaml:"max_pages"`
		BatchSize       int    `yaml:"batch_size"`
		BatchPauseMS    int    `yaml:"batch_pause_ms"`
		CacheTTLMinutes int    `yaml:"cache_ttl_minutes"`
	} `yaml:"upstream"`
	Server struct {
		BasePath  string   `yaml:"base_path"`
		APIKeys   []string `yaml:"api_keys"`
		JWTSecret string   `yaml:"jwt_secret"`
	} `yaml:"server"`
	Reasons struct {
		ValidationBlocked  []string `yaml:"validation_blocked"`
		ValidationCanceled []string `yaml:"validation_canceled"`
		ActivationBlocked  []string `yaml:"activation_blocked"`
		ActivationCanceled []string `yaml:"activation_canceled"`
	} `yaml:"reasons"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with odl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "orderline.yml")
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "", "sqlite":
		c.Store.Backend = "sqlite"
	case "http":
		if c.Store.BaseURL == "" {
			return fmt.Errorf("config.store.base_url is required for http backend")
		}
	default:
		return fmt.Errorf("config.store.backend must be sqlite or http, got %q", c.Store.Backend)
	}
	if c.Upstream.PageSize < 0 {
		return fmt.Errorf("config.upstream.page_size must be positive")
	}
	if c.Upstream.MaxPages < 0 {
		return fmt.Errorf("config.upstream.max_pages must be positive")
	}
	if c.Upstream.BatchSize < 0 {
		return fmt.Errorf("config.upstream.batch_size must be positive")
	}
	for name, list := range map[string][]string{
		"reasons.validation_blocked":  c.Reasons.ValidationBlocked,
		"reasons.validation_canceled": c.Reasons.ValidationCanceled,
		"reasons.activation_blocked":  c.Reasons.ActivationBlocked,
		"reasons.activation_canceled": c.Reasons.ActivationCanceled,
	} {
		for _, code := range list {
			if code == "" {
				return fmt.Errorf("config.%s contains an empty reason code", name)
			}
		}
	}
	return nil
}

// ValidationReasonAllowed checks a reason code against the vocabulary for
// the target validation state. An empty vocabulary accepts any non-empty
// code.
func (c *Config) ValidationReasonAllowed(state, code string) bool {
	switch state {
	case "blocked":
		return allowed(c.Reasons.ValidationBlocked, code)
	case "canceled":
		return allowed(c.Reasons.ValidationCanceled, code)
	default:
		return true
	}
}

// ActivationReasonAllowed checks a reason code against the vocabulary for
// the target activation state.
func (c *Config) ActivationReasonAllowed(state, code string) bool {
	switch state {
	case "blocked":
		return allowed(c.Reasons.ActivationBlocked, code)
	case "canceled":
		return allowed(c.Reasons.ActivationCanceled, code)
	default:
		return true
	}
}

func allowed(vocab []string, code string) bool {
	if code == "" {
		return false
	}
	if len(vocab) == 0 {
		return true
	}
	for _, v := range vocab {
		if v == code {
			return true
		}
	}
	return false
}

const defaultTemplate = `store:
  backend: sqlite
  orders_collection: orders
  inventory_collection: inventory

upstream:
  base_url: ""
  token: ""
  page_size: 100
  max_pages: 50
  batch_size: 5
  batch_pause_ms: 500
  cache_ttl_minutes: 10

server:
  base_path: /v0
  api_keys: []
  jwt_secret: ""

reasons:
  validation_blocked:
    - missing_documents
    - address_unverifiable
    - payment_refused
  validation_canceled:
    - customer_withdrawal
    - duplicate_entry
    - ineligible
  activation_blocked:
    - no_line_available
    - appointment_missed
    - equipment_unavailable
  activation_canceled:
    - customer_withdrawal
    - technical_impossibility
`
