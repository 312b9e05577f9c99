package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models slam.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	IDs struct {
		Prefix    string `yaml:"prefix"`
		Width     int    `yaml:"width"`
		Driver    string `yaml:"driver"`
		RedisAddr string `yaml:"redis_addr"`
		RedisKey  string `yaml:"redis_key"`
	} `yaml:"ids"`
	Concurrency struct {
		RequireRowVersion bool `yaml:"require_row_version"`
	} `yaml:"concurrency"`
	Auth struct {
		DefaultActor     string `yaml:"default_actor"`
		AllowActorHeader bool   `yaml:"allow_actor_header"`
	} `yaml:"auth"`
	Permissions struct {
		DefaultRole string            `yaml:"default_role"`
		Roles       map[string]Role   `yaml:"roles"`
		Assignments map[string]string `yaml:"assignments"`
	} `yaml:"permissions"`
	Log struct {
		Mode       string `yaml:"mode"`
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Export struct {
		S3Region    string `yaml:"s3_region"`
		S3Endpoint  string `yaml:"s3_endpoint"`
		S3PathStyle bool   `yaml:"s3_path_style"`
	} `yaml:"export"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// WebhookConfig posts activity log entries to an HTTP endpoint.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Actions        []string `yaml:"actions,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Role is a named permission bundle.
type Role struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Known permission ids.
const (
	PermView   = "sla.view"
	PermCreate = "sla.create"
	PermEdit   = "sla.edit"
	PermDelete = "sla.delete"
	PermAdmin  = "admin"
)

var knownPermissions = map[string]struct{}{
	PermView: {}, PermCreate: {}, PermEdit: {}, PermDelete: {}, PermAdmin: {},
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with slam config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.IDs.Prefix == "" {
		return fmt.Errorf("config.ids.prefix is required")
	}
	if c.IDs.Width < 1 || c.IDs.Width > 18 {
		return fmt.Errorf("config.ids.width must be between 1 and 18")
	}
	switch c.IDs.Driver {
	case "sql":
	case "redis":
		if c.IDs.RedisAddr == "" {
			return fmt.Errorf("config.ids.redis_addr is required for driver redis")
		}
	default:
		return fmt.Errorf("config.ids.driver must be 'sql' or 'redis'")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if len(c.Permissions.Roles) == 0 {
		return fmt.Errorf("config.permissions.roles is required")
	}
	for roleID, role := range c.Permissions.Roles {
		if roleID == "" {
			return fmt.Errorf("config.permissions.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if _, ok := knownPermissions[perm]; !ok {
				return fmt.Errorf("role %s has unknown permission %q", roleID, perm)
			}
		}
	}
	if _, ok := c.Permissions.Roles[c.Permissions.DefaultRole]; !ok {
		return fmt.Errorf("config.permissions.default_role %q not defined", c.Permissions.DefaultRole)
	}
	for actor, roleID := range c.Permissions.Assignments {
		if actor == "" {
			return fmt.Errorf("config.permissions.assignments contains empty actor")
		}
		if _, ok := c.Permissions.Roles[roleID]; !ok {
			return fmt.Errorf("actor %s assigned unknown role %s", actor, roleID)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be positive", i)
		}
	}
	switch strings.ToLower(c.Log.Mode) {
	case "", "dev", "development", "prod", "production":
	default:
		return fmt.Errorf("config.log.mode must be development or production")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "slam.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// keep their default values.
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

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

database:
  # empty uses <workspace>/.slam/slam.db; postgres://... switches to Postgres
  dsn: ""

ids:
  prefix: SLA
  width: 6
  driver: sql
  redis_addr: ""
  redis_key: slam:sla:counter

concurrency:
  # when true, updates without rowVersion are rejected instead of last-write-wins
  require_row_version: false

auth:
  default_actor: anonymous
  allow_actor_header: false

permissions:
  default_role: editor
  roles:
    viewer:
      description: "Read-only access"
      permissions: [sla.view]
    editor:
      description: "Create and edit SLAs"
      permissions: [sla.view, sla.create, sla.edit]
    admin:
      description: "Full access including soft delete"
      permissions: [sla.view, sla.create, sla.edit, sla.delete, admin]
  assignments: {}

log:
  mode: development
  level: info
  file: ""
  max_size_mb: 50
  max_backups: 5
  max_age_days: 30

metrics:
  enabled: true
  path: /metrics

export:
  s3_region: us-east-1
  s3_endpoint: ""
  s3_path_style: false

# webhooks:
#   - url: https://hooks.example.com/slam
#     actions: [created, updated, deleted]
#     secret: change-me
#     timeout_seconds: 5
`
