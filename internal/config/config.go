// ABOUTME: Configuration loading and parsing for runbook-gateway
// ABOUTME: Supports YAML files with environment variable expansion and deployment-mode validation

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Deployment modes. Production deployments enforce stricter auth rules.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// Permission provider implementation names.
const (
	ProviderLocal = "local"
	ProviderGraph = "graph"
)

// Config represents the complete runbook-gateway configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
// Production mode requires an OIDC issuer and rejects shared-secret auth.
// Non-production requires at least one of {issuer, shared secret}.
type AuthConfig struct {
	Mode              string `yaml:"mode"`
	OIDCIssuer        string `yaml:"oidc_issuer"`
	OIDCAudience      string `yaml:"oidc_audience"`
	APIKeyIssuer      string `yaml:"api_key_issuer"`
	SharedSecret      string `yaml:"shared_secret"`
	AllowSharedSecret bool   `yaml:"allow_shared_secret"`
}

// PermissionsConfig selects and configures the permission provider implementation
type PermissionsConfig struct {
	Provider string      `yaml:"provider"` // "local" or "graph"
	Graph    GraphConfig `yaml:"graph"`
}

// GraphConfig holds relationship-graph service connection parameters
type GraphConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Token           string `yaml:"token"`
	FullyConsistent bool   `yaml:"fully_consistent"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IsProduction reports whether the deployment mode is production.
// An empty mode is treated as production so a missing value never
// weakens auth rules.
func (c *Config) IsProduction() bool {
	return c.Auth.Mode == "" || c.Auth.Mode == ModeProduction
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Auth.Mode != "" && c.Auth.Mode != ModeProduction && c.Auth.Mode != ModeDevelopment {
		return fmt.Errorf("auth.mode must be %q or %q, got %q", ModeProduction, ModeDevelopment, c.Auth.Mode)
	}

	if c.IsProduction() {
		if c.Auth.OIDCIssuer == "" {
			return fmt.Errorf("auth.oidc_issuer is required in production mode")
		}
		if c.Auth.AllowSharedSecret {
			return fmt.Errorf("auth.allow_shared_secret must be false in production mode")
		}
	} else {
		if c.Auth.OIDCIssuer == "" && c.Auth.SharedSecret == "" {
			return fmt.Errorf("at least one of auth.oidc_issuer or auth.shared_secret is required")
		}
	}

	if c.Auth.AllowSharedSecret && c.Auth.SharedSecret == "" {
		return fmt.Errorf("auth.shared_secret is required when auth.allow_shared_secret is set")
	}

	switch c.Permissions.Provider {
	case "", ProviderLocal, ProviderGraph:
	default:
		return fmt.Errorf("permissions.provider must be %q or %q, got %q", ProviderLocal, ProviderGraph, c.Permissions.Provider)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}
