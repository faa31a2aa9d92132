package gateway

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/audit"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/bridge"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/security"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/session"
)

// Config holds the complete gateway configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Bridge   bridge.Config           `yaml:"bridge"`
	Session  SessionConfig           `yaml:"session"`
	Database DatabaseConfig          `yaml:"database"`
	Security security.GateConfig     `yaml:"security"`
	Identity security.IdentityConfig `yaml:"identity"`
	Audit    audit.Config            `yaml:"audit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Address string `yaml:"address"`

	// ShutdownGrace bounds how long draining waits for live sessions.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// SessionConfig configures the session registry.
type SessionConfig struct {
	MaxSessions   int           `yaml:"max_sessions"`
	Timeout       time.Duration `yaml:"timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RegistryConfig converts to the registry's own config type.
func (c SessionConfig) RegistryConfig() session.Config {
	return session.Config{
		MaxSessions:   c.MaxSessions,
		Timeout:       c.Timeout,
		SweepInterval: c.SweepInterval,
	}
}

// DatabaseConfig configures the backing database connection.
type DatabaseConfig struct {
	// Driver is the database/sql driver name.
	Driver string `yaml:"driver"`

	// DSN is the connection string.
	DSN string `yaml:"dsn"`

	// MaxOpenConns caps the connection pool. Defaults to 25.
	MaxOpenConns int `yaml:"max_open_conns"`

	// AuditDSN, when set, is a separate database for the audit table.
	AuditDSN string `yaml:"audit_dsn"`
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by
// the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration with ${VAR} environment expansion
// and defaults applied.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "mcp-firebird-gateway"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "1.0.0"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":3003"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 30 * time.Second
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Audit.Detail == "" {
		cfg.Audit.Detail = audit.DetailBasic
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.UpstreamURL != "" && !strings.HasPrefix(c.Bridge.UpstreamURL, "http://") &&
		!strings.HasPrefix(c.Bridge.UpstreamURL, "https://") {
		errs = append(errs, "bridge.upstream_url must be an http(s) URL")
	}
	if c.Database.DSN != "" && c.Database.Driver == "" {
		errs = append(errs, "database.driver is required when database.dsn is set")
	}
	if c.Audit.Enabled && c.Audit.FilePath == "" && c.Audit.TableName == "" && c.Database.AuditDSN == "" {
		errs = append(errs, "audit requires a file_path or a database table destination")
	}
	if len(c.Identity.APIKeys) > 0 {
		for _, k := range c.Identity.APIKeys {
			if k.Name == "" || k.Hash == "" {
				errs = append(errs, "identity.api_keys entries need both name and hash")
				break
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
