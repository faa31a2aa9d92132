package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/security"
)

const sampleConfig = `
server:
  name: test-gateway
  address: ":4000"
bridge:
  upstream_url: http://localhost:3003
  endpoint_wait: 2s
session:
  max_sessions: 50
  timeout: 10m
security:
  validator:
    allow_system_tables: false
  authorization:
    allowed_operations: [SELECT]
  limits:
    max_rows: 100
  masking_rules:
    - name: email
      columns: [EMAIL]
      pattern: "@.*"
      replacement: "@hidden"
  row_filters:
    EMPLOYEES: "ACTIVE = TRUE"
identity:
  jwt_signing_key: ${TEST_GW_JWT_KEY}
  allow_anonymous: true
audit:
  enabled: true
  detail: medium
  file_path: /tmp/audit.jsonl
`

func TestParseConfig(t *testing.T) {
	t.Setenv("TEST_GW_JWT_KEY", "hunter2")

	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "test-gateway", cfg.Server.Name)
	assert.Equal(t, ":4000", cfg.Server.Address)
	assert.Equal(t, "http://localhost:3003", cfg.Bridge.UpstreamURL)
	assert.Equal(t, 2*time.Second, cfg.Bridge.EndpointWait)
	assert.Equal(t, 50, cfg.Session.MaxSessions)
	assert.Equal(t, []string{"SELECT"}, cfg.Security.Authz.AllowedOperations)
	assert.Equal(t, 100, cfg.Security.Limits.MaxRows)
	require.Len(t, cfg.Security.MaskingRules, 1)
	assert.Equal(t, "EMAIL", cfg.Security.MaskingRules[0].Columns[0])
	assert.Equal(t, "ACTIVE = TRUE", cfg.Security.RowFilters["EMPLOYEES"])
	assert.Equal(t, "hunter2", cfg.Identity.JWTSigningKey, "env vars expand")
	assert.True(t, cfg.Identity.AllowAnonymous)
	assert.True(t, cfg.Audit.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "mcp-firebird-gateway", cfg.Server.Name)
	assert.Equal(t, ":3003", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownGrace)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte("server: [not a map"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "test-gateway", cfg.Server.Name)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad upstream url", func(c *Config) { c.Bridge.UpstreamURL = "ftp://nope" }},
		{"dsn without driver", func(c *Config) { c.Database.DSN = "db.fdb" }},
		{"audit without destination", func(c *Config) { c.Audit.Enabled = true }},
		{"api key without hash", func(c *Config) {
			c.Identity.APIKeys = append(c.Identity.APIKeys, security.APIKeyDef{Name: "ci"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte("{}"))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
