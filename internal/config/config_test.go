package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_DefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
environment: development
server:
  port: 9090
rate_limit:
  rules:
    - pattern: /api/auth/*
      requests_per_minute: 5
      enabled: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, constants.DefaultAccessTokenTTL, cfg.JWT.AccessTokenTTL)
	assert.Equal(t, constants.DefaultIssuer, cfg.JWT.Issuer)
	assert.Equal(t, []string{"log"}, cfg.Audit.Sinks)
	assert.Equal(t, "/metrics", cfg.Monitoring.MetricsPath)

	rules := cfg.RateLimit.ToRules()
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Enabled)
	assert.Equal(t, 60, rules[0].WindowSeconds)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "environment: production\n")
	t.Setenv("ACCESSGATE_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("ACCESSGATE_JWT_ACCESS_TOKEN_TTL", "5m")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.JWT.Secret)
	assert.Equal(t, 5*time.Minute, cfg.JWT.AccessTokenTTL)
}

func TestLoadConfig_ProductionNeedsSecret(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "environment: production\n"))
	require.Error(t, err)
	gateErr, ok := errors.AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, constants.ErrCodeInvalidConfig, gateErr.Code())
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: "development",
			Server:      ServerConfig{Port: 8080},
			GRPC:        GRPCConfig{Enabled: true, Port: 50051},
			JWT: JWTConfig{
				AccessTokenTTL:  15 * time.Minute,
				RefreshTokenTTL: 24 * time.Hour,
				AccessAudience:  "access",
				RefreshAudience: "refresh",
			},
			Audit: AuditConfig{Sinks: []string{"log", "kafka"}},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"refresh shorter than access", func(c *Config) { c.JWT.RefreshTokenTTL = time.Minute }},
		{"negative skew", func(c *Config) { c.JWT.ClockSkewTolerance = -time.Second }},
		{"shared audience", func(c *Config) { c.JWT.RefreshAudience = "access" }},
		{"production without secret", func(c *Config) { c.Environment = "production" }},
		{"bad rule", func(c *Config) { c.RateLimit.Rules = []RateLimitRuleConfig{{Pattern: "/x"}} }},
		{"unknown sink", func(c *Config) { c.Audit.Sinks = []string{"s3"} }},
		{"port clash", func(c *Config) { c.GRPC.Port = 8080 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
