// Package config holds the accessgate configuration tree and its viper loader.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/errors"
)

// Config holds the application's configuration.
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	GRPC        GRPCConfig       `mapstructure:"grpc"`
	Log         LogConfig        `mapstructure:"log"`
	JWT         JWTConfig        `mapstructure:"jwt"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
	Policy      PolicyConfig     `mapstructure:"policy"`
	Security    SecurityConfig   `mapstructure:"security"`
	Audit       AuditConfig      `mapstructure:"audit"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Vault       VaultConfig      `mapstructure:"vault"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
	Monitoring  MonitoringConfig `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr returns the HTTP listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// JWTConfig configures token issuance and verification.
// The signing secret comes from Secret, or from Vault when vault.enabled is set.
type JWTConfig struct {
	Secret                 string        `mapstructure:"secret"`
	Issuer                 string        `mapstructure:"issuer"`
	AccessAudience         string        `mapstructure:"access_audience"`
	RefreshAudience        string        `mapstructure:"refresh_audience"`
	AccessTokenTTL         time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL        time.Duration `mapstructure:"refresh_token_ttl"`
	ClockSkewTolerance     time.Duration `mapstructure:"clock_skew_tolerance"`
	RotationLimit          int           `mapstructure:"rotation_limit"`
	IssuanceLimitPerMinute int           `mapstructure:"issuance_limit_per_minute"`
	CleanupInterval        time.Duration `mapstructure:"cleanup_interval"`
}

// ToTokenServiceConfig maps the jwt section onto the token service settings.
func (c JWTConfig) ToTokenServiceConfig() service.TokenServiceConfig {
	return service.TokenServiceConfig{
		Issuer:          c.Issuer,
		AccessAudience:  c.AccessAudience,
		RefreshAudience: c.RefreshAudience,
		AccessTTL:       c.AccessTokenTTL,
		RefreshTTL:      c.RefreshTokenTTL,
		ClockSkew:       c.ClockSkewTolerance,
		RotationLimit:   c.RotationLimit,
		IssuanceLimit:   c.IssuanceLimitPerMinute,
	}
}

// RateLimitRuleConfig is one configured path rule. Enabled defaults to true when omitted.
type RateLimitRuleConfig struct {
	Pattern           string `mapstructure:"pattern"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	BurstCapacity     int    `mapstructure:"burst_capacity"`
	WindowSeconds     int    `mapstructure:"window_seconds"`
	Enabled           *bool  `mapstructure:"enabled"`
	Priority          int    `mapstructure:"priority"`
}

type RateLimitConfig struct {
	DefaultIPLimit   int                   `mapstructure:"default_ip_limit"`
	DefaultUserLimit int                   `mapstructure:"default_user_limit"`
	BurstMultiplier  float64               `mapstructure:"burst_multiplier"`
	CleanupInterval  time.Duration         `mapstructure:"cleanup_interval"`
	Rules            []RateLimitRuleConfig `mapstructure:"rules"`
}

// ToRules converts configured rules to domain rules, falling back to the built-in table.
func (c RateLimitConfig) ToRules() []models.RateLimitRule {
	if len(c.Rules) == 0 {
		return models.DefaultRateLimitRules()
	}
	rules := make([]models.RateLimitRule, 0, len(c.Rules))
	for _, r := range c.Rules {
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		window := r.WindowSeconds
		if window <= 0 {
			window = 60
		}
		rules = append(rules, models.RateLimitRule{
			Pattern:           r.Pattern,
			RequestsPerMinute: r.RequestsPerMinute,
			BurstCapacity:     r.BurstCapacity,
			WindowSeconds:     window,
			Enabled:           enabled,
			Priority:          r.Priority,
		})
	}
	return rules
}

type PolicyConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

// SecurityConfig drives the middleware stages that sit outside the three core components.
type SecurityConfig struct {
	PublicEndpoints   []string `mapstructure:"public_endpoints"`
	BypassMethods     []string `mapstructure:"bypass_methods"`
	BypassPrefixes    []string `mapstructure:"bypass_prefixes"`
	SensitivePrefixes []string `mapstructure:"sensitive_prefixes"`
	ServiceKeyHeader  string   `mapstructure:"service_key_header"`
	HSTSMaxAge        int      `mapstructure:"hsts_max_age"`
}

// AuditConfig selects the audit sinks. A non-empty SigningKey adds an HMAC signature to
// events written to Kafka and Redis.
type AuditConfig struct {
	Sinks      []string `mapstructure:"sinks"`
	BufferSize int      `mapstructure:"buffer_size"`
	Stream     string   `mapstructure:"stream"`
	StreamMax  int64    `mapstructure:"stream_max_len"`
	Topic      string   `mapstructure:"topic"`
	SigningKey string   `mapstructure:"signing_key"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"`
	SecretKey  string `mapstructure:"secret_key"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

type MonitoringConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsPath    string `mapstructure:"metrics_path"`
	PprofEnabled   bool   `mapstructure:"pprof_enabled"`
}

// IsDevelopment reports whether the service runs with development relaxations.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate checks the configuration for values that would make the gate unsafe or unusable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.ErrInvalidConfig(fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 {
		return errors.ErrInvalidConfig("jwt token TTLs must be positive")
	}
	if c.JWT.RefreshTokenTTL <= c.JWT.AccessTokenTTL {
		return errors.ErrInvalidConfig("jwt.refresh_token_ttl must exceed jwt.access_token_ttl")
	}
	if c.JWT.ClockSkewTolerance < 0 {
		return errors.ErrInvalidConfig("jwt.clock_skew_tolerance must not be negative")
	}
	if c.JWT.AccessAudience == c.JWT.RefreshAudience {
		return errors.ErrInvalidConfig("access and refresh audiences must differ")
	}
	if c.JWT.Secret == "" && !c.Vault.Enabled && !c.IsDevelopment() {
		return errors.ErrInvalidConfig("jwt.secret is required unless vault is enabled")
	}
	for _, rule := range c.RateLimit.Rules {
		if rule.Pattern == "" || rule.RequestsPerMinute <= 0 {
			return errors.ErrInvalidConfig(fmt.Sprintf("rate_limit rule %q needs a pattern and a positive requests_per_minute", rule.Pattern))
		}
	}
	for _, sink := range c.Audit.Sinks {
		switch sink {
		case "log", "kafka", "redis", "database":
		default:
			return errors.ErrInvalidConfig(fmt.Sprintf("unknown audit sink %q", sink))
		}
	}
	if c.GRPC.Enabled && c.GRPC.Port == c.Server.Port {
		return errors.ErrInvalidConfig("grpc.port must differ from server.port")
	}
	return nil
}

// DefaultLogLevel returns the configured level as a typed constant.
func (c LogConfig) DefaultLogLevel() constants.LogLevel {
	return constants.LogLevel(c.Level)
}
