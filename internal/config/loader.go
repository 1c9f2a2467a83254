package config

import (
	goerrors "errors"
	"strings"

	"github.com/spf13/viper"

	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/errors"
)

// EnvPrefix is prepended to every environment override, e.g. ACCESSGATE_JWT_SECRET.
const EnvPrefix = "ACCESSGATE"

// LoadConfig loads the configuration from defaults, an optional file and environment variables.
// An empty path searches ./config.yaml, ./configs/config.yaml and /etc/accessgate/config.yaml.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/accessgate/")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !goerrors.As(err, &notFound) {
			return nil, errors.ErrInvalidConfig("failed to read config file").WithCause(err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ErrInvalidConfig("failed to unmarshal config").WithCause(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", constants.DefaultShutdownTimeout)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("grpc.enabled", false)
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", constants.DefaultIssuer)
	v.SetDefault("jwt.access_audience", constants.DefaultAccessAudience)
	v.SetDefault("jwt.refresh_audience", constants.DefaultRefreshAudience)
	v.SetDefault("jwt.access_token_ttl", constants.DefaultAccessTokenTTL)
	v.SetDefault("jwt.refresh_token_ttl", constants.DefaultRefreshTokenTTL)
	v.SetDefault("jwt.clock_skew_tolerance", constants.DefaultClockSkewTolerance)
	v.SetDefault("jwt.rotation_limit", constants.DefaultRotationLimit)
	v.SetDefault("jwt.issuance_limit_per_minute", constants.DefaultIssuanceLimitPerMinute)
	v.SetDefault("jwt.cleanup_interval", constants.DefaultCleanupInterval)

	v.SetDefault("rate_limit.default_ip_limit", constants.DefaultIPLimitPerMinute)
	v.SetDefault("rate_limit.default_user_limit", constants.DefaultUserLimitPerMinute)
	v.SetDefault("rate_limit.burst_multiplier", constants.DefaultBurstMultiplier)
	v.SetDefault("rate_limit.cleanup_interval", constants.DefaultCleanupInterval)

	v.SetDefault("policy.file", "configs/policy.yaml")
	v.SetDefault("policy.watch", true)

	v.SetDefault("security.public_endpoints", []string{
		"/api/health",
		"/health",
		"/ready",
		"/live",
		"/metrics",
		"/api/auth/login",
		"/api/auth/refresh",
	})
	v.SetDefault("security.bypass_methods", []string{"HEAD"})
	v.SetDefault("security.bypass_prefixes", []string{"/api/health", "/health", "/metrics", "/ready", "/live"})
	v.SetDefault("security.sensitive_prefixes", []string{"/api/auth", "/api/admin", "/api/security"})
	v.SetDefault("security.service_key_header", constants.HeaderServiceKey)
	v.SetDefault("security.hsts_max_age", 31536000)

	v.SetDefault("audit.sinks", []string{"log"})
	v.SetDefault("audit.buffer_size", constants.DefaultAuditBufferSize)
	v.SetDefault("audit.stream", constants.DefaultAuditStream)
	v.SetDefault("audit.stream_max_len", constants.DefaultAuditStreamMaxLen)
	v.SetDefault("audit.topic", constants.DefaultAuditTopic)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.batch_timeout", "100ms")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "accessgate-audit.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "http://127.0.0.1:8200")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "accessgate/jwt")
	v.SetDefault("vault.secret_key", "signing_secret")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.service_name", constants.ServiceName)
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("monitoring.metrics_enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.pprof_enabled", false)
}

//Personal.AI order the ending
