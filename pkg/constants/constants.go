// Package constants defines system-wide constants for the accessgate service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Token Constants
// ================================================================================

const (
	// BearerScheme is the Authorization header scheme accepted by the gate
	BearerScheme = "Bearer"

	// DefaultAccessTokenTTL is the lifetime of an access token
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the lifetime of a refresh token (30 days)
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	// DefaultClockSkewTolerance is the grace period accepted past a token's expiry
	DefaultClockSkewTolerance = 300 * time.Second

	// DefaultRotationLimit is the maximum number of hops in a refresh rotation chain
	DefaultRotationLimit = 10

	// DefaultIssuanceLimitPerMinute bounds token issuance per subject
	DefaultIssuanceLimitPerMinute = 10

	// DefaultIssuer is the "iss" claim of every issued token
	DefaultIssuer = "accessgate-auth"

	// DefaultAccessAudience is the "aud" claim of access tokens
	DefaultAccessAudience = "accessgate-api"

	// DefaultRefreshAudience is the "aud" claim of refresh tokens
	DefaultRefreshAudience = "accessgate-refresh"

	// RefreshTokenRole is the role claim carried by refresh tokens
	RefreshTokenRole = "refresh"

	// GuestRole is the effective role when a request carries no role
	GuestRole = "guest"

	// AdminRole may revoke and introspect tokens of other subjects
	AdminRole = "admin"
)

// ================================================================================
// Rate Limit Constants
// ================================================================================

const (
	// DefaultIPLimitPerMinute is the default IP budget when no rule overrides it
	DefaultIPLimitPerMinute = 60

	// DefaultUserLimitPerMinute is the floor for per-user bucket capacity
	DefaultUserLimitPerMinute = 120

	// DefaultBurstMultiplier scales the per-user burst allowance
	DefaultBurstMultiplier = 2.0

	// EndpointCapacityMultiplier sizes the shared endpoint bucket relative to its rule
	EndpointCapacityMultiplier = 10

	// EndpointBurstMultiplier sizes the shared endpoint burst relative to its rule
	EndpointBurstMultiplier = 5

	// EndpointRetryAfterSeconds is the fixed retry hint for endpoint-level denials
	EndpointRetryAfterSeconds = 60

	// BurstResetInterval is the idle period after which burst usage is forgiven
	BurstResetInterval = 60 * time.Second

	// DefaultCleanupInterval is how often stale limiter state is pruned
	DefaultCleanupInterval = 5 * time.Minute

	// HistoryRetention is how long request history entries are kept
	HistoryRetention = time.Hour

	// ClientBucketMaxIdle is the idle threshold for IP and user buckets
	ClientBucketMaxIdle = 30 * time.Minute

	// EndpointBucketMaxIdle is the idle threshold for shared endpoint buckets
	EndpointBucketMaxIdle = 2 * time.Hour

	// MaxHistoryPerKey bounds the request history kept per ip:path key
	MaxHistoryPerKey = 1000

	// TopIPCount is the number of busiest IPs reported in limiter statistics
	TopIPCount = 10

	// DefaultPublicRequestsPerMinute is the IP window applied to public policies
	DefaultPublicRequestsPerMinute = 10

	// DefaultWindow is the sliding window length used by policy and issuance limits
	DefaultWindow = time.Minute
)

// LimitScope identifies which bucket denied a request
type LimitScope string

const (
	// LimitScopeNone means no rule applied
	LimitScopeNone LimitScope = ""

	// LimitScopeIP is the per-client-IP bucket
	LimitScopeIP LimitScope = "ip"

	// LimitScopeUser is the per-authenticated-user bucket
	LimitScopeUser LimitScope = "user"

	// LimitScopeEndpoint is the shared per-route bucket
	LimitScopeEndpoint LimitScope = "endpoint"
)

// ================================================================================
// HTTP Header Constants
// ================================================================================

const (
	HeaderAuthorization      = "Authorization"
	HeaderForwardedFor       = "X-Forwarded-For"
	HeaderRealIP             = "X-Real-IP"
	HeaderCDNRealIP          = "CF-Connecting-IP"
	HeaderForwardedProto     = "X-Forwarded-Proto"
	HeaderServiceKey         = "X-Service-Key"
	HeaderRequestID          = "X-Request-ID"
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderProcessingTime     = "X-Processing-Time"
	HeaderServer             = "Server"
	HeaderPoweredBy          = "X-Powered-By"
)

// UnknownClientIP is reported when no client address can be resolved
const UnknownClientIP = "unknown"

// ================================================================================
// Error Code Constants
// ================================================================================

// ErrorCode represents standardized error codes returned to clients
type ErrorCode string

const (
	ErrCodeMissingToken          ErrorCode = "missing_token"
	ErrCodeInvalidToken          ErrorCode = "invalid_token"
	ErrCodeTokenExpired          ErrorCode = "token_expired"
	ErrCodeTokenRevoked          ErrorCode = "token_revoked"
	ErrCodeInvalidTokenType      ErrorCode = "invalid_token_type"
	ErrCodeInvalidAudience       ErrorCode = "invalid_audience"
	ErrCodeRefreshTokenInvalid   ErrorCode = "invalid_refresh_token"
	ErrCodeRotationLimitExceeded ErrorCode = "rotation_limit_exceeded"
	ErrCodeIssuanceRateLimited   ErrorCode = "issuance_rate_limited"
	ErrCodeUnauthenticated       ErrorCode = "unauthenticated"
	ErrCodeForbidden             ErrorCode = "forbidden"
	ErrCodeRateLimitExceeded     ErrorCode = "rate_limit_exceeded"
	ErrCodeInvalidRequest        ErrorCode = "invalid_request"
	ErrCodeInvalidPolicy         ErrorCode = "invalid_policy"
	ErrCodeInvalidConfig         ErrorCode = "invalid_config"
	ErrCodeInternal              ErrorCode = "internal_error"
)

// ================================================================================
// Audit Constants
// ================================================================================

// AuditDecision records the outcome of the security pipeline for one request
type AuditDecision string

const (
	AuditDecisionAllowed     AuditDecision = "allowed"
	AuditDecisionBypassed    AuditDecision = "bypassed"
	AuditDecisionRateLimited AuditDecision = "rate_limited"
	AuditDecisionDenied      AuditDecision = "denied"
	AuditDecisionError       AuditDecision = "error"
)

const (
	// DefaultAuditBufferSize is the capacity of the asynchronous audit queue
	DefaultAuditBufferSize = 1024

	// DefaultAuditStream is the Redis stream audit events are appended to
	DefaultAuditStream = "accessgate:audit"

	// DefaultAuditStreamMaxLen caps the Redis audit stream length (approximate trimming)
	DefaultAuditStreamMaxLen = 100000

	// DefaultAuditTopic is the Kafka topic audit events are produced to
	DefaultAuditTopic = "accessgate-audit"
)

// ================================================================================
// Context Key Constants
// ================================================================================

// ContextKey represents keys used in context.Context
type ContextKey string

const (
	// ContextKeyRequestID is the key for request ID in context
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID is the key for distributed trace ID in context
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyClientIP is the key for client IP address in context
	ContextKeyClientIP ContextKey = "client_ip"

	// ContextKeyIdentity is the key for the verified caller identity in context
	ContextKeyIdentity ContextKey = "identity"
)

// ================================================================================
// Logging Constants
// ================================================================================

// LogLevel represents the severity level of log messages
type LogLevel string

const (
	// LogLevelDebug is the most verbose logging level
	LogLevelDebug LogLevel = "debug"

	// LogLevelInfo is the standard informational logging level
	LogLevelInfo LogLevel = "info"

	// LogLevelWarn indicates potential issues
	LogLevelWarn LogLevel = "warn"

	// LogLevelError indicates errors that need attention
	LogLevelError LogLevel = "error"

	// LogLevelFatal indicates critical errors that cause service termination
	LogLevelFatal LogLevel = "fatal"
)

// ================================================================================
// Service Constants
// ================================================================================

const (
	// ServiceName is used for tracing resources, metric namespaces and log fields
	ServiceName = "accessgate"

	// MetricsNamespace prefixes every prometheus metric
	MetricsNamespace = "accessgate"

	// DefaultShutdownTimeout bounds graceful shutdown of the HTTP and gRPC servers
	DefaultShutdownTimeout = 15 * time.Second
)

//Personal.AI order the ending
