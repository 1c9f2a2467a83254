// Package service defines the domain contracts of the access-control pipeline and
// hosts the token service implementation.
// Package service 定义访问控制管道的领域契约，并包含令牌服务实现。
package service

import (
	"context"
	"time"

	"github.com/turtacn/accessgate/internal/domain/models"
)

// RateLimiter admits or denies requests before any other work happens.
// RateLimiter 在任何其他处理之前决定是否接纳请求。
type RateLimiter interface {
	// Check consumes one token from the caller's IP, user and endpoint buckets for the rule matching req.Path.
	// An empty userID skips the user bucket. A request matching no rule is allowed unenforced.
	// Check 为匹配 req.Path 的规则从 IP、用户和端点桶中各消耗一个令牌。
	Check(ctx context.Context, req *models.RequestInfo, userID string) (*models.RateLimitResult, error)

	// AddRule registers a rule at runtime.
	// AddRule 在运行时注册规则。
	AddRule(rule models.RateLimitRule) error

	// Status reports the caller's current buckets.
	// Status 返回调用方当前的桶状态。
	Status(clientIP, userID string) *models.RateLimitStatus

	// Stats summarises limiter state.
	// Stats 汇总限流器状态。
	Stats() *models.RateLimitStats
}

// TokenService issues and verifies signed tokens and manages refresh rotation and revocation.
// TokenService 签发并验证签名令牌，管理刷新令牌轮换与吊销。
type TokenService interface {
	// IssueAccessToken mints an access token for the identity in req.
	// IssueAccessToken 为 req 中的身份签发访问令牌。
	IssueAccessToken(ctx context.Context, req models.IssueRequest) (string, *models.TokenClaims, error)

	// IssueRefreshToken mints a refresh token and records it server-side.
	// IssueRefreshToken 签发刷新令牌并在服务端记录。
	IssueRefreshToken(ctx context.Context, req models.IssueRequest) (string, *models.TokenClaims, error)

	// IssueTokenPair mints an access and a refresh token bound to one session.
	// IssueTokenPair 签发绑定同一会话的访问令牌与刷新令牌。
	IssueTokenPair(ctx context.Context, req models.IssueRequest) (*models.TokenPair, error)

	// Verify checks revocation, signature, expiry (with skew tolerance), type and audience.
	// Verify 检查吊销状态、签名、有效期（含时钟偏差容忍）、类型与受众。
	Verify(ctx context.Context, token string, expected models.TokenType) (*models.TokenClaims, error)

	// Refresh rotates a refresh token into a new token pair. Each refresh token is single-use.
	// Refresh 将刷新令牌轮换为新的令牌对，每个刷新令牌只能使用一次。
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)

	// Revoke blacklists the token and marks any tracked refresh record revoked.
	// Revoke 将令牌加入黑名单并标记对应的刷新记录为已吊销。
	Revoke(ctx context.Context, token string) error

	// RevokeAll revokes every tracked refresh token of userID except the given session.
	// RevokeAll 吊销 userID 除指定会话外的全部刷新令牌。
	RevokeAll(ctx context.Context, userID, exceptSession string) (int, error)

	// Inspect decodes a token with a verified signature, ignoring expiry.
	// Inspect 在验证签名但忽略过期的情况下解析令牌。
	Inspect(ctx context.Context, token string) (*models.TokenInfo, error)

	// CleanupExpired sweeps expired refresh records and their revocation entries.
	// CleanupExpired 清理过期的刷新记录及其黑名单条目。
	CleanupExpired(ctx context.Context) int

	// Stats summarises tracked state.
	// Stats 汇总跟踪状态。
	Stats() models.TokenServiceStats
}

// PolicyEngine makes declarative authorization decisions.
// PolicyEngine 做出声明式的授权决策。
type PolicyEngine interface {
	// Evaluate decides whether claims (nil for anonymous callers) may access req.
	// A non-nil error means the engine itself failed; callers must treat it as a denial.
	// Evaluate 判断 claims 能否访问 req；返回错误表示引擎故障，调用方必须视为拒绝。
	Evaluate(ctx context.Context, req *models.RequestInfo, clientIP string, claims *models.TokenClaims) (*models.PolicyDecision, error)

	// EffectivePermissions returns a role's permissions including inherited ones.
	// EffectivePermissions 返回角色包含继承在内的全部权限。
	EffectivePermissions(role string) []string

	// Roles lists the loaded roles.
	// Roles 列出已加载的角色。
	Roles() []models.Role

	// Settings returns the loaded document-wide settings.
	// Settings 返回已加载的全局设置。
	Settings() models.SecuritySettings
}

// AuditSink persists audit events.
// AuditSink 持久化审计事件。
type AuditSink interface {
	Write(ctx context.Context, event *models.AuditEvent) error
	Close() error
}

// SecretProvider supplies the symmetric token signing secret.
// SecretProvider 提供对称令牌签名密钥。
type SecretProvider interface {
	SigningSecret(ctx context.Context) ([]byte, error)
}

// TokenSigner signs and parses the gate's tokens.
// TokenSigner 负责令牌的签名与解析。
type TokenSigner interface {
	Sign(claims *models.TokenClaims) (string, error)
	// Parse verifies the signature and the time-based claims.
	Parse(token string) (*models.TokenClaims, error)
	// ParseSignatureOnly verifies the signature and ignores exp, nbf and iat.
	ParseSignatureOnly(token string) (*models.TokenClaims, error)
	// Decode reads the claims without any verification.
	Decode(token string) (*models.TokenClaims, error)
}

// RevocationStore is the token blacklist, keyed by jti.
// RevocationStore 是以 jti 为键的令牌黑名单。
type RevocationStore interface {
	// Add blacklists jti for ttl; a non-positive ttl keeps it until removed.
	Add(jti string, ttl time.Duration)
	Contains(jti string) bool
	Remove(jti string)
	Len() int
}

// WindowCounter admits at most limit events per key in any window-long interval.
// WindowCounter 在任意窗口长度的区间内每个键最多接纳 limit 个事件。
type WindowCounter interface {
	Allow(key string, limit int, window time.Duration) bool
}
