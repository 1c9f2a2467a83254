package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes access tokens from refresh tokens.
// TokenType 区分访问令牌与刷新令牌。
type TokenType string

const (
	// TokenTypeAccess is a short-lived token presented on every request.
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh is a long-lived, single-use token exchanged for a new pair.
	TokenTypeRefresh TokenType = "refresh"
)

// Valid reports whether t is one of the known token types.
func (t TokenType) Valid() bool {
	return t == TokenTypeAccess || t == TokenTypeRefresh
}

// TokenClaims is the payload of every token the gate issues.
// It embeds the standard jwt.RegisteredClaims (sub, iat, exp, nbf, aud, iss, jti)
// and adds the caller's role, permissions and session binding.
// TokenClaims 是网关签发的每个令牌的载荷。
// 它嵌入标准的 jwt.RegisteredClaims，并添加角色、权限和会话绑定。
type TokenClaims struct {
	jwt.RegisteredClaims
	// Role is the caller's RBAC role.
	// Role 是调用方的 RBAC 角色。
	Role string `json:"role"`
	// Permissions are the permissions granted to the caller at issuance.
	// Permissions 是签发时授予调用方的权限。
	Permissions []string `json:"permissions"`
	// SessionID binds access and refresh tokens of one login session.
	// SessionID 绑定同一登录会话的访问令牌与刷新令牌。
	SessionID string `json:"session_id"`
	// TokenType is either "access" or "refresh".
	// TokenType 为 "access" 或 "refresh"。
	TokenType TokenType `json:"token_type"`
	// DeviceID identifies the device the session was opened on, if any.
	// DeviceID 标识会话所在的设备（如有）。
	DeviceID string `json:"device_id,omitempty"`
}

// HasAudience reports whether aud is among the token's audiences.
func (c *TokenClaims) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

// HasPermission reports whether the token carries permission p.
func (c *TokenClaims) HasPermission(p string) bool {
	for _, granted := range c.Permissions {
		if granted == p {
			return true
		}
	}
	return false
}

// IssueRequest describes the identity a new token pair is minted for.
type IssueRequest struct {
	Subject     string
	Role        string
	Permissions []string
	SessionID   string
	DeviceID    string
}

// TokenPair is returned by issuance and rotation.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresIn int64     `json:"refresh_expires_in,omitempty"`
	SessionID        string    `json:"session_id"`
	IssuedAt         time.Time `json:"issued_at"`
}

// TokenInfo is the introspection view of a token.
type TokenInfo struct {
	JTI       string    `json:"jti"`
	Subject   string    `json:"user_id"`
	TokenType TokenType `json:"token_type"`
	Role      string    `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Expired   bool      `json:"is_expired"`
	Revoked   bool      `json:"is_revoked"`
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id,omitempty"`
}
