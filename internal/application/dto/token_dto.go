// Package dto holds the request and response bodies of the HTTP API.
package dto

import (
	"time"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/pkg/constants"
)

// TokenIssueRequest 服务令牌签发请求 DTO
type TokenIssueRequest struct {
	Subject     string   `json:"subject" validate:"required,min=1,max=128"`
	Role        string   `json:"role" validate:"required,min=1,max=64"`
	Permissions []string `json:"permissions" validate:"omitempty,dive,min=1,max=128"`
	DeviceID    string   `json:"device_id" validate:"omitempty,max=128"`
	// AccessOnly skips the refresh token.
	AccessOnly bool `json:"access_only"`
}

// ToIssueRequest converts the DTO into the domain issuance request.
func (r *TokenIssueRequest) ToIssueRequest() models.IssueRequest {
	return models.IssueRequest{
		Subject:     r.Subject,
		Role:        r.Role,
		Permissions: r.Permissions,
		DeviceID:    r.DeviceID,
	}
}

// AccessOnlyPair shapes a lone access token like an issuance response without a refresh half.
func AccessOnlyPair(token string, claims *models.TokenClaims) *models.TokenPair {
	pair := &models.TokenPair{
		AccessToken: token,
		TokenType:   constants.BearerScheme,
		SessionID:   claims.SessionID,
	}
	if claims.IssuedAt != nil {
		pair.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil && claims.IssuedAt != nil {
		pair.ExpiresIn = int64(claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time) / time.Second)
	}
	return pair
}

// TokenRefreshRequest 令牌刷新请求 DTO
type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,min=1"`
}

// TokenRevokeRequest 令牌吊销请求 DTO
type TokenRevokeRequest struct {
	Token         string `json:"token" validate:"required,min=1"`
	TokenTypeHint string `json:"token_type_hint" validate:"omitempty,oneof=refresh_token access_token"`
}

// LogoutAllRequest ends every other session of the caller.
type LogoutAllRequest struct {
	// KeepCurrent keeps the session of the presented access token alive.
	KeepCurrent bool `json:"keep_current"`
}

// LogoutAllResponse reports how many refresh tokens were revoked.
type LogoutAllResponse struct {
	Revoked int `json:"revoked"`
}

// TokenIntrospectRequest 令牌内省请求 DTO
type TokenIntrospectRequest struct {
	Token string `json:"token" validate:"required,min=1"`
}

// TokenIntrospectResponse 令牌内省响应 DTO
type TokenIntrospectResponse struct {
	Active    bool   `json:"active"`
	JTI       string `json:"jti,omitempty"`
	Subject   string `json:"user_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	Expired   bool   `json:"is_expired"`
	Revoked   bool   `json:"is_revoked"`
}

// NewTokenIntrospectResponse builds the introspection body; a token is active when it
// is neither expired nor revoked.
func NewTokenIntrospectResponse(info *models.TokenInfo) *TokenIntrospectResponse {
	if info == nil {
		return &TokenIntrospectResponse{Active: false}
	}
	return &TokenIntrospectResponse{
		Active:    !info.Expired && !info.Revoked,
		JTI:       info.JTI,
		Subject:   info.Subject,
		TokenType: string(info.TokenType),
		Role:      info.Role,
		SessionID: info.SessionID,
		DeviceID:  info.DeviceID,
		IssuedAt:  unixOrZero(info.IssuedAt),
		ExpiresAt: unixOrZero(info.ExpiresAt),
		Expired:   info.Expired,
		Revoked:   info.Revoked,
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

//Personal.AI order the ending
