package models

import "time"

// RefreshTokenData is the server-side record kept for each issued refresh token.
// Records of one session form a rotation chain through ParentTokenID.
// RefreshTokenData 是为每个刷新令牌保存的服务端记录，通过 ParentTokenID 组成轮换链。
type RefreshTokenData struct {
	TokenID       string
	UserID        string
	SessionID     string
	DeviceID      string
	Role          string
	Permissions   []string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RotationCount int
	IsRevoked     bool
	ParentTokenID string
}

// IsExpired reports whether the record has passed its expiry at now.
func (r *RefreshTokenData) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// TokenServiceStats summarises the token service's in-memory state.
type TokenServiceStats struct {
	TrackedRefreshTokens int `json:"tracked_refresh_tokens"`
	RevokedRefreshTokens int `json:"revoked_refresh_tokens"`
	RevocationListSize   int `json:"revocation_list_size"`
}
