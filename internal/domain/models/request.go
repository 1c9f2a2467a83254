package models

import "net/http"

// RequestInfo is the transport-neutral view of an inbound request used by
// the limiter and the policy engine. Both HTTP and gRPC entry points build one.
type RequestInfo struct {
	Method     string
	Path       string
	Header     http.Header
	RemoteAddr string
	TLS        bool
}

// Identity is attached to the request context once a caller is authenticated.
type Identity struct {
	Subject     string
	TokenID     string
	Role        string
	Permissions []string
	SessionID   string
	DeviceID    string
}

// IdentityFromClaims builds the request identity from verified claims.
func IdentityFromClaims(c *TokenClaims) *Identity {
	if c == nil {
		return nil
	}
	return &Identity{
		Subject:     c.Subject,
		TokenID:     c.ID,
		Role:        c.Role,
		Permissions: c.Permissions,
		SessionID:   c.SessionID,
		DeviceID:    c.DeviceID,
	}
}
