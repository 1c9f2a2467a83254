package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/pkg/constants"
)

// Keys under which the pipeline stores request state in the gin context.
const (
	IdentityKey  = "identity"
	ClaimsKey    = "claims"
	RequestIDKey = "request_id"
	ClientIPKey  = "client_ip"
)

// extractBearer extracts the token from the Authorization header.
func extractBearer(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], constants.BearerScheme) {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// IdentityFromGin returns the identity the pipeline attached to c, if any.
func IdentityFromGin(c *gin.Context) (*models.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*models.Identity)
	return identity, ok && identity != nil
}

// ClaimsFromGin returns the verified token claims of the request, if any.
func ClaimsFromGin(c *gin.Context) (*models.TokenClaims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*models.TokenClaims)
	return claims, ok && claims != nil
}

// IdentityFromContext returns the identity stored in a request context.
func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(constants.ContextKeyIdentity).(*models.Identity)
	return identity, ok && identity != nil
}

// WithIdentity stores identity in ctx.
func WithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, constants.ContextKeyIdentity, identity)
}

// BearerToken returns the bearer token presented on the request, or "".
func BearerToken(c *gin.Context) string {
	return extractBearer(c.GetHeader(constants.HeaderAuthorization))
}
