// Package crypto holds the token signing primitives and signing-secret providers.
package crypto

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/accessgate/internal/domain/models"
)

// MinSecretLength is the shortest HS256 secret the manager accepts.
const MinSecretLength = 32

// JWTManager signs and parses HS256 tokens carrying models.TokenClaims.
type JWTManager struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
	raw    *jwt.Parser
}

// NewJWTManager creates a manager for secret. now is the time source used for
// claims validation; nil means time.Now.
func NewJWTManager(secret []byte, now func() time.Time) (*JWTManager, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	if now == nil {
		now = time.Now
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	methods := jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})
	return &JWTManager{
		secret: key,
		now:    now,
		parser: jwt.NewParser(methods, jwt.WithTimeFunc(now), jwt.WithExpirationRequired()),
		raw:    jwt.NewParser(methods, jwt.WithoutClaimsValidation()),
	}, nil
}

// Sign serializes claims as a compact HS256 JWT.
func (m *JWTManager) Sign(claims *models.TokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and validates exp, nbf and iat against the clock.
// The returned error wraps the jwt sentinel errors (jwt.ErrTokenExpired, ...).
func (m *JWTManager) Parse(tokenString string) (*models.TokenClaims, error) {
	return m.parse(m.parser, tokenString)
}

// ParseSignatureOnly verifies the signature but skips every time-based check.
func (m *JWTManager) ParseSignatureOnly(tokenString string) (*models.TokenClaims, error) {
	return m.parse(m.raw, tokenString)
}

// Decode reads the claims without verifying anything. Callers must not trust
// the result beyond using it as a lookup key.
func (m *JWTManager) Decode(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}
	if _, _, err := m.raw.ParseUnverified(tokenString, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *JWTManager) parse(parser *jwt.Parser, tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return claims, nil
}

//Personal.AI order the ending
