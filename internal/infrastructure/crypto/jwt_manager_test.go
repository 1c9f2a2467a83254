// internal/infrastructure/crypto/jwt_manager_test.go
package crypto

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/accessgate/internal/domain/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestClaims(now time.Time, ttl time.Duration) *models.TokenClaims {
	return &models.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   "user-1",
			Issuer:    "accessgate-auth",
			Audience:  jwt.ClaimStrings{"accessgate-api"},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:        "user",
		Permissions: []string{"read:profile"},
		SessionID:   "session-1",
		TokenType:   models.TokenTypeAccess,
	}
}

func TestNewJWTManager_RejectsShortSecret(t *testing.T) {
	_, err := NewJWTManager([]byte("short"), nil)
	assert.Error(t, err)
}

func TestJWTManager_SignAndParse(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	manager, err := NewJWTManager([]byte(testSecret), func() time.Time { return now })
	require.NoError(t, err)

	claims := newTestClaims(now, 15*time.Minute)
	signed, err := manager.Sign(claims)
	require.NoError(t, err)

	parsed, err := manager.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, claims.ID, parsed.ID)
	assert.Equal(t, "user-1", parsed.Subject)
	assert.Equal(t, "user", parsed.Role)
	assert.Equal(t, []string{"read:profile"}, parsed.Permissions)
	assert.Equal(t, models.TokenTypeAccess, parsed.TokenType)
	assert.True(t, parsed.HasAudience("accessgate-api"))
}

func TestJWTManager_ExpiredToken(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	current := issued
	manager, err := NewJWTManager([]byte(testSecret), func() time.Time { return current })
	require.NoError(t, err)

	signed, err := manager.Sign(newTestClaims(issued, time.Minute))
	require.NoError(t, err)

	current = issued.Add(2 * time.Minute)
	_, err = manager.Parse(signed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))

	claims, err := manager.ParseSignatureOnly(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestJWTManager_RejectsForeignSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	manager, err := NewJWTManager([]byte(testSecret), clock)
	require.NoError(t, err)
	other, err := NewJWTManager([]byte("ffffffffffffffffffffffffffffffff"), clock)
	require.NoError(t, err)

	signed, err := other.Sign(newTestClaims(now, time.Minute))
	require.NoError(t, err)

	_, err = manager.Parse(signed)
	assert.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid))
	_, err = manager.ParseSignatureOnly(signed)
	assert.Error(t, err)

	// Decode does not care about the signature.
	decoded, err := manager.Decode(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", decoded.Subject)
}

func TestJWTManager_RejectsOtherAlgorithms(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	manager, err := NewJWTManager([]byte(testSecret), func() time.Time { return now })
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, newTestClaims(now, time.Minute))
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = manager.Parse(signed)
	assert.Error(t, err)

	_, err = manager.Parse("not.a.jwt")
	assert.Error(t, err)
	_, err = manager.Decode("garbage")
	assert.Error(t, err)
}

//Personal.AI order the ending
