package crypto

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/pkg/logger"
)

const kvResponse = `{
  "request_id": "c1a2",
  "lease_id": "",
  "renewable": false,
  "lease_duration": 0,
  "data": {
    "data": {"jwt_secret": "0123456789abcdef0123456789abcdef", "other": 7},
    "metadata": {
      "created_time": "2024-01-01T00:00:00.000000Z",
      "custom_metadata": null,
      "deletion_time": "",
      "destroyed": false,
      "version": 3
    }
  }
}`

func newVaultServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "test-token" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		switch r.URL.Path {
		case "/v1/secret/data/accessgate/jwt":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(kvResponse))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestVaultSecretProvider_SigningSecret(t *testing.T) {
	ts := newVaultServer(t)

	provider, err := NewVaultSecretProvider(config.VaultConfig{
		Enabled:    true,
		Address:    ts.URL,
		Token:      "test-token",
		SecretPath: "accessgate/jwt",
	}, logger.NewNoopLogger())
	require.NoError(t, err)

	secret, err := provider.SigningSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", string(secret))
}

func TestVaultSecretProvider_Errors(t *testing.T) {
	ts := newVaultServer(t)

	tests := []struct {
		name string
		cfg  config.VaultConfig
	}{
		{
			name: "missing path",
			cfg:  config.VaultConfig{Address: ts.URL, Token: "test-token", SecretPath: "nope"},
		},
		{
			name: "bad token",
			cfg:  config.VaultConfig{Address: ts.URL, Token: "wrong", SecretPath: "accessgate/jwt"},
		},
		{
			name: "non-string key",
			cfg:  config.VaultConfig{Address: ts.URL, Token: "test-token", SecretPath: "accessgate/jwt", SecretKey: "other"},
		},
		{
			name: "absent key",
			cfg:  config.VaultConfig{Address: ts.URL, Token: "test-token", SecretPath: "accessgate/jwt", SecretKey: "missing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewVaultSecretProvider(tt.cfg, nil)
			require.NoError(t, err)

			_, err = provider.SigningSecret(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestStaticSecretProvider(t *testing.T) {
	secret, err := NewStaticSecretProvider("abc").SigningSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), secret)

	_, err = NewStaticSecretProvider("").SigningSecret(context.Background())
	assert.Error(t, err)
}

func TestNewSecretProvider(t *testing.T) {
	log := logger.NewNoopLogger()

	t.Run("configured secret", func(t *testing.T) {
		cfg := &config.Config{JWT: config.JWTConfig{Secret: "0123456789abcdef0123456789abcdef"}}
		provider, err := NewSecretProvider(cfg, log)
		require.NoError(t, err)
		secret, err := provider.SigningSecret(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "0123456789abcdef0123456789abcdef", string(secret))
	})

	t.Run("vault takes precedence", func(t *testing.T) {
		cfg := &config.Config{
			JWT:   config.JWTConfig{Secret: "ignored"},
			Vault: config.VaultConfig{Enabled: true, Address: "http://127.0.0.1:1", SecretPath: "accessgate/jwt"},
		}
		provider, err := NewSecretProvider(cfg, log)
		require.NoError(t, err)
		assert.IsType(t, &VaultSecretProvider{}, provider)
	})

	t.Run("random in development", func(t *testing.T) {
		cfg := &config.Config{Environment: "development"}
		first, err := NewSecretProvider(cfg, log)
		require.NoError(t, err)
		second, err := NewSecretProvider(cfg, log)
		require.NoError(t, err)

		a, err := first.SigningSecret(context.Background())
		require.NoError(t, err)
		b, err := second.SigningSecret(context.Background())
		require.NoError(t, err)
		assert.Len(t, a, MinSecretLength)
		assert.NotEqual(t, a, b)
	})

	t.Run("missing outside development", func(t *testing.T) {
		_, err := NewSecretProvider(&config.Config{Environment: "production"}, log)
		assert.Error(t, err)
	})
}

//Personal.AI order the ending
