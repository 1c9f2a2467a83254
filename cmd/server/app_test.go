package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/pkg/logger"
)

func loadTestConfig(t *testing.T, policyFile string) *config.Config {
	t.Helper()
	if policyFile == "" {
		abs, err := filepath.Abs("../../configs/policy.yaml")
		require.NoError(t, err)
		policyFile = abs
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: development
server:
  port: 18080
policy:
  file: `+policyFile+`
  watch: false
audit:
  sinks: [log]
`), 0o600))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	return cfg
}

func TestNewApp_WiresDevelopmentStack(t *testing.T) {
	cfg := loadTestConfig(t, "")

	app, err := newApp(context.Background(), cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	defer app.close(context.Background())

	assert.Nil(t, app.grpc)
	assert.False(t, app.engine.LoadedAt().IsZero())

	w := httptest.NewRecorder()
	app.router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "signing_secret")

	token, _, err := app.tokens.IssueAccessToken(context.Background(), models.IssueRequest{Subject: "root", Role: "admin"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/security/rate-limit/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	app.router.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	swept := app.scheduler.RunNow(context.Background())
	assert.Contains(t, swept, "issuance_windows")
	assert.Contains(t, swept, "tokens")
}

func TestNewApp_MissingPolicyFails(t *testing.T) {
	cfg := loadTestConfig(t, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := newApp(context.Background(), cfg, logger.NewNoopLogger())
	assert.Error(t, err)
}

func TestNewApp_GRPCEnabled(t *testing.T) {
	cfg := loadTestConfig(t, "")
	cfg.GRPC.Enabled = true
	cfg.GRPC.Port = 18081

	app, err := newApp(context.Background(), cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	defer app.close(context.Background())
	assert.NotNil(t, app.grpc)
}
