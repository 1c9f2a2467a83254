package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/accessgate/internal/application/dto"
	"github.com/turtacn/accessgate/internal/domain/models"
)

const policyFile = "../../configs/policy.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestPolicyValidate(t *testing.T) {
	out, err := execute(t, "policy", "validate", "-f", policyFile)
	require.NoError(t, err)
	assert.Contains(t, out, "roles")
	assert.Contains(t, out, "routes")
	assert.NotContains(t, out, "warning")
}

func TestPolicyValidate_ReportsUnknownRoles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
roles:
  user:
    permissions: ["read"]
routes:
  reports:
    paths: [/reports/*]
    roles: [auditor]
`), 0o600))

	out, err := execute(t, "policy", "validate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "warning: undefined role route reports -> auditor")
}

func TestPolicyRoles(t *testing.T) {
	out, err := execute(t, "policy", "roles", "-f", policyFile)
	require.NoError(t, err)
	assert.Contains(t, out, "ROLE")
	assert.Contains(t, out, "admin")
	assert.Contains(t, out, "security:manage")
}

func TestPolicyCheck(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed bool
		reason  models.DecisionReason
	}{
		{"anonymous health", []string{"/health"}, true, models.ReasonPublic},
		{"anonymous security", []string{"/api/security/rate-limit/metrics"}, false, models.ReasonUnauthenticated},
		{"user security", []string{"/api/security/rate-limit/metrics", "--role", "user"}, false, models.ReasonRoleNotAllowed},
		{"admin security", []string{"/api/security/rate-limit/metrics", "--role", "admin"}, true, models.ReasonAllowed},
		{"unknown path", []string{"/nowhere", "--role", "admin"}, false, models.ReasonNoMatchingPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"policy", "check", "-f", policyFile}, tt.args...)
			out, err := execute(t, args...)

			var decision models.PolicyDecision
			require.NoError(t, json.Unmarshal([]byte(out), &decision))
			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.reason, decision.Reason)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTokenIssueAndInspect(t *testing.T) {
	cfg := writeConfig(t, `
environment: development
jwt:
  secret: 0123456789abcdef0123456789abcdef
`)

	out, err := execute(t, "token", "issue", "-c", cfg, "--subject", "svc-billing", "--role", "service", "--permission", "tokens:issue")
	require.NoError(t, err)
	var pair models.TokenPair
	require.NoError(t, json.Unmarshal([]byte(out), &pair))
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)

	out, err = execute(t, "token", "inspect", "-c", cfg, pair.AccessToken)
	require.NoError(t, err)
	var info dto.TokenIntrospectResponse
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.True(t, info.Active)
	assert.Equal(t, "svc-billing", info.Subject)
	assert.Equal(t, "service", info.Role)
}

func TestTokenIssue_AccessOnly(t *testing.T) {
	cfg := writeConfig(t, "environment: development\njwt:\n  secret: 0123456789abcdef0123456789abcdef\n")

	out, err := execute(t, "token", "issue", "-c", cfg, "--subject", "alice", "--role", "user", "--access-only")
	require.NoError(t, err)
	var pair models.TokenPair
	require.NoError(t, json.Unmarshal([]byte(out), &pair))
	assert.NotEmpty(t, pair.AccessToken)
	assert.Empty(t, pair.RefreshToken)
}

func TestTokenIssue_Rejections(t *testing.T) {
	withSecret := writeConfig(t, "environment: development\njwt:\n  secret: 0123456789abcdef0123456789abcdef\n")
	noSecret := writeConfig(t, "environment: development\n")

	_, err := execute(t, "token", "issue", "-c", withSecret, "--role", "user")
	assert.ErrorContains(t, err, "subject is required")

	_, err = execute(t, "token", "issue", "-c", noSecret, "--subject", "alice", "--role", "user")
	assert.ErrorContains(t, err, "jwt.secret")
}

func TestTokenInspect_WrongSecret(t *testing.T) {
	a := writeConfig(t, "environment: development\njwt:\n  secret: 0123456789abcdef0123456789abcdef\n")
	b := writeConfig(t, "environment: development\njwt:\n  secret: fedcba9876543210fedcba9876543210\n")

	out, err := execute(t, "token", "issue", "-c", a, "--subject", "alice", "--role", "user", "--access-only")
	require.NoError(t, err)
	var pair models.TokenPair
	require.NoError(t, json.Unmarshal([]byte(out), &pair))

	_, err = execute(t, "token", "inspect", "-c", b, pair.AccessToken)
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	cfg := writeConfig(t, `
environment: production
jwt:
  secret: 0123456789abcdef0123456789abcdef
redis:
  password: hunter2
`)

	out, err := execute(t, "config", "validate", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK: environment=production")

	out, err = execute(t, "config", "show", "-c", cfg)
	require.NoError(t, err)
	assert.NotContains(t, out, "0123456789abcdef")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, redacted)

	_, err = execute(t, "config", "validate", "-c", writeConfig(t, "environment: production\n"))
	assert.Error(t, err)
}
