package policy

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/pkg/constants"
)

const testPolicy = `
security:
  default_deny: true
  require_authentication: true
  public_requests_per_minute: 3

roles:
  guest:
    permissions: ["read:public"]
  user:
    permissions: ["read:profile", "write:profile"]
    inherits: [guest]
    max_requests_per_minute: 2
  admin:
    permissions: ["admin:read", "admin:write"]
    inherits: [user]
  service:
    permissions: ["tokens:issue"]
    requires_service_key: true
  loop_a:
    permissions: [a]
    inherits: [loop_b]
  loop_b:
    permissions: [b]
    inherits: [loop_a]

routes:
  health:
    paths: [/api/health]
    authentication: false
    rate_limit:
      requests_per_minute: 5
  login:
    paths: [/api/auth/*]
    authentication: false
  admin_special:
    paths: [/api/admin/special]
    roles: [user, admin]
  admin:
    paths: [/api/admin/*]
    roles: [admin]
    permissions: ["admin:read"]
    methods:
      DELETE: ["admin:delete"]
  reports:
    paths: [/api/reports/*]
    roles: [user, admin]
    permissions: ["read:profile", "read:reports"]
  limited:
    paths: [/api/limited]
    roles: [user]
    rate_limit:
      requests_per_minute: 5
  internal:
    paths: [/api/internal/*]
    roles: [admin, service]
    require_service_key: true
  service:
    paths: [/api/service/*]
    roles: [service]
  guest_area:
    paths: [/api/guest]
    roles: [guest]
    permissions: ["read:public"]
`

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	e := NewEngine(EngineConfig{}, nil, WithClock(clock.Now))
	require.NoError(t, e.LoadBytes([]byte(testPolicy)))
	return e, clock
}

func request(method, path string) *models.RequestInfo {
	return &models.RequestInfo{Method: method, Path: path, Header: http.Header{}}
}

func claimsFor(subject, role string, perms ...string) *models.TokenClaims {
	return &models.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject, ID: "jti-" + subject},
		Role:             role,
		Permissions:      perms,
		TokenType:        models.TokenTypeAccess,
	}
}

func TestEngine_EvaluateWithoutDocument(t *testing.T) {
	e := NewEngine(EngineConfig{}, nil)
	_, err := e.Evaluate(context.Background(), request(http.MethodGet, "/api/health"), "1.2.3.4", nil)
	assert.Error(t, err)
	assert.Equal(t, models.DefaultSecuritySettings(), e.Settings())
}

func TestEngine_Evaluate(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		path         string
		claims       *models.TokenClaims
		header       http.Header
		allowed      bool
		reason       models.DecisionReason
		policy       string
		requiredRole string
		requiredPerm []string
	}{
		{
			name: "no matching policy under default deny", method: "GET", path: "/unknown",
			reason: models.ReasonNoMatchingPolicy,
		},
		{
			name: "public policy", method: "GET", path: "/api/health",
			allowed: true, reason: models.ReasonPublic, policy: "health",
		},
		{
			name: "unauthenticated", method: "GET", path: "/api/admin/system",
			reason: models.ReasonUnauthenticated, policy: "admin",
		},
		{
			name: "user on admin route", method: "GET", path: "/api/admin/system",
			claims: claimsFor("u1", "user"),
			reason: models.ReasonRoleNotAllowed, policy: "admin", requiredRole: "admin",
		},
		{
			name: "admin on admin route", method: "GET", path: "/api/admin/system",
			claims:  claimsFor("a1", "admin"),
			allowed: true, reason: models.ReasonAllowed, policy: "admin",
		},
		{
			name: "first listed policy wins", method: "GET", path: "/api/admin/special",
			claims:  claimsFor("u1", "user"),
			allowed: true, reason: models.ReasonAllowed, policy: "admin_special",
		},
		{
			name: "method permission missing", method: "DELETE", path: "/api/admin/system",
			claims: claimsFor("a1", "admin"),
			reason: models.ReasonMethodPermission, policy: "admin", requiredPerm: []string{"admin:delete"},
		},
		{
			name: "method permission carried by token", method: "delete", path: "/api/admin/system",
			claims:  claimsFor("a1", "admin", "admin:delete"),
			allowed: true, reason: models.ReasonAllowed, policy: "admin",
		},
		{
			name: "missing permissions are listed", method: "GET", path: "/api/reports/daily",
			claims: claimsFor("u1", "user"),
			reason: models.ReasonMissingPermissions, policy: "reports", requiredPerm: []string{"read:reports"},
		},
		{
			name: "inherited permissions satisfy the route", method: "GET", path: "/api/guest",
			claims:  claimsFor("g1", ""),
			allowed: true, reason: models.ReasonAllowed, policy: "guest_area",
		},
		{
			name: "route service key absent", method: "GET", path: "/api/internal/jobs",
			claims: claimsFor("a1", "admin"),
			reason: models.ReasonMissingServiceKey, policy: "internal",
		},
		{
			name: "route service key present with any value", method: "GET", path: "/api/internal/jobs",
			claims:  claimsFor("a1", "admin"),
			header:  http.Header{constants.HeaderServiceKey: []string{"anything"}},
			allowed: true, reason: models.ReasonAllowed, policy: "internal",
		},
		{
			name: "role requiring service key", method: "GET", path: "/api/service/ping",
			claims: claimsFor("s1", "service"),
			reason: models.ReasonMissingServiceKey, policy: "service",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			req := request(tt.method, tt.path)
			if tt.header != nil {
				req.Header = tt.header
			}

			decision, err := e.Evaluate(context.Background(), req, "10.0.0.1", tt.claims)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.reason, decision.Reason)
			assert.Equal(t, tt.policy, decision.Policy)
			assert.Equal(t, tt.requiredRole, decision.RequiredRole)
			assert.Equal(t, tt.requiredPerm, decision.RequiredPermissions)
		})
	}
}

func TestEngine_DefaultAllow(t *testing.T) {
	e := NewEngine(EngineConfig{}, nil)
	require.NoError(t, e.LoadBytes([]byte(`
security:
  default_deny: false
routes:
  health:
    paths: [/health]
    authentication: false
`)))

	decision, err := e.Evaluate(context.Background(), request("GET", "/elsewhere"), "10.0.0.1", nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.ReasonNoMatchingPolicy, decision.Reason)
	assert.True(t, e.Settings().RequireAuthentication)
}

func TestEngine_CyclicInheritance(t *testing.T) {
	e, _ := newTestEngine(t)

	first := e.EffectivePermissions("loop_a")
	second := e.EffectivePermissions("loop_a")
	assert.Equal(t, []string{"a", "b"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b"}, e.EffectivePermissions("loop_b"))

	assert.Equal(t,
		[]string{"admin:read", "admin:write", "read:profile", "read:public", "write:profile"},
		e.EffectivePermissions("admin"))
	assert.Empty(t, e.EffectivePermissions("nobody"))
}

func TestEngine_PublicWindow(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	// login has no rate_limit, so the document-wide 3/min applies.
	for i := 0; i < 3; i++ {
		d, err := e.Evaluate(ctx, request("POST", "/api/auth/login"), "10.0.0.1", nil)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i+1)
	}
	d, err := e.Evaluate(ctx, request("POST", "/api/auth/login"), "10.0.0.1", nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.ReasonRateLimited, d.Reason)

	// Other clients and other public policies are counted separately.
	d, _ = e.Evaluate(ctx, request("POST", "/api/auth/login"), "10.0.0.2", nil)
	assert.True(t, d.Allowed)
	for i := 0; i < 5; i++ {
		d, _ = e.Evaluate(ctx, request("GET", "/api/health"), "10.0.0.1", nil)
		assert.True(t, d.Allowed)
	}
	d, _ = e.Evaluate(ctx, request("GET", "/api/health"), "10.0.0.1", nil)
	assert.False(t, d.Allowed)

	clock.Advance(61 * time.Second)
	d, _ = e.Evaluate(ctx, request("POST", "/api/auth/login"), "10.0.0.1", nil)
	assert.True(t, d.Allowed)
}

func TestEngine_PolicyWindowCappedByRole(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	user := claimsFor("u1", "user")

	// The route allows 5/min but the user role caps it at 2.
	for i := 0; i < 2; i++ {
		d, err := e.Evaluate(ctx, request("GET", "/api/limited"), "10.0.0.1", user)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := e.Evaluate(ctx, request("GET", "/api/limited"), "10.0.0.1", user)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.ReasonRateLimited, d.Reason)
	assert.False(t, d.HasHint())

	d, _ = e.Evaluate(ctx, request("GET", "/api/limited"), "10.0.0.1", claimsFor("u2", "user"))
	assert.True(t, d.Allowed)

	clock.Advance(time.Minute + time.Second)
	d, _ = e.Evaluate(ctx, request("GET", "/api/limited"), "10.0.0.1", user)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, e.Cleanup())
}

func TestEngine_InvalidDocumentKeepsPrevious(t *testing.T) {
	var outcomes []error
	e := NewEngine(EngineConfig{}, nil, WithReloadHook(func(err error) { outcomes = append(outcomes, err) }))
	require.NoError(t, e.LoadBytes([]byte(testPolicy)))

	invalid := []string{
		"routes: [",
		"routes:\n  empty:\n    paths: []\n",
		"routes:\n  bad:\n    paths: [relative/path]\n",
		"routes:\n  limited:\n    paths: [/x]\n    rate_limit:\n      requests_per_minute: 0\n",
		"routes:\n  lower:\n    paths: [/x]\n    methods:\n      get: [a]\n",
		"security:\n  default_deny: true\n",
	}
	for _, doc := range invalid {
		assert.Error(t, e.LoadBytes([]byte(doc)), doc)
	}

	name, ok := e.Match("/api/admin/x")
	assert.True(t, ok)
	assert.Equal(t, "admin", name)
	require.Len(t, outcomes, 1+len(invalid))
	assert.NoError(t, outcomes[0])
	for _, err := range outcomes[1:] {
		assert.Error(t, err)
	}
}

func TestEngine_ReloadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicy), 0o600))

	e := NewEngine(EngineConfig{}, nil)
	require.NoError(t, e.LoadFile(path))
	_, ok := e.Match("/api/new")
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Watch(ctx) }()

	updated := testPolicy + `
  new_route:
    paths: [/api/new]
    authentication: false
`
	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, func() bool {
		name, ok := e.Match("/api/new")
		return ok && name == "new_route"
	}, 5*time.Second, 50*time.Millisecond)

	// A broken save keeps the last good document.
	require.NoError(t, os.WriteFile(path, []byte("routes: ["), 0o600))
	assert.Error(t, e.Reload())
	_, ok = e.Match("/api/new")
	assert.True(t, ok)

	cancel()
	assert.NoError(t, <-done)
}

func TestEngine_RolesSorted(t *testing.T) {
	e, _ := newTestEngine(t)
	roles := e.Roles()
	require.Len(t, roles, 6)
	assert.Equal(t, "admin", roles[0].Name)
	assert.Equal(t, "user", roles[len(roles)-1].Name)
}

//Personal.AI order the ending
