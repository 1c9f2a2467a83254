package grpc

import (
	"context"
	goerrors "errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/internal/infrastructure/cache"
	"github.com/turtacn/accessgate/internal/infrastructure/crypto"
	"github.com/turtacn/accessgate/internal/infrastructure/monitoring"
	"github.com/turtacn/accessgate/internal/infrastructure/policy"
	"github.com/turtacn/accessgate/internal/infrastructure/ratelimit"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/logger"
)

const grpcPolicy = `
security:
  default_deny: true
  require_authentication: true
roles:
  user:
    permissions: ["read:reports"]
  admin:
    permissions: ["admin:write"]
    inherits: [user]
routes:
  health:
    paths: [/grpc.health.v1.Health/*]
    authentication: false
  reports:
    paths: [/reports.v1.Reports/*]
    roles: [user, admin]
    permissions: ["read:reports"]
  admin:
    paths: [/admin.v1.Admin/*]
    roles: [admin]
`

type failingLimiter struct{ service.RateLimiter }

func (failingLimiter) Check(context.Context, *models.RequestInfo, string) (*models.RateLimitResult, error) {
	return nil, goerrors.New("bucket map corrupted")
}

type denyingLimiter struct{ service.RateLimiter }

func (denyingLimiter) Check(_ context.Context, req *models.RequestInfo, _ string) (*models.RateLimitResult, error) {
	return &models.RateLimitResult{Allowed: false, Limited: true, Scope: constants.LimitScopeIP, RetryAfter: 6, ClientIP: req.RemoteAddr}, nil
}

type failingPolicy struct{ service.PolicyEngine }

func (failingPolicy) Evaluate(context.Context, *models.RequestInfo, string, *models.TokenClaims) (*models.PolicyDecision, error) {
	return nil, goerrors.New("snapshot missing")
}

type chainFixture struct {
	chain   *InterceptorChain
	tokens  service.TokenService
	metrics *monitoring.Metrics
}

func newChain(t *testing.T, limiter service.RateLimiter, engine service.PolicyEngine) *chainFixture {
	t.Helper()
	log := logger.NewNoopLogger()

	if limiter == nil {
		l, err := ratelimit.NewLimiter(ratelimit.LimiterConfig{Rules: models.DefaultRateLimitRules()}, log)
		require.NoError(t, err)
		limiter = l
	}
	signer, err := crypto.NewJWTManager([]byte("0123456789abcdef0123456789abcdef"), time.Now)
	require.NoError(t, err)
	tokens := service.NewTokenService(service.DefaultTokenServiceConfig(), signer, cache.NewRevocationList(time.Minute),
		ratelimit.NewSlidingWindow(), log)
	if engine == nil {
		e := policy.NewEngine(policy.EngineConfig{}, log)
		require.NoError(t, e.LoadBytes([]byte(grpcPolicy)))
		engine = e
	}
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	return &chainFixture{
		chain:   NewInterceptorChain(log, limiter, tokens, engine, metrics),
		tokens:  tokens,
		metrics: metrics,
	}
}

func (f *chainFixture) token(t *testing.T, subject, role string) string {
	t.Helper()
	token, _, err := f.tokens.IssueAccessToken(context.Background(), models.IssueRequest{Subject: subject, Role: role})
	require.NoError(t, err)
	return token
}

func incoming(token string) context.Context {
	md := metadata.MD{}
	if token != "" {
		md.Set("authorization", "Bearer "+token)
	}
	ctx := metadata.NewIncomingContext(context.Background(), md)
	return peer.NewContext(ctx, &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("203.0.113.9"), Port: 50123}})
}

func (f *chainFixture) call(ctx context.Context, method string) (*models.Identity, error) {
	var seen *models.Identity
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seen, _ = IdentityFromContext(ctx)
		return "ok", nil
	}
	_, err := f.chain.UnarySecurityInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, handler)
	return seen, err
}

func TestSecurityInterceptor_Decisions(t *testing.T) {
	f := newChain(t, nil, nil)
	user := f.token(t, "alice", "user")
	admin := f.token(t, "root", "admin")

	tests := []struct {
		name   string
		ctx    context.Context
		method string
		code   grpcCodes.Code
	}{
		{"public health", incoming(""), "/grpc.health.v1.Health/Check", grpcCodes.OK},
		{"anonymous on protected", incoming(""), "/reports.v1.Reports/List", grpcCodes.Unauthenticated},
		{"user on reports", incoming(user), "/reports.v1.Reports/List", grpcCodes.OK},
		{"user on admin", incoming(user), "/admin.v1.Admin/Purge", grpcCodes.PermissionDenied},
		{"admin on admin", incoming(admin), "/admin.v1.Admin/Purge", grpcCodes.OK},
		{"garbage token", incoming("not-a-jwt"), "/grpc.health.v1.Health/Check", grpcCodes.Unauthenticated},
		{"unknown method", incoming(admin), "/unknown.v1.Svc/Do", grpcCodes.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.call(tt.ctx, tt.method)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestSecurityInterceptor_AttachesIdentity(t *testing.T) {
	f := newChain(t, nil, nil)

	identity, err := f.call(incoming(f.token(t, "alice", "user")), "/reports.v1.Reports/List")
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "alice", identity.Subject)
	assert.Equal(t, "user", identity.Role)
}

func TestSecurityInterceptor_ChargesUserBucket(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(ratelimit.LimiterConfig{
		DefaultUserLimit: 2,
		BurstMultiplier:  0.5,
		Rules: []models.RateLimitRule{
			{Pattern: "/reports.v1.Reports/*", RequestsPerMinute: 2, Enabled: true, Priority: 5},
		},
	}, logger.NewNoopLogger())
	require.NoError(t, err)
	f := newChain(t, limiter, nil)
	token := f.token(t, "alice", "user")

	from := func(ip string) context.Context {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
		return peer.NewContext(ctx, &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: 50123}})
	}
	for i, ip := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		_, err := f.call(from(ip), "/reports.v1.Reports/List")
		require.NoError(t, err, "call %d", i+1)
	}

	_, err = f.call(from("203.0.113.4"), "/reports.v1.Reports/List")
	assert.Equal(t, grpcCodes.ResourceExhausted, status.Code(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RateLimitHits.WithLabelValues(string(constants.LimitScopeUser))))
	assert.Equal(t, 1, limiter.Stats().UserBuckets)
	assert.Contains(t, limiter.Status("203.0.113.4", "alice").Buckets, "user:/reports.v1.Reports/*")
}

func TestSecurityInterceptor_RateLimited(t *testing.T) {
	f := newChain(t, denyingLimiter{}, nil)

	_, err := f.call(incoming(""), "/grpc.health.v1.Health/Check")
	assert.Equal(t, grpcCodes.ResourceExhausted, status.Code(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RateLimitHits.WithLabelValues("ip")))
}

func TestSecurityInterceptor_LimiterFaultFailsOpen(t *testing.T) {
	f := newChain(t, failingLimiter{}, nil)

	_, err := f.call(incoming(""), "/grpc.health.v1.Health/Check")
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PipelineDecisions.WithLabelValues("rate_limit", "error")))
}

func TestSecurityInterceptor_PolicyFaultFailsClosed(t *testing.T) {
	f := newChain(t, nil, failingPolicy{})

	_, err := f.call(incoming(f.token(t, "root", "admin")), "/admin.v1.Admin/Purge")
	assert.Equal(t, grpcCodes.PermissionDenied, status.Code(err))

	_, err = f.call(incoming(""), "/grpc.health.v1.Health/Check")
	assert.Equal(t, grpcCodes.Unauthenticated, status.Code(err))
}

func TestRecoveryInterceptor(t *testing.T) {
	f := newChain(t, nil, nil)

	_, err := f.chain.UnaryRecoveryInterceptor()(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/reports.v1.Reports/List"},
		func(context.Context, interface{}) (interface{}, error) { panic("boom") })
	assert.Equal(t, grpcCodes.Internal, status.Code(err))
	assert.NotContains(t, err.Error(), "boom")
}

func TestErrorInterceptor_MapsGateErrors(t *testing.T) {
	f := newChain(t, nil, nil)

	_, err := f.chain.UnaryErrorInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{},
		func(context.Context, interface{}) (interface{}, error) {
			return nil, f.tokens.Revoke(context.Background(), "")
		})
	assert.Equal(t, grpcCodes.Unauthenticated, status.Code(err))

	_, err = f.chain.UnaryErrorInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{},
		func(context.Context, interface{}) (interface{}, error) { return nil, goerrors.New("db down") })
	assert.Equal(t, grpcCodes.Internal, status.Code(err))
}

func TestServer_HealthOverBufconn(t *testing.T) {
	f := newChain(t, nil, nil)
	srv := NewServer(config.GRPCConfig{Enabled: true}, f.chain, logger.NewNoopLogger())

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop(context.Background())

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: constants.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
