// Package middleware holds the gin security pipeline that fronts every HTTP route.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/internal/infrastructure/monitoring"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
	"github.com/turtacn/accessgate/pkg/utils"
)

// Pipeline stage names used in metrics and span attributes.
const (
	StageBypass        = "bypass"
	StageRateLimit     = "rate_limit"
	StageAuthenticate  = "authentication"
	StageAuthorize     = "authorization"
	StageForward       = "forward"
	pipelineSpanName   = "security.pipeline"
	panicReason        = "unhandled_panic"
	missingTokenReason = "missing_token"
)

// AuditPublisher receives audit events without blocking the request.
type AuditPublisher interface {
	Publish(event *models.AuditEvent) bool
}

// Dependencies are the components the pipeline sequences. Audit, Metrics and Tracing are optional.
type Dependencies struct {
	Limiter service.RateLimiter
	Tokens  service.TokenService
	Policy  service.PolicyEngine
	Audit   AuditPublisher
	Metrics *monitoring.Metrics
	Tracing *monitoring.TracingManager
}

// SecurityMiddleware runs rate limiting, token verification and policy evaluation,
// in that order, before handing the request to the next handler.
// SecurityMiddleware 依次执行限流、令牌验证与策略评估，然后将请求交给下一个处理器。
type SecurityMiddleware struct {
	deps   Dependencies
	cfg    config.SecurityConfig
	public []*regexp.Regexp
	log    logger.Logger
	now    func() time.Time
}

// Option configures a SecurityMiddleware.
type Option func(*SecurityMiddleware)

// WithClock replaces the time source used for processing-time measurement.
func WithClock(now func() time.Time) Option {
	return func(m *SecurityMiddleware) {
		m.now = now
	}
}

// NewSecurityMiddleware validates deps and compiles the public endpoint patterns.
func NewSecurityMiddleware(deps Dependencies, cfg config.SecurityConfig, log logger.Logger, opts ...Option) (*SecurityMiddleware, error) {
	if deps.Limiter == nil || deps.Tokens == nil || deps.Policy == nil {
		return nil, errors.ErrInvalidConfig("security middleware needs a rate limiter, a token service and a policy engine")
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}

	public := make([]*regexp.Regexp, 0, len(cfg.PublicEndpoints))
	for _, p := range cfg.PublicEndpoints {
		re, err := utils.CompilePathPattern(p)
		if err != nil {
			return nil, errors.ErrInvalidConfig(fmt.Sprintf("public endpoint %q", p)).WithCause(err)
		}
		public = append(public, re)
	}

	m := &SecurityMiddleware{
		deps:   deps,
		cfg:    cfg,
		public: public,
		log:    log.WithComponent("security_middleware"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// pipelineOutcome accumulates what the stages decided, for post-processing.
type pipelineOutcome struct {
	stage    string
	decision constants.AuditDecision
	reason   string
	subject  string
	role     string
	audit    bool
}

// Handler returns the gin handler.
func (m *SecurityMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := m.now()
		writer := &finalizingWriter{ResponseWriter: c.Writer, start: start, now: m.now}
		c.Writer = writer

		req := c.Request
		requestID := req.Header.Get(constants.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		clientIP := utils.ClientIP(req.Header, req.RemoteAddr)

		ctx := context.WithValue(req.Context(), constants.ContextKeyRequestID, requestID)
		ctx = context.WithValue(ctx, constants.ContextKeyClientIP, clientIP)
		if m.deps.Tracing != nil {
			var span trace.Span
			ctx = m.deps.Tracing.ExtractTraceContext(ctx, propagation.HeaderCarrier(req.Header))
			ctx, span = m.deps.Tracing.StartSpan(ctx, pipelineSpanName, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		}
		c.Request = req.WithContext(ctx)
		c.Set(RequestIDKey, requestID)
		c.Set(ClientIPKey, clientIP)

		c.Header(constants.HeaderRequestID, requestID)
		applySecurityHeaders(c.Writer.Header(), isHTTPS(req), m.cfg.HSTSMaxAge)

		outcome := &pipelineOutcome{stage: StageForward, decision: constants.AuditDecisionAllowed}
		defer func() {
			if r := recover(); r != nil {
				m.recoverPanic(c, r, clientIP)
				outcome.decision = constants.AuditDecisionError
				outcome.reason = panicReason
			}
			m.postProcess(c, writer, outcome, start, clientIP, requestID)
		}()

		m.run(c, clientIP, outcome)
	}
}

func (m *SecurityMiddleware) run(c *gin.Context, clientIP string, out *pipelineOutcome) {
	ctx := c.Request.Context()
	info := requestInfo(c.Request)

	if m.isBypassed(info) {
		out.stage = StageBypass
		out.decision = constants.AuditDecisionBypassed
		m.record(StageBypass, "bypassed")
		c.Next()
		return
	}

	// A presented token is verified up front so the limiter can charge the
	// caller's user bucket. Its outcome is reported by the authentication stage.
	token := extractBearer(info.Header.Get(constants.HeaderAuthorization))
	var verified *models.TokenClaims
	var verifyErr error
	if token != "" {
		verified, verifyErr = m.deps.Tokens.Verify(ctx, token, models.TokenTypeAccess)
	}

	// Rate limit. A limiter fault lets the request through.
	userID := ""
	if verified != nil {
		userID = verified.Subject
	}
	result, err := m.deps.Limiter.Check(ctx, info, userID)
	switch {
	case err != nil:
		m.log.Error(ctx, "Rate limiter failed, allowing request", err,
			logger.String("path", info.Path),
			logger.String("client_ip", clientIP),
		)
		m.record(StageRateLimit, "error")
	case !result.Allowed:
		out.stage = StageRateLimit
		out.decision = constants.AuditDecisionRateLimited
		out.reason = string(result.Scope)
		m.record(StageRateLimit, "denied")
		if m.deps.Metrics != nil {
			m.deps.Metrics.RecordRateLimitHit(result.Scope)
		}

		h := c.Writer.Header()
		h.Set(constants.HeaderRetryAfter, strconv.Itoa(result.RetryAfter))
		h.Set(constants.HeaderRateLimitLimit, strconv.Itoa(result.Limit))
		h.Set(constants.HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
		m.abort(c, errors.ErrRateLimitExceeded(result.Scope, result.RetryAfter))
		return
	default:
		m.record(StageRateLimit, "allowed")
		if result.Limited {
			c.Header(constants.HeaderRateLimitLimit, strconv.Itoa(result.Limit))
			c.Header(constants.HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
		}
	}

	// Authentication, skipped for the public endpoint set.
	var claims *models.TokenClaims
	if !m.isPublicEndpoint(info.Path) {
		if token == "" {
			out.stage = StageAuthenticate
			out.decision = constants.AuditDecisionDenied
			out.reason = missingTokenReason
			m.record(StageAuthenticate, "denied")
			m.abort(c, errors.ErrMissingToken())
			return
		}

		if verifyErr != nil {
			out.stage = StageAuthenticate
			out.decision = constants.AuditDecisionDenied
			out.reason = errorReason(verifyErr)
			m.record(StageAuthenticate, "denied")
			m.log.Debug(ctx, "Token verification failed",
				logger.String("path", info.Path),
				logger.String("reason", out.reason),
			)
			m.abort(c, verifyErr)
			return
		}
		claims = verified
		out.subject = claims.Subject
		out.role = claims.Role
		m.record(StageAuthenticate, "allowed")
	}

	// Authorization. An engine fault denies the request.
	decision, err := m.deps.Policy.Evaluate(ctx, info, clientIP, claims)
	if err != nil {
		m.log.Error(ctx, "Policy engine failed, denying request", err,
			logger.String("path", info.Path),
			logger.String("method", info.Method),
			logger.String("client_ip", clientIP),
		)
		decision = &models.PolicyDecision{
			Allowed: false,
			Reason:  models.ReasonEngineError,
			Message: "authorization is unavailable",
		}
		m.record(StageAuthorize, "error")
	}
	out.audit = decision.Audit
	if !decision.Allowed {
		out.stage = StageAuthorize
		out.decision = constants.AuditDecisionDenied
		out.reason = string(decision.Reason)
		if err == nil {
			m.record(StageAuthorize, "denied")
		}
		m.abort(c, authorizationError(decision, claims != nil))
		return
	}
	m.record(StageAuthorize, "allowed")

	if claims != nil {
		identity := models.IdentityFromClaims(claims)
		c.Set(IdentityKey, identity)
		c.Set(ClaimsKey, claims)
		c.Request = c.Request.WithContext(WithIdentity(ctx, identity))
	}

	c.Next()
}

// authorizationError maps a denial to 403 when the caller is known or the decision
// names what was missing, and to 401 otherwise.
func authorizationError(d *models.PolicyDecision, authenticated bool) errors.GateError {
	var err errors.GateError
	if authenticated || d.HasHint() {
		err = errors.ErrForbidden(d.Message)
	} else {
		err = errors.ErrUnauthenticated(d.Message)
	}
	err = err.WithMetadata("policy_reason", string(d.Reason))
	if d.RequiredRole != "" {
		err = err.WithMetadata("required_role", d.RequiredRole)
	}
	if len(d.RequiredPermissions) > 0 {
		err = err.WithMetadata("required_permissions", d.RequiredPermissions)
	}
	return err
}

func (m *SecurityMiddleware) abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.HTTPStatusOf(err), errors.ToResponse(err))
}

func (m *SecurityMiddleware) recoverPanic(c *gin.Context, r interface{}, clientIP string) {
	m.log.Error(c.Request.Context(), "Unhandled error in request pipeline", fmt.Errorf("panic: %v", r),
		logger.String("path", c.Request.URL.Path),
		logger.String("method", c.Request.Method),
		logger.String("client_ip", clientIP),
		logger.String("error_type", fmt.Sprintf("%T", r)),
	)
	if c.Writer.Written() {
		c.Abort()
		return
	}
	m.abort(c, errors.ErrInternal("unhandled panic"))
}

func (m *SecurityMiddleware) postProcess(c *gin.Context, writer *finalizingWriter, out *pipelineOutcome, start time.Time, clientIP, requestID string) {
	if !c.Writer.Written() {
		writer.finalize()
	}

	ctx := c.Request.Context()
	status := c.Writer.Status()
	elapsed := m.now().Sub(start)

	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveProcessingTime(c.Request.Method, strconv.Itoa(status), elapsed)
	}
	if m.deps.Tracing != nil {
		m.deps.Tracing.SetSpanAttributes(ctx, map[string]interface{}{
			"http.method":      c.Request.Method,
			"http.path":        c.Request.URL.Path,
			"http.status_code": status,
			"http.client_ip":   clientIP,
			"security.stage":   out.stage,
			"security.outcome": string(out.decision),
		})
	}

	if m.deps.Audit == nil || !m.shouldAudit(c.Request.URL.Path, status, out) {
		return
	}

	event := models.NewAuditEvent(m.now())
	event.RequestID = requestID
	event.ClientIP = clientIP
	event.Method = c.Request.Method
	event.Path = c.Request.URL.Path
	event.Status = status
	event.Subject = out.subject
	event.Role = out.role
	event.Decision = out.decision
	event.Reason = out.reason
	event.DurationMS = float64(elapsed.Microseconds()) / 1000
	event.UserAgent = c.Request.UserAgent()
	m.deps.Audit.Publish(event)
}

func (m *SecurityMiddleware) shouldAudit(path string, status int, out *pipelineOutcome) bool {
	return status >= http.StatusBadRequest || out.audit || utils.MatchesAnyPrefix(path, m.cfg.SensitivePrefixes)
}

func (m *SecurityMiddleware) isBypassed(info *models.RequestInfo) bool {
	return utils.ContainsFold(m.cfg.BypassMethods, info.Method) && utils.MatchesAnyPrefix(info.Path, m.cfg.BypassPrefixes)
}

func (m *SecurityMiddleware) isPublicEndpoint(path string) bool {
	for _, re := range m.public {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func (m *SecurityMiddleware) record(stage, outcome string) {
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordDecision(stage, outcome)
	}
}

func requestInfo(r *http.Request) *models.RequestInfo {
	return &models.RequestInfo{
		Method:     r.Method,
		Path:       r.URL.Path,
		Header:     r.Header,
		RemoteAddr: r.RemoteAddr,
		TLS:        isHTTPS(r),
	}
}

func errorReason(err error) string {
	if gateErr, ok := errors.AsGateError(err); ok {
		return string(gateErr.Code())
	}
	return string(constants.ErrCodeInternal)
}
