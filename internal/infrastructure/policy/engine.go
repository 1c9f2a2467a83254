package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/internal/infrastructure/ratelimit"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
)

// Ensure it satisfies the interface in domain/service
var _ service.PolicyEngine = (*Engine)(nil)

// snapshot is one loaded document with everything derived from it.
// It is immutable once published.
type snapshot struct {
	settings  models.SecuritySettings
	roles     map[string]models.Role
	effective map[string][]string
	matcher   *matcher
	loadedAt  time.Time
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// ServiceKeyHeader is the header whose presence satisfies require_service_key.
	ServiceKeyHeader string
	// MatchCacheSize bounds the per-document path match cache.
	MatchCacheSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the time source of the policy windows, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithReloadHook registers fn to be called after every load attempt with its outcome.
func WithReloadHook(fn func(err error)) Option {
	return func(e *Engine) {
		e.onReload = fn
	}
}

// Engine is the policy engine. Documents are swapped in wholesale, so a request
// always evaluates against one consistent document.
type Engine struct {
	cfg      EngineConfig
	log      logger.Logger
	now      func() time.Time
	onReload func(err error)

	current atomic.Pointer[snapshot]
	windows *ratelimit.SlidingWindow

	pathMu sync.Mutex
	path   string
}

// NewEngine creates an engine with no document loaded. Evaluate fails until
// one of the Load methods succeeds.
func NewEngine(cfg EngineConfig, log logger.Logger, opts ...Option) *Engine {
	if cfg.ServiceKeyHeader == "" {
		cfg.ServiceKeyHeader = constants.HeaderServiceKey
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	e := &Engine{
		cfg: cfg,
		log: log.WithComponent("policy_engine"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.windows = ratelimit.NewSlidingWindowWithClock(e.now)
	return e
}

// LoadFile loads the document at path and remembers path for Reload and Watch.
func (e *Engine) LoadFile(path string) error {
	e.pathMu.Lock()
	e.path = path
	e.pathMu.Unlock()

	doc, err := ReadDocument(path)
	if err != nil {
		e.reloaded(err)
		return err
	}
	return e.LoadDocument(doc)
}

// LoadBytes parses and loads a YAML document.
func (e *Engine) LoadBytes(data []byte) error {
	doc, err := ParseDocument(data)
	if err != nil {
		e.reloaded(err)
		return err
	}
	return e.LoadDocument(doc)
}

// Reload re-reads the file given to LoadFile. On failure the active document is kept.
func (e *Engine) Reload() error {
	e.pathMu.Lock()
	path := e.path
	e.pathMu.Unlock()

	if path == "" {
		return errors.ErrInvalidPolicy("no policy file to reload")
	}
	doc, err := ReadDocument(path)
	if err != nil {
		e.log.Error(context.Background(), "Policy reload failed, keeping previous document", err,
			logger.String("file", path))
		e.reloaded(err)
		return err
	}
	return e.LoadDocument(doc)
}

// LoadDocument compiles doc and makes it the active document.
func (e *Engine) LoadDocument(doc *models.PolicyDocument) error {
	m, err := newMatcher(doc.Routes, e.cfg.MatchCacheSize)
	if err != nil {
		e.reloaded(err)
		return err
	}

	roles := make(map[string]models.Role, len(doc.Roles))
	for name, role := range doc.Roles {
		if role == nil {
			continue
		}
		r := *role
		r.Name = name
		roles[name] = r
	}

	snap := &snapshot{
		settings:  doc.Security,
		roles:     roles,
		effective: resolveAll(doc.Roles, e.log),
		matcher:   m,
		loadedAt:  e.now(),
	}
	e.current.Store(snap)

	for _, ref := range UnknownRoleReferences(doc) {
		e.log.Warn(context.Background(), "Policy references an undefined role", logger.String("reference", ref))
	}
	e.log.Info(context.Background(), "Policy document loaded",
		logger.Int("roles", len(roles)),
		logger.Int("routes", len(doc.Routes)),
		logger.Bool("default_deny", doc.Security.DefaultDeny),
	)
	e.reloaded(nil)
	return nil
}

func (e *Engine) reloaded(err error) {
	if e.onReload != nil {
		e.onReload(err)
	}
}

// ================================================================================
// Evaluation
// ================================================================================

// Evaluate walks the matched policy's checks in order and stops at the first failure.
func (e *Engine) Evaluate(ctx context.Context, req *models.RequestInfo, clientIP string, claims *models.TokenClaims) (*models.PolicyDecision, error) {
	snap := e.current.Load()
	if snap == nil {
		return nil, errors.ErrInternal("no policy document loaded")
	}
	if req == nil {
		return nil, errors.ErrInternal("policy engine: nil request")
	}

	route, ok := snap.matcher.match(req.Path)
	if !ok {
		if snap.settings.DefaultDeny {
			return deny(models.ReasonNoMatchingPolicy, "no policy covers this path"), nil
		}
		return &models.PolicyDecision{Allowed: true, Reason: models.ReasonNoMatchingPolicy, Message: "no policy covers this path"}, nil
	}

	decision := &models.PolicyDecision{
		Policy:    route.Name,
		RateLimit: route.RateLimit,
		Audit:     route.Audit,
	}

	if !route.RequiresAuthentication(snap.settings.RequireAuthentication) {
		return e.evaluatePublic(ctx, snap, route, clientIP, decision), nil
	}

	if claims == nil {
		return denied(decision, models.ReasonUnauthenticated, "authentication required"), nil
	}

	role := claims.Role
	if role == "" {
		role = constants.GuestRole
	}
	if len(route.Roles) > 0 && !contains(route.Roles, role) {
		decision.RequiredRole = strings.Join(route.Roles, ",")
		return denied(decision, models.ReasonRoleNotAllowed, fmt.Sprintf("role %q may not access this resource", role)), nil
	}

	granted := grantedSet(snap.effective[role], claims.Permissions)
	if missing := missingPermissions(route.Permissions, granted); len(missing) > 0 {
		decision.RequiredPermissions = missing
		return denied(decision, models.ReasonMissingPermissions, "missing required permissions"), nil
	}
	if methodPerms, ok := route.Methods[strings.ToUpper(req.Method)]; ok {
		if missing := missingPermissions(methodPerms, granted); len(missing) > 0 {
			decision.RequiredPermissions = missing
			return denied(decision, models.ReasonMethodPermission, fmt.Sprintf("missing permissions for %s", strings.ToUpper(req.Method))), nil
		}
	}

	roleDef, hasRole := snap.roles[role]
	if route.RateLimit != nil {
		limit := route.RateLimit.RequestsPerMinute
		if hasRole && roleDef.MaxRequestsPerMinute > 0 && roleDef.MaxRequestsPerMinute < limit {
			limit = roleDef.MaxRequestsPerMinute
		}
		if !e.windows.Allow(claims.Subject+":"+route.Name, limit, constants.DefaultWindow) {
			e.log.Warn(ctx, "Policy rate limit exceeded",
				logger.String("policy", route.Name),
				logger.String("user_id", claims.Subject),
				logger.Int("limit", limit),
			)
			return denied(decision, models.ReasonRateLimited, "policy rate limit exceeded"), nil
		}
	}

	// Presence only; the value is not checked against anything.
	if route.RequireServiceKey || (hasRole && roleDef.RequiresServiceKey) {
		if req.Header.Get(e.cfg.ServiceKeyHeader) == "" {
			return denied(decision, models.ReasonMissingServiceKey, "service key required"), nil
		}
	}

	decision.Allowed = true
	decision.Reason = models.ReasonAllowed
	decision.Message = "access granted"
	return decision, nil
}

// evaluatePublic applies the IP-keyed window of a policy that needs no authentication.
func (e *Engine) evaluatePublic(ctx context.Context, snap *snapshot, route *models.RoutePolicy, clientIP string, decision *models.PolicyDecision) *models.PolicyDecision {
	limit := snap.settings.PublicRequestsPerMinute
	if route.RateLimit != nil {
		limit = route.RateLimit.RequestsPerMinute
	}
	if clientIP == "" {
		clientIP = constants.UnknownClientIP
	}
	if !e.windows.Allow("public:"+route.Name+":"+clientIP, limit, constants.DefaultWindow) {
		e.log.Warn(ctx, "Public policy rate limit exceeded",
			logger.String("policy", route.Name),
			logger.String("client_ip", clientIP),
			logger.Int("limit", limit),
		)
		return denied(decision, models.ReasonRateLimited, "public rate limit exceeded")
	}
	decision.Allowed = true
	decision.Reason = models.ReasonPublic
	decision.Message = "public endpoint"
	return decision
}

func deny(reason models.DecisionReason, message string) *models.PolicyDecision {
	return &models.PolicyDecision{Allowed: false, Reason: reason, Message: message}
}

func denied(d *models.PolicyDecision, reason models.DecisionReason, message string) *models.PolicyDecision {
	d.Allowed = false
	d.Reason = reason
	d.Message = message
	return d
}

func grantedSet(lists ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, list := range lists {
		for _, p := range list {
			set[p] = struct{}{}
		}
	}
	return set
}

func missingPermissions(required []string, granted map[string]struct{}) []string {
	var missing []string
	for _, p := range required {
		if _, ok := granted[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// ================================================================================
// Introspection
// ================================================================================

// EffectivePermissions returns role's permissions including inherited ones.
func (e *Engine) EffectivePermissions(role string) []string {
	snap := e.current.Load()
	if snap == nil {
		return nil
	}
	return append([]string(nil), snap.effective[role]...)
}

// Roles lists the loaded roles sorted by name.
func (e *Engine) Roles() []models.Role {
	snap := e.current.Load()
	if snap == nil {
		return nil
	}
	roles := make([]models.Role, 0, len(snap.roles))
	for _, r := range snap.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles
}

// Settings returns the document-wide settings, or the defaults before a load.
func (e *Engine) Settings() models.SecuritySettings {
	snap := e.current.Load()
	if snap == nil {
		return models.DefaultSecuritySettings()
	}
	return snap.settings
}

// Match returns the name of the policy covering path, if any.
func (e *Engine) Match(path string) (string, bool) {
	snap := e.current.Load()
	if snap == nil {
		return "", false
	}
	route, ok := snap.matcher.match(path)
	if !ok {
		return "", false
	}
	return route.Name, true
}

// LoadedAt reports when the active document was loaded.
func (e *Engine) LoadedAt() time.Time {
	snap := e.current.Load()
	if snap == nil {
		return time.Time{}
	}
	return snap.loadedAt
}

// Cleanup drops policy windows with no event in the last minute.
func (e *Engine) Cleanup() int {
	return e.windows.Cleanup(constants.DefaultWindow)
}

//Personal.AI order the ending
