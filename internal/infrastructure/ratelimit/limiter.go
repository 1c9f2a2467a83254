package ratelimit

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
	"github.com/turtacn/accessgate/pkg/utils"
)

// LimiterConfig sizes the per-user buckets and carries the initial rule table.
type LimiterConfig struct {
	DefaultUserLimit int
	BurstMultiplier  float64
	Rules            []models.RateLimitRule
}

// compiledRule is a rule with its path pattern compiled once.
type compiledRule struct {
	rule  models.RateLimitRule
	regex *regexp.Regexp
}

// historyKey identifies one client's traffic to one path.
type historyKey struct {
	ip   string
	path string
}

// Limiter is the token-bucket rate limiter. It keeps three keyed bucket pools:
// per client IP, per authenticated user, and a shared pool per request path that
// caps the path's global throughput across all clients. Client buckets are scoped
// to the rule that sized them; endpoint buckets to the concrete path.
type Limiter struct {
	cfg LimiterConfig
	log logger.Logger
	now func() time.Time

	rulesMu sync.RWMutex
	rules   []compiledRule

	ipBuckets       *TokenBucketPool
	userBuckets     *TokenBucketPool
	endpointBuckets *TokenBucketPool

	historyMu sync.Mutex
	history   map[historyKey][]time.Time

	cleanupMu          sync.Mutex
	lastCleanup        time.Time
	lastCleanupRemoved int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter builds a limiter and compiles cfg.Rules.
func NewLimiter(cfg LimiterConfig, log logger.Logger, opts ...Option) (*Limiter, error) {
	if cfg.DefaultUserLimit <= 0 {
		cfg.DefaultUserLimit = constants.DefaultUserLimitPerMinute
	}
	if cfg.BurstMultiplier <= 0 {
		cfg.BurstMultiplier = constants.DefaultBurstMultiplier
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}

	l := &Limiter{
		cfg:             cfg,
		log:             log.WithComponent("rate_limiter"),
		now:             time.Now,
		ipBuckets:       NewTokenBucketPool(),
		userBuckets:     NewTokenBucketPool(),
		endpointBuckets: NewTokenBucketPool(),
		history:         make(map[historyKey][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}

	for _, rule := range cfg.Rules {
		if err := l.AddRule(rule); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// AddRule registers a rule. It may be called while requests are being served.
func (l *Limiter) AddRule(rule models.RateLimitRule) error {
	if rule.RequestsPerMinute <= 0 {
		return errors.ErrInvalidConfig(fmt.Sprintf("rate limit rule %q: requests_per_minute must be positive", rule.Pattern))
	}
	regex, err := utils.CompilePathPattern(rule.Pattern)
	if err != nil {
		return errors.ErrInvalidConfig(fmt.Sprintf("rate limit rule %q: invalid pattern", rule.Pattern)).WithCause(err)
	}
	if rule.WindowSeconds <= 0 {
		rule.WindowSeconds = 60
	}

	l.rulesMu.Lock()
	l.rules = append(l.rules, compiledRule{rule: rule, regex: regex})
	l.rulesMu.Unlock()
	return nil
}

// matchRule returns the enabled rule with the highest priority whose pattern
// matches path. Among equal priorities the earliest-added rule wins.
func (l *Limiter) matchRule(path string) (models.RateLimitRule, bool) {
	l.rulesMu.RLock()
	defer l.rulesMu.RUnlock()

	var best *compiledRule
	for i := range l.rules {
		cr := &l.rules[i]
		if !cr.rule.Enabled || !cr.regex.MatchString(path) {
			continue
		}
		if best == nil || cr.rule.Priority > best.rule.Priority {
			best = cr
		}
	}
	if best == nil {
		return models.RateLimitRule{}, false
	}
	return best.rule, true
}

// Check consumes one token from each applicable bucket for req.
// Requests matching no rule are allowed without enforcement.
func (l *Limiter) Check(ctx context.Context, req *models.RequestInfo, userID string) (*models.RateLimitResult, error) {
	if req == nil {
		return nil, errors.ErrInternal("rate limiter: nil request")
	}

	clientIP := utils.ClientIP(req.Header, req.RemoteAddr)
	l.recordHistory(clientIP, req.Path)

	rule, ok := l.matchRule(req.Path)
	if !ok {
		return &models.RateLimitResult{Allowed: true, ClientIP: clientIP}, nil
	}

	result := &models.RateLimitResult{
		Allowed:  true,
		Limited:  true,
		Rule:     rule.Pattern,
		Limit:    rule.RequestsPerMinute,
		ClientIP: clientIP,
	}
	rpm := float64(rule.RequestsPerMinute)

	allowed, retryAfter, ipLeft := l.ipBuckets.Consume(bucketKey(rule.Pattern, clientIP), func() *TokenBucket {
		return newTokenBucket(rpm, float64(rule.BurstCapacity), l.now)
	}, 1)
	if !allowed {
		return l.deny(ctx, result, constants.LimitScopeIP, retryAfter), nil
	}
	remaining := ipLeft

	if userID != "" {
		userCapacity := math.Max(rpm, float64(l.cfg.DefaultUserLimit))
		userBurst := math.Max(float64(rule.BurstCapacity), float64(l.cfg.DefaultUserLimit)*l.cfg.BurstMultiplier)
		allowed, retryAfter, userLeft := l.userBuckets.Consume(bucketKey(rule.Pattern, userID), func() *TokenBucket {
			return newTokenBucket(userCapacity, userBurst, l.now)
		}, 1)
		if !allowed {
			return l.deny(ctx, result, constants.LimitScopeUser, retryAfter), nil
		}
		remaining = math.Min(remaining, userLeft)
	}

	allowed, _, _ = l.endpointBuckets.Consume(req.Path, func() *TokenBucket {
		return newTokenBucket(rpm*constants.EndpointCapacityMultiplier,
			float64(rule.BurstCapacity*constants.EndpointBurstMultiplier), l.now)
	}, 1)
	if !allowed {
		return l.deny(ctx, result, constants.LimitScopeEndpoint, constants.EndpointRetryAfterSeconds), nil
	}

	result.Remaining = int(math.Floor(remaining))
	return result, nil
}

func (l *Limiter) deny(ctx context.Context, result *models.RateLimitResult, scope constants.LimitScope, retryAfter int) *models.RateLimitResult {
	result.Allowed = false
	result.Scope = scope
	result.RetryAfter = retryAfter
	result.Remaining = 0
	l.log.Warn(ctx, "Rate limit exceeded",
		logger.String("scope", string(scope)),
		logger.String("rule", result.Rule),
		logger.String("client_ip", result.ClientIP),
		logger.Int("retry_after", retryAfter),
	)
	return result
}

// bucketKey scopes a client's bucket to the rule that sized it.
func bucketKey(pattern, identity string) string {
	return pattern + "|" + identity
}

func (l *Limiter) recordHistory(ip, path string) {
	key := historyKey{ip: ip, path: path}
	now := l.now()

	l.historyMu.Lock()
	defer l.historyMu.Unlock()

	entries := append(l.history[key], now)
	if len(entries) > constants.MaxHistoryPerKey {
		entries = entries[len(entries)-constants.MaxHistoryPerKey:]
	}
	l.history[key] = entries
}

// Cleanup prunes request history older than an hour, client buckets idle for
// thirty minutes and endpoint buckets idle for two hours.
//
// Returns:
//   - int: Number of history keys and buckets removed
func (l *Limiter) Cleanup() int {
	now := l.now()
	removed := 0

	cutoff := now.Add(-constants.HistoryRetention)
	l.historyMu.Lock()
	for key, entries := range l.history {
		entries = pruneBefore(entries, cutoff)
		if len(entries) == 0 {
			delete(l.history, key)
			removed++
			continue
		}
		l.history[key] = entries
	}
	l.historyMu.Unlock()

	removed += l.ipBuckets.Cleanup(now, constants.ClientBucketMaxIdle)
	removed += l.userBuckets.Cleanup(now, constants.ClientBucketMaxIdle)
	removed += l.endpointBuckets.Cleanup(now, constants.EndpointBucketMaxIdle)

	l.cleanupMu.Lock()
	l.lastCleanup = now
	l.lastCleanupRemoved = removed
	l.cleanupMu.Unlock()

	l.log.Debug(context.Background(), "Rate limiter cleanup completed", logger.Int("removed", removed))
	return removed
}

// Status reports every bucket held for clientIP and, if set, userID.
func (l *Limiter) Status(clientIP, userID string) *models.RateLimitStatus {
	status := &models.RateLimitStatus{
		ClientIP: clientIP,
		UserID:   userID,
		Buckets:  make(map[string]models.BucketStatus),
	}
	collect := func(pool *TokenBucketPool, scope constants.LimitScope, identity string) {
		if identity == "" {
			return
		}
		suffix := "|" + identity
		pool.Range(func(key string, bucket *TokenBucket) bool {
			if strings.HasSuffix(key, suffix) {
				status.Buckets[string(scope)+":"+strings.TrimSuffix(key, suffix)] = bucket.Status()
			}
			return true
		})
	}
	collect(l.ipBuckets, constants.LimitScopeIP, clientIP)
	collect(l.userBuckets, constants.LimitScopeUser, userID)
	return status
}

// Stats summarises the limiter for the metrics endpoint.
func (l *Limiter) Stats() *models.RateLimitStats {
	now := l.now()
	cutoff := now.Add(-constants.HistoryRetention)

	perIP := make(map[string]int)
	total := 0
	l.historyMu.Lock()
	for key, entries := range l.history {
		for _, t := range entries {
			if t.After(cutoff) {
				perIP[key.ip]++
				total++
			}
		}
	}
	l.historyMu.Unlock()

	top := make([]models.IPCount, 0, len(perIP))
	for ip, count := range perIP {
		top = append(top, models.IPCount{IP: ip, Requests: count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Requests != top[j].Requests {
			return top[i].Requests > top[j].Requests
		}
		return top[i].IP < top[j].IP
	})
	if len(top) > constants.TopIPCount {
		top = top[:constants.TopIPCount]
	}

	l.rulesMu.RLock()
	rules := len(l.rules)
	l.rulesMu.RUnlock()

	l.cleanupMu.Lock()
	lastCleanup, lastRemoved := l.lastCleanup, l.lastCleanupRemoved
	l.cleanupMu.Unlock()

	return &models.RateLimitStats{
		IPBuckets:          l.ipBuckets.Size(),
		UserBuckets:        l.userBuckets.Size(),
		EndpointBuckets:    l.endpointBuckets.Size(),
		RequestsLastHour:   total,
		TopIPs:             top,
		Rules:              rules,
		LastCleanup:        lastCleanup,
		LastCleanupRemoved: lastRemoved,
	}
}

// Rules returns a copy of the registered rules in registration order.
func (l *Limiter) Rules() []models.RateLimitRule {
	l.rulesMu.RLock()
	defer l.rulesMu.RUnlock()

	rules := make([]models.RateLimitRule, 0, len(l.rules))
	for _, cr := range l.rules {
		rules = append(rules, cr.rule)
	}
	return rules
}

//Personal.AI order the ending
