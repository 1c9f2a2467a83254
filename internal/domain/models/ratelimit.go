package models

import (
	"time"

	"github.com/turtacn/accessgate/pkg/constants"
)

// RateLimitRule binds a token-bucket budget to a path pattern.
// When several patterns match a path, the rule with the highest Priority wins.
type RateLimitRule struct {
	Pattern           string `json:"pattern" yaml:"pattern"`
	RequestsPerMinute int    `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstCapacity     int    `json:"burst_capacity" yaml:"burst_capacity"`
	WindowSeconds     int    `json:"window_seconds" yaml:"window_seconds"`
	Enabled           bool   `json:"enabled" yaml:"enabled"`
	Priority          int    `json:"priority" yaml:"priority"`
}

// DefaultRateLimitRules is the rule table used when none is configured.
func DefaultRateLimitRules() []RateLimitRule {
	return []RateLimitRule{
		{Pattern: "/api/auth/*", RequestsPerMinute: 10, BurstCapacity: 20, WindowSeconds: 60, Enabled: true, Priority: 10},
		{Pattern: "/api/admin/*", RequestsPerMinute: 30, BurstCapacity: 50, WindowSeconds: 60, Enabled: true, Priority: 9},
		{Pattern: "/api/security/*", RequestsPerMinute: 20, BurstCapacity: 30, WindowSeconds: 60, Enabled: true, Priority: 9},
		{Pattern: "/api/v2/ml/*", RequestsPerMinute: 50, BurstCapacity: 100, WindowSeconds: 60, Enabled: true, Priority: 7},
		{Pattern: "/api/v2/sports/*", RequestsPerMinute: 100, BurstCapacity: 200, WindowSeconds: 60, Enabled: true, Priority: 5},
		{Pattern: "/api/health", RequestsPerMinute: 300, BurstCapacity: 500, WindowSeconds: 60, Enabled: true, Priority: 1},
	}
}

// RateLimitResult is the outcome of one limiter check.
// Limit and Remaining feed the X-RateLimit-* response headers.
type RateLimitResult struct {
	Allowed bool
	// Limited is false when no rule matched and nothing was enforced.
	Limited    bool
	Scope      constants.LimitScope
	Rule       string
	Limit      int
	Remaining  int
	RetryAfter int
	ClientIP   string
}

// BucketStatus is a point-in-time view of one bucket.
type BucketStatus struct {
	Tokens          float64 `json:"tokens"`
	Capacity        float64 `json:"capacity"`
	RefillRate      float64 `json:"refill_rate"`
	BurstCapacity   float64 `json:"burst_capacity"`
	BurstTokensUsed float64 `json:"burst_tokens_used"`
}

// RateLimitStatus reports a caller's buckets.
type RateLimitStatus struct {
	ClientIP string                  `json:"client_ip"`
	UserID   string                  `json:"user_id,omitempty"`
	Buckets  map[string]BucketStatus `json:"buckets"`
}

// IPCount pairs an IP with its recent request count.
type IPCount struct {
	IP       string `json:"ip"`
	Requests int    `json:"requests"`
}

// RateLimitStats summarises limiter state for the metrics endpoint.
type RateLimitStats struct {
	IPBuckets          int       `json:"ip_buckets"`
	UserBuckets        int       `json:"user_buckets"`
	EndpointBuckets    int       `json:"endpoint_buckets"`
	RequestsLastHour   int       `json:"requests_last_hour"`
	TopIPs             []IPCount `json:"top_ips"`
	Rules              int       `json:"rules"`
	LastCleanup        time.Time `json:"last_cleanup"`
	LastCleanupRemoved int       `json:"last_cleanup_removed"`
}
