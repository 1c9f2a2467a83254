package dto

import (
	"github.com/turtacn/accessgate/internal/domain/models"
)

// RateLimitRuleRequest registers a rate-limit rule at runtime.
type RateLimitRuleRequest struct {
	Pattern           string `json:"pattern" validate:"required,pathpattern"`
	RequestsPerMinute int    `json:"requests_per_minute" validate:"required,gt=0"`
	BurstCapacity     int    `json:"burst_capacity" validate:"gte=0"`
	WindowSeconds     int    `json:"window_seconds" validate:"gte=0"`
	Priority          int    `json:"priority"`
	// Disabled registers the rule switched off.
	Disabled bool `json:"disabled"`
}

// ToRule converts the request into a limiter rule. A zero burst defaults to the per-minute rate.
func (r *RateLimitRuleRequest) ToRule() models.RateLimitRule {
	burst := r.BurstCapacity
	if burst == 0 {
		burst = r.RequestsPerMinute
	}
	window := r.WindowSeconds
	if window == 0 {
		window = 60
	}
	return models.RateLimitRule{
		Pattern:           r.Pattern,
		RequestsPerMinute: r.RequestsPerMinute,
		BurstCapacity:     burst,
		WindowSeconds:     window,
		Enabled:           !r.Disabled,
		Priority:          r.Priority,
	}
}

// SecurityMetricsResponse combines limiter and token service statistics.
type SecurityMetricsResponse struct {
	RateLimit *models.RateLimitStats   `json:"rate_limit"`
	Tokens    models.TokenServiceStats `json:"tokens"`
}
