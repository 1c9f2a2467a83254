package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/accessgate/internal/application/dto"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/internal/interfaces/http/middleware"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
)

// SecurityHandler exposes limiter and token service state to operators.
type SecurityHandler struct {
	limiter service.RateLimiter
	tokens  service.TokenService
	log     logger.Logger
}

// NewSecurityHandler creates a new SecurityHandler.
func NewSecurityHandler(limiter service.RateLimiter, tokens service.TokenService, log logger.Logger) *SecurityHandler {
	return &SecurityHandler{
		limiter: limiter,
		tokens:  tokens,
		log:     log.WithComponent("security_handler"),
	}
}

// RateLimitStatus returns the bucket state of a caller. Without query parameters it
// reports the requesting caller; ?ip= and ?user_id= select another one.
func (h *SecurityHandler) RateLimitStatus(c *gin.Context) {
	clientIP := c.Query("ip")
	if clientIP == "" {
		clientIP = c.GetString(middleware.ClientIPKey)
	}
	userID := c.Query("user_id")
	if userID == "" {
		if identity, ok := middleware.IdentityFromGin(c); ok {
			userID = identity.Subject
		}
	}
	dto.SendSuccess(c, http.StatusOK, h.limiter.Status(clientIP, userID))
}

// RateLimitMetrics returns aggregate limiter and token statistics.
func (h *SecurityHandler) RateLimitMetrics(c *gin.Context) {
	dto.SendSuccess(c, http.StatusOK, dto.SecurityMetricsResponse{
		RateLimit: h.limiter.Stats(),
		Tokens:    h.tokens.Stats(),
	})
}

// AddRateLimitRule registers a rule at runtime. Rules added this way are not persisted.
func (h *SecurityHandler) AddRateLimitRule(c *gin.Context) {
	var req dto.RateLimitRuleRequest
	if err := dto.BindJSON(c, &req); err != nil {
		dto.SendError(c, err)
		return
	}

	rule := req.ToRule()
	if err := h.limiter.AddRule(rule); err != nil {
		dto.SendError(c, errors.ErrInvalidRequest(err.Error()).WithCause(err))
		return
	}

	h.log.Info(c.Request.Context(), "Rate limit rule added",
		logger.String("pattern", rule.Pattern),
		logger.Int("requests_per_minute", rule.RequestsPerMinute),
		logger.Int("priority", rule.Priority),
	)
	dto.SendSuccess(c, http.StatusCreated, rule)
}
