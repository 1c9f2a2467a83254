package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/accessgate/internal/application/dto"
	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/internal/infrastructure/monitoring"
	"github.com/turtacn/accessgate/internal/interfaces/http/middleware"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
)

// AuthHandler handles HTTP requests for token lifecycle operations.
// Authentication and authorization already ran in the security middleware;
// handlers only read the identity it attached.
type AuthHandler struct {
	tokens  service.TokenService
	metrics *monitoring.Metrics
	log     logger.Logger
}

// NewAuthHandler creates a new AuthHandler. metrics may be nil.
func NewAuthHandler(tokens service.TokenService, metrics *monitoring.Metrics, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		tokens:  tokens,
		metrics: metrics,
		log:     log.WithComponent("auth_handler"),
	}
}

// IssueToken godoc
// @Summary      Issue service token
// @Description  Mints an access token, or an access/refresh pair, for a service caller.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Success      200  {object}  models.TokenPair
// @Failure      400,401,403,429  {object}  map[string]interface{}
// @Router       /api/auth/token [post]
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req dto.TokenIssueRequest
	if err := dto.BindJSON(c, &req); err != nil {
		dto.SendError(c, err)
		return
	}

	ctx := c.Request.Context()
	var (
		pair *models.TokenPair
		err  error
	)
	if req.AccessOnly {
		var (
			token  string
			claims *models.TokenClaims
		)
		token, claims, err = h.tokens.IssueAccessToken(ctx, req.ToIssueRequest())
		if err == nil {
			pair = dto.AccessOnlyPair(token, claims)
		}
	} else {
		pair, err = h.tokens.IssueTokenPair(ctx, req.ToIssueRequest())
	}
	h.record("issue", err)
	if err != nil {
		dto.SendError(c, err)
		return
	}

	issuer, _ := middleware.IdentityFromGin(c)
	h.log.Info(ctx, "Service token issued",
		logger.String("subject", req.Subject),
		logger.String("role", req.Role),
		logger.String("issued_by", subjectOf(issuer)),
	)
	dto.SendSuccess(c, http.StatusOK, pair)
}

// RefreshToken rotates a refresh token into a new pair. The refresh token is
// single-use: presenting it again fails.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req dto.TokenRefreshRequest
	if err := dto.BindJSON(c, &req); err != nil {
		dto.SendError(c, err)
		return
	}

	pair, err := h.tokens.Refresh(c.Request.Context(), req.RefreshToken)
	h.record("refresh", err)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, pair)
}

// RevokeToken revokes one token. Callers may revoke their own tokens; admins may
// revoke anyone's.
func (h *AuthHandler) RevokeToken(c *gin.Context) {
	var req dto.TokenRevokeRequest
	if err := dto.BindJSON(c, &req); err != nil {
		dto.SendError(c, err)
		return
	}

	ctx := c.Request.Context()
	identity, ok := middleware.IdentityFromGin(c)
	if !ok {
		dto.SendError(c, errors.ErrUnauthenticated("authentication required"))
		return
	}

	info, err := h.tokens.Inspect(ctx, req.Token)
	if err != nil {
		h.record("revoke", err)
		dto.SendError(c, err)
		return
	}
	if !canManage(identity, info.Subject) {
		dto.SendError(c, errors.ErrForbidden("cannot revoke another subject's token"))
		return
	}

	err = h.tokens.Revoke(ctx, req.Token)
	h.record("revoke", err)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, gin.H{"status": "revoked", "jti": info.JTI})
}

// LogoutAll revokes every refresh token of the caller. Unless keep_current is set,
// the presented access token is revoked too.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	var req dto.LogoutAllRequest
	if c.Request.ContentLength > 0 {
		if err := dto.BindJSON(c, &req); err != nil {
			dto.SendError(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	identity, ok := middleware.IdentityFromGin(c)
	if !ok {
		dto.SendError(c, errors.ErrUnauthenticated("authentication required"))
		return
	}

	except := ""
	if req.KeepCurrent {
		except = identity.SessionID
	}
	revoked, err := h.tokens.RevokeAll(ctx, identity.Subject, except)
	if err == nil && !req.KeepCurrent {
		err = h.tokens.Revoke(ctx, middleware.BearerToken(c))
	}
	h.record("logout_all", err)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, dto.LogoutAllResponse{Revoked: revoked})
}

// IntrospectToken reports a token's state. Tokens that fail signature checks are
// reported inactive rather than as errors.
func (h *AuthHandler) IntrospectToken(c *gin.Context) {
	var req dto.TokenIntrospectRequest
	if err := dto.BindJSON(c, &req); err != nil {
		dto.SendError(c, err)
		return
	}

	identity, ok := middleware.IdentityFromGin(c)
	if !ok {
		dto.SendError(c, errors.ErrUnauthenticated("authentication required"))
		return
	}

	info, err := h.tokens.Inspect(c.Request.Context(), req.Token)
	h.record("introspect", err)
	if err != nil {
		if errors.HTTPStatusOf(err) >= http.StatusInternalServerError {
			dto.SendError(c, err)
			return
		}
		dto.SendSuccess(c, http.StatusOK, dto.NewTokenIntrospectResponse(nil))
		return
	}
	if !canManage(identity, info.Subject) {
		dto.SendError(c, errors.ErrForbidden("cannot introspect another subject's token"))
		return
	}
	dto.SendSuccess(c, http.StatusOK, dto.NewTokenIntrospectResponse(info))
}

func (h *AuthHandler) record(operation string, err error) {
	if h.metrics != nil {
		h.metrics.RecordTokenOperation(operation, err)
	}
}

func canManage(identity *models.Identity, subject string) bool {
	return identity.Subject == subject || identity.Role == constants.AdminRole
}

func subjectOf(identity *models.Identity) string {
	if identity == nil {
		return ""
	}
	return identity.Subject
}

//Personal.AI order the ending
