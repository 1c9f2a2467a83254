package service

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
)

// Ensure it satisfies the interface in interfaces.go
var _ TokenService = (*tokenService)(nil)

// TokenServiceConfig carries the token lifetimes and limits.
type TokenServiceConfig struct {
	Issuer          string
	AccessAudience  string
	RefreshAudience string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	ClockSkew       time.Duration
	RotationLimit   int
	IssuanceLimit   int
}

// DefaultTokenServiceConfig returns the stock lifetimes and limits.
func DefaultTokenServiceConfig() TokenServiceConfig {
	return TokenServiceConfig{
		Issuer:          constants.DefaultIssuer,
		AccessAudience:  constants.DefaultAccessAudience,
		RefreshAudience: constants.DefaultRefreshAudience,
		AccessTTL:       constants.DefaultAccessTokenTTL,
		RefreshTTL:      constants.DefaultRefreshTokenTTL,
		ClockSkew:       constants.DefaultClockSkewTolerance,
		RotationLimit:   constants.DefaultRotationLimit,
		IssuanceLimit:   constants.DefaultIssuanceLimitPerMinute,
	}
}

func (c *TokenServiceConfig) applyDefaults() {
	def := DefaultTokenServiceConfig()
	if c.Issuer == "" {
		c.Issuer = def.Issuer
	}
	if c.AccessAudience == "" {
		c.AccessAudience = def.AccessAudience
	}
	if c.RefreshAudience == "" {
		c.RefreshAudience = def.RefreshAudience
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = def.AccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = def.RefreshTTL
	}
	if c.ClockSkew < 0 {
		c.ClockSkew = 0
	}
	if c.RotationLimit <= 0 {
		c.RotationLimit = def.RotationLimit
	}
	if c.IssuanceLimit <= 0 {
		c.IssuanceLimit = def.IssuanceLimit
	}
}

// TokenServiceOption configures a token service.
type TokenServiceOption func(*tokenService)

// WithTokenClock replaces the time source, for tests. The signer must share it.
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(s *tokenService) {
		s.now = now
	}
}

type tokenService struct {
	cfg      TokenServiceConfig
	signer   TokenSigner
	revoked  RevocationStore
	issuance WindowCounter
	log      logger.Logger
	now      func() time.Time

	// mu guards records; rotation holds it across validate-and-revoke.
	mu      sync.Mutex
	records map[string]*models.RefreshTokenData
}

// NewTokenService wires a token service. Refresh records and the revocation list
// live in memory and do not survive a restart.
func NewTokenService(
	cfg TokenServiceConfig,
	signer TokenSigner,
	revoked RevocationStore,
	issuance WindowCounter,
	log logger.Logger,
	opts ...TokenServiceOption,
) TokenService {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewNoopLogger()
	}
	s := &tokenService{
		cfg:      cfg,
		signer:   signer,
		revoked:  revoked,
		issuance: issuance,
		log:      log.WithComponent("token_service"),
		now:      time.Now,
		records:  make(map[string]*models.RefreshTokenData),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ================================================================================
// Issuance
// ================================================================================

func (s *tokenService) IssueAccessToken(ctx context.Context, req models.IssueRequest) (string, *models.TokenClaims, error) {
	if err := s.checkIssueRequest(req); err != nil {
		return "", nil, err
	}
	if !s.issuance.Allow(issuanceKey(models.TokenTypeAccess, req.Subject), s.cfg.IssuanceLimit, constants.DefaultWindow) {
		s.log.Warn(ctx, "Access token issuance rate limited", logger.String("user_id", req.Subject))
		return "", nil, errors.ErrIssuanceRateLimited(req.Subject)
	}
	return s.mintAccess(req)
}

func (s *tokenService) IssueRefreshToken(ctx context.Context, req models.IssueRequest) (string, *models.TokenClaims, error) {
	if err := s.checkIssueRequest(req); err != nil {
		return "", nil, err
	}
	if !s.issuance.Allow(issuanceKey(models.TokenTypeRefresh, req.Subject), s.cfg.IssuanceLimit, constants.DefaultWindow) {
		s.log.Warn(ctx, "Refresh token issuance rate limited", logger.String("user_id", req.Subject))
		return "", nil, errors.ErrIssuanceRateLimited(req.Subject)
	}
	return s.mintRefresh(req, nil)
}

func (s *tokenService) IssueTokenPair(ctx context.Context, req models.IssueRequest) (*models.TokenPair, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	access, accessClaims, err := s.IssueAccessToken(ctx, req)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := s.IssueRefreshToken(ctx, req)
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "Token pair issued",
		logger.String("user_id", req.Subject),
		logger.String("session_id", req.SessionID),
		logger.String("role", req.Role),
	)
	return s.pair(access, accessClaims, refresh, refreshClaims), nil
}

func (s *tokenService) checkIssueRequest(req models.IssueRequest) error {
	if req.Subject == "" {
		return errors.ErrInvalidRequest("subject is required")
	}
	return nil
}

func (s *tokenService) mintAccess(req models.IssueRequest) (string, *models.TokenClaims, error) {
	claims := s.newClaims(req, models.TokenTypeAccess, s.cfg.AccessAudience, s.cfg.AccessTTL)
	claims.Role = req.Role
	claims.Permissions = append([]string(nil), req.Permissions...)

	signed, err := s.signer.Sign(claims)
	if err != nil {
		return "", nil, errors.ErrInternal("failed to sign access token").WithCause(err)
	}
	return signed, claims, nil
}

// mintRefresh signs a refresh token and records it. parent is the record being
// rotated, nil for a fresh login.
func (s *tokenService) mintRefresh(req models.IssueRequest, parent *models.RefreshTokenData) (string, *models.TokenClaims, error) {
	claims := s.newClaims(req, models.TokenTypeRefresh, s.cfg.RefreshAudience, s.cfg.RefreshTTL)
	// The real role stays server-side in the record.
	claims.Role = constants.RefreshTokenRole

	signed, err := s.signer.Sign(claims)
	if err != nil {
		return "", nil, errors.ErrInternal("failed to sign refresh token").WithCause(err)
	}

	record := &models.RefreshTokenData{
		TokenID:     claims.ID,
		UserID:      req.Subject,
		SessionID:   claims.SessionID,
		DeviceID:    req.DeviceID,
		Role:        req.Role,
		Permissions: append([]string(nil), req.Permissions...),
		CreatedAt:   claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if parent != nil {
		record.RotationCount = parent.RotationCount + 1
		record.ParentTokenID = parent.TokenID
	}

	s.mu.Lock()
	s.records[record.TokenID] = record
	s.mu.Unlock()

	return signed, claims, nil
}

func (s *tokenService) newClaims(req models.IssueRequest, tokenType models.TokenType, audience string, ttl time.Duration) *models.TokenClaims {
	now := s.now().Truncate(time.Second)
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &models.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   req.Subject,
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SessionID: sessionID,
		TokenType: tokenType,
		DeviceID:  req.DeviceID,
	}
}

func (s *tokenService) pair(access string, accessClaims *models.TokenClaims, refresh string, refreshClaims *models.TokenClaims) *models.TokenPair {
	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        constants.BearerScheme,
		ExpiresIn:        int64(s.cfg.AccessTTL.Seconds()),
		RefreshExpiresIn: int64(s.cfg.RefreshTTL.Seconds()),
		SessionID:        accessClaims.SessionID,
		IssuedAt:         accessClaims.IssuedAt.Time,
	}
}

func issuanceKey(tokenType models.TokenType, subject string) string {
	if tokenType == models.TokenTypeRefresh {
		return "create_refresh:" + subject
	}
	return "create_token:" + subject
}

// ================================================================================
// Verification
// ================================================================================

func (s *tokenService) Verify(ctx context.Context, token string, expected models.TokenType) (*models.TokenClaims, error) {
	if token == "" {
		return nil, errors.ErrMissingToken()
	}

	unverified, err := s.signer.Decode(token)
	if err != nil {
		return nil, errors.ErrInvalidToken("malformed token").WithCause(err)
	}
	if unverified.ID != "" && s.revoked.Contains(unverified.ID) {
		s.log.Warn(ctx, "Revoked token presented", logger.String("jti", unverified.ID))
		return nil, errors.ErrTokenRevoked(unverified.ID)
	}

	claims, err := s.signer.Parse(token)
	if err != nil {
		if !expiredOnly(err) {
			return nil, errors.ErrInvalidToken("token verification failed").WithCause(err)
		}
		claims, err = s.withinSkew(ctx, token, expected)
		if err != nil {
			return nil, err
		}
	}

	if claims.Issuer != s.cfg.Issuer {
		return nil, errors.ErrInvalidToken("unexpected issuer")
	}
	if claims.TokenType != expected {
		return nil, errors.ErrInvalidTokenType(string(expected), string(claims.TokenType))
	}
	audience := s.audienceFor(expected)
	if !claims.HasAudience(audience) {
		return nil, errors.ErrInvalidAudience(audience)
	}
	if claims.ID == "" {
		return nil, errors.ErrInvalidToken("token has no jti")
	}
	return claims, nil
}

// withinSkew accepts a correctly signed token whose expiry passed no more than
// the configured tolerance ago.
func (s *tokenService) withinSkew(ctx context.Context, token string, expected models.TokenType) (*models.TokenClaims, error) {
	claims, err := s.signer.ParseSignatureOnly(token)
	if err != nil {
		return nil, errors.ErrInvalidToken("token verification failed").WithCause(err)
	}
	if claims.ExpiresAt == nil {
		return nil, errors.ErrInvalidToken("token has no expiry")
	}

	overdue := s.now().Sub(claims.ExpiresAt.Time)
	if overdue > s.cfg.ClockSkew {
		return nil, errors.ErrTokenExpired(string(expected))
	}

	s.log.Warn(ctx, "Accepted expired token within clock skew tolerance",
		logger.String("jti", claims.ID),
		logger.Duration("overdue", overdue),
	)
	return claims, nil
}

// expiredOnly reports whether err is a claims failure caused by exp alone.
// The jwt parser checks the signature before claims, so the signature is good.
func expiredOnly(err error) bool {
	return stderrors.Is(err, jwt.ErrTokenExpired) &&
		!stderrors.Is(err, jwt.ErrTokenNotValidYet) &&
		!stderrors.Is(err, jwt.ErrTokenUsedBeforeIssued) &&
		!stderrors.Is(err, jwt.ErrTokenSignatureInvalid)
}

func (s *tokenService) audienceFor(tokenType models.TokenType) string {
	if tokenType == models.TokenTypeRefresh {
		return s.cfg.RefreshAudience
	}
	return s.cfg.AccessAudience
}

// ================================================================================
// Rotation and revocation
// ================================================================================

func (s *tokenService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims, err := s.Verify(ctx, refreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	record, ok := s.records[claims.ID]
	if !ok || record.IsRevoked {
		s.mu.Unlock()
		s.log.Warn(ctx, "Refresh with unknown or revoked token", logger.String("jti", claims.ID))
		return nil, errors.ErrRefreshTokenInvalid()
	}
	if record.RotationCount >= s.cfg.RotationLimit {
		revoked := s.revokeChainLocked(record)
		s.mu.Unlock()
		s.log.Warn(ctx, "Refresh rotation limit exceeded, chain revoked",
			logger.String("user_id", record.UserID),
			logger.String("session_id", record.SessionID),
			logger.Int("revoked", revoked),
		)
		return nil, errors.ErrRotationLimitExceeded(s.cfg.RotationLimit)
	}
	if !s.issuance.Allow(issuanceKey(models.TokenTypeAccess, record.UserID), s.cfg.IssuanceLimit, constants.DefaultWindow) ||
		!s.issuance.Allow(issuanceKey(models.TokenTypeRefresh, record.UserID), s.cfg.IssuanceLimit, constants.DefaultWindow) {
		s.mu.Unlock()
		return nil, errors.ErrIssuanceRateLimited(record.UserID)
	}
	s.revokeRecordLocked(record)
	parent := *record
	s.mu.Unlock()

	req := models.IssueRequest{
		Subject:     parent.UserID,
		Role:        parent.Role,
		Permissions: parent.Permissions,
		SessionID:   parent.SessionID,
		DeviceID:    parent.DeviceID,
	}
	access, accessClaims, err := s.mintAccess(req)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := s.mintRefresh(req, &parent)
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "Refresh token rotated",
		logger.String("user_id", parent.UserID),
		logger.String("session_id", parent.SessionID),
		logger.Int("rotation_count", parent.RotationCount+1),
	)
	return s.pair(access, accessClaims, refresh, refreshClaims), nil
}

// revokeRecordLocked marks record revoked and blacklists its jti until the
// record is swept. Must be called with s.mu held.
func (s *tokenService) revokeRecordLocked(record *models.RefreshTokenData) {
	record.IsRevoked = true
	s.revoked.Add(record.TokenID, 0)
}

// revokeChainLocked revokes record and every ancestor still tracked.
func (s *tokenService) revokeChainLocked(record *models.RefreshTokenData) int {
	count := 0
	for r := record; r != nil; r = s.records[r.ParentTokenID] {
		if !r.IsRevoked {
			s.revokeRecordLocked(r)
			count++
		}
	}
	return count
}

func (s *tokenService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return errors.ErrMissingToken()
	}
	claims, err := s.signer.ParseSignatureOnly(token)
	if err != nil {
		return errors.ErrInvalidToken("token verification failed").WithCause(err)
	}
	if claims.ID == "" {
		return errors.ErrInvalidToken("token has no jti")
	}

	if claims.TokenType == models.TokenTypeRefresh {
		s.mu.Lock()
		record, ok := s.records[claims.ID]
		if ok {
			s.revokeRecordLocked(record)
		}
		s.mu.Unlock()
		if ok {
			s.log.Info(ctx, "Refresh token revoked", logger.String("jti", claims.ID))
			return nil
		}
	}

	// Keep the entry only as long as the token could still pass verification.
	var ttl time.Duration
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Time.Add(s.cfg.ClockSkew).Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	}
	s.revoked.Add(claims.ID, ttl)
	s.log.Info(ctx, "Token revoked",
		logger.String("jti", claims.ID),
		logger.String("token_type", string(claims.TokenType)),
	)
	return nil
}

func (s *tokenService) RevokeAll(ctx context.Context, userID, exceptSession string) (int, error) {
	if userID == "" {
		return 0, errors.ErrInvalidRequest("user id is required")
	}

	s.mu.Lock()
	count := 0
	for _, record := range s.records {
		if record.UserID != userID || record.IsRevoked {
			continue
		}
		if exceptSession != "" && record.SessionID == exceptSession {
			continue
		}
		s.revokeRecordLocked(record)
		count++
	}
	s.mu.Unlock()

	s.log.Info(ctx, "Revoked all refresh tokens",
		logger.String("user_id", userID),
		logger.String("except_session", exceptSession),
		logger.Int("revoked", count),
	)
	return count, nil
}

// ================================================================================
// Introspection and maintenance
// ================================================================================

func (s *tokenService) Inspect(ctx context.Context, token string) (*models.TokenInfo, error) {
	if token == "" {
		return nil, errors.ErrMissingToken()
	}
	claims, err := s.signer.ParseSignatureOnly(token)
	if err != nil {
		return nil, errors.ErrInvalidToken("token verification failed").WithCause(err)
	}

	info := &models.TokenInfo{
		JTI:       claims.ID,
		Subject:   claims.Subject,
		TokenType: claims.TokenType,
		Role:      claims.Role,
		SessionID: claims.SessionID,
		DeviceID:  claims.DeviceID,
		Revoked:   claims.ID != "" && s.revoked.Contains(claims.ID),
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
		info.Expired = !s.now().Before(claims.ExpiresAt.Time)
	}

	if claims.TokenType == models.TokenTypeRefresh {
		s.mu.Lock()
		if record, ok := s.records[claims.ID]; ok {
			info.Role = record.Role
			info.Revoked = info.Revoked || record.IsRevoked
		}
		s.mu.Unlock()
	}
	return info, nil
}

func (s *tokenService) CleanupExpired(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for id, record := range s.records {
		if record.IsExpired(now) {
			delete(s.records, id)
			s.revoked.Remove(id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.log.Info(ctx, "Expired refresh tokens swept", logger.Int("removed", removed))
	}
	return removed
}

func (s *tokenService) Stats() models.TokenServiceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.TokenServiceStats{
		TrackedRefreshTokens: len(s.records),
		RevocationListSize:   s.revoked.Len(),
	}
	for _, record := range s.records {
		if record.IsRevoked {
			stats.RevokedRefreshTokens++
		}
	}
	return stats
}

//Personal.AI order the ending
