package usecase

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/logger"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/security"
)

const (
	defaultAccessTokenTTL  = 30 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultMaxSessions     = 3

	revocationReasonRevoked = "revoked"
	revocationReasonRotated = "refresh_rotated"
	revocationReasonLogout  = "logout"

	sessionReasonEvicted = "session_limit"
	sessionReasonRefresh = "refresh_rotated"
	sessionReasonLogout  = "logout"
)

// TokenSigner signs and verifies session-bound JWTs.
type TokenSigner interface {
	Sign(payload domain.TokenPayload) (string, domain.TokenPayload, error)
	Verify(token string, expected domain.TokenType) (domain.TokenPayload, error)
}

// TokenServiceConfig holds the token and session lifetimes.
type TokenServiceConfig struct {
	AccessTokenTTL        time.Duration
	RefreshTokenTTL       time.Duration
	MaxConcurrentSessions int
	StrictIPPinning       bool
	StoreTimeout          time.Duration
}

// TokenService issues, verifies, refreshes and revokes session-bound tokens.
type TokenService struct {
	cfg         TokenServiceConfig
	signer      TokenSigner
	encryptor   port.Encryptor
	sessions    port.SessionStore
	revocations port.RevocationStore
	limiter     *RateLimiter
	denylist    port.JTIDenylistCache
	publisher   port.EventPublisher
	metrics     port.AuthMetrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewTokenService wires the token service. Zero-valued settings fall back to 30m access, 7d refresh and 3 sessions.
func NewTokenService(
	cfg TokenServiceConfig,
	signer TokenSigner,
	encryptor port.Encryptor,
	sessions port.SessionStore,
	revocations port.RevocationStore,
	limiter *RateLimiter,
	log *zap.Logger,
) *TokenService {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = defaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = defaultMaxSessions
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	return &TokenService{
		cfg:         cfg,
		signer:      signer,
		encryptor:   encryptor,
		sessions:    sessions,
		revocations: revocations,
		limiter:     limiter,
		metrics:     port.NopAuthMetrics{},
		logger:      log,
		now:         time.Now,
	}
}

// WithDenylist puts an in-process revocation cache in front of the shared set.
func (s *TokenService) WithDenylist(cache port.JTIDenylistCache) *TokenService {
	s.denylist = cache
	return s
}

// WithPublisher attaches the audit publisher.
func (s *TokenService) WithPublisher(publisher port.EventPublisher) *TokenService {
	s.publisher = publisher
	return s
}

// WithMetrics attaches metric hooks.
func (s *TokenService) WithMetrics(metrics port.AuthMetrics) *TokenService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// WithClock overrides the time source (testing).
func (s *TokenService) WithClock(clock func() time.Time) *TokenService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// GenerateTokens opens a session for user and returns an access token with its encrypted refresh token.
// The oldest sessions are evicted first so the user never holds more than MaxConcurrentSessions.
func (s *TokenService) GenerateTokens(ctx context.Context, user domain.AuthenticatedUser, sc domain.SessionContext) (domain.TokenPair, error) {
	ctx, span := tracer.Start(ctx, "TokenService.GenerateTokens")
	defer span.End()

	pair, err := s.generateTokens(ctx, user, sc, "")
	recordSpanError(span, err)
	return pair, err
}

// generateTokens opens a session and issues its pair. A non-empty replacing names a session the caller
// deletes afterwards, so it is not counted against the limit.
func (s *TokenService) generateTokens(ctx context.Context, user domain.AuthenticatedUser, sc domain.SessionContext, replacing string) (domain.TokenPair, error) {
	userID := strings.TrimSpace(user.UserID)
	if userID == "" {
		return domain.TokenPair{}, domain.ErrValidation.WithMessage("user id is required")
	}
	if _, ok := domain.ParseRole(string(user.Role)); !ok {
		return domain.TokenPair{}, domain.ErrValidation.WithMessage("unknown role %q", user.Role)
	}

	limit := s.cfg.MaxConcurrentSessions
	if replacing != "" {
		limit++
	}
	evicted, err := s.enforceLimit(ctx, userID, limit)
	if err != nil {
		return domain.TokenPair{}, err
	}

	sessionID, err := security.GenerateSecureToken(security.SessionIDBytes)
	if err != nil {
		return domain.TokenPair{}, domain.ErrInternal.WithMessage("generate session id").Wrap(err)
	}

	now := s.now().UTC()
	session := domain.Session{
		ID:                sessionID,
		UserID:            userID,
		Email:             user.Email,
		Role:              user.Role,
		IssuedAt:          now,
		ExpiresAt:         now.Add(s.cfg.RefreshTokenTTL),
		IPAddress:         strings.TrimSpace(sc.IPAddress),
		DeviceFingerprint: strings.TrimSpace(sc.DeviceFingerprint),
	}

	createCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	err = s.sessions.Create(createCtx, session, s.cfg.RefreshTokenTTL)
	cancel()
	if err != nil {
		return domain.TokenPair{}, translateStoreError("session store", err)
	}

	// A concurrent sign-in may have passed the first check as well; allow ours and trim back to the limit.
	reconciled, err := s.enforceLimit(ctx, userID, limit+1)
	if err != nil {
		s.discardSession(ctx, sessionID)
		return domain.TokenPair{}, err
	}
	evicted = append(evicted, reconciled...)
	if slices.Contains(reconciled, sessionID) {
		s.reportEvictions(ctx, session, evicted)
		return domain.TokenPair{}, domain.ErrSessionExpired.WithMessage("session displaced by a concurrent sign-in")
	}

	pair, err := s.issuePair(session, now)
	if err != nil {
		s.discardSession(ctx, sessionID)
		return domain.TokenPair{}, err
	}

	s.reportEvictions(ctx, session, evicted)
	s.publishSession(ctx, domain.EventSessionCreated, session, "")
	s.logger.Info("session created",
		zap.String("session_id", logger.MaskString(sessionID)),
		zap.String("user_id", userID),
		zap.String("role", string(user.Role)),
		zap.String("ip", logger.MaskIP(session.IPAddress)),
		zap.Int("evicted", len(evicted)),
	)
	return pair, nil
}

func (s *TokenService) issuePair(session domain.Session, now time.Time) (domain.TokenPair, error) {
	base := domain.TokenPayload{
		UserID:    session.UserID,
		Email:     session.Email,
		Role:      session.Role,
		SessionID: session.ID,
		IssuedAt:  now,
	}

	access := base
	access.Type = domain.TokenTypeAccess
	access.ExpiresAt = now.Add(s.cfg.AccessTokenTTL)
	accessToken, issued, err := s.signer.Sign(access)
	if err != nil {
		return domain.TokenPair{}, domain.ErrInternal.WithMessage("sign access token").Wrap(err)
	}

	refresh := base
	refresh.Type = domain.TokenTypeRefresh
	refresh.ExpiresAt = now.Add(s.cfg.RefreshTokenTTL)
	refreshToken, _, err := s.signer.Sign(refresh)
	if err != nil {
		return domain.TokenPair{}, domain.ErrInternal.WithMessage("sign refresh token").Wrap(err)
	}

	blob, err := s.encryptor.Encrypt(refreshToken)
	if err != nil {
		return domain.TokenPair{}, domain.ErrInternal.WithMessage("encrypt refresh token").Wrap(err)
	}
	opaque, err := security.EncodeBlob(blob)
	if err != nil {
		return domain.TokenPair{}, domain.ErrInternal.WithMessage("encode refresh token").Wrap(err)
	}

	return domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: opaque,
		ExpiresIn:    issued.ExpiresAt.Sub(issued.IssuedAt),
		SessionID:    session.ID,
	}, nil
}

// VerifyAccessToken authenticates a bearer token against its live session.
// A session store outage fails closed.
func (s *TokenService) VerifyAccessToken(ctx context.Context, token, ipAddress string) (domain.TokenPayload, error) {
	ctx, span := tracer.Start(ctx, "TokenService.VerifyAccessToken")
	defer span.End()

	payload, err := s.verifyAccessToken(ctx, token, ipAddress)
	s.metrics.ObserveVerify(outcome(err))
	recordSpanError(span, err)
	return payload, err
}

func (s *TokenService) verifyAccessToken(ctx context.Context, token, ipAddress string) (domain.TokenPayload, error) {
	payload, err := s.signer.Verify(token, domain.TokenTypeAccess)
	if err != nil {
		return domain.TokenPayload{}, err
	}

	if err := s.ensureNotRevoked(ctx, payload); err != nil {
		return domain.TokenPayload{}, err
	}

	session, err := s.loadSession(ctx, payload.SessionID)
	if err != nil {
		return domain.TokenPayload{}, err
	}
	if session.UserID != payload.UserID {
		s.logger.Error("session subject does not match token",
			zap.String("token_id", payload.TokenID),
			zap.String("session_id", logger.MaskString(payload.SessionID)),
		)
		return domain.TokenPayload{}, domain.ErrInvalidToken.WithMessage("token does not match session")
	}
	if err := s.checkPinning(session, ipAddress); err != nil {
		return domain.TokenPayload{}, err
	}

	return payload, nil
}

// Refresh rotates an encrypted refresh token into a new pair.
// The consumed token id is claimed atomically, so a second presentation fails with TOKEN_REVOKED.
func (s *TokenService) Refresh(ctx context.Context, encryptedRefreshToken, ipAddress string) (domain.TokenPair, error) {
	ctx, span := tracer.Start(ctx, "TokenService.Refresh")
	defer span.End()

	pair, err := s.refresh(ctx, encryptedRefreshToken, ipAddress)
	s.metrics.ObserveRefresh(outcome(err))
	recordSpanError(span, err)
	return pair, err
}

func (s *TokenService) refresh(ctx context.Context, encryptedRefreshToken, ipAddress string) (domain.TokenPair, error) {
	encryptedRefreshToken = strings.TrimSpace(encryptedRefreshToken)
	if encryptedRefreshToken == "" {
		return domain.TokenPair{}, domain.ErrValidation.WithMessage("refresh token is required")
	}

	if s.limiter != nil {
		identity := strings.TrimSpace(ipAddress)
		if identity == "" {
			identity = "token:" + security.TokenFingerprint(encryptedRefreshToken)
		}
		if err := s.limiter.Consume(ctx, RateLimitScopeRefresh, identity); err != nil {
			return domain.TokenPair{}, err
		}
	}

	blob, err := security.DecodeBlob(encryptedRefreshToken)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refreshJWT, err := s.encryptor.DecryptContext(ctx, blob)
	if err != nil {
		s.reportTamper(ctx, err, blob.KeyVersion, ipAddress)
		return domain.TokenPair{}, err
	}

	payload, err := s.signer.Verify(refreshJWT, domain.TokenTypeRefresh)
	if err != nil {
		return domain.TokenPair{}, err
	}

	claimCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	claimed, err := s.revocations.Claim(claimCtx, payload.TokenID, revocationReasonRotated, payload.RemainingLifetime(s.now()))
	cancel()
	if err != nil {
		return domain.TokenPair{}, translateStoreError("revocation store", err)
	}
	if !claimed {
		s.reportReplay(ctx, payload, ipAddress)
		return domain.TokenPair{}, domain.ErrTokenRevoked.WithMessage("refresh token already used or revoked")
	}

	pair, session, err := s.rotateSession(ctx, payload, ipAddress)
	if err != nil {
		// The token was never exchanged, so a retry must not look like a replay.
		s.releaseClaim(ctx, payload.TokenID)
		return domain.TokenPair{}, err
	}

	s.cacheRevocation(ctx, payload.TokenID, revocationReasonRotated, payload.ExpiresAt)
	s.publishSession(ctx, domain.EventSessionEnded, *session, sessionReasonRefresh)
	return pair, nil
}

// rotateSession issues the replacement session and pair before the consumed session is deleted.
func (s *TokenService) rotateSession(ctx context.Context, payload domain.TokenPayload, ipAddress string) (domain.TokenPair, *domain.Session, error) {
	session, err := s.loadSession(ctx, payload.SessionID)
	if err != nil {
		return domain.TokenPair{}, nil, err
	}
	if session.UserID != payload.UserID {
		return domain.TokenPair{}, nil, domain.ErrInvalidToken.WithMessage("token does not match session")
	}
	if err := s.checkPinning(session, ipAddress); err != nil {
		return domain.TokenPair{}, nil, err
	}

	user := domain.AuthenticatedUser{UserID: payload.UserID, Email: payload.Email, Role: payload.Role}
	ip := strings.TrimSpace(ipAddress)
	if ip == "" {
		ip = session.IPAddress
	}
	pair, err := s.generateTokens(ctx, user, domain.SessionContext{IPAddress: ip, DeviceFingerprint: session.DeviceFingerprint}, session.ID)
	if err != nil {
		return domain.TokenPair{}, nil, err
	}

	deleteCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	err = s.sessions.Delete(deleteCtx, session.ID)
	cancel()
	if err != nil {
		s.discardSession(ctx, pair.SessionID)
		return domain.TokenPair{}, nil, translateStoreError("session store", err)
	}
	return pair, session, nil
}

// releaseClaim undoes a refresh claim. A different revocation written since the claim is kept.
func (s *TokenService) releaseClaim(ctx context.Context, tokenID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if _, err := s.revocations.Release(releaseCtx, tokenID, revocationReasonRotated); err != nil {
		s.logger.Error("release refresh claim failed", zap.String("token_id", tokenID), zap.Error(err))
	}
}

// Revoke adds tokenID to the revocation set until expiresAt. A zero expiresAt uses the refresh lifetime.
// Already expired tokens need no entry.
func (s *TokenService) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	return s.revoke(ctx, tokenID, expiresAt, revocationReasonRevoked)
}

// RevokeToken revokes a presented access token until its own expiry.
func (s *TokenService) RevokeToken(ctx context.Context, token string) error {
	payload, err := s.signer.Verify(token, domain.TokenTypeAccess)
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			return nil
		}
		return err
	}
	return s.revoke(ctx, payload.TokenID, payload.ExpiresAt, revocationReasonLogout)
}

func (s *TokenService) revoke(ctx context.Context, tokenID string, expiresAt time.Time, reason string) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return domain.ErrValidation.WithMessage("token id is required")
	}

	now := s.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.cfg.RefreshTokenTTL)
	}
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.revocations.MarkRevoked(storeCtx, tokenID, reason, ttl); err != nil {
		return translateStoreError("revocation store", err)
	}
	s.cacheRevocation(ctx, tokenID, reason, expiresAt)
	s.metrics.IncTokensRevoked(reason)
	s.publishToken(ctx, domain.TokenEvent{
		Type:      domain.EventTokenRevoked,
		TokenID:   tokenID,
		Reason:    reason,
		ExpiresAt: expiresAt.UTC(),
	})
	s.logger.Info("token revoked", zap.String("token_id", tokenID), zap.String("reason", reason), zap.Duration("ttl", ttl))
	return nil
}

func (s *TokenService) ensureNotRevoked(ctx context.Context, payload domain.TokenPayload) error {
	if s.denylist != nil {
		hit, err := s.denylist.Contains(ctx, payload.TokenID)
		if err != nil {
			s.logger.Warn("local denylist check failed", zap.String("token_id", payload.TokenID), zap.Error(err))
		} else if hit {
			return domain.ErrTokenRevoked
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	revoked, reason, err := s.revocations.IsRevoked(storeCtx, payload.TokenID)
	if err != nil {
		return translateStoreError("revocation store", err)
	}
	if revoked {
		s.cacheRevocation(ctx, payload.TokenID, reason, payload.ExpiresAt)
		return domain.ErrTokenRevoked
	}
	return nil
}

func (s *TokenService) loadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	session, err := s.sessions.Get(storeCtx, sessionID)
	if err != nil {
		return nil, translateStoreError("session store", err)
	}
	if session == nil || !session.IsActive(s.now()) {
		return nil, domain.ErrSessionExpired
	}
	return session, nil
}

func (s *TokenService) checkPinning(session *domain.Session, ipAddress string) error {
	if !s.cfg.StrictIPPinning {
		return nil
	}
	if session.IPAddress != strings.TrimSpace(ipAddress) {
		s.logger.Warn("session ip mismatch",
			zap.String("session_id", logger.MaskString(session.ID)),
			zap.String("session_ip", logger.MaskIP(session.IPAddress)),
			zap.String("request_ip", logger.MaskIP(ipAddress)),
		)
		return domain.ErrSessionContextMismatch
	}
	return nil
}

func (s *TokenService) enforceLimit(ctx context.Context, userID string, limit int) ([]string, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	evicted, err := s.sessions.EnforceLimit(storeCtx, userID, limit)
	if err != nil {
		return nil, translateStoreError("session store", err)
	}
	return evicted, nil
}

// discardSession removes a half-issued session even when the caller's context is already done.
func (s *TokenService) discardSession(ctx context.Context, sessionID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.sessions.Delete(cleanupCtx, sessionID); err != nil {
		s.logger.Error("discard session failed", zap.String("session_id", logger.MaskString(sessionID)), zap.Error(err))
	}
}

func (s *TokenService) cacheRevocation(ctx context.Context, tokenID, reason string, expiresAt time.Time) {
	if s.denylist == nil {
		return
	}
	if err := s.denylist.AddRevocation(ctx, domain.TokenRevocation{TokenID: tokenID, Reason: reason, ExpiresAt: expiresAt}); err != nil {
		s.logger.Warn("cache revocation failed", zap.String("token_id", tokenID), zap.Error(err))
	}
}

func (s *TokenService) reportEvictions(ctx context.Context, created domain.Session, evicted []string) {
	if len(evicted) == 0 {
		return
	}
	s.metrics.IncSessionsEvicted(len(evicted))
	for _, id := range evicted {
		s.publishSession(ctx, domain.EventSessionEvicted, domain.Session{ID: id, UserID: created.UserID, Role: created.Role}, sessionReasonEvicted)
	}
	s.logger.Info("evicted oldest sessions", zap.String("user_id", created.UserID), zap.Int("count", len(evicted)))
}

func (s *TokenService) reportTamper(ctx context.Context, err error, keyVersion int, ipAddress string) {
	de := domain.AsError(err)
	if !de.TamperEvident() {
		return
	}
	s.logger.Error("refresh token failed authentication",
		zap.String("code", string(de.Code)),
		zap.Int("key_version", keyVersion),
		zap.String("ip", logger.MaskIP(ipAddress)),
	)
	if s.publisher == nil {
		return
	}
	event := domain.SecurityEvent{
		EventID:    uuid.NewString(),
		Type:       domain.EventTamperDetected,
		Code:       de.Code,
		Identity:   logger.MaskIP(ipAddress),
		KeyVersion: keyVersion,
		Detail:     "refresh token decryption failed",
		At:         s.now().UTC(),
	}
	if err := s.publisher.PublishSecurityEvent(ctx, event); err != nil {
		s.logger.Warn("publish security event failed", zap.Error(err))
	}
}

func (s *TokenService) reportReplay(ctx context.Context, payload domain.TokenPayload, ipAddress string) {
	s.logger.Error("refresh token replay detected",
		zap.String("token_id", payload.TokenID),
		zap.String("user_id", payload.UserID),
		zap.String("session_id", logger.MaskString(payload.SessionID)),
		zap.String("ip", logger.MaskIP(ipAddress)),
	)
	s.publishToken(ctx, domain.TokenEvent{
		Type:      domain.EventRefreshReplay,
		TokenID:   payload.TokenID,
		SessionID: payload.SessionID,
		UserID:    payload.UserID,
		Reason:    "refresh token presented twice",
		IPAddress: logger.MaskIP(ipAddress),
		ExpiresAt: payload.ExpiresAt,
	})
}

func (s *TokenService) publishSession(ctx context.Context, eventType string, session domain.Session, reason string) {
	if s.publisher == nil {
		return
	}
	event := domain.SessionEvent{
		EventID:           uuid.NewString(),
		Type:              eventType,
		SessionID:         session.ID,
		UserID:            session.UserID,
		Role:              session.Role,
		IPAddress:         logger.MaskIP(session.IPAddress),
		DeviceFingerprint: session.DeviceFingerprint,
		Reason:            reason,
		At:                s.now().UTC(),
	}
	if err := s.publisher.PublishSessionEvent(ctx, event); err != nil {
		s.logger.Warn("publish session event failed", zap.String("type", eventType), zap.Error(err))
	}
}

func (s *TokenService) publishToken(ctx context.Context, event domain.TokenEvent) {
	if s.publisher == nil {
		return
	}
	event.EventID = uuid.NewString()
	event.At = s.now().UTC()
	if err := s.publisher.PublishTokenEvent(ctx, event); err != nil {
		s.logger.Warn("publish token event failed", zap.String("type", event.Type), zap.Error(err))
	}
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	code := domain.CodeOf(err)
	span.SetAttributes(attribute.String("auth.error_code", string(code)))
	span.SetStatus(codes.Error, string(code))
}
