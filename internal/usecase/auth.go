package usecase

import (
	"context"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/logger"
)

// AuthenticationFlow drives OAuth2 sign-in and logout.
type AuthenticationFlow struct {
	identity     port.IdentityProvider
	roles        port.RoleResolver
	limiter      *RateLimiter
	tokens       *TokenService
	sessions     port.SessionStore
	publisher    port.EventPublisher
	metrics      port.AuthMetrics
	logger       *zap.Logger
	now          func() time.Time
	storeTimeout time.Duration
	// fingerprintPrefixLen > 0 enables bulk logout of sessions sharing the fingerprint prefix.
	fingerprintPrefixLen int
}

// NewAuthenticationFlow wires the flow.
func NewAuthenticationFlow(
	identity port.IdentityProvider,
	roles port.RoleResolver,
	limiter *RateLimiter,
	tokens *TokenService,
	sessions port.SessionStore,
	log *zap.Logger,
) *AuthenticationFlow {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthenticationFlow{
		identity:     identity,
		roles:        roles,
		limiter:      limiter,
		tokens:       tokens,
		sessions:     sessions,
		metrics:      port.NopAuthMetrics{},
		logger:       log,
		now:          time.Now,
		storeTimeout: defaultStoreTimeout,
	}
}

// WithPublisher attaches the audit publisher.
func (f *AuthenticationFlow) WithPublisher(publisher port.EventPublisher) *AuthenticationFlow {
	f.publisher = publisher
	return f
}

// WithMetrics attaches metric hooks.
func (f *AuthenticationFlow) WithMetrics(metrics port.AuthMetrics) *AuthenticationFlow {
	if metrics != nil {
		f.metrics = metrics
	}
	return f
}

// WithClock overrides the time source (testing).
func (f *AuthenticationFlow) WithClock(clock func() time.Time) *AuthenticationFlow {
	if clock != nil {
		f.now = clock
	}
	return f
}

// WithStoreTimeout bounds each session store call made during logout.
func (f *AuthenticationFlow) WithStoreTimeout(timeout time.Duration) *AuthenticationFlow {
	if timeout > 0 {
		f.storeTimeout = timeout
	}
	return f
}

// WithLogoutFingerprintPrefix enables bulk logout of every session whose fingerprint shares the first n characters.
func (f *AuthenticationFlow) WithLogoutFingerprintPrefix(n int) *AuthenticationFlow {
	if n > 0 {
		f.fingerprintPrefixLen = n
	}
	return f
}

// Login exchanges an authorization code for a verified, role-mapped user. No session is created here.
func (f *AuthenticationFlow) Login(ctx context.Context, code, ipAddress, fingerprint string) (domain.AuthenticatedUser, error) {
	ctx, span := tracer.Start(ctx, "AuthenticationFlow.Login")
	defer span.End()

	user, err := f.login(ctx, code, ipAddress, fingerprint)
	f.metrics.ObserveLogin(outcome(err))
	if err == nil {
		span.SetAttributes(attribute.String("auth.role", string(user.Role)))
	}
	recordSpanError(span, err)
	return user, err
}

func (f *AuthenticationFlow) login(ctx context.Context, code, ipAddress, fingerprint string) (domain.AuthenticatedUser, error) {
	code = strings.TrimSpace(code)
	ipAddress = strings.TrimSpace(ipAddress)
	if code == "" {
		return domain.AuthenticatedUser{}, domain.ErrValidation.WithMessage("authorization code is required")
	}
	if ipAddress == "" {
		return domain.AuthenticatedUser{}, domain.ErrValidation.WithMessage("client address is required")
	}

	if err := f.limiter.Consume(ctx, RateLimitScopeLogin, ipAddress); err != nil {
		return domain.AuthenticatedUser{}, err
	}

	identity, err := f.identity.ExchangeCode(ctx, code)
	if err != nil {
		f.logger.Info("authorization code exchange failed",
			zap.String("ip", logger.MaskIP(ipAddress)),
			zap.String("code", string(domain.CodeOf(err))),
		)
		return domain.AuthenticatedUser{}, err
	}
	if !identity.EmailVerified {
		f.logger.Warn("identity provider reported unverified email",
			zap.String("email", logger.MaskEmail(identity.Email)),
			zap.String("ip", logger.MaskIP(ipAddress)),
		)
		return domain.AuthenticatedUser{}, domain.ErrIdentityNotVerified.WithMessage("email address is not verified")
	}

	role, err := f.roles.ResolveRole(ctx, identity)
	if err != nil {
		return domain.AuthenticatedUser{}, err
	}

	user := domain.AuthenticatedUser{
		UserID:  userIDFor(identity),
		Email:   identity.Email,
		Role:    role,
		Subject: identity.Subject,
		Name:    identity.Name,
	}
	f.logger.Info("user authenticated",
		zap.String("user_id", user.UserID),
		zap.String("email", logger.MaskEmail(user.Email)),
		zap.String("role", string(role)),
		zap.String("fingerprint", logger.MaskString(fingerprint)),
	)
	return user, nil
}

// SignIn runs Login and opens a session bound to the caller's address and fingerprint.
func (f *AuthenticationFlow) SignIn(ctx context.Context, code, ipAddress, fingerprint string) (domain.AuthenticatedUser, domain.TokenPair, error) {
	user, err := f.Login(ctx, code, ipAddress, fingerprint)
	if err != nil {
		return domain.AuthenticatedUser{}, domain.TokenPair{}, err
	}

	pair, err := f.tokens.GenerateTokens(ctx, user, domain.SessionContext{
		IPAddress:         ipAddress,
		DeviceFingerprint: fingerprint,
	})
	if err != nil {
		return domain.AuthenticatedUser{}, domain.TokenPair{}, err
	}

	f.publishSession(ctx, domain.EventUserLoggedIn, domain.Session{
		ID:                pair.SessionID,
		UserID:            user.UserID,
		Role:              user.Role,
		IPAddress:         ipAddress,
		DeviceFingerprint: fingerprint,
	}, "")
	return user, pair, nil
}

// Logout ends sessionID, which must belong to userID, and returns how many sessions were terminated.
// With a fingerprint prefix configured, the user's other sessions sharing that prefix end too.
func (f *AuthenticationFlow) Logout(ctx context.Context, sessionID, userID string) (int, error) {
	ctx, span := tracer.Start(ctx, "AuthenticationFlow.Logout")
	defer span.End()

	count, err := f.logout(ctx, sessionID, userID)
	span.SetAttributes(attribute.Int("auth.sessions_terminated", count))
	recordSpanError(span, err)
	return count, err
}

func (f *AuthenticationFlow) logout(ctx context.Context, sessionID, userID string) (int, error) {
	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if sessionID == "" || userID == "" {
		return 0, domain.ErrValidation.WithMessage("session id and user id are required")
	}

	getCtx, cancel := context.WithTimeout(ctx, f.storeTimeout)
	session, err := f.sessions.Get(getCtx, sessionID)
	cancel()
	if err != nil {
		return 0, translateStoreError("session store", err)
	}
	if session == nil {
		return 0, nil
	}
	if session.UserID != userID {
		f.logger.Warn("logout for session owned by another user",
			zap.String("session_id", logger.MaskString(sessionID)),
			zap.String("user_id", userID),
		)
		return 0, domain.ErrSessionContextMismatch.WithMessage("session does not belong to user")
	}

	if err := f.endSession(ctx, *session); err != nil {
		return 0, err
	}
	terminated := 1

	prefix := f.fingerprintPrefix(session.DeviceFingerprint)
	if prefix == "" {
		return terminated, nil
	}

	listCtx, cancel := context.WithTimeout(ctx, f.storeTimeout)
	siblings, err := f.sessions.ListByUser(listCtx, userID)
	cancel()
	if err != nil {
		return terminated, translateStoreError("session store", err)
	}
	for _, sibling := range siblings {
		if sibling.ID == session.ID || !strings.HasPrefix(sibling.DeviceFingerprint, prefix) {
			continue
		}
		if err := f.endSession(ctx, sibling); err != nil {
			return terminated, err
		}
		terminated++
	}

	f.logger.Info("user logged out",
		zap.String("user_id", userID),
		zap.Int("sessions_terminated", terminated),
	)
	return terminated, nil
}

func (f *AuthenticationFlow) endSession(ctx context.Context, session domain.Session) error {
	deleteCtx, cancel := context.WithTimeout(ctx, f.storeTimeout)
	defer cancel()
	if err := f.sessions.Delete(deleteCtx, session.ID); err != nil {
		return translateStoreError("session store", err)
	}
	f.publishSession(ctx, domain.EventSessionEnded, session, sessionReasonLogout)
	return nil
}

func (f *AuthenticationFlow) fingerprintPrefix(fingerprint string) string {
	if f.fingerprintPrefixLen <= 0 || len(fingerprint) < f.fingerprintPrefixLen {
		return ""
	}
	return fingerprint[:f.fingerprintPrefixLen]
}

func (f *AuthenticationFlow) publishSession(ctx context.Context, eventType string, session domain.Session, reason string) {
	if f.publisher == nil {
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
		At:                f.now().UTC(),
	}
	if err := f.publisher.PublishSessionEvent(ctx, event); err != nil {
		f.logger.Warn("publish session event failed", zap.String("type", eventType), zap.Error(err))
	}
}

// userIDFor derives a stable id from the provider's issuer and subject.
func userIDFor(identity domain.Identity) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(identity.Issuer+"|"+identity.Subject)).String()
}
