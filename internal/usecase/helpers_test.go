package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/security"
	redisrepo "github.com/danielp1234/saas-metrics-sub000/internal/repository/redis"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubIdentityProvider struct {
	mu       sync.Mutex
	identity domain.Identity
	err      error
	codes    []string
}

func (s *stubIdentityProvider) ExchangeCode(_ context.Context, code string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, code)
	if s.err != nil {
		return domain.Identity{}, s.err
	}
	return s.identity, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	sessions []domain.SessionEvent
	tokens   []domain.TokenEvent
	security []domain.SecurityEvent
	rotated  []domain.KeyRotatedEvent
}

func (p *recordingPublisher) PublishSessionEvent(_ context.Context, event domain.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, event)
	return nil
}

func (p *recordingPublisher) PublishTokenEvent(_ context.Context, event domain.TokenEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = append(p.tokens, event)
	return nil
}

func (p *recordingPublisher) PublishKeyRotated(_ context.Context, event domain.KeyRotatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotated = append(p.rotated, event)
	return nil
}

func (p *recordingPublisher) PublishSecurityEvent(_ context.Context, event domain.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.security = append(p.security, event)
	return nil
}

func (p *recordingPublisher) sessionEvents(eventType string) []domain.SessionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.SessionEvent
	for _, e := range p.sessions {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) tokenEvents(eventType string) []domain.TokenEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.TokenEvent
	for _, e := range p.tokens {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type countingMetrics struct {
	mu          sync.Mutex
	rateLimited map[string]int
	evicted     int
	revoked     map[string]int
	verify      map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		rateLimited: map[string]int{},
		revoked:     map[string]int{},
		verify:      map[string]int{},
	}
}

func (m *countingMetrics) ObserveLogin(string)   {}
func (m *countingMetrics) ObserveRefresh(string) {}
func (m *countingMetrics) ObserveVerify(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verify[outcome]++
}
func (m *countingMetrics) IncRateLimited(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited[scope]++
}
func (m *countingMetrics) IncSessionsEvicted(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted += count
}
func (m *countingMetrics) IncTokensRevoked(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[reason]++
}
func (m *countingMetrics) IncKeyRotation(string) {}
func (m *countingMetrics) IncTamper(string)      {}

type stubRateLimitStore struct {
	count int64
	ttl   time.Duration
	err   error
	keys  []string
}

func (s *stubRateLimitStore) Increment(_ context.Context, key string, _ time.Duration) (int64, time.Duration, error) {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return 0, 0, s.err
	}
	s.count++
	return s.count, s.ttl, nil
}

// brokenSessionStore fails every call, standing in for an unreachable store.
type brokenSessionStore struct {
	err error
}

func (s brokenSessionStore) Create(context.Context, domain.Session, time.Duration) error { return s.err }
func (s brokenSessionStore) Get(context.Context, string) (*domain.Session, error)       { return nil, s.err }
func (s brokenSessionStore) Delete(context.Context, string) error                       { return s.err }
func (s brokenSessionStore) EnforceLimit(context.Context, string, int) ([]string, error) {
	return nil, s.err
}
func (s brokenSessionStore) ListByUser(context.Context, string) ([]domain.Session, error) {
	return nil, s.err
}

var errStoreDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

type testEnv struct {
	server      *miniredis.Miniredis
	clock       *testClock
	sessions    *redisrepo.SessionStore
	revocations *redisrepo.RevocationRepository
	keys        *security.KeyManager
	jwt         *security.JWTManager
	limiter     *RateLimiter
	tokens      *TokenService
	roles       *RoleService
	flow        *AuthenticationFlow
	idp         *stubIdentityProvider
	events      *recordingPublisher
	metrics     *countingMetrics
	denylist    *security.JTIDenylist
}

type envOption func(*TokenServiceConfig)

func withStrictPinning() envOption {
	return func(cfg *TokenServiceConfig) { cfg.StrictIPPinning = true }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	log := zaptest.NewLogger(t)
	clock := newTestClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	events := &recordingPublisher{}
	metrics := newCountingMetrics()

	keys, err := security.NewKeyManager(security.KeyManagerOptions{Algorithm: security.AlgorithmAES256GCM}, log)
	if err != nil {
		t.Fatalf("NewKeyManager failed: %v", err)
	}
	keys.WithClock(clock.Now)

	provider, err := security.NewEphemeralKeyProvider()
	if err != nil {
		t.Fatalf("NewEphemeralKeyProvider failed: %v", err)
	}
	jwtManager := security.NewJWTManager(provider, "saas-metrics", []string{"saas-metrics-api"}).WithClock(clock.Now)

	sessions := redisrepo.NewSessionStore(client, "sess")
	revocations := redisrepo.NewRevocationRepository(client, "revoked")
	limiter := NewRateLimiter(redisrepo.NewFixedWindowStore(client, "rl"), DefaultRateLimitPolicy(), log).
		WithMetrics(metrics).
		WithPublisher(events).
		WithClock(clock.Now)

	cfg := TokenServiceConfig{
		AccessTokenTTL:        30 * time.Minute,
		RefreshTokenTTL:       7 * 24 * time.Hour,
		MaxConcurrentSessions: 3,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	denylist := security.NewJTIDenylistCache(security.JTIDenylistOptions{}).WithClock(clock.Now)
	tokens := NewTokenService(cfg, jwtManager, keys, sessions, revocations, limiter, log).
		WithDenylist(denylist).
		WithPublisher(events).
		WithMetrics(metrics).
		WithClock(clock.Now)

	idp := &stubIdentityProvider{identity: domain.Identity{
		Issuer:        "https://accounts.example.com",
		Subject:       "subject-42",
		Email:         "jane@example.com",
		EmailVerified: true,
		Name:          "Jane",
	}}
	roles := NewRoleService(nil, RolePolicy{AdminDomains: []string{"corp.example.com"}}, log)
	flow := NewAuthenticationFlow(idp, roles, limiter, tokens, sessions, log).
		WithPublisher(events).
		WithMetrics(metrics).
		WithClock(clock.Now)

	return &testEnv{
		server:      server,
		clock:       clock,
		sessions:    sessions,
		revocations: revocations,
		keys:        keys,
		jwt:         jwtManager,
		limiter:     limiter,
		tokens:      tokens,
		roles:       roles,
		flow:        flow,
		idp:         idp,
		events:      events,
		metrics:     metrics,
		denylist:    denylist,
	}
}

func testUser() domain.AuthenticatedUser {
	return domain.AuthenticatedUser{UserID: "user-1", Email: "jane@example.com", Role: domain.RoleAdmin}
}

func assertCode(t *testing.T, err error, want *domain.Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %s, got %v", want.Code, err)
	}
}
