package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

func TestSignInScenarioEvictsOldestOnFourthDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var pairs []domain.TokenPair
	var userID string
	for i := 1; i <= 4; i++ {
		user, pair, err := env.flow.SignIn(ctx, fmt.Sprintf("code-%d", i), "10.0.0.1", fmt.Sprintf("fp-%d", i))
		if err != nil {
			t.Fatalf("sign-in %d failed: %v", i, err)
		}
		if userID == "" {
			userID = user.UserID
		} else if user.UserID != userID {
			t.Fatalf("expected a stable user id, got %s and %s", userID, user.UserID)
		}
		pairs = append(pairs, pair)
		env.clock.Advance(time.Second)

		sessions, err := env.sessions.ListByUser(ctx, userID)
		if err != nil {
			t.Fatalf("ListByUser failed: %v", err)
		}
		want := i
		if want > 3 {
			want = 3
		}
		if len(sessions) != want {
			t.Fatalf("after sign-in %d expected %d live sessions, got %d", i, want, len(sessions))
		}
	}

	_, err := env.tokens.VerifyAccessToken(ctx, pairs[0].AccessToken, "10.0.0.1")
	assertCode(t, err, domain.ErrSessionExpired)
	for _, pair := range pairs[1:] {
		if _, err := env.tokens.VerifyAccessToken(ctx, pair.AccessToken, "10.0.0.1"); err != nil {
			t.Fatalf("expected surviving session valid, got %v", err)
		}
	}
	if logins := env.events.sessionEvents(domain.EventUserLoggedIn); len(logins) != 4 {
		t.Fatalf("expected 4 login events, got %d", len(logins))
	}
}

func TestLoginRejectsUnverifiedIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.idp.identity.EmailVerified = false

	_, _, err := env.flow.SignIn(ctx, "code", "10.0.0.1", "fp-1")
	assertCode(t, err, domain.ErrIdentityNotVerified)

	if keys := env.server.Keys(); containsPrefix(keys, "sess:") {
		t.Fatalf("expected no session created, got keys %v", keys)
	}
}

func TestLoginPropagatesProviderFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want *domain.Error
	}{
		{name: "invalid code", err: domain.ErrInvalidAuthorizationCode, want: domain.ErrInvalidAuthorizationCode},
		{name: "provider timeout", err: domain.ErrUpstreamTimeout.WithMessage("identity provider timed out"), want: domain.ErrUpstreamTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.idp.err = tc.err

			_, _, err := env.flow.SignIn(context.Background(), "code", "10.0.0.1", "fp-1")
			assertCode(t, err, tc.want)
			if containsPrefix(env.server.Keys(), "sess:") {
				t.Fatalf("expected no session left behind")
			}
		})
	}
}

func TestLoginRateLimitedPerAddress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.flow.Login(ctx, "code", "10.0.0.1", "fp-1"); err != nil {
			t.Fatalf("login %d failed: %v", i+1, err)
		}
	}
	_, err := env.flow.Login(ctx, "code", "10.0.0.1", "fp-1")
	assertCode(t, err, domain.ErrRateLimitExceeded)
	if len(env.idp.codes) != 5 {
		t.Fatalf("expected the provider not to be called once limited, got %d calls", len(env.idp.codes))
	}

	if _, err := env.flow.Login(ctx, "code", "10.0.0.2", "fp-1"); err != nil {
		t.Fatalf("other address should not be limited, got %v", err)
	}
}

func TestLoginValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.flow.Login(ctx, " ", "10.0.0.1", "fp")
	assertCode(t, err, domain.ErrValidation)
	_, err = env.flow.Login(ctx, "code", "", "fp")
	assertCode(t, err, domain.ErrValidation)
	if len(env.idp.codes) != 0 {
		t.Fatalf("expected no provider calls on invalid input")
	}
}

func TestLoginMapsRoleAndStableUserID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	public, err := env.flow.Login(ctx, "code", "10.0.0.1", "fp")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if public.Role != domain.RolePublic {
		t.Fatalf("expected PUBLIC, got %s", public.Role)
	}

	env.idp.identity.Email = "ops@corp.example.com"
	admin, err := env.flow.Login(ctx, "code", "10.0.0.1", "fp")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if admin.Role != domain.RoleAdmin {
		t.Fatalf("expected ADMIN for admin domain, got %s", admin.Role)
	}
	if admin.UserID != public.UserID {
		t.Fatalf("user id must follow issuer and subject, not email")
	}

	env.idp.identity.Subject = "subject-43"
	other, err := env.flow.Login(ctx, "code", "10.0.0.1", "fp")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if other.UserID == public.UserID {
		t.Fatalf("expected distinct user id for a different subject")
	}
}

func TestLogoutEndsOwnedSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, pair, err := env.flow.SignIn(ctx, "code", "10.0.0.1", "fp-1")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	_, err = env.flow.Logout(ctx, pair.SessionID, "someone-else")
	assertCode(t, err, domain.ErrSessionContextMismatch)

	count, err := env.flow.Logout(ctx, pair.SessionID, user.UserID)
	if err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one session terminated, got %d", count)
	}
	_, err = env.tokens.VerifyAccessToken(ctx, pair.AccessToken, "10.0.0.1")
	assertCode(t, err, domain.ErrSessionExpired)

	count, err = env.flow.Logout(ctx, pair.SessionID, user.UserID)
	if err != nil || count != 0 {
		t.Fatalf("repeated logout should be a no-op, got %d, %v", count, err)
	}
	if ended := env.events.sessionEvents(domain.EventSessionEnded); len(ended) != 1 {
		t.Fatalf("expected one termination event, got %d", len(ended))
	}

	_, err = env.flow.Logout(ctx, "", user.UserID)
	assertCode(t, err, domain.ErrValidation)
}

func TestLogoutTerminatesSessionsSharingFingerprintPrefix(t *testing.T) {
	env := newTestEnv(t)
	env.flow.WithLogoutFingerprintPrefix(6)
	ctx := context.Background()

	var current domain.TokenPair
	var userID string
	for _, fp := range []string{"laptop-chrome", "laptop-firefox", "phone-safari"} {
		user, pair, err := env.flow.SignIn(ctx, "code", "10.0.0.1", fp)
		if err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		userID = user.UserID
		if fp == "laptop-chrome" {
			current = pair
		}
		env.clock.Advance(time.Second)
	}

	count, err := env.flow.Logout(ctx, current.SessionID, userID)
	if err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected both laptop sessions terminated, got %d", count)
	}

	remaining, err := env.sessions.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].DeviceFingerprint != "phone-safari" {
		t.Fatalf("expected only the phone session left, got %+v", remaining)
	}
}

func containsPrefix(keys []string, prefix string) bool {
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}
