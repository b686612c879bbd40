package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/transport/http/middleware"
)

type stubFlow struct {
	user        domain.AuthenticatedUser
	pair        domain.TokenPair
	err         error
	fingerprint string
	ip          string
	logouts     []string
	logoutErr   error
}

func (s *stubFlow) SignIn(_ context.Context, code, ipAddress, fingerprint string) (domain.AuthenticatedUser, domain.TokenPair, error) {
	s.ip = ipAddress
	s.fingerprint = fingerprint
	if s.err != nil {
		return domain.AuthenticatedUser{}, domain.TokenPair{}, s.err
	}
	return s.user, s.pair, nil
}

func (s *stubFlow) Logout(_ context.Context, sessionID, userID string) (int, error) {
	s.logouts = append(s.logouts, sessionID+"/"+userID)
	if s.logoutErr != nil {
		return 0, s.logoutErr
	}
	return 1, nil
}

type stubTokens struct {
	payload    domain.TokenPayload
	verifyErr  error
	pair       domain.TokenPair
	refreshErr error
	revoked    []string
}

func (s *stubTokens) VerifyAccessToken(context.Context, string, string) (domain.TokenPayload, error) {
	return s.payload, s.verifyErr
}

func (s *stubTokens) Refresh(context.Context, string, string) (domain.TokenPair, error) {
	return s.pair, s.refreshErr
}

func (s *stubTokens) RevokeToken(_ context.Context, token string) error {
	s.revoked = append(s.revoked, token)
	return nil
}

type stubAuthorizer struct{}

func (stubAuthorizer) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func newTestRouter(flow *stubFlow, tokens *stubTokens) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.EnrichContext())
	NewAuthHandler(flow, tokens, stubAuthorizer{}).RegisterRoutes(router.Group("/v1/auth"))
	return router
}

func postJSON(router http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCallbackReturnsTokenPair(t *testing.T) {
	flow := &stubFlow{
		user: domain.AuthenticatedUser{UserID: "user-1", Email: "jane@example.com", Role: domain.RoleAdmin},
		pair: domain.TokenPair{AccessToken: "access", RefreshToken: "refresh", ExpiresIn: 30 * time.Minute, SessionID: "sess-1"},
	}
	router := newTestRouter(flow, &stubTokens{})

	rr := postJSON(router, "/v1/auth/callback", `{"code":"abc"}`, map[string]string{deviceFingerprintHeader: "fp-header"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp TokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ExpiresIn != 1800 || resp.TokenType != "Bearer" || resp.SessionID != "sess-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.User == nil || resp.User.Role != domain.RoleAdmin {
		t.Fatalf("expected user summary with role, got %+v", resp.User)
	}
	if flow.fingerprint != "fp-header" {
		t.Fatalf("expected header fingerprint fallback, got %q", flow.fingerprint)
	}
}

func TestCallbackMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   domain.ErrorCode
	}{
		{name: "missing code", body: `{}`, wantStatus: http.StatusBadRequest, wantCode: domain.CodeValidation},
		{name: "rate limited", body: `{"code":"c"}`, err: domain.ErrRateLimitExceeded.WithRetryAfter(time.Minute), wantStatus: http.StatusTooManyRequests, wantCode: domain.CodeRateLimitExceeded},
		{name: "unverified", body: `{"code":"c"}`, err: domain.ErrIdentityNotVerified, wantStatus: http.StatusForbidden, wantCode: domain.CodeIdentityNotVerified},
		{name: "bad code", body: `{"code":"c"}`, err: domain.ErrInvalidAuthorizationCode, wantStatus: http.StatusUnauthorized, wantCode: domain.CodeInvalidAuthorizationCode},
		{name: "provider timeout", body: `{"code":"c"}`, err: domain.ErrUpstreamTimeout, wantStatus: http.StatusGatewayTimeout, wantCode: domain.CodeUpstreamTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubFlow{err: tc.err}, &stubTokens{})
			rr := postJSON(router, "/v1/auth/callback", tc.body, nil)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			var body middleware.ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Code != tc.wantCode {
				t.Fatalf("expected %s, got %s", tc.wantCode, body.Code)
			}
		})
	}
}

func TestRefreshRejectsReplay(t *testing.T) {
	router := newTestRouter(&stubFlow{}, &stubTokens{refreshErr: domain.ErrTokenRevoked})

	rr := postJSON(router, "/v1/auth/refresh", `{"refresh_token":"blob"}`, nil)
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), string(domain.CodeTokenRevoked)) {
		t.Fatalf("expected 401 TOKEN_REVOKED, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestLogoutEndsSessionAndRevokesAccessToken(t *testing.T) {
	flow := &stubFlow{}
	tokens := &stubTokens{payload: domain.TokenPayload{UserID: "user-1", SessionID: "sess-1"}}
	router := newTestRouter(flow, tokens)

	rr := postJSON(router, "/v1/auth/logout", ``, map[string]string{"Authorization": "Bearer access-1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(flow.logouts) != 1 || flow.logouts[0] != "sess-1/user-1" {
		t.Fatalf("unexpected logout calls: %v", flow.logouts)
	}
	if len(tokens.revoked) != 1 || tokens.revoked[0] != "access-1" {
		t.Fatalf("expected access token revoked, got %v", tokens.revoked)
	}
}

func TestSessionRequiresAuth(t *testing.T) {
	tokens := &stubTokens{verifyErr: domain.ErrSessionExpired}
	router := newTestRouter(&stubFlow{}, tokens)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/session", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	tokens.verifyErr = nil
	tokens.payload = domain.TokenPayload{UserID: "user-1", Email: "jane@example.com", Role: domain.RolePublic, SessionID: "sess-1"}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	var resp SessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.SessionID != "sess-1" {
		t.Fatalf("unexpected session response %d %s", rr.Code, rr.Body.String())
	}
}

func TestAuthorizeURLCarriesFreshState(t *testing.T) {
	router := newTestRouter(&stubFlow{}, &stubTokens{})

	fetch := func() AuthorizeResponse {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/auth/authorize", nil))
		var resp AuthorizeResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode authorize response: %v", err)
		}
		return resp
	}
	first, second := fetch(), fetch()
	if first.State == "" || first.State == second.State {
		t.Fatalf("expected distinct non-empty states, got %q and %q", first.State, second.State)
	}
	if !strings.HasSuffix(first.URL, "state="+first.State) {
		t.Fatalf("expected state embedded in url, got %s", first.URL)
	}
}
