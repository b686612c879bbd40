package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/config"
)

const (
	defaultExchangeTimeout = 10 * time.Second
	maxUserInfoBytes       = 1 << 20
)

// Client exchanges authorization codes with an OAuth2/OIDC provider and reads the userinfo endpoint.
type Client struct {
	oauth       *oauth2.Config
	userInfoURL string
	issuer      string
	timeout     time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient builds a provider client from settings.
func NewClient(cfg config.OAuthSettings, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("oauth: client id is required")
	}
	if strings.TrimSpace(cfg.TokenURL) == "" || strings.TrimSpace(cfg.UserInfoURL) == "" {
		return nil, errors.New("oauth: token and userinfo urls are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = cfg.TokenURL
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		issuer:      issuer,
		timeout:     timeout,
		httpClient:  &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:      log,
	}, nil
}

// WithHTTPClient swaps the transport used for both the token and userinfo calls.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	if client != nil {
		c.httpClient = client
	}
	return c
}

// AuthCodeURL returns the provider consent URL for state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type userInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	Name          string `json:"name"`
}

// ExchangeCode trades code for tokens and resolves the identity behind them.
// Invalid codes map to INVALID_AUTHORIZATION_CODE; deadlines and provider outages to UPSTREAM_TIMEOUT.
func (c *Client) ExchangeCode(ctx context.Context, code string) (domain.Identity, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Identity{}, domain.ErrValidation.WithMessage("authorization code is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.Identity{}, c.translate(ctx, "token exchange", err)
	}

	info, err := c.fetchUserInfo(ctx, token)
	if err != nil {
		return domain.Identity{}, err
	}

	if strings.TrimSpace(info.Subject) == "" || strings.TrimSpace(info.Email) == "" {
		return domain.Identity{}, domain.ErrIdentityNotVerified.WithMessage("identity provider returned no subject or email")
	}

	return domain.Identity{
		Issuer:        c.issuer,
		Subject:       info.Subject,
		Email:         strings.ToLower(strings.TrimSpace(info.Email)),
		EmailVerified: parseVerified(info.EmailVerified),
		Name:          info.Name,
	}, nil
}

func (c *Client) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, domain.ErrInternal.WithMessage("build userinfo request").Wrap(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, c.translate(ctx, "userinfo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, domain.ErrInvalidAuthorizationCode.WithMessage("identity provider rejected issued token")
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("userinfo request failed", zap.Int("status", resp.StatusCode))
		return nil, domain.ErrUpstreamTimeout.WithMessage("identity provider unavailable")
	}

	var info userInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(&info); err != nil {
		return nil, domain.ErrUpstreamTimeout.WithMessage("identity provider returned malformed userinfo").Wrap(err)
	}
	return &info, nil
}

func (c *Client) translate(ctx context.Context, stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.logger.Warn("identity provider timed out", zap.String("stage", stage), zap.Duration("timeout", c.timeout))
		return domain.ErrUpstreamTimeout.WithMessage("identity provider timed out").Wrap(err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrUpstreamTimeout.WithMessage("identity exchange cancelled").Wrap(err)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		if status >= 400 && status < 500 {
			c.logger.Info("authorization code rejected",
				zap.String("stage", stage),
				zap.Int("status", status),
				zap.String("error_code", retrieveErr.ErrorCode),
			)
			return domain.ErrInvalidAuthorizationCode.Wrap(err)
		}
	}

	c.logger.Warn("identity provider request failed", zap.String("stage", stage), zap.Error(err))
	return domain.ErrUpstreamTimeout.WithMessage("identity provider unavailable").Wrap(err)
}

// parseVerified accepts both the boolean and the string form some providers emit.
func parseVerified(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

var _ port.IdentityProvider = (*Client)(nil)
