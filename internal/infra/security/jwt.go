package security

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

// ErrKeyIDMissing indicates no kid is associated with the supplied key.
var ErrKeyIDMissing = errors.New("jwt: missing key identifier")

// ErrKeyNotRegistered indicates a supplied kid is unknown to the JWT manager.
var ErrKeyNotRegistered = errors.New("jwt: key not registered")

// JWTManager signs and verifies session tokens and publishes the JWKS.
type JWTManager struct {
	KeyProvider KeyProvider
	issuer      string
	audience    []string
	now         func() time.Time
	mu          sync.RWMutex
	publicKeys  map[string]*rsa.PublicKey
}

// NewJWTManager constructs a JWTManager for the supplied key provider.
func NewJWTManager(provider KeyProvider, issuer string, audience []string) *JWTManager {
	mgr := &JWTManager{
		KeyProvider: provider,
		issuer:      strings.TrimSpace(issuer),
		audience:    audience,
		now:         func() time.Time { return time.Now().UTC() },
		publicKeys:  make(map[string]*rsa.PublicKey),
	}

	if enumerator, ok := provider.(interface {
		ListVerificationKeys() map[string]*rsa.PublicKey
	}); ok {
		for kid, key := range enumerator.ListVerificationKeys() {
			_ = mgr.RegisterPublicKey(kid, key)
		}
	}

	return mgr
}

// WithClock overrides the verification clock.
func (m *JWTManager) WithClock(clock func() time.Time) *JWTManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// RegisterPublicKey associates a kid with a public key for JWKS publication and future lookup.
func (m *JWTManager) RegisterPublicKey(kid string, key *rsa.PublicKey) error {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return ErrKeyIDMissing
	}
	if key == nil {
		return fmt.Errorf("jwt: public key for %s is nil", kid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicKeys[kid] = key
	return nil
}

// GetVerificationKey retrieves a public key by kid.
func (m *JWTManager) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}

	m.mu.RLock()
	key, ok := m.publicKeys[kid]
	m.mu.RUnlock()
	if ok {
		return key, nil
	}

	if m.KeyProvider != nil {
		fetched, err := m.KeyProvider.GetVerificationKey(kid)
		if err == nil {
			_ = m.RegisterPublicKey(kid, fetched)
			return fetched, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrKeyNotRegistered, kid)
}

// JWKS produces the JSON Web Key Set for registered keys.
func (m *JWTManager) JWKS() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]map[string]string, 0, len(m.publicKeys))
	for kid, key := range m.publicKeys {
		if key == nil {
			continue
		}
		keys = append(keys, buildJWK(kid, key))
	}

	return json.Marshal(map[string]any{"keys": keys})
}

func buildJWK(kid string, key *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

// SessionClaims is the claim set shared by access and refresh tokens.
type SessionClaims struct {
	UserID    string `json:"userId"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	SessionID string `json:"sessionId"`
	TokenID   string `json:"tokenId"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// Payload converts verified claims into the domain view.
func (c *SessionClaims) Payload() domain.TokenPayload {
	payload := domain.TokenPayload{
		UserID:    c.UserID,
		Email:     c.Email,
		Role:      domain.Role(c.Role),
		SessionID: c.SessionID,
		TokenID:   c.TokenID,
		Type:      domain.TokenType(c.Type),
	}
	if c.IssuedAt != nil {
		payload.IssuedAt = c.IssuedAt.Time.UTC()
	}
	if c.ExpiresAt != nil {
		payload.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return payload
}

// Sign issues a token for payload. A missing TokenID is generated and written back into the result.
func (m *JWTManager) Sign(payload domain.TokenPayload) (string, domain.TokenPayload, error) {
	if strings.TrimSpace(payload.UserID) == "" {
		return "", payload, fmt.Errorf("jwt: user id is required")
	}
	if strings.TrimSpace(payload.SessionID) == "" {
		return "", payload, fmt.Errorf("jwt: session id is required")
	}
	if m.issuer == "" {
		return "", payload, fmt.Errorf("jwt: issuer is required")
	}
	if !payload.ExpiresAt.After(payload.IssuedAt) {
		return "", payload, fmt.Errorf("jwt: expiry must follow issuance")
	}
	if m.KeyProvider == nil {
		return "", payload, fmt.Errorf("jwt: key provider not configured")
	}
	if strings.TrimSpace(payload.TokenID) == "" {
		payload.TokenID = uuid.NewString()
	}

	claims := &SessionClaims{
		UserID:    payload.UserID,
		Email:     payload.Email,
		Role:      string(payload.Role),
		SessionID: payload.SessionID,
		TokenID:   payload.TokenID,
		Type:      string(payload.Type),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.UserID,
			Issuer:    m.issuer,
			Audience:  m.audience,
			IssuedAt:  jwt.NewNumericDate(payload.IssuedAt),
			NotBefore: jwt.NewNumericDate(payload.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(payload.ExpiresAt),
			ID:        payload.TokenID,
		},
	}

	kid := strings.TrimSpace(m.KeyProvider.SigningKeyID())
	if kid == "" {
		return "", payload, ErrKeyIDMissing
	}
	signingKey, err := m.KeyProvider.GetSigningKey()
	if err != nil {
		return "", payload, fmt.Errorf("jwt: get signing key: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", payload, fmt.Errorf("jwt: sign token: %w", err)
	}

	// NumericDate truncates to seconds; report what the token actually carries.
	return signed, claims.Payload(), nil
}

// Verify checks signature, issuer, audience and validity window, then enforces the expected token type.
// Expired tokens fail with domain.ErrTokenExpired, everything else with domain.ErrInvalidToken.
func (m *JWTManager) Verify(tokenString string, expected domain.TokenType) (domain.TokenPayload, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return domain.TokenPayload{}, domain.ErrInvalidToken.WithMessage("token is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if len(m.audience) > 0 {
		opts = append(opts, jwt.WithAudience(m.audience[0]))
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return m.GetVerificationKey(kid)
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.TokenPayload{}, domain.ErrTokenExpired.Wrap(err)
		}
		return domain.TokenPayload{}, domain.ErrInvalidToken.Wrap(err)
	}

	if claims.TokenID == "" || claims.TokenID != claims.ID {
		return domain.TokenPayload{}, domain.ErrInvalidToken.WithMessage("token id mismatch")
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return domain.TokenPayload{}, domain.ErrInvalidToken.WithMessage("token missing subject or session")
	}
	if domain.TokenType(claims.Type) != expected {
		return domain.TokenPayload{}, domain.ErrInvalidToken.WithMessage("unexpected token type %q", claims.Type)
	}
	if _, ok := domain.ParseRole(claims.Role); !ok {
		return domain.TokenPayload{}, domain.ErrInvalidToken.WithMessage("unknown role")
	}

	return claims.Payload(), nil
}
