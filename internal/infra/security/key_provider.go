package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var ErrSigningKeyNotFound = errors.New("signing key not found")

const ephemeralKeyBits = 2048

// KeyProvider supplies the RSA keys used to sign and verify tokens.
type KeyProvider interface {
	SigningKeyID() string
	GetSigningKey() (*rsa.PrivateKey, error)
	GetVerificationKey(kid string) (*rsa.PublicKey, error)
}

// DirKeyProvider reads PEM keys from a directory. The kid is the file name without extension.
type DirKeyProvider struct {
	keys       map[string]*rsa.PublicKey
	signingKID string
	signingKey *rsa.PrivateKey
}

// NewDirKeyProvider loads every PEM file in keyDir. The first private key in name order signs.
func NewDirKeyProvider(keyDir string) (*DirKeyProvider, error) {
	files, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	provider := &DirKeyProvider{
		keys: make(map[string]*rsa.PublicKey),
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		path := filepath.Join(keyDir, file.Name())
		keyData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
		}

		block, _ := pem.Decode(keyData)
		if block == nil {
			return nil, fmt.Errorf("failed to decode PEM block from %s", path)
		}
		kid := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))

		if key, err := parsePrivateKey(block.Bytes); err == nil {
			if provider.signingKey == nil {
				provider.signingKey = key
				provider.signingKID = kid
			}
			provider.keys[kid] = &key.PublicKey
			continue
		}

		if key, err := parsePublicKey(block.Bytes); err == nil {
			provider.keys[kid] = key
			continue
		}

		return nil, fmt.Errorf("failed to parse key from file %s", path)
	}

	if provider.signingKey == nil {
		return nil, fmt.Errorf("%w in %s", ErrSigningKeyNotFound, keyDir)
	}

	return provider, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaKey, nil
}

func parsePublicKey(der []byte) (*rsa.PublicKey, error) {
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaKey, nil
}

func (p *DirKeyProvider) SigningKeyID() string {
	return p.signingKID
}

func (p *DirKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	return p.signingKey, nil
}

func (p *DirKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotRegistered, kid)
	}
	return key, nil
}

// ListVerificationKeys exposes every loaded public key for JWKS publication.
func (p *DirKeyProvider) ListVerificationKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(p.keys))
	for kid, key := range p.keys {
		out[kid] = key
	}
	return out
}

// EphemeralKeyProvider holds a process-local RSA key generated at start-up.
// Tokens it signs do not survive a restart and are not accepted by other instances.
type EphemeralKeyProvider struct {
	kid string
	key *rsa.PrivateKey
}

// NewEphemeralKeyProvider generates a fresh signing key.
func NewEphemeralKeyProvider() (*EphemeralKeyProvider, error) {
	key, err := rsa.GenerateKey(rand.Reader, ephemeralKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral signing key: %w", err)
	}
	return &EphemeralKeyProvider{kid: "ephemeral-" + uuid.NewString(), key: key}, nil
}

func (p *EphemeralKeyProvider) SigningKeyID() string {
	return p.kid
}

func (p *EphemeralKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	return p.key, nil
}

func (p *EphemeralKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	if kid != p.kid {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotRegistered, kid)
	}
	return &p.key.PublicKey, nil
}

func (p *EphemeralKeyProvider) ListVerificationKeys() map[string]*rsa.PublicKey {
	return map[string]*rsa.PublicKey{p.kid: &p.key.PublicKey}
}

// NewKeyProvider picks the directory provider when keyDir is set and an ephemeral key otherwise.
// Production refuses to run without a key directory.
func NewKeyProvider(env, keyDir string) (KeyProvider, error) {
	keyDir = strings.TrimSpace(keyDir)
	if keyDir != "" {
		return NewDirKeyProvider(keyDir)
	}
	if env == "production" {
		return nil, fmt.Errorf("%w: jwt key directory is required in production", ErrSigningKeyNotFound)
	}
	return NewEphemeralKeyProvider()
}
