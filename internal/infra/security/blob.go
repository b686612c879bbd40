package security

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

// EncodeBlob renders blob as the opaque string handed to clients.
func EncodeBlob(blob domain.EncryptedBlob) (string, error) {
	payload, err := json.Marshal(blob)
	if err != nil {
		return "", domain.ErrInternal.WithMessage("encode encrypted blob").Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeBlob parses the opaque client string back into an EncryptedBlob.
func DecodeBlob(value string) (domain.EncryptedBlob, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.EncryptedBlob{}, domain.ErrValidation.WithMessage("refresh token is required")
	}

	payload, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return domain.EncryptedBlob{}, domain.ErrInvalidToken.WithMessage("malformed refresh token").Wrap(err)
	}

	var blob domain.EncryptedBlob
	if err := json.Unmarshal(payload, &blob); err != nil {
		return domain.EncryptedBlob{}, domain.ErrInvalidToken.WithMessage("malformed refresh token").Wrap(err)
	}
	if blob.KeyVersion <= 0 || len(blob.Nonce) == 0 || len(blob.AuthTag) == 0 {
		return domain.EncryptedBlob{}, domain.ErrInvalidToken.WithMessage("incomplete refresh token")
	}
	return blob, nil
}
