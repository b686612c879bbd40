package port

import (
	"context"
	"time"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

// Encryptor protects data at rest with versioned keys.
type Encryptor interface {
	Encrypt(plaintext string) (domain.EncryptedBlob, error)
	Decrypt(blob domain.EncryptedBlob) (string, error)
	// DecryptContext is Decrypt that may consult the shared key ring for versions minted by peers.
	DecryptContext(ctx context.Context, blob domain.EncryptedBlob) (string, error)
}

// KeyRingStore shares wrapped key versions between instances. Only the holder of the rotation lock adds versions.
type KeyRingStore interface {
	LoadKeys(ctx context.Context) ([]domain.WrappedKey, error)
	// AddKey publishes key unless its version already exists and reports whether it was added.
	AddKey(ctx context.Context, key domain.WrappedKey) (bool, error)
	RemoveKeys(ctx context.Context, versions []int) error
	AcquireRotationLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseRotationLock(ctx context.Context, owner string) error
}
