package domain

import (
	"fmt"
	"time"
)

// EncryptedBlob wraps AEAD output. Byte slices serialise as standard base64 in JSON.
type EncryptedBlob struct {
	CipherText []byte `json:"cipherText"`
	Nonce      []byte `json:"nonce"`
	AuthTag    []byte `json:"authTag"`
	KeyVersion int    `json:"keyVersion"`
}

// KeyRecord is one generation of the symmetric encryption key.
type KeyRecord struct {
	Version   int
	Material  []byte `json:"-"`
	CreatedAt time.Time
}

// String never includes key material.
func (k KeyRecord) String() string {
	return fmt.Sprintf("KeyRecord{version=%d, created_at=%s}", k.Version, k.CreatedAt.UTC().Format(time.RFC3339))
}

// GoString keeps %#v from dumping key material.
func (k KeyRecord) GoString() string {
	return k.String()
}

// KeyVersionInfo is the loggable summary of a retained key.
type KeyVersionInfo struct {
	Version   int
	CreatedAt time.Time
	Current   bool
}

// WrappedKey is a key version sealed under the shared wrapping key so peers can load it from the shared store.
type WrappedKey struct {
	Version   int       `json:"version"`
	Wrapped   []byte    `json:"wrapped"`
	CreatedAt time.Time `json:"created_at"`
}
