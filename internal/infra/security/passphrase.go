package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	passphraseTime    uint32 = 3
	passphraseMemory  uint32 = 64 * 1024
	passphraseThreads uint8  = 4
	minSaltLength            = 16
)

var errWeakPassphraseInput = errors.New("passphrase: invalid input")

// DeriveKeyFromPassphrase stretches a shared passphrase into a KeySize key with Argon2id.
// Every instance configured with the same passphrase and salt derives the same initial key.
func DeriveKeyFromPassphrase(passphrase string, salt []byte) ([]byte, error) {
	if len(passphrase) < KeySize {
		return nil, fmt.Errorf("%w: passphrase must be at least %d characters", errWeakPassphraseInput, KeySize)
	}
	if len(salt) < minSaltLength {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", errWeakPassphraseInput, minSaltLength)
	}
	return argon2.IDKey([]byte(passphrase), salt, passphraseTime, passphraseMemory, passphraseThreads, KeySize), nil
}
