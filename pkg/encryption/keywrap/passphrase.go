package keywrap

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters for passphrase-derived KEKs.
const (
	pbkdf2Iterations = 100000
	saltSize         = 32
)

// NewPassphraseKeyWrapper derives a 32-byte KEK from a passphrase and salt
// with PBKDF2-SHA256 and returns an AES wrapper over it. The salt must be
// stored by the caller (it is not secret) and supplied again at decrypt
// time; the same passphrase and salt always yield the same KEK and key ID.
func NewPassphraseKeyWrapper(passphrase string, salt []byte) (*AESKeyWrapper, error) {
	if len(passphrase) < 12 {
		return nil, fmt.Errorf("passphrase must be at least 12 characters, got %d", len(passphrase))
	}
	if len(salt) < 16 {
		return nil, fmt.Errorf("salt must be at least 16 bytes, got %d", len(salt))
	}

	kek := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
	return NewAESKeyWrapper(kek, "")
}

// GenerateSalt returns a fresh random salt for passphrase derivation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}
