// Package keywrap provides ready-made KeyWrapper implementations for
// local AES keys, RSA key pairs, Tink AEAD keysets, and passphrase-derived
// keys. All of them satisfy encryption.KeyWrapper and only ever touch the
// content encryption key, never payload bytes.
package keywrap

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// AlgorithmAESGCMKeyWrap identifies the local AES-GCM key wrap.
const AlgorithmAESGCMKeyWrap = "A256GCMKW"

// AESKeyWrapper wraps content encryption keys with a local 32-byte KEK
// using AES-GCM. The wrapped form is nonce || ciphertext || tag.
type AESKeyWrapper struct {
	aead  cipher.AEAD
	keyID string
}

// NewAESKeyWrapper creates a wrapper from a 32-byte KEK. The key ID
// defaults to a SHA-256 fingerprint of the key material when empty.
func NewAESKeyWrapper(kek []byte, keyID string) (*AESKeyWrapper, error) {
	if len(kek) != 32 {
		return nil, fmt.Errorf("AES-256 KEK must be exactly 32 bytes, got %d", len(kek))
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if keyID == "" {
		keyID = fingerprint(kek)
	}

	return &AESKeyWrapper{aead: aead, keyID: keyID}, nil
}

// WrapKey encrypts the CEK under the local KEK.
func (w *AESKeyWrapper) WrapKey(_ context.Context, cek []byte) ([]byte, error) {
	nonce := make([]byte, w.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate key wrap nonce: %w", err)
	}
	return w.aead.Seal(nonce, nonce, cek, nil), nil
}

// UnwrapKey decrypts a wrapped CEK.
func (w *AESKeyWrapper) UnwrapKey(_ context.Context, wrappedKey []byte, algorithm string) ([]byte, error) {
	if algorithm != AlgorithmAESGCMKeyWrap {
		return nil, fmt.Errorf("unsupported key wrap algorithm %q for key %q", algorithm, w.keyID)
	}
	if len(wrappedKey) < w.aead.NonceSize() {
		return nil, fmt.Errorf("wrapped key too short")
	}

	nonce, ciphertext := wrappedKey[:w.aead.NonceSize()], wrappedKey[w.aead.NonceSize():]
	cek, err := w.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap key %q: %w", w.keyID, err)
	}
	return cek, nil
}

// KeyID returns the identifier recorded in encryption metadata.
func (w *AESKeyWrapper) KeyID() string {
	return w.keyID
}

// WrapAlgorithm returns the wrap algorithm identifier.
func (w *AESKeyWrapper) WrapAlgorithm() string {
	return AlgorithmAESGCMKeyWrap
}

// GenerateAESKey returns a fresh random 32-byte KEK.
func GenerateAESKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate AES key: %w", err)
	}
	return key, nil
}

// fingerprint derives a stable key identifier from key material without
// exposing it.
func fingerprint(material []byte) string {
	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:])
}
