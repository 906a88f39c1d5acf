package keywrap

import (
	"context"
	"fmt"

	"github.com/google/tink/go/aead"
	"github.com/google/tink/go/keyset"
	"github.com/google/tink/go/tink"
)

// AlgorithmTinkAEAD identifies the Tink AEAD keyset wrap.
const AlgorithmTinkAEAD = "TINK/AEAD"

// TinkKeyWrapper wraps content encryption keys with a Tink AEAD keyset.
// In production the keyset handle typically comes from a KMS; for local
// use NewLocalTinkKeyWrapper generates one in memory.
type TinkKeyWrapper struct {
	aead  tink.AEAD
	keyID string
}

// NewTinkKeyWrapper creates a wrapper from an existing keyset handle. The
// key ID should be a stable identifier for the keyset (a KEK URI when one
// exists).
func NewTinkKeyWrapper(handle *keyset.Handle, keyID string) (*TinkKeyWrapper, error) {
	if handle == nil {
		return nil, fmt.Errorf("keyset handle cannot be nil")
	}
	if keyID == "" {
		return nil, fmt.Errorf("key ID cannot be empty")
	}

	primitive, err := aead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD from keyset: %w", err)
	}

	return &TinkKeyWrapper{aead: primitive, keyID: keyID}, nil
}

// NewLocalTinkKeyWrapper generates a fresh local AES256-GCM keyset.
func NewLocalTinkKeyWrapper(keyID string) (*TinkKeyWrapper, error) {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return nil, fmt.Errorf("failed to create local keyset: %w", err)
	}
	return NewTinkKeyWrapper(handle, keyID)
}

// WrapKey encrypts the CEK with the keyset's primary key.
func (w *TinkKeyWrapper) WrapKey(_ context.Context, cek []byte) ([]byte, error) {
	wrapped, err := w.aead.Encrypt(cek, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key %q: %w", w.keyID, err)
	}
	return wrapped, nil
}

// UnwrapKey decrypts a wrapped CEK with the keyset.
func (w *TinkKeyWrapper) UnwrapKey(_ context.Context, wrappedKey []byte, algorithm string) ([]byte, error) {
	if algorithm != AlgorithmTinkAEAD {
		return nil, fmt.Errorf("unsupported key wrap algorithm %q for key %q", algorithm, w.keyID)
	}

	cek, err := w.aead.Decrypt(wrappedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap key %q: %w", w.keyID, err)
	}
	return cek, nil
}

// KeyID returns the identifier recorded in encryption metadata.
func (w *TinkKeyWrapper) KeyID() string {
	return w.keyID
}

// WrapAlgorithm returns the wrap algorithm identifier.
func (w *TinkKeyWrapper) WrapAlgorithm() string {
	return AlgorithmTinkAEAD
}
