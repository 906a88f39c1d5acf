// Package encryption implements the client-side envelope encryption layer
// of the SDK: an ephemeral content encryption key (CEK) protects the
// payload, and a caller-supplied key encryption key (KEK) protects the CEK.
// Payloads are encrypted with AES-CBC-256 (protocol 1.0) or AES-GCM-256
// (protocol 2.0), in one shot or chunk by chunk.
package encryption

import (
	"context"
)

// KeyWrapper is the capability set a caller-supplied KEK must provide.
// Any value implementing these four operations is accepted; no concrete
// type is required. The KEK only ever touches the CEK, never payload
// bytes.
type KeyWrapper interface {
	// WrapKey encrypts a content encryption key.
	WrapKey(ctx context.Context, cek []byte) ([]byte, error)

	// UnwrapKey decrypts a wrapped content encryption key. The algorithm
	// is the wrap algorithm recorded in the object's encryption metadata.
	UnwrapKey(ctx context.Context, wrappedKey []byte, algorithm string) ([]byte, error)

	// KeyID returns the identifier recorded in metadata so the right KEK
	// can be located at decrypt time.
	KeyID() string

	// WrapAlgorithm returns the identifier of the wrap algorithm.
	WrapAlgorithm() string
}

// KeyResolver maps a key ID from encryption metadata to the KEK that can
// unwrap it. When both a direct KeyWrapper and a resolver are supplied to
// a decrypt operation, the resolver always wins; this is what lets
// multi-tenant callers pick per-object keys dynamically.
type KeyResolver func(ctx context.Context, keyID string) (KeyWrapper, error)
