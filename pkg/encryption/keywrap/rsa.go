package keywrap

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// AlgorithmRSAOAEP256 identifies the RSA-OAEP-SHA256 key wrap.
const AlgorithmRSAOAEP256 = "RSA-OAEP-256"

// RSAKeyWrapper wraps content encryption keys with an RSA key pair using
// OAEP. Decrypt-only use (public key absent) is not supported; wrap-only
// use works with a nil private key.
type RSAKeyWrapper struct {
	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
	keyID      string
}

// NewRSAKeyWrapper creates a wrapper from an RSA key pair of at least
// 2048 bits. privateKey may be nil for wrap-only callers.
func NewRSAKeyWrapper(publicKey *rsa.PublicKey, privateKey *rsa.PrivateKey, keyID string) (*RSAKeyWrapper, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("public key cannot be nil")
	}
	if publicKey.N.BitLen() < 2048 {
		return nil, fmt.Errorf("RSA key size must be at least 2048 bits, got %d", publicKey.N.BitLen())
	}

	if keyID == "" {
		der, err := x509.MarshalPKIXPublicKey(publicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal public key: %w", err)
		}
		keyID = fingerprint(der)
	}

	return &RSAKeyWrapper{publicKey: publicKey, privateKey: privateKey, keyID: keyID}, nil
}

// NewRSAKeyWrapperFromPEM creates a wrapper from PEM-encoded keys.
// privateKeyPEM may be empty for wrap-only callers.
func NewRSAKeyWrapperFromPEM(publicKeyPEM, privateKeyPEM, keyID string) (*RSAKeyWrapper, error) {
	pubKey, err := parseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	var privKey *rsa.PrivateKey
	if privateKeyPEM != "" {
		privKey, err = parseRSAPrivateKeyFromPEM(privateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
	}

	return NewRSAKeyWrapper(pubKey, privKey, keyID)
}

// WrapKey encrypts the CEK with RSA-OAEP.
func (w *RSAKeyWrapper) WrapKey(_ context.Context, cek []byte) ([]byte, error) {
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, w.publicKey, cek, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key %q: %w", w.keyID, err)
	}
	return wrapped, nil
}

// UnwrapKey decrypts a wrapped CEK with the private key.
func (w *RSAKeyWrapper) UnwrapKey(_ context.Context, wrappedKey []byte, algorithm string) ([]byte, error) {
	if algorithm != AlgorithmRSAOAEP256 {
		return nil, fmt.Errorf("unsupported key wrap algorithm %q for key %q", algorithm, w.keyID)
	}
	if w.privateKey == nil {
		return nil, fmt.Errorf("no private key available to unwrap key %q", w.keyID)
	}

	cek, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, w.privateKey, wrappedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap key %q: %w", w.keyID, err)
	}
	return cek, nil
}

// KeyID returns the identifier recorded in encryption metadata.
func (w *RSAKeyWrapper) KeyID() string {
	return w.keyID
}

// WrapAlgorithm returns the wrap algorithm identifier.
func (w *RSAKeyWrapper) WrapAlgorithm() string {
	return AlgorithmRSAOAEP256
}

// GenerateRSAKeyPair generates a new RSA key pair of the given size.
func GenerateRSAKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits < 2048 {
		return nil, fmt.Errorf("RSA key size must be at least 2048 bits, got %d", bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key pair: %w", err)
	}
	return key, nil
}

func parseRSAPublicKeyFromPEM(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKIX public key: %w", err)
	}
	pubKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("PEM block does not contain an RSA public key")
	}
	return pubKey, nil
}

func parseRSAPrivateKeyFromPEM(privateKeyPEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	privKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("PEM block does not contain an RSA private key")
	}
	return privKey, nil
}
