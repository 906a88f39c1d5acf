package encryption

import (
	"context"
	"crypto/aes"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// KeyWrappingLibrary is recorded in KeyWrappingMetadata so a reader can
// tell which client produced the envelope.
const KeyWrappingLibrary = "stratoblob-go"

// ChunkEncryptor is the streaming encryption transform shared by both
// protocols. Non-final chunks go through EncryptChunk; the last chunk goes
// through Finalize exactly once.
type ChunkEncryptor interface {
	EncryptChunk(plaintext []byte) ([]byte, error)
	Finalize(plaintext []byte) ([]byte, error)
}

// NewChunkEncryptor generates fresh key material for one upload and
// returns the streaming encryptor for the requested protocol together
// with the metadata that must accompany the ciphertext. The CEK is wrapped
// with the supplied KEK before the metadata is returned.
func NewChunkEncryptor(ctx context.Context, kek KeyWrapper, protocol string) (ChunkEncryptor, *EncryptionData, error) {
	if kek == nil {
		return nil, nil, fmt.Errorf("key encryption key must not be nil")
	}

	cek := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, cek); err != nil {
		return nil, nil, fmt.Errorf("failed to generate CEK: %w", err)
	}

	var (
		enc ChunkEncryptor
		ed  *EncryptionData
		err error
	)

	switch protocol {
	case ProtocolV1:
		iv := make([]byte, aes.BlockSize)
		if _, err := io.ReadFull(rand.Reader, iv); err != nil {
			return nil, nil, fmt.Errorf("failed to generate IV: %w", err)
		}
		enc, err = NewCBCChunkEncryptor(cek, iv)
		if err != nil {
			return nil, nil, err
		}
		ed = &EncryptionData{
			EncryptionAgent:     EncryptionAgent{Protocol: ProtocolV1, EncryptionAlgorithm: AlgorithmAESCBC256},
			ContentEncryptionIV: iv,
		}
	case ProtocolV2:
		enc, err = NewGCMChunkEncryptor(cek)
		if err != nil {
			return nil, nil, err
		}
		ed = &EncryptionData{
			EncryptionAgent: EncryptionAgent{Protocol: ProtocolV2, EncryptionAlgorithm: AlgorithmAESGCM256},
			EncryptedRegionInfo: &EncryptedRegionInfo{
				DataLength:  GCMRegionDataLength,
				NonceLength: GCMNonceLength,
				TagLength:   GCMTagLength,
			},
		}
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, protocol)
	}

	wrapped, err := kek.WrapKey(ctx, cek)
	clearBytes(cek)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to wrap CEK with key %q: %w", kek.KeyID(), err)
	}

	ed.WrappedContentKey = WrappedContentKey{
		KeyID:        kek.KeyID(),
		EncryptedKey: wrapped,
		Algorithm:    kek.WrapAlgorithm(),
	}
	ed.KeyWrappingMetadata = map[string]string{"EncryptionLibrary": KeyWrappingLibrary}

	logrus.WithFields(logrus.Fields{
		"component": "encryption_codec",
		"protocol":  protocol,
		"key_id":    kek.KeyID(),
	}).Debug("Created chunk encryptor")

	return enc, ed, nil
}

// EncryptBlob encrypts a small payload in one shot and returns the
// metadata JSON plus the ciphertext.
func EncryptBlob(ctx context.Context, plaintext []byte, kek KeyWrapper, protocol string) (*EncryptionData, []byte, error) {
	enc, ed, err := NewChunkEncryptor(ctx, kek, protocol)
	if err != nil {
		return nil, nil, err
	}
	ciphertext, err := enc.Finalize(plaintext)
	if err != nil {
		return nil, nil, err
	}
	return ed, ciphertext, nil
}

// DecryptBlob decrypts a complete ciphertext using its encryption
// metadata. The KEK is located by resolver when one is supplied, falling
// back to the directly supplied kek otherwise; the resolver always wins
// when both are present.
func DecryptBlob(ctx context.Context, ciphertext []byte, ed *EncryptionData, kek KeyWrapper, resolver KeyResolver) ([]byte, error) {
	if ed == nil {
		return nil, fmt.Errorf("%w: no encryption data", ErrMissingMetadata)
	}
	if err := ed.Validate(); err != nil {
		return nil, err
	}

	keyID := ed.WrappedContentKey.KeyID

	if resolver != nil {
		resolved, err := resolver(ctx, keyID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve key %q: %w", keyID, err)
		}
		kek = resolved
	}
	if kek == nil {
		return nil, fmt.Errorf("no key encryption key available for key %q", keyID)
	}

	cek, err := kek.UnwrapKey(ctx, ed.WrappedContentKey.EncryptedKey, ed.WrappedContentKey.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap CEK with key %q: %w", keyID, err)
	}
	defer clearBytes(cek)

	switch ed.EncryptionAgent.Protocol {
	case ProtocolV1:
		return decryptCBC(ciphertext, cek, ed.ContentEncryptionIV)
	case ProtocolV2:
		return decryptGCM(ciphertext, cek, ed.EncryptedRegionInfo)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, ed.EncryptionAgent.Protocol)
}

// EncryptedLength returns the ciphertext length for a plaintext of length
// n under the given protocol. Callers sizing destination objects up front
// need this before any byte is encrypted.
func EncryptedLength(n int64, protocol string) (int64, error) {
	switch protocol {
	case ProtocolV1:
		return n + int64(aes.BlockSize) - n%int64(aes.BlockSize), nil
	case ProtocolV2:
		regions := n / GCMRegionDataLength
		if n%GCMRegionDataLength != 0 {
			regions++
		}
		return n + regions*(GCMNonceLength+GCMTagLength), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, protocol)
}

// clearBytes zeroes key material before it goes out of scope.
func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
