package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// GCMChunkEncryptor encrypts a payload chunk by chunk under protocol 2.0.
// Plaintext is split into fixed 4 MiB regions; each region gets a fresh
// 12-byte nonce and is sealed independently, emitted as
// nonce || ciphertext || tag. Chunk boundaries and region boundaries are
// independent: the encryptor buffers across chunks until a region fills.
type GCMChunkEncryptor struct {
	aead      cipher.AEAD
	pending   []byte
	finalized bool
}

// NewGCMChunkEncryptor creates a chunk encryptor from a 32-byte CEK.
func NewGCMChunkEncryptor(cek []byte) (*GCMChunkEncryptor, error) {
	if len(cek) != 32 {
		return nil, fmt.Errorf("invalid CEK size: expected 32 bytes, got %d", len(cek))
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &GCMChunkEncryptor{aead: aead}, nil
}

// EncryptChunk absorbs plaintext and returns the encoded regions completed
// by it, which may be empty when the region buffer has not filled yet.
func (e *GCMChunkEncryptor) EncryptChunk(plaintext []byte) ([]byte, error) {
	if e.finalized {
		return nil, fmt.Errorf("encryptor already finalized")
	}

	e.pending = append(e.pending, plaintext...)

	var out []byte
	for len(e.pending) >= GCMRegionDataLength {
		region, err := e.sealRegion(e.pending[:GCMRegionDataLength])
		if err != nil {
			return nil, err
		}
		out = append(out, region...)
		e.pending = e.pending[GCMRegionDataLength:]
	}
	return out, nil
}

// Finalize absorbs the final chunk and flushes the remaining partial
// region. A zero-length payload produces a zero-length ciphertext.
func (e *GCMChunkEncryptor) Finalize(plaintext []byte) ([]byte, error) {
	out, err := e.EncryptChunk(plaintext)
	if err != nil {
		return nil, err
	}
	e.finalized = true

	if len(e.pending) == 0 {
		return out, nil
	}
	region, err := e.sealRegion(e.pending)
	if err != nil {
		return nil, err
	}
	e.pending = nil
	return append(out, region...), nil
}

func (e *GCMChunkEncryptor) sealRegion(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, GCMNonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	// Seal appends ciphertext||tag after the nonce.
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// decryptGCM decrypts a complete protocol 2.0 ciphertext using the region
// layout recorded in metadata.
func decryptGCM(ciphertext, cek []byte, info *EncryptedRegionInfo) ([]byte, error) {
	if len(cek) != 32 {
		return nil, fmt.Errorf("invalid CEK size: expected 32 bytes, got %d", len(cek))
	}
	if info.DataLength <= 0 || info.NonceLength <= 0 || info.TagLength <= 0 {
		return nil, fmt.Errorf("%w: invalid encrypted region info", ErrMissingMetadata)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, info.NonceLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	overhead := info.NonceLength + info.TagLength
	regionSize := overhead + info.DataLength

	var plaintext []byte
	for rest := ciphertext; len(rest) > 0; {
		region := rest
		if len(region) > regionSize {
			region = region[:regionSize]
		}
		if len(region) < overhead {
			return nil, fmt.Errorf("encrypted region truncated: %d bytes", len(region))
		}
		rest = rest[len(region):]

		nonce := region[:info.NonceLength]
		opened, err := aead.Open(nil, nonce, region[info.NonceLength:], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt region: %w", err)
		}
		plaintext = append(plaintext, opened...)
	}
	return plaintext, nil
}
