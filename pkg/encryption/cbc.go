package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// CBCChunkEncryptor encrypts a payload chunk by chunk under protocol 1.0,
// carrying CBC chaining state across chunk boundaries. Intermediate chunks
// are encrypted without padding; PKCS#7 padding is applied exactly once,
// by Finalize, on the last chunk. Padding any earlier would corrupt every
// subsequent chunk, so all non-final chunks must be block-aligned.
//
// Encrypting a payload as one Finalize call and as N EncryptChunk calls
// plus one Finalize yields byte-identical ciphertext.
type CBCChunkEncryptor struct {
	mode      cipher.BlockMode
	finalized bool
}

// NewCBCChunkEncryptor creates a chunk encryptor from a 32-byte CEK and a
// 16-byte IV.
func NewCBCChunkEncryptor(cek, iv []byte) (*CBCChunkEncryptor, error) {
	if len(cek) != 32 {
		return nil, fmt.Errorf("invalid CEK size: expected 32 bytes, got %d", len(cek))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid IV size: expected %d bytes, got %d", aes.BlockSize, len(iv))
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	return &CBCChunkEncryptor{mode: cipher.NewCBCEncrypter(block, iv)}, nil
}

// EncryptChunk encrypts a non-final chunk. The chunk length must be a
// multiple of the AES block size so that chaining stays aligned across
// chunk boundaries.
func (e *CBCChunkEncryptor) EncryptChunk(plaintext []byte) ([]byte, error) {
	if e.finalized {
		return nil, fmt.Errorf("encryptor already finalized")
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("non-final chunk length %d is not a multiple of the AES block size", len(plaintext))
	}

	ciphertext := make([]byte, len(plaintext))
	e.mode.CryptBlocks(ciphertext, plaintext)
	return ciphertext, nil
}

// Finalize pads and encrypts the final chunk. The chunk may be empty; the
// padding block is always emitted, mirroring one-shot CBC encryption.
func (e *CBCChunkEncryptor) Finalize(plaintext []byte) ([]byte, error) {
	if e.finalized {
		return nil, fmt.Errorf("encryptor already finalized")
	}
	e.finalized = true

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	e.mode.CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// decryptCBC decrypts a complete protocol 1.0 ciphertext and strips the
// PKCS#7 padding.
func decryptCBC(ciphertext, cek, iv []byte) ([]byte, error) {
	if len(cek) != 32 {
		return nil, fmt.Errorf("invalid CEK size: expected 32 bytes, got %d", len(cek))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid IV size: expected %d bytes, got %d", aes.BlockSize, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of the AES block size", len(ciphertext))
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded data length %d", len(data))
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}
