package encryption

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gcmRoundTrip(t *testing.T, size int) {
	t.Helper()

	cek := make([]byte, 32)
	_, err := rand.Read(cek)
	require.NoError(t, err)

	plaintext := make([]byte, size)
	_, err = rand.Read(plaintext)
	require.NoError(t, err)

	enc, err := NewGCMChunkEncryptor(cek)
	require.NoError(t, err)
	ciphertext, err := enc.Finalize(plaintext)
	require.NoError(t, err)

	info := &EncryptedRegionInfo{
		DataLength:  GCMRegionDataLength,
		NonceLength: GCMNonceLength,
		TagLength:   GCMTagLength,
	}
	got, err := decryptGCM(ciphertext, cek, info)
	require.NoError(t, err)

	if size == 0 {
		assert.Empty(t, got)
		assert.Empty(t, ciphertext)
	} else {
		assert.Equal(t, plaintext, got)
	}
}

func TestGCM_RoundTripSizes(t *testing.T) {
	// 0, 1, and one byte past a region boundary are the interesting
	// shapes; the rest fill in the middle.
	for _, size := range []int{0, 1, 1024, GCMRegionDataLength - 1, GCMRegionDataLength, GCMRegionDataLength + 1} {
		gcmRoundTrip(t, size)
	}
}

func TestGCM_RegionLayout(t *testing.T) {
	cek := make([]byte, 32)
	_, err := rand.Read(cek)
	require.NoError(t, err)

	size := GCMRegionDataLength + 100
	plaintext := make([]byte, size)
	_, err = rand.Read(plaintext)
	require.NoError(t, err)

	enc, err := NewGCMChunkEncryptor(cek)
	require.NoError(t, err)
	ciphertext, err := enc.Finalize(plaintext)
	require.NoError(t, err)

	// Two regions: one full, one carrying the 100-byte tail. Each adds
	// nonce and tag overhead.
	want := size + 2*(GCMNonceLength+GCMTagLength)
	assert.Equal(t, want, len(ciphertext))

	n, err := EncryptedLength(int64(size), ProtocolV2)
	require.NoError(t, err)
	assert.Equal(t, int64(want), n)
}

func TestGCM_ChunkBoundariesIndependentOfRegions(t *testing.T) {
	cek := make([]byte, 32)
	_, err := rand.Read(cek)
	require.NoError(t, err)

	size := GCMRegionDataLength + 4096
	plaintext := make([]byte, size)
	_, err = rand.Read(plaintext)
	require.NoError(t, err)

	enc, err := NewGCMChunkEncryptor(cek)
	require.NoError(t, err)

	// Feed in chunks that never line up with the 4 MiB region size.
	var ciphertext []byte
	const chunkSize = 1<<20 - 7
	var i int
	for i = 0; i+chunkSize < size; i += chunkSize {
		part, err := enc.EncryptChunk(plaintext[i : i+chunkSize])
		require.NoError(t, err)
		ciphertext = append(ciphertext, part...)
	}
	last, err := enc.Finalize(plaintext[i:])
	require.NoError(t, err)
	ciphertext = append(ciphertext, last...)

	info := &EncryptedRegionInfo{
		DataLength:  GCMRegionDataLength,
		NonceLength: GCMNonceLength,
		TagLength:   GCMTagLength,
	}
	got, err := decryptGCM(ciphertext, cek, info)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestGCM_TamperDetection(t *testing.T) {
	cek := make([]byte, 32)
	_, err := rand.Read(cek)
	require.NoError(t, err)

	enc, err := NewGCMChunkEncryptor(cek)
	require.NoError(t, err)
	ciphertext, err := enc.Finalize([]byte("authenticated payload"))
	require.NoError(t, err)

	ciphertext[GCMNonceLength] ^= 0x01

	info := &EncryptedRegionInfo{
		DataLength:  GCMRegionDataLength,
		NonceLength: GCMNonceLength,
		TagLength:   GCMTagLength,
	}
	_, err = decryptGCM(ciphertext, cek, info)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decrypt region")
}

func TestGCM_FinalizeTwice(t *testing.T) {
	cek := make([]byte, 32)
	_, err := rand.Read(cek)
	require.NoError(t, err)

	enc, err := NewGCMChunkEncryptor(cek)
	require.NoError(t, err)
	_, err = enc.Finalize(nil)
	require.NoError(t, err)

	_, err = enc.Finalize(nil)
	assert.Error(t, err)
	_, err = enc.EncryptChunk([]byte("x"))
	assert.Error(t, err)
}

func TestGCM_InvalidKeySize(t *testing.T) {
	_, err := NewGCMChunkEncryptor(make([]byte, 16))
	assert.Error(t, err)
}
