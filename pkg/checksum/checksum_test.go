package checksum

import (
	"crypto/md5"
	"crypto/rand"
	"hash/crc64"
	mrand "math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombine_TwoHalves(t *testing.T) {
	data := make([]byte, 100000)
	_, err := rand.Read(data)
	require.NoError(t, err)

	whole := CRC64(data)

	for _, split := range []int{0, 1, 17, 50000, 99999, 100000} {
		a, b := data[:split], data[split:]
		combined := Combine(CRC64(a), CRC64(b), int64(len(b)))
		assert.Equal(t, whole, combined, "split=%d", split)
	}
}

func TestCombineChunks_AnyOrder(t *testing.T) {
	data := make([]byte, 64*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	whole := CRC64(data)

	// Partition into uneven chunks.
	var chunks []ChunkCRC
	offset := 0
	rng := mrand.New(mrand.NewSource(42))
	for offset < len(data) {
		size := 1 + rng.Intn(7000)
		if offset+size > len(data) {
			size = len(data) - offset
		}
		chunks = append(chunks, ChunkCRC{
			Offset: int64(offset),
			Length: int64(size),
			CRC:    CRC64(data[offset : offset+size]),
		})
		offset += size
	}

	// Shuffle to simulate out-of-order completion.
	rng.Shuffle(len(chunks), func(i, j int) { chunks[i], chunks[j] = chunks[j], chunks[i] })

	assert.Equal(t, whole, CombineChunks(chunks))
}

func TestCombine_EmptySegment(t *testing.T) {
	data := []byte("some payload")
	crc := CRC64(data)
	assert.Equal(t, crc, Combine(crc, 0, 0))
	assert.Equal(t, crc, Combine(0, crc, int64(len(data))))
}

func TestAccumulator_MatchesOneShot(t *testing.T) {
	data := make([]byte, 30000)
	_, err := rand.Read(data)
	require.NoError(t, err)

	var acc Accumulator
	for i := 0; i < len(data); i += 777 {
		end := i + 777
		if end > len(data) {
			end = len(data)
		}
		n, err := acc.Write(data[i:end])
		require.NoError(t, err)
		assert.Equal(t, end-i, n)
	}

	assert.Equal(t, CRC64(data), acc.Sum64())
	assert.Equal(t, int64(len(data)), acc.Length())
}

func TestAccumulator_MatchesCombinedChunks(t *testing.T) {
	// The running accumulator and the offset-ordered combine must agree;
	// this equality is what the orchestrator checks after a parallel
	// upload.
	data := make([]byte, 50000)
	_, err := rand.Read(data)
	require.NoError(t, err)

	var acc Accumulator
	var chunks []ChunkCRC
	for i := 0; i < len(data); i += 4096 {
		end := i + 4096
		if end > len(data) {
			end = len(data)
		}
		_, _ = acc.Write(data[i:end])
		chunks = append(chunks, ChunkCRC{
			Offset: int64(i),
			Length: int64(end - i),
			CRC:    CRC64(data[i:end]),
		})
	}

	assert.Equal(t, acc.Sum64(), CombineChunks(chunks))
}

func TestChunkMD5(t *testing.T) {
	data := []byte("chunk payload")
	want := md5.Sum(data)
	assert.Equal(t, want[:], ChunkMD5(data))
	assert.Len(t, ChunkMD5(nil), 16)
}

func TestCRC64_MatchesStdlib(t *testing.T) {
	data := []byte("sanity")
	assert.Equal(t, crc64.Checksum(data, crc64.MakeTable(crc64.ECMA)), CRC64(data))
	assert.Equal(t, CRC64(data), Update(0, data))
}

func TestMode_Validate(t *testing.T) {
	assert.NoError(t, ModeNone.Validate())
	assert.NoError(t, ModeMD5.Validate())
	assert.NoError(t, ModeCRC64.Validate())
	assert.Error(t, Mode("sha256").Validate())
}
