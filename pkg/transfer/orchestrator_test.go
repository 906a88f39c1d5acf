package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratoblob/stratoblob-go/pkg/checksum"
	"github.com/stratoblob/stratoblob-go/pkg/encryption"
	"github.com/stratoblob/stratoblob-go/pkg/encryption/keywrap"
	"github.com/stratoblob/stratoblob-go/pkg/streams"
	"github.com/stratoblob/stratoblob-go/pkg/transport"
)

// fakeBlockService stages blocks in memory and assembles them in commit
// order.
type fakeBlockService struct {
	mu        sync.Mutex
	blocks    map[string][]byte
	committed []byte
	metadata  map[string]string
	inFlight  int
	peak      int
	aborted   bool
	stageErr  error
}

func newFakeBlockService() *fakeBlockService {
	return &fakeBlockService{blocks: make(map[string][]byte)}
}

func (s *fakeBlockService) StageBlock(_ context.Context, blockID string, body io.Reader, length int64, _ transport.ChunkOptions) (transport.ResponseHeaders, error) {
	s.mu.Lock()
	if s.stageErr != nil {
		defer s.mu.Unlock()
		return nil, s.stageErr
	}
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != length {
		return nil, fmt.Errorf("length mismatch: declared %d, read %d", length, len(data))
	}

	s.mu.Lock()
	s.blocks[blockID] = data
	s.inFlight--
	s.mu.Unlock()

	return transport.ResponseHeaders{"etag": "etag-" + blockID}, nil
}

func (s *fakeBlockService) CommitBlockList(_ context.Context, blockIDs []string, opts transport.CommitOptions) (transport.ResponseHeaders, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var assembled []byte
	for _, id := range blockIDs {
		data, ok := s.blocks[id]
		if !ok {
			return nil, fmt.Errorf("unknown block %q", id)
		}
		assembled = append(assembled, data...)
	}
	s.committed = assembled
	s.metadata = opts.Metadata
	return transport.ResponseHeaders{"etag": "final-etag"}, nil
}

func (s *fakeBlockService) Abort(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	s.blocks = make(map[string][]byte)
	return nil
}

func randomBytes(t *testing.T, n int, seed int64) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.New(rand.NewSource(seed)).Read(data)
	require.NoError(t, err)
	return data
}

func TestUploadDataChunks_SequentialScenario(t *testing.T) {
	// 10 MiB source with 4 MiB chunks yields exactly three blocks at
	// offsets 0, 4 MiB, and 8 MiB.
	payload := randomBytes(t, 10*1024*1024, 1)
	svc := newFakeBlockService()
	uploader := NewBlockUploader(svc, BlockUploaderOptions{})

	result, err := UploadDataChunks(context.Background(), bytes.NewReader(payload), uploader, Options{
		ChunkSize:      4 * 1024 * 1024,
		MaxConcurrency: 1,
	})
	require.NoError(t, err)

	require.Len(t, result.BlockIDs, 3)
	assert.Equal(t, []string{BlockID(0), BlockID(1), BlockID(2)}, result.BlockIDs)
	assert.Equal(t, payload, svc.committed)
	assert.Equal(t, int64(len(payload)), result.BytesUploaded)
	assert.Equal(t, "final-etag", result.ResponseHeaders["etag"])
}

func TestUploadDataChunks_FinalPartialChunkUploaded(t *testing.T) {
	// A source that does not divide evenly into chunks must still commit
	// every byte, including the short final chunk.
	payload := []byte("0123456789")
	svc := newFakeBlockService()
	uploader := NewBlockUploader(svc, BlockUploaderOptions{Checksum: checksum.ModeCRC64})

	result, err := UploadDataChunks(context.Background(), bytes.NewReader(payload), uploader, Options{
		ChunkSize:      4,
		MaxConcurrency: 1,
		Checksum:       checksum.ModeCRC64,
	})
	require.NoError(t, err)

	require.Len(t, result.BlockIDs, 3)
	assert.Equal(t, payload[8:], svc.blocks[BlockID(2)])
	assert.Equal(t, payload, svc.committed)
	assert.Equal(t, int64(len(payload)), result.BytesUploaded)
	require.NotNil(t, result.CRC64)
	assert.Equal(t, checksum.CRC64(payload), *result.CRC64)
}

func TestUploadDataChunks_ParallelMatchesSequential(t *testing.T) {
	payload := randomBytes(t, 3*1024*1024+517, 2)

	var results []*UploadResult
	var committed [][]byte
	for _, concurrency := range []int{1, 4} {
		svc := newFakeBlockService()
		uploader := NewBlockUploader(svc, BlockUploaderOptions{Checksum: checksum.ModeCRC64})

		result, err := UploadDataChunks(context.Background(), bytes.NewReader(payload), uploader, Options{
			ChunkSize:      256 * 1024,
			MaxConcurrency: concurrency,
			Checksum:       checksum.ModeCRC64,
		})
		require.NoError(t, err, "concurrency=%d", concurrency)
		results = append(results, result)
		committed = append(committed, svc.committed)
	}

	assert.Equal(t, results[0].BlockIDs, results[1].BlockIDs)
	assert.Equal(t, committed[0], committed[1])
	require.NotNil(t, results[0].CRC64)
	require.NotNil(t, results[1].CRC64)
	assert.Equal(t, *results[0].CRC64, *results[1].CRC64)
	assert.Equal(t, checksum.CRC64(payload), *results[1].CRC64)
}

func TestUploadDataChunks_BoundedConcurrency(t *testing.T) {
	payload := randomBytes(t, 2*1024*1024, 3)
	svc := newFakeBlockService()
	uploader := NewBlockUploader(svc, BlockUploaderOptions{})

	_, err := UploadDataChunks(context.Background(), bytes.NewReader(payload), uploader, Options{
		ChunkSize:      64 * 1024,
		MaxConcurrency: 3,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, svc.peak, 3)
}

func TestUploadDataChunks_Progress(t *testing.T) {
	payload := randomBytes(t, 1024*1024, 4)
	svc := newFakeBlockService()
	uploader := NewBlockUploader(svc, BlockUploaderOptions{})

	var mu sync.Mutex
	var lastDone, lastTotal int64
	calls := 0
	result, err := UploadDataChunks(context.Background(), bytes.NewReader(payload), uploader, Options{
		ChunkSize:      256 * 1024,
		MaxConcurrency: 2,
		TotalSize:      int64(len(payload)),
		Progress: func(done, total int64) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if done > lastDone {
				lastDone = done
			}
			lastTotal = total
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, int64(len(payload)), lastDone)
	assert.Equal(t, int64(len(payload)), lastTotal)
	assert.Equal(t, int64(len(payload)), result.BytesUploaded)
}

// corruptingUploader flips a byte in one chunk after its checksum has
// been tallied but before the inner uploader computes the per-chunk
// value it sends.
type corruptingUploader struct {
	ChunkUploader
	targetIndex int
}

func (c *corruptingUploader) UploadChunk(ctx context.Context, info *ChunkInfo, data []byte) error {
	if info.Index == c.targetIndex {
		data[0] ^= 0xff
	}
	return c.ChunkUploader.UploadChunk(ctx, info, data)
}

func TestUploadDataChunks_ChecksumMismatch(t *testing.T) {
	payload := randomBytes(t, 1024*1024, 5)
	svc := newFakeBlockService()
	uploader := &corruptingUploader{
		ChunkUploader: NewBlockUploader(svc, BlockUploaderOptions{Checksum: checksum.ModeCRC64}),
		targetIndex:   1,
	}

	result, err := UploadDataChunks(context.Background(), bytes.NewReader(payload), uploader, Options{
		ChunkSize:      256 * 1024,
		MaxConcurrency: 1,
		Checksum:       checksum.ModeCRC64,
	})
	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Nil(t, result)
}

func TestUploadDataChunks_MD5ForcesSequential(t *testing.T) {
	svc := newFakeBlockService()
	uploader := NewBlockUploader(svc, BlockUploaderOptions{Checksum: checksum.ModeMD5})

	_, err := UploadDataChunks(context.Background(), bytes.NewReader([]byte("data")), uploader, Options{
		ChunkSize:      2,
		MaxConcurrency: 4,
		Checksum:       checksum.ModeMD5,
	})
	assert.ErrorIs(t, err, ErrMD5RequiresSequential)

	result, err := UploadDataChunks(context.Background(), bytes.NewReader([]byte("data")), uploader, Options{
		ChunkSize:      2,
		MaxConcurrency: 1,
		Checksum:       checksum.ModeMD5,
	})
	require.NoError(t, err)
	assert.Len(t, result.BlockIDs, 2)
}

func TestUploadDataChunks_TransportErrorPropagates(t *testing.T) {
	svc := newFakeBlockService()
	svc.stageErr = fmt.Errorf("connection reset")
	uploader := NewBlockUploader(svc, BlockUploaderOptions{})

	_, err := UploadDataChunks(context.Background(), bytes.NewReader(make([]byte, 1024)), uploader, Options{
		ChunkSize:      256,
		MaxConcurrency: 2,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, svc.aborted)
}

func TestUploadDataChunks_CleanupOnFailure(t *testing.T) {
	svc := newFakeBlockService()
	svc.stageErr = fmt.Errorf("connection reset")
	uploader := NewBlockUploader(svc, BlockUploaderOptions{})

	_, err := UploadDataChunks(context.Background(), bytes.NewReader(make([]byte, 1024)), uploader, Options{
		ChunkSize:        256,
		MaxConcurrency:   1,
		CleanupOnFailure: true,
	})
	require.Error(t, err)
	assert.True(t, svc.aborted)
}

func TestUploadDataChunks_EncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	kekRaw, err := keywrap.GenerateAESKey()
	require.NoError(t, err)
	kek, err := keywrap.NewAESKeyWrapper(kekRaw, "upload-kek")
	require.NoError(t, err)

	for _, protocol := range []string{encryption.ProtocolV1, encryption.ProtocolV2} {
		payload := randomBytes(t, 5*1024*1024+31, 6)
		svc := newFakeBlockService()
		uploader := NewBlockUploader(svc, BlockUploaderOptions{})

		result, err := UploadDataChunks(ctx, bytes.NewReader(payload), uploader, Options{
			ChunkSize:      1024 * 1024,
			MaxConcurrency: 3,
			Encryption:     &EncryptionOptions{KEK: kek, Protocol: protocol},
		})
		require.NoError(t, err, "protocol=%s", protocol)
		require.NotNil(t, result.EncryptionData)

		// The envelope metadata rides along with the commit.
		raw, ok := svc.metadata[encryption.MetadataKey]
		require.True(t, ok)
		parsed, err := encryption.ParseEncryptionData(raw)
		require.NoError(t, err)

		plaintext, err := encryption.DecryptBlob(ctx, svc.committed, parsed, kek, nil)
		require.NoError(t, err)
		assert.Equal(t, payload, plaintext, "protocol=%s", protocol)
	}
}

func TestUploadDataChunks_EncryptedEmptySource(t *testing.T) {
	ctx := context.Background()
	kekRaw, err := keywrap.GenerateAESKey()
	require.NoError(t, err)
	kek, err := keywrap.NewAESKeyWrapper(kekRaw, "upload-kek")
	require.NoError(t, err)

	svc := newFakeBlockService()
	uploader := NewBlockUploader(svc, BlockUploaderOptions{})

	result, err := UploadDataChunks(ctx, bytes.NewReader(nil), uploader, Options{
		ChunkSize:      1024,
		MaxConcurrency: 1,
		Encryption:     &EncryptionOptions{KEK: kek, Protocol: encryption.ProtocolV1},
	})
	require.NoError(t, err)
	// CBC still emits one padding block for an empty plaintext.
	require.Len(t, result.BlockIDs, 1)

	plaintext, err := encryption.DecryptBlob(ctx, svc.committed, result.EncryptionData, kek, nil)
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestUploadDataChunks_InvalidOptions(t *testing.T) {
	svc := newFakeBlockService()
	uploader := NewBlockUploader(svc, BlockUploaderOptions{})

	_, err := UploadDataChunks(context.Background(), bytes.NewReader(nil), uploader, Options{ChunkSize: 0})
	assert.Error(t, err)

	_, err = UploadDataChunks(context.Background(), bytes.NewReader(nil), uploader, Options{ChunkSize: 4, Checksum: checksum.Mode("sha1")})
	assert.Error(t, err)
}

func TestUploadSubStreamBlocks(t *testing.T) {
	payload := randomBytes(t, 2*1024*1024+99, 7)

	for _, concurrency := range []int{1, 4} {
		svc := newFakeBlockService()
		uploader := NewBlockUploader(svc, BlockUploaderOptions{Checksum: checksum.ModeCRC64})

		result, err := UploadSubStreamBlocks(context.Background(), bytes.NewReader(payload), int64(len(payload)), uploader, Options{
			ChunkSize:      256 * 1024,
			MaxConcurrency: concurrency,
			Checksum:       checksum.ModeCRC64,
		})
		require.NoError(t, err, "concurrency=%d", concurrency)
		assert.Equal(t, payload, svc.committed)
		require.NotNil(t, result.CRC64)
		assert.Equal(t, checksum.CRC64(payload), *result.CRC64)
		assert.Equal(t, int64(len(payload)), result.BytesUploaded)
	}
}

func TestUploadSubStreamBlocks_Rejections(t *testing.T) {
	svc := newFakeBlockService()
	uploader := NewBlockUploader(svc, BlockUploaderOptions{})
	src := bytes.NewReader([]byte("data"))

	_, err := UploadSubStreamBlocks(context.Background(), src, 4, uploader, Options{
		ChunkSize: 2,
		Checksum:  checksum.ModeMD5,
	})
	assert.Error(t, err)

	kekRaw, err := keywrap.GenerateAESKey()
	require.NoError(t, err)
	kek, err := keywrap.NewAESKeyWrapper(kekRaw, "k")
	require.NoError(t, err)
	_, err = UploadSubStreamBlocks(context.Background(), src, 4, uploader, Options{
		ChunkSize:  2,
		Encryption: &EncryptionOptions{KEK: kek, Protocol: encryption.ProtocolV1},
	})
	assert.Error(t, err)
}

func TestUploadSubStreamBlocks_EmptySource(t *testing.T) {
	svc := newFakeBlockService()
	uploader := NewBlockUploader(svc, BlockUploaderOptions{})

	result, err := UploadSubStreamBlocks(context.Background(), bytes.NewReader(nil), 0, uploader, Options{
		ChunkSize:      1024,
		MaxConcurrency: 1,
	})
	require.NoError(t, err)
	assert.Empty(t, result.BlockIDs)
	assert.Empty(t, svc.committed)
}

func TestBlockIDRoundTrip(t *testing.T) {
	for _, index := range []int{0, 1, 42, 9999, 49999} {
		id := BlockID(index)
		got, err := BlockIDIndex(id)
		require.NoError(t, err)
		assert.Equal(t, index, got)
	}

	_, err := BlockIDIndex("not base64!!!")
	assert.Error(t, err)
	_, err = BlockIDIndex("c2hvcnQ=")
	assert.Error(t, err)
}

var _ io.ReadSeeker = (*streams.SubStream)(nil)
