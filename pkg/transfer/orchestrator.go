package transfer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/stratoblob/stratoblob-go/pkg/checksum"
	"github.com/stratoblob/stratoblob-go/pkg/encryption"
	"github.com/stratoblob/stratoblob-go/pkg/streams"
	"github.com/stratoblob/stratoblob-go/pkg/transport"
)

// EncryptionOptions enables client-side envelope encryption for an
// upload. A fresh content key is generated per upload and wrapped with
// the supplied KEK; the resulting metadata is attached to the committed
// object and returned in the result.
type EncryptionOptions struct {
	KEK      encryption.KeyWrapper
	Protocol string
}

// Options configures one orchestrated upload.
type Options struct {
	// ChunkSize is the target chunk length in bytes. Required.
	ChunkSize int
	// MaxConcurrency bounds the in-flight chunk count. Values below 1
	// mean strictly sequential execution.
	MaxConcurrency int
	// Checksum selects per-chunk and whole-object integrity validation.
	Checksum checksum.Mode
	// Encryption, when set, encrypts chunk data before upload.
	Encryption *EncryptionOptions
	// Progress is invoked after each chunk completes.
	Progress ProgressFunc
	// TotalSize is the source length when known, used only for progress
	// reporting on forward-only sources.
	TotalSize int64
	// CleanupOnFailure aborts the staged upload when the orchestrator
	// fails partway, if the uploader's service supports it. Chunks
	// already committed remain committed either way.
	CleanupOnFailure bool
}

func (o *Options) validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.ChunkSize)
	}
	if o.Checksum == "" {
		o.Checksum = checksum.ModeNone
	}
	if err := o.Checksum.Validate(); err != nil {
		return err
	}
	if o.Checksum == checksum.ModeMD5 && o.MaxConcurrency > 1 {
		return ErrMD5RequiresSequential
	}
	return nil
}

// metadataSetter is implemented by uploaders whose commit call can carry
// object metadata.
type metadataSetter interface {
	setMetadata(key, value string)
}

func (u *blockUploader) setMetadata(key, value string) {
	if u.opts.Metadata == nil {
		u.opts.Metadata = make(map[string]string)
	}
	u.opts.Metadata[key] = value
}

func (u *appendUploader) setMetadata(key, value string) {
	if u.opts.Metadata == nil {
		u.opts.Metadata = make(map[string]string)
	}
	u.opts.Metadata[key] = value
}

// UploadDataChunks uploads a forward-only stream as a sequence of
// chunks. Chunk production, encryption, and the running checksum are
// strictly sequential; the per-chunk network calls fan out up to
// MaxConcurrency. The returned block IDs are sorted by chunk offset
// regardless of completion order.
func UploadDataChunks(ctx context.Context, src io.Reader, uploader ChunkUploader, opts Options) (*UploadResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"component":   "transfer_orchestrator",
		"chunkSize":   opts.ChunkSize,
		"concurrency": opts.MaxConcurrency,
	})

	uploader.SetParallel(opts.MaxConcurrency > 1)

	var (
		encryptor      encryption.ChunkEncryptor
		encryptionData *encryption.EncryptionData
	)
	if opts.Encryption != nil {
		var err error
		encryptor, encryptionData, err = encryption.NewChunkEncryptor(ctx, opts.Encryption.KEK, opts.Encryption.Protocol)
		if err != nil {
			return nil, err
		}
		raw, err := encryptionData.Marshal()
		if err != nil {
			return nil, err
		}
		if ms, ok := uploader.(metadataSetter); ok {
			ms.setMetadata(encryption.MetadataKey, raw)
		}
	}

	reader, err := streams.NewChunkReader(src, opts.ChunkSize)
	if err != nil {
		return nil, err
	}

	var (
		acc       checksum.Accumulator
		infos     []*ChunkInfo
		outOffset int64
		bytesRead int64
		index     int
	)

	// One chunk of lookahead distinguishes the final chunk, which is the
	// only one the encryptor may pad.
	pending, pendingErr := reader.Next()
	havePending := pendingErr == nil
	if pendingErr != nil && pendingErr != io.EOF {
		return nil, pendingErr
	}
	finalized := false

	// pendingPlain counts source bytes consumed since the last emitted
	// chunk; region-buffering encryptors can swallow whole chunks.
	var pendingPlain int64

	next := func() (workItem, error) {
		for {
			var out []byte
			switch {
			case havePending:
				cur := pending
				nxt, readErr := reader.Next()
				if readErr != nil && readErr != io.EOF {
					return workItem{}, readErr
				}
				final := readErr == io.EOF
				havePending = !final
				pending = nxt

				bytesRead += int64(len(cur.Data))
				pendingPlain += int64(len(cur.Data))

				var err error
				if encryptor == nil {
					out = cur.Data
				} else if final {
					out, err = encryptor.Finalize(cur.Data)
					finalized = true
				} else {
					out, err = encryptor.EncryptChunk(cur.Data)
				}
				if err != nil {
					return workItem{}, err
				}
			case encryptor != nil && !finalized:
				// Empty source still produces the encryptor's closing
				// output (CBC emits a full padding block).
				var err error
				out, err = encryptor.Finalize(nil)
				if err != nil {
					return workItem{}, err
				}
				finalized = true
			default:
				return workItem{}, io.EOF
			}

			if len(out) == 0 {
				if !havePending && (encryptor == nil || finalized) {
					return workItem{}, io.EOF
				}
				continue
			}

			if _, err := acc.Write(out); err != nil {
				return workItem{}, err
			}

			// Only the producer goroutine appends; workers touch their
			// own ChunkInfo exclusively.
			info := &ChunkInfo{Index: index, Offset: outOffset, Length: int64(len(out))}
			index++
			outOffset += info.Length
			infos = append(infos, info)

			data := out
			plain := pendingPlain
			pendingPlain = 0
			return workItem{
				length: plain,
				run: func(ctx context.Context) error {
					return uploader.UploadChunk(ctx, info, data)
				},
			}, nil
		}
	}

	engine := newExecutionEngine(opts.MaxConcurrency, opts.TotalSize, opts.Progress)
	if err := engine.run(ctx, next); err != nil {
		return nil, abortOnFailure(ctx, uploader, opts, logger, err)
	}

	sortInfos(infos)

	result := &UploadResult{BytesUploaded: bytesRead}

	if opts.Checksum == checksum.ModeCRC64 {
		combined, err := combineChunkCRCs(infos)
		if err != nil {
			return nil, err
		}
		if combined != acc.Sum64() {
			logger.WithFields(logrus.Fields{
				"expected": fmt.Sprintf("%016x", acc.Sum64()),
				"combined": fmt.Sprintf("%016x", combined),
			}).Error("Whole-object checksum validation failed")
			return nil, abortOnFailure(ctx, uploader, opts, logger, ErrChecksumMismatch)
		}
		result.CRC64 = &combined
	}

	headers, err := uploader.Commit(ctx, infos)
	if err != nil {
		return nil, abortOnFailure(ctx, uploader, opts, logger, err)
	}

	finishResult(result, infos, headers)
	result.EncryptionData = encryptionData

	logger.WithFields(logrus.Fields{
		"chunks": len(infos),
		"bytes":  bytesRead,
	}).Info("Upload complete")
	return result, nil
}

// UploadSubStreamBlocks uploads a seekable source of known length by
// carving it into windowed sub-streams that parallel workers read
// directly, without buffering whole chunks in memory. The source is
// repositioned under a shared lock when MaxConcurrency exceeds 1.
func UploadSubStreamBlocks(ctx context.Context, src io.ReadSeeker, totalSize int64, uploader ChunkUploader, opts Options) (*UploadResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Checksum == checksum.ModeMD5 {
		return nil, fmt.Errorf("MD5 validation is not supported for sub-stream uploads")
	}
	if opts.Encryption != nil {
		return nil, fmt.Errorf("encryption is not supported for sub-stream uploads, use UploadDataChunks")
	}
	if totalSize < 0 {
		return nil, fmt.Errorf("total size must be non-negative, got %d", totalSize)
	}

	logger := logrus.WithFields(logrus.Fields{
		"component":   "transfer_orchestrator",
		"chunkSize":   opts.ChunkSize,
		"concurrency": opts.MaxConcurrency,
		"totalSize":   totalSize,
	})

	parallel := opts.MaxConcurrency > 1
	uploader.SetParallel(parallel)

	var lock *sync.Mutex
	if parallel {
		lock = &sync.Mutex{}
	}

	var (
		infos  []*ChunkInfo
		offset int64
		index  int
	)

	next := func() (workItem, error) {
		if offset >= totalSize {
			return workItem{}, io.EOF
		}
		length := int64(opts.ChunkSize)
		if remaining := totalSize - offset; remaining < length {
			length = remaining
		}

		sub, err := streams.NewSubStream(src, offset, length, lock)
		if err != nil {
			return workItem{}, err
		}

		info := &ChunkInfo{Index: index, Offset: offset, Length: length}
		index++
		offset += length
		infos = append(infos, info)

		return workItem{
			length: length,
			run: func(ctx context.Context) error {
				defer sub.Close()
				return uploader.UploadSubStream(ctx, info, sub)
			},
		}, nil
	}

	engine := newExecutionEngine(opts.MaxConcurrency, totalSize, opts.Progress)
	if err := engine.run(ctx, next); err != nil {
		return nil, abortOnFailure(ctx, uploader, opts, logger, err)
	}

	sortInfos(infos)

	result := &UploadResult{BytesUploaded: totalSize}
	if opts.Checksum == checksum.ModeCRC64 {
		combined, err := combineChunkCRCs(infos)
		if err != nil {
			return nil, err
		}
		result.CRC64 = &combined
	}

	headers, err := uploader.Commit(ctx, infos)
	if err != nil {
		return nil, abortOnFailure(ctx, uploader, opts, logger, err)
	}

	finishResult(result, infos, headers)

	logger.WithField("chunks", len(infos)).Info("Sub-stream upload complete")
	return result, nil
}

func sortInfos(infos []*ChunkInfo) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Offset < infos[j].Offset
	})
}

// combineChunkCRCs folds the offset-sorted per-chunk checksums into the
// whole-object CRC64.
func combineChunkCRCs(infos []*ChunkInfo) (uint64, error) {
	chunks := make([]checksum.ChunkCRC, 0, len(infos))
	for _, info := range infos {
		if info.CRC64 == nil {
			return 0, fmt.Errorf("chunk at offset %d has no checksum", info.Offset)
		}
		chunks = append(chunks, checksum.ChunkCRC{Offset: info.Offset, Length: info.Length, CRC: *info.CRC64})
	}
	return checksum.CombineChunks(chunks), nil
}

// finishResult fills the aggregate fields from the sorted chunk list and
// the commit response. Offset-addressed destinations without a commit
// response fall back to the last chunk that produced headers.
func finishResult(result *UploadResult, infos []*ChunkInfo, commitHeaders transport.ResponseHeaders) {
	for _, info := range infos {
		if info.BlockID != "" {
			result.BlockIDs = append(result.BlockIDs, info.BlockID)
		}
	}
	result.ResponseHeaders = commitHeaders
	if result.ResponseHeaders == nil {
		for i := len(infos) - 1; i >= 0; i-- {
			if infos[i].ResponseHeaders != nil {
				result.ResponseHeaders = infos[i].ResponseHeaders
				break
			}
		}
	}
}

// abortOnFailure optionally discards staged state after a failed upload.
// Already-committed data is never rolled back.
func abortOnFailure(ctx context.Context, uploader ChunkUploader, opts Options, logger *logrus.Entry, cause error) error {
	if !opts.CleanupOnFailure {
		return cause
	}
	aborter, ok := uploader.(transport.Aborter)
	if !ok {
		return cause
	}
	if err := aborter.Abort(ctx); err != nil {
		logger.WithError(err).Warn("Failed to abort staged upload after failure")
	} else {
		logger.Info("Aborted staged upload after failure")
	}
	return cause
}
