package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/stratoblob/stratoblob-go/pkg/checksum"
	"github.com/stratoblob/stratoblob-go/pkg/streams"
	"github.com/stratoblob/stratoblob-go/pkg/transport"
)

// ChunkUploader turns one chunk into one network operation against a
// specific destination kind. UploadChunk and UploadSubStream fill in the
// ChunkInfo's BlockID or ResponseHeaders; Commit finalizes the object
// from the offset-sorted chunk list. A transport failure propagates
// unchanged, retries belong to the layer beneath.
type ChunkUploader interface {
	UploadChunk(ctx context.Context, info *ChunkInfo, data []byte) error
	UploadSubStream(ctx context.Context, info *ChunkInfo, sub *streams.SubStream) error
	Commit(ctx context.Context, infos []*ChunkInfo) (transport.ResponseHeaders, error)

	// SetParallel tells the uploader whether chunks will arrive
	// concurrently and possibly out of order.
	SetParallel(parallel bool)
}

// chunkOptions builds the transactional checksum options for one chunk,
// computing the per-chunk checksum on the exact bytes about to be sent.
func chunkOptions(mode checksum.Mode, info *ChunkInfo, data []byte, ifMatch string) transport.ChunkOptions {
	opts := transport.ChunkOptions{IfMatch: ifMatch, StreamCurrent: info.Offset}
	switch mode {
	case checksum.ModeMD5:
		sum := checksum.ChunkMD5(data)
		info.MD5 = sum
		opts.ContentMD5 = sum
	case checksum.ModeCRC64:
		crc := checksum.CRC64(data)
		info.CRC64 = &crc
		opts.ContentCRC64 = &crc
	}
	return opts
}

// BlockUploaderOptions configures a block-addressed upload.
type BlockUploaderOptions struct {
	Checksum    checksum.Mode
	Metadata    map[string]string
	IfMatch     string
	ContentType string
}

type blockUploader struct {
	svc    transport.BlockService
	opts   BlockUploaderOptions
	logger *logrus.Entry
}

// NewBlockUploader creates the uploader for block-addressed destinations.
// Every chunk is staged as an independent block named after its index, so
// this strategy is safe under full parallelism.
func NewBlockUploader(svc transport.BlockService, opts BlockUploaderOptions) ChunkUploader {
	return &blockUploader{
		svc:    svc,
		opts:   opts,
		logger: logrus.WithField("component", "block_uploader"),
	}
}

func (u *blockUploader) UploadChunk(ctx context.Context, info *ChunkInfo, data []byte) error {
	info.BlockID = BlockID(info.Index)
	chunkOpts := chunkOptions(u.opts.Checksum, info, data, "")

	headers, err := u.svc.StageBlock(ctx, info.BlockID, bytes.NewReader(data), info.Length, chunkOpts)
	if err != nil {
		return err
	}
	info.ResponseHeaders = headers

	u.logger.WithFields(logrus.Fields{
		"blockID": info.BlockID,
		"offset":  info.Offset,
		"length":  info.Length,
	}).Debug("Staged block")
	return nil
}

func (u *blockUploader) UploadSubStream(ctx context.Context, info *ChunkInfo, sub *streams.SubStream) error {
	info.BlockID = BlockID(info.Index)

	var body io.Reader = sub
	var acc *checksum.Accumulator
	if u.opts.Checksum == checksum.ModeCRC64 {
		acc = &checksum.Accumulator{}
		body = io.TeeReader(sub, acc)
	}

	headers, err := u.svc.StageBlock(ctx, info.BlockID, body, sub.Len(), transport.ChunkOptions{StreamCurrent: info.Offset})
	if err != nil {
		return err
	}
	info.ResponseHeaders = headers
	if acc != nil {
		crc := acc.Sum64()
		info.CRC64 = &crc
	}
	return nil
}

func (u *blockUploader) Commit(ctx context.Context, infos []*ChunkInfo) (transport.ResponseHeaders, error) {
	blockIDs := make([]string, 0, len(infos))
	for _, info := range infos {
		blockIDs = append(blockIDs, info.BlockID)
	}

	headers, err := u.svc.CommitBlockList(ctx, blockIDs, transport.CommitOptions{
		Metadata:    u.opts.Metadata,
		IfMatch:     u.opts.IfMatch,
		ContentType: u.opts.ContentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit block list: %w", err)
	}

	u.logger.WithField("blocks", len(blockIDs)).Info("Committed block list")
	return headers, nil
}

func (u *blockUploader) SetParallel(bool) {}

// Abort forwards to the service when it can discard staged blocks.
func (u *blockUploader) Abort(ctx context.Context) error {
	if a, ok := u.svc.(transport.Aborter); ok {
		return a.Abort(ctx)
	}
	return nil
}

// AppendUploaderOptions configures an offset-addressed append upload.
type AppendUploaderOptions struct {
	Checksum    checksum.Mode
	Metadata    map[string]string
	IfMatch     string
	ContentType string
}

type appendUploader struct {
	svc      transport.AppendService
	opts     AppendUploaderOptions
	parallel bool
	logger   *logrus.Entry
}

// NewAppendUploader creates the uploader for offset-addressed append
// destinations. Appends are position-dependent, so conditional-match
// headers are stripped from per-chunk requests when running in parallel;
// an optimistic etag check cannot hold across out-of-order appends.
func NewAppendUploader(svc transport.AppendService, opts AppendUploaderOptions) ChunkUploader {
	return &appendUploader{
		svc:    svc,
		opts:   opts,
		logger: logrus.WithField("component", "append_uploader"),
	}
}

func (u *appendUploader) UploadChunk(ctx context.Context, info *ChunkInfo, data []byte) error {
	ifMatch := u.opts.IfMatch
	if u.parallel {
		ifMatch = ""
	}
	chunkOpts := chunkOptions(u.opts.Checksum, info, data, ifMatch)

	headers, err := u.svc.AppendData(ctx, info.Offset, bytes.NewReader(data), info.Length, chunkOpts)
	if err != nil {
		return err
	}
	info.ResponseHeaders = headers
	return nil
}

func (u *appendUploader) UploadSubStream(ctx context.Context, info *ChunkInfo, sub *streams.SubStream) error {
	ifMatch := u.opts.IfMatch
	if u.parallel {
		ifMatch = ""
	}

	var body io.Reader = sub
	var acc *checksum.Accumulator
	if u.opts.Checksum == checksum.ModeCRC64 {
		acc = &checksum.Accumulator{}
		body = io.TeeReader(sub, acc)
	}

	headers, err := u.svc.AppendData(ctx, info.Offset, body, sub.Len(), transport.ChunkOptions{IfMatch: ifMatch, StreamCurrent: info.Offset})
	if err != nil {
		return err
	}
	info.ResponseHeaders = headers
	if acc != nil {
		crc := acc.Sum64()
		info.CRC64 = &crc
	}
	return nil
}

func (u *appendUploader) Commit(ctx context.Context, infos []*ChunkInfo) (transport.ResponseHeaders, error) {
	var finalOffset int64
	if len(infos) > 0 {
		last := infos[len(infos)-1]
		finalOffset = last.Offset + last.Length
	}

	headers, err := u.svc.Flush(ctx, finalOffset, transport.CommitOptions{
		Metadata:    u.opts.Metadata,
		IfMatch:     u.opts.IfMatch,
		ContentType: u.opts.ContentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to flush at offset %d: %w", finalOffset, err)
	}
	return headers, nil
}

func (u *appendUploader) SetParallel(parallel bool) {
	if parallel && u.opts.IfMatch != "" {
		u.logger.Warn("Disabling if-match condition for parallel append upload")
	}
	u.parallel = parallel
}

// PageUploaderOptions configures a sparse page-addressed upload.
type PageUploaderOptions struct {
	Checksum checksum.Mode
	IfMatch  string
}

type pageUploader struct {
	svc    transport.PageService
	opts   PageUploaderOptions
	logger *logrus.Entry
}

// NewPageUploader creates the uploader for sparse page destinations.
// All-zero chunks are skipped without a network call.
func NewPageUploader(svc transport.PageService, opts PageUploaderOptions) ChunkUploader {
	return &pageUploader{
		svc:    svc,
		opts:   opts,
		logger: logrus.WithField("component", "page_uploader"),
	}
}

func (u *pageUploader) UploadChunk(ctx context.Context, info *ChunkInfo, data []byte) error {
	// Checksums are recorded even for skipped chunks; the whole-object
	// combine still covers the zero bytes.
	chunkOpts := chunkOptions(u.opts.Checksum, info, data, u.opts.IfMatch)
	if IsChunkEmpty(data) {
		u.logger.WithFields(logrus.Fields{
			"offset": info.Offset,
			"length": info.Length,
		}).Debug("Skipping all-zero page chunk")
		return nil
	}

	headers, err := u.svc.UploadPages(ctx, info.Offset, bytes.NewReader(data), info.Length, chunkOpts)
	if err != nil {
		return err
	}
	info.ResponseHeaders = headers
	return nil
}

func (u *pageUploader) UploadSubStream(ctx context.Context, info *ChunkInfo, sub *streams.SubStream) error {
	// Page ranges need the zero check, so the window is buffered before
	// the skip decision.
	data := make([]byte, sub.Len())
	if _, err := io.ReadFull(sub, data); err != nil {
		return fmt.Errorf("failed to read page range at offset %d: %w", info.Offset, err)
	}
	return u.UploadChunk(ctx, info, data)
}

func (u *pageUploader) Commit(context.Context, []*ChunkInfo) (transport.ResponseHeaders, error) {
	// Pages are written in place, there is nothing to finalize.
	return nil, nil
}

func (u *pageUploader) SetParallel(bool) {}
