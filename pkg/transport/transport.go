// Package transport defines the narrow service interfaces the transfer
// engine calls to move chunk bytes. Implementations own the wire protocol,
// authentication, and retry policy; the engine only hands them a reader,
// a length, and per-chunk options and reads back response headers.
package transport

import (
	"context"
	"io"
)

// ResponseHeaders carries the per-call response metadata (etag, request
// id, server-assigned offsets) back to the transfer engine.
type ResponseHeaders map[string]string

// ChunkOptions holds the optional per-chunk parameters a destination may
// honor. Checksums here are transactional: they protect the single
// request body, not the whole object.
type ChunkOptions struct {
	// ContentMD5 is the MD5 digest of the request body, when the caller
	// computed one.
	ContentMD5 []byte
	// ContentCRC64 is the CRC64 of the request body, when the caller
	// computed one.
	ContentCRC64 *uint64
	// IfMatch makes the request conditional on the destination's current
	// etag. Order-dependent destinations ignore it under parallelism.
	IfMatch string
	// StreamTotal and StreamCurrent describe overall transfer position
	// for destinations that track it server-side.
	StreamTotal   int64
	StreamCurrent int64
}

// CommitOptions holds the parameters of the finalizing call.
type CommitOptions struct {
	// Metadata is attached to the committed object.
	Metadata map[string]string
	// IfMatch makes the commit conditional on the destination's etag.
	IfMatch string
	// ContentType of the committed object, when the destination records
	// one.
	ContentType string
}

// BlockService is the collaborator for block-addressed destinations.
// Blocks are staged independently under caller-chosen IDs and assembled
// by a single commit call listing the IDs in final object order.
type BlockService interface {
	StageBlock(ctx context.Context, blockID string, body io.Reader, length int64, opts ChunkOptions) (ResponseHeaders, error)
	CommitBlockList(ctx context.Context, blockIDs []string, opts CommitOptions) (ResponseHeaders, error)
}

// AppendService is the collaborator for offset-addressed append
// destinations. Each chunk lands at an explicit offset; Flush finalizes
// the object at its total length.
type AppendService interface {
	AppendData(ctx context.Context, offset int64, body io.Reader, length int64, opts ChunkOptions) (ResponseHeaders, error)
	Flush(ctx context.Context, finalOffset int64, opts CommitOptions) (ResponseHeaders, error)
}

// PageService is the collaborator for sparse page-addressed destinations.
// Offsets and lengths must be page-aligned; all-zero ranges are simply
// never written.
type PageService interface {
	UploadPages(ctx context.Context, offset int64, body io.Reader, length int64, opts ChunkOptions) (ResponseHeaders, error)
}

// Aborter is implemented by services that can discard a partially staged
// upload. The engine calls it only when partial-failure cleanup was
// explicitly requested.
type Aborter interface {
	Abort(ctx context.Context) error
}
