// Package transfer implements the chunked upload engine: it splits a
// source into bounded chunks, optionally encrypts them, tallies
// checksums, fans the chunks out to a destination-specific uploader with
// bounded parallelism, and commits the final object.
package transfer

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/stratoblob/stratoblob-go/pkg/encryption"
	"github.com/stratoblob/stratoblob-go/pkg/transport"
)

// ChunkInfo describes one chunk through its lifecycle. It is created at
// read time, filled in once by the uploader with the block ID or response
// headers, and never mutated after its upload completes.
type ChunkInfo struct {
	// Index is the chunk's position in production order, starting at 0.
	Index int
	// Offset is the chunk's byte offset in the uploaded stream.
	Offset int64
	// Length is the chunk's byte length. Always positive.
	Length int64
	// MD5 is the chunk digest when MD5 validation is enabled.
	MD5 []byte
	// CRC64 is the chunk checksum when CRC64 validation is enabled.
	CRC64 *uint64
	// BlockID is set by block-addressed uploaders.
	BlockID string
	// ResponseHeaders is set by offset-addressed uploaders. A skipped
	// all-zero page chunk has neither a BlockID nor headers.
	ResponseHeaders transport.ResponseHeaders
}

// UploadResult is the aggregated outcome of one orchestrated upload.
type UploadResult struct {
	// BlockIDs lists the committed block IDs sorted by chunk offset.
	// Empty for offset-addressed destinations.
	BlockIDs []string
	// ResponseHeaders is the commit (or final flush) response.
	ResponseHeaders transport.ResponseHeaders
	// CRC64 is the whole-object checksum when CRC64 validation ran.
	CRC64 *uint64
	// EncryptionData is the envelope metadata when encryption was
	// enabled. It is also attached to the committed object.
	EncryptionData *encryption.EncryptionData
	// BytesUploaded is the total plaintext byte count consumed from the
	// source.
	BytesUploaded int64
}

// ProgressFunc is invoked after each chunk completes with the cumulative
// bytes finished and the total bytes when known (0 otherwise).
type ProgressFunc func(bytesDone, totalBytes int64)

const blockIDNumberWidth = 20

// BlockID derives the deterministic block identifier for a chunk index.
// The index is zero-padded to a fixed width and base64-encoded, so IDs
// are uniform-length and sort in chunk order.
func BlockID(index int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%0*d", blockIDNumberWidth, index)))
}

// BlockIDIndex recovers the chunk index from a BlockID. Destinations
// that address parts by number rather than by name use this to map IDs
// back to positions.
func BlockIDIndex(blockID string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(blockID)
	if err != nil {
		return 0, fmt.Errorf("malformed block ID %q: %w", blockID, err)
	}
	if len(raw) != blockIDNumberWidth {
		return 0, fmt.Errorf("malformed block ID %q: decoded length %d", blockID, len(raw))
	}
	index, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("malformed block ID %q: %w", blockID, err)
	}
	return index, nil
}

// IsChunkEmpty reports whether a chunk consists entirely of zero bytes.
// Sparse page destinations skip such chunks without a network call.
func IsChunkEmpty(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
