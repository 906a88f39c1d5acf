// Package streams provides the stream plumbing for chunked transfers:
// a single-pass chunk reader over arbitrary sources and a bounded,
// seekable window view (SubStream) over a shared stream.
package streams

import (
	"fmt"
	"io"
)

// Chunk is one contiguous slice of the logical payload, produced by a
// ChunkReader. Offset is the position of the first byte relative to the
// start of the sequence.
type Chunk struct {
	Offset int64
	Data   []byte
}

// ChunkReader produces a lazy, finite, single-pass sequence of chunks from
// an io.Reader. The sequence covers the source from its current position to
// end-of-stream. It is not restartable: the state is the underlying reader's
// position.
type ChunkReader struct {
	src       io.Reader
	chunkSize int
	offset    int64
	done      bool
}

// NewChunkReader creates a reader that yields chunks of up to chunkSize
// bytes from src.
func NewChunkReader(src io.Reader, chunkSize int) (*ChunkReader, error) {
	if src == nil {
		return nil, fmt.Errorf("source reader must not be nil")
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	return &ChunkReader{src: src, chunkSize: chunkSize}, nil
}

// Next returns the next chunk of the sequence. The final chunk may be
// shorter than the chunk size; a zero-length chunk at true end-of-stream is
// never yielded. After the sequence is exhausted Next returns io.EOF.
//
// The returned buffer is owned by the caller; Next allocates a fresh buffer
// per chunk so that in-flight parallel uploads never share memory.
func (cr *ChunkReader) Next() (Chunk, error) {
	if cr.done {
		return Chunk{}, io.EOF
	}

	buf := make([]byte, cr.chunkSize)
	filled := 0

	// Underlying reads may return fewer bytes than requested, so keep
	// reading until the chunk is full or the stream ends.
	for filled < cr.chunkSize {
		n, err := cr.src.Read(buf[filled:])
		filled += n
		if err == io.EOF {
			cr.done = true
			break
		}
		if err != nil {
			return Chunk{}, fmt.Errorf("failed to read chunk at offset %d: %w", cr.offset, err)
		}
	}

	if filled == 0 {
		cr.done = true
		return Chunk{}, io.EOF
	}

	chunk := Chunk{Offset: cr.offset, Data: buf[:filled]}
	cr.offset += int64(filled)
	return chunk, nil
}

// Offset returns the stream position of the next chunk to be produced.
func (cr *ChunkReader) Offset() int64 {
	return cr.offset
}
