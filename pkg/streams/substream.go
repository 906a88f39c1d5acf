package streams

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxBufferSize caps the SubStream read-ahead buffer. The cap bounds
// per-worker memory regardless of window size, which is what keeps a
// parallel upload of a huge file from buffering whole chunks per worker.
const MaxBufferSize = 4 * 1024 * 1024

// ErrNonSeekableSource is returned when a SubStream is constructed over
// a stream that does not support seeking.
var ErrNonSeekableSource = errors.New("wrapped stream must be seekable")

// SubStream exposes a bounded, seekable window [begin, begin+length) over a
// shared underlying stream. Multiple SubStreams can address disjoint regions
// of one source concurrently; every reposition of the shared stream happens
// under the shared lock when one is provided.
//
// A SubStream is owned by exactly one worker while its chunk upload is
// active. The internal read-ahead buffer is private and needs no locking.
type SubStream struct {
	src    io.ReadSeeker
	begin  int64
	length int64
	pos    int64

	buf      []byte // read-ahead buffer, contiguous sub-range of the window
	bufStart int64  // window-relative offset of buf[0]
	maxBuf   int64

	lock *sync.Mutex // shared stream lock, nil in sequential mode
}

// NewSubStream creates a window of the given length starting at absolute
// position begin of src. The lock must be the mutex shared by all
// SubStreams over the same source when they are used concurrently; pass nil
// for sequential use.
//
// Seekability of src is probed with a no-op seek; a non-seekable source is
// a precondition violation.
func NewSubStream(src io.ReadSeeker, begin, length int64, lock *sync.Mutex) (*SubStream, error) {
	if src == nil {
		return nil, fmt.Errorf("wrapped stream must not be nil")
	}
	if begin < 0 {
		return nil, fmt.Errorf("stream begin index must be non-negative, got %d", begin)
	}
	if length <= 0 {
		return nil, fmt.Errorf("substream length must be positive, got %d", length)
	}
	if _, err := src.Seek(0, io.SeekCurrent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonSeekableSource, err)
	}

	maxBuf := int64(MaxBufferSize)
	if length < maxBuf {
		maxBuf = length
	}

	return &SubStream{
		src:    src,
		begin:  begin,
		length: length,
		maxBuf: maxBuf,
	}, nil
}

// Len returns the window length.
func (ss *SubStream) Len() int64 {
	return ss.length
}

// Tell returns the current window-relative position.
func (ss *SubStream) Tell() int64 {
	return ss.pos
}

// Read fills p with bytes from the window, never beyond it. Reads are
// served from the read-ahead buffer; the shared stream is only touched
// (seek + read, atomically under the lock) when the buffer is exhausted.
func (ss *SubStream) Read(p []byte) (int, error) {
	if ss.pos >= ss.length {
		return 0, io.EOF
	}

	remaining := ss.length - ss.pos
	want := int64(len(p))
	if want > remaining {
		want = remaining
	}

	// Serve from the buffered window first.
	if ss.pos >= ss.bufStart && ss.pos < ss.bufStart+int64(len(ss.buf)) {
		start := ss.pos - ss.bufStart
		n := copy(p[:want], ss.buf[start:])
		ss.pos += int64(n)
		return n, nil
	}

	if err := ss.fill(); err != nil {
		return 0, err
	}

	start := ss.pos - ss.bufStart
	n := copy(p[:want], ss.buf[start:])
	ss.pos += int64(n)
	return n, nil
}

// fill refills the read-ahead buffer starting at the current position.
// The seek and read against the shared stream are one atomic unit: two
// workers racing to seek+read the same stream is exactly the interleaving
// the lock prevents.
func (ss *SubStream) fill() error {
	size := ss.maxBuf
	if rem := ss.length - ss.pos; rem < size {
		size = rem
	}
	buf := make([]byte, size)

	if ss.lock != nil {
		ss.lock.Lock()
		defer ss.lock.Unlock()
	}

	if _, err := ss.src.Seek(ss.begin+ss.pos, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek wrapped stream to %d: %w", ss.begin+ss.pos, err)
	}
	n, err := io.ReadFull(ss.src, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("failed to read %d bytes at %d: %w", size, ss.begin+ss.pos, err)
	}
	if n == 0 {
		return io.ErrUnexpectedEOF
	}

	ss.buf = buf[:n]
	ss.bufStart = ss.pos
	return nil
}

// Seek repositions the window-relative position, clamped to [0, length].
// If the target falls inside the currently buffered range the buffer is
// kept and the wrapped stream is not touched; otherwise the buffer is
// dropped.
func (ss *SubStream) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = ss.pos + offset
	case io.SeekEnd:
		pos = ss.length + offset
	default:
		return 0, fmt.Errorf("invalid seek whence %d", whence)
	}

	if pos < 0 {
		pos = 0
	}
	if pos > ss.length {
		pos = ss.length
	}

	if pos < ss.bufStart || pos >= ss.bufStart+int64(len(ss.buf)) {
		ss.buf = nil
		ss.bufStart = pos
	}

	ss.pos = pos
	return pos, nil
}

// Close drops the read-ahead buffer. The wrapped stream is shared and is
// not closed.
func (ss *SubStream) Close() error {
	ss.buf = nil
	return nil
}
