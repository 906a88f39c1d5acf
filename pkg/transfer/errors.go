package transfer

import "errors"

var (
	// ErrChecksumMismatch means the combined per-chunk checksums disagree
	// with the running whole-object checksum. Data already written to the
	// destination may be invalid; the upload is not retried.
	ErrChecksumMismatch = errors.New("checksum mismatch - data written may be invalid")

	// ErrMD5RequiresSequential means MD5 validation was requested with a
	// concurrency above 1. MD5 cannot be combined across out-of-order
	// chunks, so it is only available sequentially.
	ErrMD5RequiresSequential = errors.New("MD5 validation requires sequential execution (max concurrency 1)")
)
