package transfer

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// workItem is one schedulable unit: an upload closure plus the number of
// source bytes it accounts for in progress reporting.
type workItem struct {
	run    func(ctx context.Context) error
	length int64
}

// executionEngine runs a lazy, finite sequence of work items with a
// bounded worker count. Items are pulled one at a time from the producer,
// so at most maxConcurrency chunks are buffered in flight regardless of
// total object size.
type executionEngine struct {
	maxConcurrency int
	totalBytes     int64
	progress       ProgressFunc

	mu        sync.Mutex
	bytesDone int64
}

func newExecutionEngine(maxConcurrency int, totalBytes int64, progress ProgressFunc) *executionEngine {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &executionEngine{
		maxConcurrency: maxConcurrency,
		totalBytes:     totalBytes,
		progress:       progress,
	}
}

func (e *executionEngine) parallel() bool {
	return e.maxConcurrency > 1
}

// run drains the producer. next returns io.EOF when the sequence is
// exhausted; any other producer error aborts the run after in-flight
// items drain.
func (e *executionEngine) run(ctx context.Context, next func() (workItem, error)) error {
	if !e.parallel() {
		return e.runSequential(ctx, next)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)

	var produceErr error
	for {
		item, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			produceErr = err
			break
		}

		// Go blocks while maxConcurrency items are in flight, which is
		// what keeps the window bounded.
		g.Go(func() error {
			if err := item.run(gctx); err != nil {
				return err
			}
			e.complete(item.length)
			return nil
		})

		if gctx.Err() != nil {
			break
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return produceErr
}

func (e *executionEngine) runSequential(ctx context.Context, next func() (workItem, error)) error {
	for {
		item, err := next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.run(ctx); err != nil {
			return err
		}
		e.complete(item.length)
	}
}

// complete advances the progress counter. The lock is only taken in
// parallel mode; the sequential path has a single goroutine.
func (e *executionEngine) complete(length int64) {
	var done int64
	if e.parallel() {
		e.mu.Lock()
		e.bytesDone += length
		done = e.bytesDone
		e.mu.Unlock()
	} else {
		e.bytesDone += length
		done = e.bytesDone
	}
	if e.progress != nil {
		e.progress(done, e.totalBytes)
	}
}
