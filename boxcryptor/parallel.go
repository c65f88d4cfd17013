package boxcryptor

import "context"

// DefaultWorkers is the worker pool size a Cryptor built with workers <= 0
// falls back to — enough to overlap a handful of concurrent node writes
// without letting an unbounded number of goroutines pile up under load.
const DefaultWorkers = 4

// workerPool bounds concurrent Schedule calls to a fixed number of
// in-flight jobs via a buffered semaphore channel. Grounded on this
// package's former fixed-size chunk worker pool (jobChan/errChan over a
// known slice of chunks with per-worker panic recovery), generalized from
// "encrypt N known chunks" to "run whatever job Schedule is next given."
type workerPool struct {
	slots chan struct{}
}

func newWorkerPool(workers int) *workerPool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &workerPool{slots: make(chan struct{}, workers)}
}

// run blocks until a slot is free, then runs fn synchronously from the
// calling goroutine so panics and errors propagate directly to the caller,
// the same contract Cryptor.Schedule documents.
func (p *workerPool) run(ctx context.Context, fn func(context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
