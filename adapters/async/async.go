// Package async implements the async write wrapper from spec §4.4.4
// and design note "Async write pipeline": a single-worker FIFO queue
// that serializes writes onto one goroutine so an underlying encoder
// or muxer that isn't safe (or fast) to call from arbitrary goroutines
// still sees calls in submission order.
//
// The pack's own container writers (format/mp4.Muxer, avi.Muxer) are
// synchronous and already serialize internally via a mutex; nothing in
// the retrieval pack implements a task queue like this one, since none
// of them wrap a thread-affine external encoder. This is the direct,
// idiomatic-Go translation of the design note's "queue plus dedicated
// worker" restatement: a buffered channel of closures plus one
// goroutine draining it, which is how Go expresses a single-consumer
// work queue without reaching for a third-party job-queue library.
package async

import "sync"

type job struct {
	fn   func() error
	done chan error
}

// Writer serializes calls to an underlying write function through one
// worker goroutine. The zero value is not usable; construct with New.
type Writer struct {
	jobs   chan job
	wg     sync.WaitGroup
	once   sync.Once
	closed chan struct{}
}

// New starts the worker goroutine. queueDepth bounds how many pending
// writes may be enqueued before Write/WriteAsync block.
func New(queueDepth int) *Writer {
	if queueDepth < 1 {
		queueDepth = 1
	}
	w := &Writer{
		jobs:   make(chan job, queueDepth),
		closed: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Writer) run() {
	defer w.wg.Done()
	for j := range w.jobs {
		j.done <- j.fn()
	}
}

// Write enqueues fn and blocks until it has run, returning its error.
func (w *Writer) Write(fn func() error) error {
	done := make(chan error, 1)
	w.jobs <- job{fn: fn, done: done}
	return <-done
}

// Handle resolves to the result of a previously submitted WriteAsync
// call.
type Handle struct {
	done chan error
}

// Wait blocks until the job completes and returns its error.
func (h Handle) Wait() error {
	return <-h.done
}

// WriteAsync enqueues fn and returns immediately with a Handle that
// resolves once fn has run, chained after every job submitted before
// it (spec §4.4.4: "async submission returns a future chained after
// all prior work").
func (w *Writer) WriteAsync(fn func() error) Handle {
	done := make(chan error, 1)
	w.jobs <- job{fn: fn, done: done}
	return Handle{done: done}
}

// FinishWriting drains the queue (waiting for every job submitted so
// far to complete) and stops the worker. Safe to call once; subsequent
// calls are no-ops.
func (w *Writer) FinishWriting() {
	w.once.Do(func() {
		close(w.jobs)
		close(w.closed)
	})
	w.wg.Wait()
}
