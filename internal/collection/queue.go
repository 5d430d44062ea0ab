package collection

import (
	"sync"

	docerrors "github.com/kartikbazzad/docstore/internal/errors"
)

// task is one unit of work submitted to a collection's serialized write
// queue: a closure that performs the WAL append, in-memory apply, index
// update, and event emission, plus a channel the caller blocks on for
// the result. Mirrors this codebase's channel-based Task/Result
// dispatch idiom, restricted to a single worker so the queue is
// strictly FIFO (unlike the multi-worker pool used for background
// jobs).
type task struct {
	run    func() (interface{}, error)
	result chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// writeQueue is the single-consumer FIFO every mutation enters.
type writeQueue struct {
	mu      sync.Mutex
	ch      chan *task
	done    chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

func newWriteQueue(depth int) *writeQueue {
	return &writeQueue{
		ch:   make(chan *task, depth),
		done: make(chan struct{}),
	}
}

// start launches the single consumer goroutine.
func (q *writeQueue) start() {
	q.wg.Add(1)
	go q.run()
}

func (q *writeQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case t, ok := <-q.ch:
			if !ok {
				return
			}
			value, err := t.run()
			t.result <- taskResult{value: value, err: err}
		case <-q.done:
			// Drain whatever is already buffered before exiting, so
			// tasks accepted prior to Closing run to completion.
			for {
				select {
				case t := <-q.ch:
					value, err := t.run()
					t.result <- taskResult{value: value, err: err}
				default:
					return
				}
			}
		}
	}
}

// submit enqueues fn and blocks for its result. Returns
// docerrors.ErrCollectionClosed immediately, without running fn, if the
// queue has stopped accepting new work — the same sentinel a task body
// returns when it observes a non-Open collection state, so callers see
// one consistent error regardless of whether rejection happened at
// admission or (for a task queued just before Close) never at all.
//
// The stopped check and the channel send happen under one mu hold:
// stop() takes mu before closing done, so a task admitted here is
// buffered before done can close and is always seen by the consumer's
// drain. Checking and sending separately would let stop() slip between
// them, stranding the task in a channel nothing reads and blocking the
// submitter on result forever. Holding mu across the send cannot
// deadlock: the consumer keeps draining until done closes, and done
// cannot close while this send holds mu.
func (q *writeQueue) submit(fn func() (interface{}, error)) (interface{}, error) {
	t := &task{run: fn, result: make(chan taskResult, 1)}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, docerrors.ErrCollectionClosed
	}
	q.ch <- t
	q.mu.Unlock()

	r := <-t.result
	return r.value, r.err
}

// stop marks the queue closed to new submissions and waits for the
// consumer to drain whatever was already buffered.
func (q *writeQueue) stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
}
