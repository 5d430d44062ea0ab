// Package pool runs the engine's periodic background work (per-collection
// checkpoint ticks and TTL sweeps) through a single bounded ants.Pool
// instead of one timer goroutine per collection per timer, so a database
// holding many collections does not spawn an OS-thread-backed goroutine
// for every one of them.
package pool

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/docstore/internal/logger"
)

// Pool wraps a fixed-size ants.Pool that background jobs are submitted
// to. Submission never blocks the caller: a job that can't get a worker
// immediately is dropped with a warning rather than queued, since a
// missed tick is harmless (the next tick will catch up) and a backlog
// of stale ticks is not.
type Pool struct {
	ants   *ants.Pool
	log    *logger.Logger
	mu     sync.Mutex
	closed bool
}

// New creates a Pool with size workers (size <= 0 defaults to 1).
func New(size int, log *logger.Logger) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool{log: log}
	ap, err := ants.NewPool(size,
		ants.WithExpiryDuration(10*time.Second),
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v interface{}) {
			log.Error("background pool worker panic: %v", v)
		}),
	)
	if err != nil {
		return nil, err
	}
	p.ants = ap
	return p, nil
}

// Submit runs fn on a pool worker. If every worker is busy, the job is
// dropped and a warning logged rather than blocking the caller.
func (p *Pool) Submit(label string, fn func()) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	if err := p.ants.Submit(fn); err != nil {
		p.log.Warn("background pool: dropped job %s: %v", label, err)
	}
}

// Stats reports the pool's current utilization, for status/shell
// reporting.
type Stats struct {
	Running  int
	Free     int
	Waiting  int
	Capacity int
}

func (p *Pool) Stats() Stats {
	return Stats{
		Running:  p.ants.Running(),
		Free:     p.ants.Free(),
		Waiting:  p.ants.Waiting(),
		Capacity: p.ants.Cap(),
	}
}

// Stop releases every idle worker and waits up to timeout for running
// jobs to finish.
func (p *Pool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	_ = p.ants.ReleaseTimeout(timeout)
}
