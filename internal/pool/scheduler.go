package pool

import (
	"sync"
	"time"
)

// Job is one periodic background task a collection registers for
// dispatch, e.g. "checkpoint" or "ttl-sweep".
type Job struct {
	Name string
	Run  func()
}

// Scheduler drives a single ticker goroutine per distinct interval and
// fans each tick out to the shared Pool, rather than giving every
// registered job its own timer goroutine.
type Scheduler struct {
	pool *Pool

	mu      sync.Mutex
	tickers map[time.Duration]*intervalGroup
	stopped bool
}

type intervalGroup struct {
	jobs []namedJob
	done chan struct{}
}

type namedJob struct {
	owner string
	job   Job
}

// NewScheduler creates a scheduler dispatching through pool.
func NewScheduler(p *Pool) *Scheduler {
	return &Scheduler{pool: p, tickers: map[time.Duration]*intervalGroup{}}
}

// Register adds job to run every interval, tagged with owner (e.g. a
// collection name) so Unregister can later remove just that owner's
// jobs without disturbing others sharing the same interval.
func (s *Scheduler) Register(owner string, interval time.Duration, job Job) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	group, ok := s.tickers[interval]
	if !ok {
		group = &intervalGroup{done: make(chan struct{})}
		s.tickers[interval] = group
		go s.run(interval, group)
	}
	group.jobs = append(group.jobs, namedJob{owner: owner, job: job})
}

// Unregister removes every job owner previously registered, across all
// intervals.
func (s *Scheduler) Unregister(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, group := range s.tickers {
		kept := group.jobs[:0]
		for _, nj := range group.jobs {
			if nj.owner != owner {
				kept = append(kept, nj)
			}
		}
		group.jobs = kept
	}
}

func (s *Scheduler) run(interval time.Duration, group *intervalGroup) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			jobs := append([]namedJob(nil), group.jobs...)
			s.mu.Unlock()
			for _, nj := range jobs {
				j := nj.job
				s.pool.Submit(nj.owner+":"+j.Name, j.Run)
			}
		case <-group.done:
			return
		}
	}
}

// Stop halts every interval goroutine. The underlying Pool is not
// stopped; callers own its lifecycle separately.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	groups := make([]*intervalGroup, 0, len(s.tickers))
	for _, g := range s.tickers {
		groups = append(groups, g)
	}
	s.mu.Unlock()
	for _, g := range groups {
		close(g.done)
	}
}
