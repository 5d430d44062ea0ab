package wal

import (
	"sync"
	"time"

	docerrors "github.com/kartikbazzad/docstore/internal/errors"
)

// CriticalAlert records one append failure the classifier deemed
// critical: the WAL could not take a byte even after retries were
// exhausted. Surfaced through Writer.CriticalAlerts into the owning
// collection's stats.
type CriticalAlert struct {
	Path       string
	Err        error
	OccurredAt time.Time
}

// maxCriticalAlerts bounds the alert history kept per writer.
const maxCriticalAlerts = 100

// appendStats counts classified append failures for one Writer and
// keeps the most recent critical alerts.
type appendStats struct {
	classify *docerrors.Classifier

	mu       sync.Mutex
	counts   map[docerrors.ErrorCategory]uint64
	critical []CriticalAlert
}

func newAppendStats(classify *docerrors.Classifier) *appendStats {
	return &appendStats{classify: classify, counts: map[docerrors.ErrorCategory]uint64{}}
}

func (s *appendStats) record(path string, err error, category docerrors.ErrorCategory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[category]++
	if !s.classify.IsCritical(category) {
		return
	}
	s.critical = append(s.critical, CriticalAlert{Path: path, Err: err, OccurredAt: time.Now()})
	if len(s.critical) > maxCriticalAlerts {
		s.critical = s.critical[len(s.critical)-maxCriticalAlerts:]
	}
}

// countsSnapshot returns the non-zero failure counts by category.
func (s *appendStats) countsSnapshot() map[docerrors.ErrorCategory]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[docerrors.ErrorCategory]uint64, len(s.counts))
	for cat, n := range s.counts {
		if n > 0 {
			out[cat] = n
		}
	}
	return out
}

// criticalSnapshot returns a copy of the retained critical alerts.
func (s *appendStats) criticalSnapshot() []CriticalAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CriticalAlert, len(s.critical))
	copy(out, s.critical)
	return out
}
