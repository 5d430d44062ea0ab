package wal

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kartikbazzad/docstore/internal/config"
	docerrors "github.com/kartikbazzad/docstore/internal/errors"
	"github.com/kartikbazzad/docstore/internal/logger"
)

// Writer appends JSON-lines records to a collection's WAL file.
//
// Thread safety: all methods are safe for concurrent use via mu, though
// the engine additionally guarantees a single caller at a time per
// collection through the collection's task queue.
type Writer struct {
	mu        sync.Mutex
	path      string
	forceSync bool
	logger    *logger.Logger
	retry     *docerrors.RetryController
	classify  *docerrors.Classifier
	stats     *appendStats
	size      int64
}

// NewWriter creates a writer for the WAL file at path. The file is
// opened fresh per append; no long-lived handle is kept. walCfg's
// retry fields size the transient-error backoff (see
// internal/errors.RetryController).
func NewWriter(path string, walCfg config.WALConfig, log *logger.Logger) *Writer {
	classify := docerrors.NewClassifier()
	return &Writer{
		path:      path,
		forceSync: walCfg.ForceSync,
		logger:    log,
		retry: docerrors.NewRetryControllerWithLimits(
			time.Duration(walCfg.RetryInitialDelayMs)*time.Millisecond,
			time.Duration(walCfg.RetryMaxDelayMs)*time.Millisecond,
			walCfg.MaxAppendRetries,
		),
		classify: classify,
		stats:    newAppendStats(classify),
	}
}

// ErrorStats reports counts of every classified append failure observed
// by this writer, keyed by category, for collection/database-level
// observability (see Collection.Stats).
func (w *Writer) ErrorStats() map[docerrors.ErrorCategory]uint64 {
	return w.stats.countsSnapshot()
}

// CriticalAlerts reports every append failure this writer's classifier
// deemed ErrorCritical, for collection/database-level observability
// (see Collection.Stats).
func (w *Writer) CriticalAlerts() []CriticalAlert {
	return w.stats.criticalSnapshot()
}

// Append writes one record as a single line (JSON + "\n"). On transient
// I/O errors (ENOSPC/EBUSY/EIO/EMFILE/EAGAIN) the append is retried with
// exponential backoff; any other error is fatal to this call.
func (w *Writer) Append(rec *Record) error {
	line, err := rec.Marshal()
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	err = w.retry.Retry(func() error {
		f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			w.logger.Error("wal: open %s failed: %v", w.path, err)
			// Both errors stay in the chain: the classifier sees the
			// underlying errno (so a transient EMFILE/ENOSPC on open is
			// still retried) and callers can still test ErrFileOpen.
			return fmt.Errorf("%w: %w", docerrors.ErrFileOpen, err)
		}
		defer f.Close()

		n, err := f.Write(line)
		if err != nil {
			w.logger.Error("wal: write %s failed: %v", w.path, err)
			return err
		}
		w.size += int64(n)

		if w.forceSync {
			if err := f.Sync(); err != nil {
				w.logger.Error("wal: sync %s failed: %v", w.path, err)
				return err
			}
		}
		return nil
	}, w.classify)
	if err != nil {
		w.stats.record(w.path, err, w.classify.Classify(err))
	}
	return err
}

// AppendBlock writes multiple records as one contiguous append (used for
// transaction blocks and multi-record batches). The block is not
// required to be atomic at the file level; recovery tolerates torn
// tails.
func (w *Writer) AppendBlock(recs []*Record) error {
	var buf []byte
	for _, r := range recs {
		line, err := r.Marshal()
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.retry.Retry(func() error {
		f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("%w: %w", docerrors.ErrFileOpen, err)
		}
		defer f.Close()

		n, err := f.Write(buf)
		if err != nil {
			return err
		}
		w.size += int64(n)

		if w.forceSync {
			if err := f.Sync(); err != nil {
				return err
			}
		}
		return nil
	}, w.classify)
	if err != nil {
		w.stats.record(w.path, err, w.classify.Classify(err))
	}
	return err
}

// Size returns the number of bytes appended by this writer instance
// since construction (not necessarily the file's total on-disk size if
// it pre-existed).
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}
