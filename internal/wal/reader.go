package wal

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/kartikbazzad/docstore/internal/logger"
)

// Emitted is one record handed to the caller during a Read pass, already
// past the sinceTimestamp filter and (for transactional ops) block
// completion check.
type Emitted struct {
	Rec *Record
	// CommitTs is set for records that were part of a committed
	// transaction block; zero for non-transactional records.
	CommitTs string
}

// Reader replays a WAL file forward-only, line-oriented, tolerant of
// blank lines, oversized lines, and JSON parse failures.
type Reader struct {
	path   string
	logger *logger.Logger
	strict bool
}

// NewReader creates a reader for the WAL file at path. strict controls
// whether a malformed line aborts the whole replay (true) or is skipped
// with a warning (false, the default posture).
func NewReader(path string, strict bool, log *logger.Logger) *Reader {
	return &Reader{path: path, logger: log, strict: strict}
}

type pendingBlock struct {
	start *Record
	ops   []*Record
}

// Read replays the WAL, returning every record whose effective timestamp
// is strictly greater than sinceTimestamp (pass "" to read everything).
// Non-transactional records are returned individually; transactional ops
// are returned only when their enclosing block committed, all sharing
// the block's commit timestamp as the effective filter key.
func (r *Reader) Read(sinceTimestamp string) ([]Emitted, error) {
	var out []Emitted
	err := r.scan(func(rec *Record) {
		eff := effectiveTime(rec)
		if !afterSince(eff, sinceTimestamp) {
			return
		}
		out = append(out, Emitted{Rec: rec})
	}, func(commitTs string, ops []*Record) {
		if !afterSince(commitTs, sinceTimestamp) {
			return
		}
		for _, op := range ops {
			out = append(out, Emitted{Rec: op, CommitTs: commitTs})
		}
	})
	return out, err
}

// ReadRaw replays the WAL like Read, but returns the raw records to
// re-emit verbatim (including reconstructed start/commit frames for
// retained transaction blocks), for use by the compactor.
func (r *Reader) ReadRaw(sinceTimestamp string) ([]*Record, error) {
	var out []*Record
	err := r.scan(func(rec *Record) {
		eff := effectiveTime(rec)
		if !afterSince(eff, sinceTimestamp) {
			return
		}
		out = append(out, rec)
	}, nil)
	if err != nil {
		return nil, err
	}
	raw, err := r.scanBlocks(sinceTimestamp)
	if err != nil {
		return nil, err
	}
	out = append(out, raw...)
	return out, nil
}

// scan performs one forward pass over the WAL file. onRecord is invoked
// for each non-transactional record in file order. onBlock is invoked
// once per transaction block that reaches a matching commit frame, with
// the block's buffered op frames (start/commit frames themselves are not
// included; callers needing them use scanBlocks).
func (r *Reader) scan(onRecord func(*Record), onBlock func(commitTs string, ops []*Record)) error {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), MaxLineBytes+1024)

	blocks := map[string]*pendingBlock{}

	for scanner.Scan() {
		line := scanner.Bytes()
		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			continue
		}
		if len(line) > MaxLineBytes {
			r.logger.Warn("wal: skipping oversized line (%d bytes) in %s", len(line), r.path)
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			if r.strict {
				return err
			}
			r.logger.Warn("wal: skipping malformed line in %s: %v", r.path, err)
			continue
		}

		if rec.IsTxnFrame() {
			switch rec.Txn {
			case TxnStart:
				if rec.ID == "" {
					continue
				}
				if _, exists := blocks[rec.ID]; !exists {
					blocks[rec.ID] = &pendingBlock{start: cloneRecord(&rec)}
				}
			case TxnOpKind:
				b, ok := blocks[rec.TxID]
				if !ok {
					r.logger.Warn("wal: orphaned op frame for txid %s in %s", rec.TxID, r.path)
					continue
				}
				b.ops = append(b.ops, cloneRecord(&rec))
			case TxnCommit:
				b, ok := blocks[rec.ID]
				if !ok {
					r.logger.Warn("wal: commit frame with no start for txid %s in %s", rec.ID, r.path)
					continue
				}
				if onBlock != nil {
					onBlock(rec.Ts, b.ops)
				}
				delete(blocks, rec.ID)
			}
			continue
		}

		onRecord(cloneRecord(&rec))
	}
	if err := scanner.Err(); err != nil {
		if r.strict {
			return err
		}
		r.logger.Warn("wal: scan error in %s: %v", r.path, err)
	}

	for txid := range blocks {
		r.logger.Warn("wal: discarding uncommitted transaction %s in %s", txid, r.path)
	}

	return nil
}

// scanBlocks re-scans the file, returning the full start/op.../commit
// frame sequence for every transaction block whose commit timestamp
// passes sinceTimestamp. Used only by ReadRaw (compaction).
func (r *Reader) scanBlocks(sinceTimestamp string) ([]*Record, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), MaxLineBytes+1024)

	blocks := map[string]*pendingBlock{}
	var out []*Record

	for scanner.Scan() {
		line := scanner.Bytes()
		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			continue
		}
		if len(line) > MaxLineBytes {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if !rec.IsTxnFrame() {
			continue
		}
		switch rec.Txn {
		case TxnStart:
			if rec.ID == "" {
				continue
			}
			if _, exists := blocks[rec.ID]; !exists {
				blocks[rec.ID] = &pendingBlock{start: cloneRecord(&rec)}
			}
		case TxnOpKind:
			if b, ok := blocks[rec.TxID]; ok {
				b.ops = append(b.ops, cloneRecord(&rec))
			}
		case TxnCommit:
			if b, ok := blocks[rec.ID]; ok {
				if afterSince(rec.Ts, sinceTimestamp) {
					out = append(out, b.start)
					out = append(out, b.ops...)
					out = append(out, cloneRecord(&rec))
				}
				delete(blocks, rec.ID)
			}
		}
	}

	return out, scanner.Err()
}

func cloneRecord(rec *Record) *Record {
	cp := *rec
	return &cp
}

// effectiveTime returns the record's effective timestamp for filtering:
// doc.updatedAt (or the first doc's, for batches) if present, else the
// top-level ts, else "" (kept unconditionally by afterSince).
func effectiveTime(rec *Record) string {
	if len(rec.Doc) > 0 {
		var m map[string]interface{}
		if err := json.Unmarshal(rec.Doc, &m); err == nil {
			if ts, ok := m["updatedAt"].(string); ok && ts != "" {
				return ts
			}
		}
	}
	if len(rec.Docs) > 0 {
		var arr []map[string]interface{}
		if err := json.Unmarshal(rec.Docs, &arr); err == nil && len(arr) > 0 {
			if ts, ok := arr[0]["updatedAt"].(string); ok && ts != "" {
				return ts
			}
		}
	}
	return rec.Ts
}

// afterSince reports whether eff is strictly after since. An empty eff
// means "keep unconditionally". An empty since means "no filter".
func afterSince(eff, since string) bool {
	if eff == "" {
		return true
	}
	if since == "" {
		return true
	}
	et, eerr := time.Parse(time.RFC3339Nano, eff)
	st, serr := time.Parse(time.RFC3339Nano, since)
	if eerr != nil || serr != nil {
		return eff > since
	}
	return et.After(st)
}
