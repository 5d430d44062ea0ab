// Package checkpoint implements the segmented snapshot writer/loader
// for a single collection: a meta file plus one or more size-bounded
// data segment files, with retention of the newest N checkpoints.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kartikbazzad/docstore/internal/document"
	"github.com/kartikbazzad/docstore/internal/logger"
	"github.com/kartikbazzad/docstore/internal/storage"
)

// IndexMeta describes one secondary index for checkpoint metadata.
type IndexMeta struct {
	FieldName string `json:"fieldName"`
	Type      string `json:"type"` // "unique" | "standard"
}

// Meta is the JSON shape of a checkpoint's meta file.
type Meta struct {
	CollectionName string      `json:"collectionName"`
	Timestamp      string      `json:"timestamp"`
	DocumentCount  int         `json:"documentCount"`
	IndexesMeta    []IndexMeta `json:"indexesMeta"`
	Type           string      `json:"type"`
	Segments       int         `json:"segments"`
}

// Manager writes and loads checkpoints for one collection under dir
// (the collection's `_checkpoints` subdirectory).
type Manager struct {
	dir            string
	collectionName string
	maxSegmentSize int64
	keep           int
	logger         *logger.Logger
}

// NewManager creates a checkpoint manager rooted at dir.
func NewManager(dir, collectionName string, maxSegmentSize int64, keep int, log *logger.Logger) *Manager {
	if keep < 1 {
		keep = 1
	}
	return &Manager{
		dir:            dir,
		collectionName: collectionName,
		maxSegmentSize: maxSegmentSize,
		keep:           keep,
		logger:         log,
	}
}

// sanitizeTimestamp converts an RFC3339 timestamp into a filename-safe
// string by replacing ':' and '.' with '-'.
func sanitizeTimestamp(ts string) string {
	r := strings.NewReplacer(":", "-", ".", "-")
	return r.Replace(ts)
}

func (m *Manager) metaPath(tsSafe string) string {
	return filepath.Join(m.dir, fmt.Sprintf("checkpoint_meta_%s_%s.json", m.collectionName, tsSafe))
}

func (m *Manager) dataPath(tsSafe string, seg int) string {
	return filepath.Join(m.dir, fmt.Sprintf("checkpoint_data_%s_%s_seg%d.json", m.collectionName, tsSafe, seg))
}

// Write serializes docs (a frozen snapshot taken by the caller under its
// write lock) into one meta file plus greedily-segmented data files,
// then applies retention. Returns the meta's timestamp.
func (m *Manager) Write(docs []document.Doc, indexes []IndexMeta) (string, error) {
	if err := storage.EnsureDir(m.dir); err != nil {
		return "", err
	}

	// document.ISOLayout: fixed-width nanosecond precision, matching
	// document.NowISO, so a checkpoint and an acknowledged WAL append
	// stamped in the same millisecond still compare distinctly under the
	// WAL reader's strict since-timestamp filter (rather than the op
	// being silently compacted away as "not after" the checkpoint it
	// actually preceded), and so meta filenames stay lexicographically
	// time-monotonic for listMetasNewestFirst.
	ts := time.Now().UTC().Format(document.ISOLayout)
	tsSafe := sanitizeTimestamp(ts)

	segments, err := m.writeSegments(tsSafe, docs)
	if err != nil {
		return "", err
	}

	meta := Meta{
		CollectionName: m.collectionName,
		Timestamp:      ts,
		DocumentCount:  len(docs),
		IndexesMeta:    indexes,
		Type:           "meta",
		Segments:       segments,
	}
	if err := storage.WriteJSON(m.metaPath(tsSafe), meta); err != nil {
		return "", err
	}

	if err := m.applyRetention(); err != nil {
		m.logger.Warn("checkpoint: retention cleanup failed for %s: %v", m.collectionName, err)
	}

	return ts, nil
}

// writeSegments greedily packs docs into JSON-array segment files each
// bounded by maxSegmentSize, returning the number of segments written.
func (m *Manager) writeSegments(tsSafe string, docs []document.Doc) (int, error) {
	if len(docs) == 0 {
		if err := storage.WriteJSON(m.dataPath(tsSafe, 0), []document.Doc{}); err != nil {
			return 0, err
		}
		return 1, nil
	}

	seg := 0
	var current []document.Doc
	var currentSize int64

	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		if err := storage.WriteJSON(m.dataPath(tsSafe, seg), current); err != nil {
			return err
		}
		seg++
		current = nil
		currentSize = 0
		return nil
	}

	for _, d := range docs {
		raw, err := json.Marshal(d)
		if err != nil {
			return 0, err
		}
		size := int64(len(raw)) + 1
		if len(current) > 0 && currentSize+size > m.maxSegmentSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
		current = append(current, d)
		currentSize += size
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return seg, nil
}

// Loaded is the result of a successful checkpoint load.
type Loaded struct {
	Docs      []document.Doc
	Indexes   []IndexMeta
	Timestamp string
}

// Load lists every meta file, newest first, and tries each until one
// loads cleanly: its internal timestamp must match the name's timestamp
// and every referenced data segment must parse. Returns a zero Loaded
// (Timestamp == "") if no candidate succeeds.
func (m *Manager) Load() (Loaded, error) {
	metas, err := m.listMetasNewestFirst()
	if err != nil {
		return Loaded{}, err
	}

	for _, tsSafe := range metas {
		loaded, ok := m.tryLoad(tsSafe)
		if ok {
			return loaded, nil
		}
		m.logger.Warn("checkpoint: skipping invalid checkpoint %s for %s", tsSafe, m.collectionName)
	}
	return Loaded{}, nil
}

func (m *Manager) tryLoad(tsSafe string) (Loaded, bool) {
	var meta Meta
	if err := storage.ReadJSON(m.metaPath(tsSafe), &meta); err != nil {
		return Loaded{}, false
	}
	if sanitizeTimestamp(meta.Timestamp) != tsSafe {
		return Loaded{}, false
	}

	segFiles, err := m.listSegments(tsSafe)
	if err != nil || len(segFiles) == 0 || (meta.Segments > 0 && len(segFiles) != meta.Segments) {
		return Loaded{}, false
	}

	var docs []document.Doc
	for _, segPath := range segFiles {
		var chunk []document.Doc
		if err := storage.ReadJSON(segPath, &chunk); err != nil {
			return Loaded{}, false
		}
		docs = append(docs, chunk...)
	}

	return Loaded{Docs: docs, Indexes: meta.IndexesMeta, Timestamp: meta.Timestamp}, true
}

// listMetasNewestFirst returns the filename-safe timestamps of every
// checkpoint_meta_{collection}_*.json file, sorted newest first
// (name-sort is time-monotonic given the zero-padded ISO timestamp
// format).
func (m *Manager) listMetasNewestFirst() ([]string, error) {
	names, err := storage.ListDir(m.dir)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("checkpoint_meta_%s_", m.collectionName)
	var tss []string
	for _, n := range names {
		if !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, ".json") {
			continue
		}
		ts := strings.TrimSuffix(strings.TrimPrefix(n, prefix), ".json")
		tss = append(tss, ts)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(tss)))
	return tss, nil
}

func (m *Manager) listSegments(tsSafe string) ([]string, error) {
	names, err := storage.ListDir(m.dir)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("checkpoint_data_%s_%s_seg", m.collectionName, tsSafe)
	type seg struct {
		n    int
		path string
	}
	var segs []seg
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		segs = append(segs, seg{n: n, path: filepath.Join(m.dir, name)})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].n < segs[j].n })
	paths := make([]string, len(segs))
	for i, s := range segs {
		paths[i] = s.path
	}
	return paths, nil
}

// applyRetention deletes meta files older than the newest `keep`, together
// with the data segments of those deleted checkpoints. Data segment files
// whose timestamp has no meta file at all are not removed.
func (m *Manager) applyRetention() error {
	metas, err := m.listMetasNewestFirst()
	if err != nil {
		return err
	}
	if len(metas) <= m.keep {
		return nil
	}
	retained := map[string]bool{}
	for _, ts := range metas[:m.keep] {
		retained[ts] = true
	}
	stale := metas[m.keep:]

	for _, tsSafe := range stale {
		removeFile(m.metaPath(tsSafe))
		segs, _ := m.listSegments(tsSafe)
		for _, s := range segs {
			removeFile(s)
		}
	}
	return nil
}
