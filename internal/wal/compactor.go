package wal

import (
	"github.com/kartikbazzad/docstore/internal/logger"
	"github.com/kartikbazzad/docstore/internal/storage"
)

// Compactor rewrites a WAL file to drop entries already captured by a
// checkpoint, via the storage package's atomic temp-file-then-rename
// write primitive.
type Compactor struct {
	path   string
	logger *logger.Logger
}

// NewCompactor creates a compactor for the WAL file at path.
func NewCompactor(path string, log *logger.Logger) *Compactor {
	return &Compactor{path: path, logger: log}
}

// Compact rewrites the WAL, keeping only entries whose effective time is
// strictly greater than checkpointTs (transactional ops are kept only if
// their block's commit time qualifies). On failure the prior WAL file is
// left intact, since the rewrite only lands via rename.
func (c *Compactor) Compact(checkpointTs string) error {
	reader := NewReader(c.path, false, c.logger)
	kept, err := reader.ReadRaw(checkpointTs)
	if err != nil {
		c.logger.Warn("wal: compaction read failed for %s: %v", c.path, err)
		return err
	}

	var buf []byte
	for _, rec := range kept {
		line, err := rec.Marshal()
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	if err := storage.AtomicWriteFile(c.path, buf); err != nil {
		c.logger.Error("wal: compaction write failed for %s: %v", c.path, err)
		return err
	}
	c.logger.Info("wal: compacted %s, kept %d records after %s", c.path, len(kept), checkpointTs)
	return nil
}
