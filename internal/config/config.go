// Package config holds the tunables recognized by the collection engine.
// Every field has a zero-value-safe default applied by DefaultConfig,
// mirroring the nested-struct-plus-one-constructor shape used throughout
// this codebase's other packages.
package config

import "time"

// IDGenerator produces a unique string id for a newly inserted document
// that omitted `_id`. The default implementation is RFC 4122 v4 (see
// internal/idgen).
type IDGenerator func() string

// Config is the full set of per-collection tunables. All fields are
// optional; ApplyDefaults replaces zero values with DefaultConfig()'s
// defaults, except Checkpoint.IntervalMs (0 disables the timer),
// WAL.ForceSync and IDGenerator, which it leaves as given.
type Config struct {
	Checkpoint CheckpointConfig
	WAL        WALConfig
	TTL        TTLConfig
	Batch      BatchConfig

	IDGenerator IDGenerator
}

// CheckpointConfig controls segmented checkpoint writing and retention.
type CheckpointConfig struct {
	// MaxSegmentSizeBytes bounds the serialized size of one checkpoint
	// data segment (default 2 MiB).
	MaxSegmentSizeBytes int64

	// IntervalMs triggers a periodic checkpoint; 0 disables the timer.
	IntervalMs int64

	// MaxWALEntriesBeforeCheckpoint triggers a checkpoint once this many
	// WAL entries have accumulated since the last one.
	MaxWALEntriesBeforeCheckpoint int

	// CheckpointsToKeep is the retention count (>= 1).
	CheckpointsToKeep int
}

// WALConfig controls WAL durability and append-retry behavior.
type WALConfig struct {
	// ForceSync issues an OS-level sync after every WAL append.
	ForceSync bool

	// MaxAppendRetries bounds the number of retries for a transient
	// WAL-append I/O error (default 5; see internal/errors.RetryController).
	MaxAppendRetries int

	// RetryInitialDelayMs is the first backoff delay on a transient
	// append error (default 10ms).
	RetryInitialDelayMs int64

	// RetryMaxDelayMs caps the exponential backoff delay (default 1s).
	RetryMaxDelayMs int64
}

// TTLConfig controls the background expiration sweeper.
type TTLConfig struct {
	// CleanupIntervalMs is the sweeper period (default 60s).
	CleanupIntervalMs int64
}

// BatchConfig controls insertMany WAL record splitting.
type BatchConfig struct {
	// MaxDocsPerBatchWalEntry splits insertMany into multiple
	// BATCH_INSERT records of at most this many documents (default 1000).
	MaxDocsPerBatchWalEntry int
}

const (
	defaultMaxSegmentSizeBytes           = 2 * 1024 * 1024
	defaultCheckpointIntervalMs          = 5 * 60 * 1000
	defaultMaxWALEntriesBeforeCheckpoint = 1000
	defaultCheckpointsToKeep             = 2
	defaultTTLCleanupIntervalMs          = 60 * 1000
	defaultMaxDocsPerBatchWalEntry       = 1000
	defaultMaxAppendRetries              = 5
	defaultRetryInitialDelayMs           = 10
	defaultRetryMaxDelayMs               = 1000
)

// DefaultConfig returns a Config with every documented default applied.
func DefaultConfig() *Config {
	return &Config{
		Checkpoint: CheckpointConfig{
			MaxSegmentSizeBytes:           defaultMaxSegmentSizeBytes,
			IntervalMs:                    defaultCheckpointIntervalMs,
			MaxWALEntriesBeforeCheckpoint: defaultMaxWALEntriesBeforeCheckpoint,
			CheckpointsToKeep:             defaultCheckpointsToKeep,
		},
		WAL: WALConfig{
			ForceSync:           false,
			MaxAppendRetries:    defaultMaxAppendRetries,
			RetryInitialDelayMs: defaultRetryInitialDelayMs,
			RetryMaxDelayMs:     defaultRetryMaxDelayMs,
		},
		TTL: TTLConfig{
			CleanupIntervalMs: defaultTTLCleanupIntervalMs,
		},
		Batch: BatchConfig{
			MaxDocsPerBatchWalEntry: defaultMaxDocsPerBatchWalEntry,
		},
	}
}

// ApplyDefaults fills any zero-valued field of cfg with its documented
// default, in place. Used so a partially-specified Config (e.g. from a
// caller who only sets WAL.ForceSync) still behaves sensibly.
func (c *Config) ApplyDefaults() {
	if c.Checkpoint.MaxSegmentSizeBytes <= 0 {
		c.Checkpoint.MaxSegmentSizeBytes = defaultMaxSegmentSizeBytes
	}
	if c.Checkpoint.MaxWALEntriesBeforeCheckpoint <= 0 {
		c.Checkpoint.MaxWALEntriesBeforeCheckpoint = defaultMaxWALEntriesBeforeCheckpoint
	}
	if c.Checkpoint.CheckpointsToKeep <= 0 {
		c.Checkpoint.CheckpointsToKeep = defaultCheckpointsToKeep
	}
	if c.TTL.CleanupIntervalMs <= 0 {
		c.TTL.CleanupIntervalMs = defaultTTLCleanupIntervalMs
	}
	if c.Batch.MaxDocsPerBatchWalEntry <= 0 {
		c.Batch.MaxDocsPerBatchWalEntry = defaultMaxDocsPerBatchWalEntry
	}
	if c.WAL.MaxAppendRetries <= 0 {
		c.WAL.MaxAppendRetries = defaultMaxAppendRetries
	}
	if c.WAL.RetryInitialDelayMs <= 0 {
		c.WAL.RetryInitialDelayMs = defaultRetryInitialDelayMs
	}
	if c.WAL.RetryMaxDelayMs <= 0 {
		c.WAL.RetryMaxDelayMs = defaultRetryMaxDelayMs
	}
}

// CheckpointInterval returns the periodic checkpoint interval as a
// time.Duration (0 means disabled).
func (c *Config) CheckpointInterval() time.Duration {
	if c.Checkpoint.IntervalMs <= 0 {
		return 0
	}
	return time.Duration(c.Checkpoint.IntervalMs) * time.Millisecond
}

// TTLCleanupInterval returns the TTL sweeper period as a time.Duration.
func (c *Config) TTLCleanupInterval() time.Duration {
	ms := c.TTL.CleanupIntervalMs
	if ms <= 0 {
		ms = defaultTTLCleanupIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}
