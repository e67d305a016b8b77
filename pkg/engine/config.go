// Package engine is Strata's composition root: it wires pkg/storage,
// pkg/walog, pkg/manifest, pkg/recovery, and pkg/txn into one open
// Database handle, following mjm918-tur/pkg/turdb.DB's role composing
// pager+mvcc+hnsw into one *DB.
package engine

import (
	"time"

	"strata/pkg/storage"
	"strata/pkg/walog"
)

// Config enumerates the options table in spec.md §6 plus the two
// background-worker intervals, following
// the teacher's turdb.Options/pager.Options pattern of a plain options
// struct with a DefaultConfig constructor.
type Config struct {
	// Durability selects the WAL's fsync discipline.
	Durability walog.Durability

	// WALSegmentMaxBytes is the rotation threshold; spec default 64 MiB.
	WALSegmentMaxBytes int64

	// CodecID is written to MANIFEST and must match between writer and
	// reader or recovery fails with StorageError.
	CodecID string

	// SnapshotOnOpen controls whether Open attempts to load a snapshot
	// before replaying the WAL.
	SnapshotOnOpen bool

	// Retention is the chain-gc policy.
	Retention storage.Retention

	// TTLSweepInterval is how often the background TTL sweeper runs.
	TTLSweepInterval time.Duration

	// GCInterval is how often the background retention gc runs.
	GCInterval time.Duration
}

// DefaultConfig returns spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		Durability:         walog.Batched(64, 50*time.Millisecond),
		WALSegmentMaxBytes: walog.DefaultSegmentMaxBytes,
		CodecID:            "identity",
		SnapshotOnOpen:     true,
		Retention:          storage.KeepAllRetention(),
		TTLSweepInterval:   time.Second,
		GCInterval:         10 * time.Second,
	}
}
