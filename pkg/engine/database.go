// pkg/engine/database.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"strata/pkg/errs"
	"strata/pkg/manifest"
	"strata/pkg/recovery"
	"strata/pkg/storage"
	"strata/pkg/strlog"
	"strata/pkg/txn"
	"strata/pkg/walog"
)

var (
	// ErrDatabaseClosed is returned when attempting operations on a closed database.
	ErrDatabaseClosed = errors.New("strata: database is closed")

	// ErrDatabaseLocked is returned when the database directory is already
	// locked by another process.
	ErrDatabaseLocked = errors.New("strata: database is locked by another process")
)

// Database is an open Strata database: the composition of pkg/storage,
// pkg/walog, pkg/manifest, and pkg/txn behind one handle, following
// mjm918-tur/pkg/turdb.DB's role as the single owner of pager+mvcc+hnsw.
// This is the only package allowed to construct those pieces together;
// every primitive façade receives an already-wired *Database.
type Database struct {
	mu sync.RWMutex

	root     string
	lockFile *os.File

	cfg          Config
	databaseUUID uuid.UUID

	store *storage.Store
	wal   *walog.Writer
	txns  *txn.Manager

	workersDone chan struct{}
	workersWG   sync.WaitGroup

	closed bool
}

// Open opens (creating if necessary) the database rooted at dir, running
// recovery before returning. It is an error to open the same directory
// from two Database handles concurrently (guarded by an flock on
// dir/.lock, matching the teacher's OpenWithOptions).
func Open(dir string, cfg Config) (*Database, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.StorageError, "engine.open", err)
	}

	lockPath := filepath.Join(dir, ".lock")
	lf, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, "engine.open", err)
	}
	if err := lockFile(lf); err != nil {
		lf.Close()
		if errors.Is(err, ErrDatabaseLocked) {
			return nil, err
		}
		return nil, errs.Wrap(errs.StorageError, "engine.open", err)
	}

	db, err := openLocked(dir, cfg, lf)
	if err != nil {
		unlockFile(lf)
		lf.Close()
		return nil, err
	}
	return db, nil
}

func openLocked(dir string, cfg Config, lf *os.File) (*Database, error) {
	dbUUID := uuid.New()
	if !manifest.Exists(dir) {
		m := manifest.Manifest{
			DatabaseUUID: dbUUID,
			CodecID:      cfg.CodecID,
			Timestamp:    uint64(time.Now().UnixMicro()),
		}
		if err := manifest.Write(dir, m); err != nil {
			return nil, err
		}
	} else {
		existing, err := manifest.Read(dir)
		if err != nil {
			return nil, err
		}
		if existing.CodecID != cfg.CodecID {
			return nil, errs.New(errs.StorageError, "engine.open",
				fmt.Sprintf("codec mismatch: database uses %q, opened with %q", existing.CodecID, cfg.CodecID))
		}
		dbUUID = existing.DatabaseUUID
	}

	store := storage.New(cfg.Retention)
	result, err := recovery.Recover(dir, store, cfg.SnapshotOnOpen)
	if err != nil {
		return nil, err
	}
	log := strlog.WithComponent(strlog.ComponentEngine)
	log.Info().
		Uint64("watermark", result.Manifest.Watermark).
		Bool("snapshot_loaded", result.SnapshotLoaded).
		Int("applied_txns", result.AppliedTxns).
		Int("discarded_txns", result.DiscardedTxns).
		Msg("recovery complete")

	maxSeg := cfg.WALSegmentMaxBytes
	if maxSeg <= 0 {
		maxSeg = walog.DefaultSegmentMaxBytes
	}
	w, err := walog.Open(walog.Options{
		Dir:             filepath.Join(dir, "wal"),
		DatabaseUUID:    dbUUID,
		CodecID:         cfg.CodecID,
		MaxSegmentBytes: maxSeg,
		Durability:      cfg.Durability,
	})
	if err != nil {
		return nil, err
	}

	if err := manifest.Write(dir, manifest.Manifest{
		DatabaseUUID: dbUUID,
		CodecID:      cfg.CodecID,
		SnapshotID:   result.Manifest.SnapshotID,
		Watermark:    store.CurrentVersion(),
		Timestamp:    uint64(time.Now().UnixMicro()),
	}); err != nil {
		w.Close()
		return nil, err
	}

	db := &Database{
		root:         dir,
		lockFile:     lf,
		cfg:          cfg,
		databaseUUID: dbUUID,
		store:        store,
		wal:          w,
		txns:         txn.NewManager(store, w),
		workersDone:  make(chan struct{}),
	}
	db.startBackgroundWorkers()
	return db, nil
}

// Path returns the database's root directory.
func (db *Database) Path() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.root
}

// DatabaseUUID returns the database's stable identity, as recorded in MANIFEST.
func (db *Database) DatabaseUUID() uuid.UUID {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.databaseUUID
}

// Store exposes the storage substrate to primitive façades.
func (db *Database) Store() *storage.Store { return db.store }

// Txns exposes the transaction manager to primitive façades.
func (db *Database) Txns() *txn.Manager { return db.txns }

// Begin starts a new transaction. Equivalent to db.Txns().Begin(ctx).
func (db *Database) Begin(ctx context.Context) (*txn.Txn, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, errs.New(errs.InvalidState, "engine.begin", "database is closed")
	}
	return db.txns.Begin(ctx)
}

// Close stops background workers, flushes and closes the WAL, writes a
// final MANIFEST with the current watermark, and releases the directory
// lock. It is an error to call Close more than once.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	db.closed = true

	close(db.workersDone)
	db.workersWG.Wait()

	var firstErr error
	if err := db.wal.Close(); err != nil {
		firstErr = err
	}

	if err := manifest.Write(db.root, manifest.Manifest{
		DatabaseUUID: db.databaseUUID,
		CodecID:      db.cfg.CodecID,
		Watermark:    db.store.CurrentVersion(),
		Timestamp:    uint64(time.Now().UnixMicro()),
	}); err != nil && firstErr == nil {
		firstErr = err
	}

	if db.lockFile != nil {
		unlockFile(db.lockFile)
		db.lockFile.Close()
		db.lockFile = nil
	}

	return firstErr
}

// IsClosed reports whether Close has already been called.
func (db *Database) IsClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}
