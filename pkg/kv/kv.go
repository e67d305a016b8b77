// Package kv implements the KV primitive façade named in spec §1: a
// key-value store with full version history, a thin adapter over
// pkg/txn and pkg/storage (per spec §1's explicit scope line, façades
// carry no substrate logic of their own).
package kv

import (
	"context"
	"time"

	"github.com/google/uuid"
	"strata/pkg/errs"
	"strata/pkg/storage"
	"strata/pkg/txn"
	"strata/pkg/types"
	"strata/pkg/walog"
)

// Store bundles the storage substrate and transaction manager a *Database
// exposes, the minimum a façade needs. Façades take this rather than
// *engine.Database directly so pkg/kv never depends on pkg/engine's lock
// file and background-worker machinery.
type Store struct {
	store *storage.Store
	mgr   *txn.Manager
}

// New wraps a storage substrate and transaction manager for façade use.
// *engine.Database.Store()/Txns() supply the two arguments.
func New(store *storage.Store, mgr *txn.Manager) *Store {
	return &Store{store: store, mgr: mgr}
}

// maxCommitRetries bounds the façade's own retry loop for functions that
// manage their own transaction (Incr, and Put/Delete/Cas when no caller
// transaction is supplied). A Conflict after this many attempts is
// returned to the caller rather than retried forever.
const maxCommitRetries = 8

// runTxn executes fn against tx if the caller supplied one (the caller owns
// commit/abort), or against a freshly begun transaction which runTxn
// commits itself, retrying on Conflict up to maxCommitRetries times.
func runTxn(ctx context.Context, mgr *txn.Manager, tx *txn.Txn, fn func(*txn.Txn) error) error {
	if tx != nil {
		return fn(tx)
	}
	var lastErr error
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		t, err := mgr.Begin(ctx)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			mgr.Abort(t)
			return err
		}
		if err := mgr.Commit(ctx, t); err != nil {
			if errs.Is(err, errs.Conflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// key builds the composite key for a KV entry.
func key(runID uuid.UUID, userKey []byte) types.Key {
	return types.NewKey(runID, types.TagKV, userKey)
}

// Put writes value at key, staging an EntryKVPut record. ttl of 0 means no
// expiry. If tx is non-nil the write joins that transaction instead of
// committing on its own.
func Put(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, userKey []byte, value types.Value, ttl time.Duration) error {
	k := key(runID, userKey)
	return runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		return t.Put(k, value, ttl, walog.EntryKVPut)
	})
}

// Get returns the latest live value and version for key, honoring tx's
// read-your-writes view if supplied.
func Get(store *Store, tx *txn.Txn, runID uuid.UUID, userKey []byte) (types.Value, types.Version, bool, error) {
	k := key(runID, userKey)
	if tx != nil {
		v, found, err := tx.Get(k)
		if err != nil || !found {
			return types.Value{}, types.Version{}, found, err
		}
		return v.Value, v.Version, true, nil
	}
	v, found := store.store.Get(k)
	return v.Value, v.Version, found, nil
}

// GetAt returns the value visible at or before the given version, or
// not-found if the key was absent or tombstoned at that horizon.
func GetAt(store *Store, runID uuid.UUID, userKey []byte, version uint64) (types.Value, types.Version, bool) {
	k := key(runID, userKey)
	v, found := store.store.GetAt(k, version)
	return v.Value, v.Version, found
}

// History returns up to limit versions of key, newest first, optionally
// bounded to those committed strictly before the before version (0 means
// unbounded).
func History(store *Store, runID uuid.UUID, userKey []byte, limit int, before uint64) []HistoryEntry {
	k := key(runID, userKey)
	raw := store.store.GetHistory(k, limit, before)
	out := make([]HistoryEntry, len(raw))
	for i, h := range raw {
		out[i] = HistoryEntry{Version: h.Version, Timestamp: h.Timestamp, Value: h.Value, Tombstone: h.Tombstone}
	}
	return out
}

// Delete tombstones key.
func Delete(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, userKey []byte) error {
	k := key(runID, userKey)
	return runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		return t.Delete(k, walog.EntryKVDelete)
	})
}

// CasVersion swaps key's value to newValue only if its current version
// equals expected (a Txn-kind version, as returned by Get/Put).
func CasVersion(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, userKey []byte, expected types.Version, newValue types.Value) error {
	k := key(runID, userKey)
	return runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		return t.Cas(k, &expected, nil, newValue, walog.EntryKVPut)
	})
}

// CasValue swaps key's value to newValue only if its current value
// structurally equals expected.
func CasValue(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, userKey []byte, expected types.Value, newValue types.Value) error {
	k := key(runID, userKey)
	return runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		return t.Cas(k, nil, &expected, newValue, walog.EntryKVPut)
	})
}

// Incr atomically adds delta to the integer stored at key (treating an
// absent key as 0) and returns the resulting value. Implemented as a
// read-modify-write under the façade's own retry loop: the read is
// recorded into the transaction's read_set, so a concurrent writer forces
// a ReadWrite conflict and a retry rather than a lost update.
func Incr(ctx context.Context, store *Store, runID uuid.UUID, userKey []byte, delta int64) (int64, error) {
	k := key(runID, userKey)
	var result int64
	err := runTxn(ctx, store.mgr, nil, func(t *txn.Txn) error {
		cur, found, err := t.Get(k)
		if err != nil {
			return err
		}
		var n int64
		if found {
			if cur.Value.Kind() != types.KindInt {
				return errs.New(errs.ConstraintViolation, "kv.incr", "value is not an integer").WithKey(k)
			}
			n = cur.Value.AsInt()
		}
		result = n + delta
		return t.Put(k, types.Int(result), 0, walog.EntryKVPut)
	})
	return result, err
}

// HistoryEntry mirrors storage.HistoryEntry, re-exported so callers need
// not import pkg/storage for a KV-only program.
type HistoryEntry struct {
	Version   types.Version
	Timestamp types.Timestamp
	Value     types.Value
	Tombstone bool
}
