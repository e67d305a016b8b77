// Package state implements the State primitive façade named in spec §1:
// a compare-and-swap cell versioned by a per-entity Counter rather than
// the substrate's own commit-version numbering.
//
// The substrate only ever stamps KindTxn versions onto a chain entry
// (pkg/storage.toVersioned), so a Counter that increments once per
// successful write cannot be read off the stored version directly. State
// instead wraps the caller's value in a small envelope carrying its own
// counter, and drives a plain read-then-write transaction whose
// read_set/write_set tracking gives the CAS its atomicity: a concurrent
// writer that touches the same key forces a ReadWrite conflict and a
// retry, exactly as a dedicated CAS would.
package state

import (
	"context"

	"github.com/google/uuid"
	"strata/pkg/errs"
	"strata/pkg/storage"
	"strata/pkg/txn"
	"strata/pkg/types"
	"strata/pkg/walog"
)

type Store struct {
	store *storage.Store
	mgr   *txn.Manager
}

func New(store *storage.Store, mgr *txn.Manager) *Store {
	return &Store{store: store, mgr: mgr}
}

const maxCommitRetries = 8

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

const envelopeValueField = "value"
const envelopeCounterField = "counter"

func key(runID uuid.UUID, name []byte) types.Key {
	return types.NewKey(runID, types.TagState, name)
}

func wrap(counter int64, value types.Value) types.Value {
	return types.Map(map[string]types.Value{
		envelopeCounterField: types.Int(counter),
		envelopeValueField:   value,
	})
}

func unwrap(envelope types.Value) (value types.Value, counter uint64) {
	m := envelope.AsMap()
	return m[envelopeValueField], uint64(m[envelopeCounterField].AsInt())
}

// Get returns the current value and its Counter version.
func Get(store *Store, tx *txn.Txn, runID uuid.UUID, name []byte) (types.Value, types.Version, bool, error) {
	k := key(runID, name)
	var envelope types.Versioned[types.Value]
	var found bool
	var err error
	if tx != nil {
		envelope, found, err = tx.Get(k)
	} else {
		v, f := store.store.Get(k)
		envelope, found = v, f
	}
	if err != nil || !found {
		return types.Value{}, types.Version{}, found, err
	}
	value, counter := unwrap(envelope.Value)
	return value, types.Counter(counter), true, nil
}

// Set unconditionally writes value, bumping the counter by one (creating
// the cell at counter 1 if it did not already exist).
func Set(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, name []byte, value types.Value) (types.Version, error) {
	k := key(runID, name)
	var assigned uint64
	err := runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		cur, found, err := t.Get(k)
		if err != nil {
			return err
		}
		var counter uint64
		if found {
			_, counter = unwrap(cur.Value)
		}
		assigned = counter + 1
		return t.Put(k, wrap(int64(assigned), value), 0, walog.EntryStateCasSet)
	})
	if err != nil {
		return types.Version{}, err
	}
	return types.Counter(assigned), nil
}

// Cas writes newValue only if the cell's current counter equals
// *expectedCounter, or — when expectedCounter is nil — only if the cell
// does not yet exist ("create only if absent", spec §6's None-expected
// semantics).
func Cas(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, name []byte, expectedCounter *uint64, newValue types.Value) (types.Version, error) {
	k := key(runID, name)
	var assigned uint64
	err := runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		cur, found, err := t.Get(k)
		if err != nil {
			return err
		}

		var counter uint64
		if found {
			_, counter = unwrap(cur.Value)
		}

		switch {
		case expectedCounter == nil:
			if found {
				return errs.NewConflict("state.cas", errs.Cas, []types.Key{k})
			}
		default:
			if !found || counter != *expectedCounter {
				return errs.NewConflict("state.cas", errs.Cas, []types.Key{k})
			}
		}

		assigned = counter + 1
		entryType := walog.EntryStateCasSet
		if !found {
			entryType = walog.EntryStateInit
		}
		return t.Put(k, wrap(int64(assigned), newValue), 0, entryType)
	})
	if err != nil {
		return types.Version{}, err
	}
	return types.Counter(assigned), nil
}
