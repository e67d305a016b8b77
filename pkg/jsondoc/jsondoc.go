// Package jsondoc implements the JSON primitive façade named in spec §1:
// a document store with path-level operations over the same Value tree
// every other primitive uses, so a JSON document is just a KindMap Value
// addressed with a dot/bracket path instead of a flat key.
package jsondoc

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

func docKey(runID uuid.UUID, docID []byte) types.Key {
	return types.NewKey(runID, types.TagJSON, docID)
}

func readDoc(t *txn.Txn, k types.Key) (types.Value, bool, error) {
	v, found, err := t.Get(k)
	if err != nil {
		return types.Value{}, false, err
	}
	if !found {
		return types.Null(), false, nil
	}
	return v.Value, true, nil
}

// Set writes value at path within docID, creating the document (and any
// intermediate maps/arrays path names) if it does not already exist.
func Set(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, docID []byte, path string, value types.Value) error {
	ops, err := parsePath(path)
	if err != nil {
		return errs.Wrap(errs.InvalidKey, "jsondoc.set", err)
	}
	k := docKey(runID, docID)
	return runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		doc, existed, err := readDoc(t, k)
		if err != nil {
			return err
		}
		next, err := setPath(doc, ops, value)
		if err != nil {
			return errs.Wrap(errs.ConstraintViolation, "jsondoc.set", err)
		}
		entryType := walog.EntryJSONSetPath
		if !existed {
			entryType = walog.EntryJSONCreateDoc
		}
		return t.Put(k, next, 0, entryType)
	})
}

// Get reads the value at path within docID ("" means the whole document).
func Get(store *Store, tx *txn.Txn, runID uuid.UUID, docID []byte, path string) (types.Value, bool, error) {
	ops, err := parsePath(path)
	if err != nil {
		return types.Value{}, false, errs.Wrap(errs.InvalidKey, "jsondoc.get", err)
	}
	k := docKey(runID, docID)

	var doc types.Value
	var found bool
	if tx != nil {
		v, f, err := tx.Get(k)
		if err != nil {
			return types.Value{}, false, err
		}
		doc, found = v.Value, f
	} else {
		v, f := store.store.Get(k)
		doc, found = v.Value, f
	}
	if !found {
		return types.Value{}, false, nil
	}
	value, ok := getPath(doc, ops)
	return value, ok, nil
}

// Exists reports whether path is present within docID.
func Exists(store *Store, tx *txn.Txn, runID uuid.UUID, docID []byte, path string) bool {
	_, found, err := Get(store, tx, runID, docID, path)
	return err == nil && found
}

// Del removes the value at path within docID ("" deletes the whole
// document, tombstoning its key rather than rewriting it as an empty map).
func Del(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, docID []byte, path string) error {
	k := docKey(runID, docID)
	if path == "" {
		return runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
			return t.Delete(k, walog.EntryJSONDeleteDoc)
		})
	}
	ops, err := parsePath(path)
	if err != nil {
		return errs.Wrap(errs.InvalidKey, "jsondoc.del", err)
	}
	return runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		doc, found, err := readDoc(t, k)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		next, err := delPath(doc, ops)
		if err != nil {
			return errs.Wrap(errs.ConstraintViolation, "jsondoc.del", err)
		}
		return t.Put(k, next, 0, walog.EntryJSONDeletePath)
	})
}

// Merge applies an RFC 7396 JSON Merge Patch to the whole document,
// creating it if absent.
func Merge(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, docID []byte, patch types.Value) error {
	k := docKey(runID, docID)
	return runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		doc, existed, err := readDoc(t, k)
		if err != nil {
			return err
		}
		merged := mergePatch(doc, patch)
		entryType := walog.EntryJSONSetPath
		if !existed {
			entryType = walog.EntryJSONCreateDoc
		}
		return t.Put(k, merged, 0, entryType)
	})
}
