// Package recovery rebuilds pkg/storage's in-memory state from the
// on-disk MANIFEST, an optional snapshot checkpoint, and the WAL segments
// written since that checkpoint. It runs once, synchronously, before
// pkg/engine accepts any primitive call.
//
// The teacher has no standalone recovery package: mjm918-tur/pkg/pager
// replays its own page-frame WAL inline (pkg/pager/corruption.go's
// truncate-on-bad-frame logic, exercised by wal_integration_test.go).
// This package generalizes that shape — decode records until the first
// one that doesn't cleanly decode, then truncate the WAL there — from a
// page-frame format to Strata's segmented, typed-record one.
package recovery

import (
	"path/filepath"
	"time"

	"strata/pkg/errs"
	"strata/pkg/manifest"
	"strata/pkg/snapshot"
	"strata/pkg/storage"
	"strata/pkg/txn"
	"strata/pkg/walog"
)

// Result summarizes what recovery did, for startup logging.
type Result struct {
	Manifest        manifest.Manifest
	SnapshotLoaded  bool
	AppliedTxns     int
	DiscardedTxns   int
	LastOffset      walog.Offset
}

// putLikeEntries are the WAL record types whose payload decodes via
// txn.DecodePutPayload (a key, a version, a TTL, and a types.Value), i.e.
// every primitive mutation that is conceptually "store this value".
var putLikeEntries = map[walog.EntryType]bool{
	walog.EntryKVPut:                 true,
	walog.EntryJSONSetPath:           true,
	walog.EntryJSONCreateDoc:         true,
	walog.EntryEventAppend:           true,
	walog.EntryStateCasSet:           true,
	walog.EntryStateInit:             true,
	walog.EntryRunCreate:             true,
	walog.EntryRunTransition:         true,
	walog.EntryRunMetadata:           true,
	walog.EntryRunTags:               true,
	walog.EntryVectorUpsert:          true,
	walog.EntryVectorCreateCollection: true,
}

// deleteLikeEntries are the WAL record types whose payload decodes via
// txn.DecodeDeletePayload (a key and a version, no value).
var deleteLikeEntries = map[walog.EntryType]bool{
	walog.EntryKVDelete:           true,
	walog.EntryJSONDeletePath:     true,
	walog.EntryJSONDeleteDoc:      true,
	walog.EntryRunDelete:          true,
	walog.EntryVectorDelete:       true,
	walog.EntryVectorDropCollection: true,
}

// Recover reads root's MANIFEST, optionally loads the snapshot it names,
// then replays root/wal's segments into store. It is idempotent: running
// it twice over the same on-disk state produces the same store contents
// (testable property 4, recovery-equivalence).
func Recover(root string, store *storage.Store, snapshotOnOpen bool) (Result, error) {
	m, err := manifest.Read(root)
	if err != nil {
		return Result{}, err
	}

	var baseline uint64
	snapshotLoaded := false
	if snapshotOnOpen && m.SnapshotID != 0 {
		path := snapshot.Path(root, m.SnapshotID)
		if err := snapshot.Load(path, store); err != nil {
			return Result{}, err
		}
		baseline = m.Watermark
		store.ObserveVersion(m.Watermark)
		snapshotLoaded = true
	}

	walDir := filepath.Join(root, "wal")
	pending := make(map[uint64][]walog.Record)
	var currentTxn uint64
	applied := 0

	lastOffset, iterErr := walog.IterateFrom(walDir, walog.Offset{Segment: 1, Pos: 0}, func(off walog.Offset, rec walog.Record) error {
		switch rec.Type {
		case walog.EntryBeginTxn:
			txID, _, err := txn.DecodeTxnMarker(rec.Payload)
			if err != nil {
				return err
			}
			currentTxn = txID
			pending[txID] = nil

		case walog.EntryCommitTxn:
			txID, commitVersion, err := txn.DecodeTxnMarker(rec.Payload)
			if err != nil {
				return err
			}
			recs := pending[txID]
			delete(pending, txID)
			if err := applyBurst(store, recs, commitVersion, baseline); err != nil {
				return err
			}
			applied++

		case walog.EntryAbortTxn:
			txID, _, err := txn.DecodeTxnMarker(rec.Payload)
			if err == nil {
				delete(pending, txID)
			}

		case walog.EntryCheckpoint:
			// Informational marker only; nothing to replay.

		default:
			pending[currentTxn] = append(pending[currentTxn], rec)
		}
		return nil
	})
	if iterErr != nil {
		return Result{}, iterErr
	}

	// Whatever IterateFrom could not cleanly decode past lastOffset is
	// truncated away, whether that was a genuine CRC/length failure or
	// simply the end of a well-formed file. This is a no-op when the WAL
	// is already clean.
	if err := walog.Truncate(walDir, lastOffset); err != nil {
		return Result{}, err
	}

	return Result{
		Manifest:       m,
		SnapshotLoaded: snapshotLoaded,
		AppliedTxns:    applied,
		DiscardedTxns:  len(pending),
		LastOffset:     lastOffset,
	}, nil
}

// applyBurst applies one committed transaction's staged records to store,
// in the order they were logged. Records whose embedded version is at or
// below baseline are skipped: a loaded snapshot already reflects them.
func applyBurst(store *storage.Store, recs []walog.Record, commitVersion uint64, baseline uint64) error {
	if commitVersion <= baseline {
		return nil
	}
	for _, rec := range recs {
		switch {
		case putLikeEntries[rec.Type]:
			key, version, ttlMicros, value, err := txn.DecodePutPayload(rec.Payload)
			if err != nil {
				return err
			}
			if version <= baseline {
				continue
			}
			ttl := time.Duration(ttlMicros) * time.Microsecond
			if err := store.Put(key, value, version, ttl); err != nil {
				return err
			}

		case deleteLikeEntries[rec.Type]:
			key, version, err := txn.DecodeDeletePayload(rec.Payload)
			if err != nil {
				return err
			}
			if version <= baseline {
				continue
			}
			if _, err := store.Delete(key, version); err != nil {
				return err
			}

		default:
			return errs.New(errs.Corruption, "recovery.apply", "unrecognized WAL record type during replay")
		}
	}
	return nil
}
