// pkg/txn/txn.go
package txn

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"strata/pkg/errs"
	"strata/pkg/storage"
	"strata/pkg/types"
	"strata/pkg/walog"
)

// State is the transaction lifecycle state. Aborted and Committed are
// terminal; any operation against a non-Active context beyond Commit/Abort
// itself fails with InvalidState.
type State int

const (
	StateActive State = iota
	StateValidating
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateValidating:
		return "validating"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type pendingWrite struct {
	value     types.Value
	ttl       time.Duration
	entryType walog.EntryType
}

type pendingDelete struct {
	entryType walog.EntryType
}

// casRequest is one staged compare-and-swap: at most one of expectVersion /
// expectValue is set (the spec's "expected_version | expected_value"); both
// nil means create only if absent.
type casRequest struct {
	key           types.Key
	expectVersion *types.Version
	expectValue   *types.Value
	newValue      types.Value
	entryType     walog.EntryType
}

// Txn is one OCC transaction context: a snapshot plus the four staging
// buffers named in spec §4.3 (read_set, write_set, delete_set, cas_set).
// Grounded on mjm918-tur/pkg/mvcc.Transaction, generalized from a single
// []byte-keyed modification log to per-purpose types.Key-keyed maps.
type Txn struct {
	mu sync.Mutex

	id       uint64
	mgr      *Manager
	snapshot *storage.Snapshot
	state    State

	readSet     map[string]uint64 // keyBytes -> observed version
	writeSet    map[string]pendingWrite
	deleteSet   map[string]pendingDelete
	casSet      []casRequest
	keysByStr   map[string]types.Key // keyBytes -> Key, for every set above
	extraRecs   []walog.Record       // primitive payloads with no storage mutation of their own (e.g. a pure append-log entry)
	scannedRuns map[uuid.UUID]map[string]struct{} // run_id -> key set observed by ScanByRun, for phantom detection
}

// ID returns the transaction's locally-unique identifier.
func (tx *Txn) ID() uint64 { return tx.id }

// State returns the current lifecycle state.
func (tx *Txn) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *Txn) requireActive(op string) error {
	if tx.state != StateActive {
		return errs.New(errs.InvalidState, op, "transaction is not active")
	}
	return nil
}

// Get reads a key honoring read-your-writes: the write_set and delete_set
// are consulted before falling back to the transaction's pinned snapshot.
// A version observed from the snapshot is recorded into read_set, unless
// shadowed by a local write.
func (tx *Txn) Get(key types.Key) (types.Versioned[types.Value], bool, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive("txn.get"); err != nil {
		return types.Versioned[types.Value]{}, false, err
	}

	kb := string(key.Bytes())
	if _, deleted := tx.deleteSet[kb]; deleted {
		return types.Versioned[types.Value]{}, false, nil
	}
	if w, ok := tx.writeSet[kb]; ok {
		return types.Versioned[types.Value]{Value: w.value, Version: types.Txn(tx.snapshot.Version()), Timestamp: nowMicros()}, true, nil
	}

	v, found := tx.snapshot.Get(key)
	if found {
		tx.readSet[kb] = v.Version.N
		tx.keysByStr[kb] = key
	}
	return v, found, nil
}

// ScanByRun scans this transaction's pinned snapshot for every key under
// run_id, for façades that need to enumerate a run's data (e.g. run
// cascade delete). The observed key set is recorded for phantom detection:
// at commit, validate() re-scans the same prefix against live state and
// conflicts if any key has appeared there since, per spec's phantom
// prevention requirement for prefix/run scans.
func (tx *Txn) ScanByRun(runID uuid.UUID) []storage.KeyedVersioned {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	entries := tx.snapshot.ScanByRun(runID)
	seen, ok := tx.scannedRuns[runID]
	if !ok {
		seen = make(map[string]struct{}, len(entries))
		tx.scannedRuns[runID] = seen
	}
	for _, e := range entries {
		seen[string(e.Key.Bytes())] = struct{}{}
	}
	return entries
}

// Put stages a value write. entryType selects the WAL record type the
// façade wants this mutation logged as (e.g. EntryKVPut vs EntryRunCreate).
func (tx *Txn) Put(key types.Key, value types.Value, ttl time.Duration, entryType walog.EntryType) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive("txn.put"); err != nil {
		return err
	}
	if ok, reason := types.ValidateUserKey(key.User); !ok {
		return errs.New(errs.InvalidKey, "txn.put", reason).WithKey(key)
	}
	kb := string(key.Bytes())
	delete(tx.deleteSet, kb)
	tx.writeSet[kb] = pendingWrite{value: value, ttl: ttl, entryType: entryType}
	tx.keysByStr[kb] = key
	return nil
}

// PutRaw stages a value write without the user-key validation Put applies.
// Façades use it for keys they build themselves (event entries and the
// reserved-prefix event cursor, run registry records, vector collection
// configs and records), which may use the reserved prefix or bytes a caller's own keys
// cannot contain.
func (tx *Txn) PutRaw(key types.Key, value types.Value, ttl time.Duration, entryType walog.EntryType) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive("txn.put"); err != nil {
		return err
	}
	kb := string(key.Bytes())
	delete(tx.deleteSet, kb)
	tx.writeSet[kb] = pendingWrite{value: value, ttl: ttl, entryType: entryType}
	tx.keysByStr[kb] = key
	return nil
}

// Delete stages a tombstone write.
func (tx *Txn) Delete(key types.Key, entryType walog.EntryType) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive("txn.delete"); err != nil {
		return err
	}
	kb := string(key.Bytes())
	delete(tx.writeSet, kb)
	tx.deleteSet[kb] = pendingDelete{entryType: entryType}
	tx.keysByStr[kb] = key
	return nil
}

// Cas stages a compare-and-swap request: at most one of expectVersion /
// expectValue is non-nil; with both nil the swap succeeds only if the key
// is absent. The new value is applied only if the
// expectation still holds at commit_version-1 during validation.
func (tx *Txn) Cas(key types.Key, expectVersion *types.Version, expectValue *types.Value, newValue types.Value, entryType walog.EntryType) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive("txn.cas"); err != nil {
		return err
	}
	tx.casSet = append(tx.casSet, casRequest{
		key:           key,
		expectVersion: expectVersion,
		expectValue:   expectValue,
		newValue:      newValue,
		entryType:     entryType,
	})
	tx.keysByStr[string(key.Bytes())] = key
	return nil
}

// StageRecord appends an extra WAL record to this transaction's commit
// burst that carries no storage mutation of its own (used by pkg/event for
// the append-only stream record once the KV-shaped position entry has
// already been staged via Put).
func (tx *Txn) StageRecord(rec walog.Record) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive("txn.stage"); err != nil {
		return err
	}
	tx.extraRecs = append(tx.extraRecs, rec)
	return nil
}

func nowMicros() types.Timestamp {
	return types.Timestamp(time.Now().UnixMicro())
}
