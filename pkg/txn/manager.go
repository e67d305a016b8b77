// pkg/txn/manager.go
package txn

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"strata/pkg/errs"
	"strata/pkg/storage"
	"strata/pkg/strlog"
	"strata/pkg/types"
	"strata/pkg/walog"
)

// Stats mirrors the counters mjm918-tur/pkg/turdb/pool.go tracks for its
// connection pool (TotalGets/TotalCreated/HitCount), repointed here at
// *Txn allocation instead of *sql.Conn checkout.
type Stats struct {
	TotalGets    int64
	TotalCreated int64
	HitCount     int64
}

// Manager is pkg/txn's transaction manager: it owns the commit critical
// section and the sync.Pool-backed Txn allocator. Grounded on
// mjm918-tur/pkg/mvcc.TransactionManager (atomic txn-id/timestamp
// reservation, the commit/rollback entry points) generalized so conflict
// detection operates on types.Key-keyed sets against the storage.Store's
// own chain versions rather than a separate in-memory lock table — the
// single global commitMu (resolved Open Question 2, see DESIGN.md) makes a
// second lock table redundant.
type Manager struct {
	store *storage.Store
	wal   *walog.Writer

	nextTxID uint64

	commitMu sync.Mutex

	pool sync.Pool

	statsMu sync.Mutex
	stats   Stats
}

// NewManager creates a transaction manager over the given store and WAL.
func NewManager(store *storage.Store, wal *walog.Writer) *Manager {
	m := &Manager{store: store, wal: wal}
	m.pool = sync.Pool{New: func() any {
		atomic.AddInt64(&m.stats.TotalCreated, 1)
		return &Txn{}
	}}
	return m
}

// Stats returns a snapshot of pool/usage counters.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// Begin allocates a txn_id, pins a snapshot, and initializes empty tracking
// sets. Completes in O(1) against the store: it never copies the index.
// ctx is checked for cancellation before and after taking a Txn from the
// pool, both before the snapshot is pinned, mirroring mjm918-tur/pkg/turdb.DB.BeginContext's double check.
func (m *Manager) Begin(ctx context.Context) (*Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.Internal, "txn.begin", err)
	}

	m.statsMu.Lock()
	m.stats.TotalGets++
	pooledFromIdle := false
	m.statsMu.Unlock()

	raw := m.pool.Get()
	tx, _ := raw.(*Txn)
	if tx.mgr != nil {
		pooledFromIdle = true
	}
	if pooledFromIdle {
		m.statsMu.Lock()
		m.stats.HitCount++
		m.statsMu.Unlock()
	}

	if err := ctx.Err(); err != nil {
		m.pool.Put(tx)
		return nil, errs.Wrap(errs.Internal, "txn.begin", err)
	}

	tx.id = atomic.AddUint64(&m.nextTxID, 1)
	tx.mgr = m
	tx.snapshot = m.store.Snapshot()
	tx.state = StateActive
	tx.readSet = make(map[string]uint64)
	tx.writeSet = make(map[string]pendingWrite)
	tx.deleteSet = make(map[string]pendingDelete)
	tx.casSet = nil
	tx.keysByStr = make(map[string]types.Key)
	tx.extraRecs = nil
	tx.scannedRuns = make(map[uuid.UUID]map[string]struct{})

	return tx, nil
}

// release returns a finished Txn to the pool after unpinning its snapshot.
func (m *Manager) release(tx *Txn) {
	tx.snapshot.Release()
	m.pool.Put(tx)
}

// Abort discards every staged buffer and transitions the transaction to
// Aborted. Safe to call from any active state.
func (m *Manager) Abort(tx *Txn) error {
	tx.mu.Lock()
	if tx.state != StateActive && tx.state != StateValidating {
		tx.mu.Unlock()
		return nil
	}
	tx.state = StateAborted
	tx.mu.Unlock()

	m.release(tx)
	return nil
}

// Commit runs the five-phase protocol from spec §4.3: Freeze, Assign
// commit_version, Validate, Log, Apply. ctx is checked between phases 1-4
// only; once phase 4 durably appends CommitTxn the commit is irrevocable.
func (m *Manager) Commit(ctx context.Context, tx *Txn) error {
	tx.mu.Lock()
	if tx.state != StateActive {
		tx.mu.Unlock()
		return errs.New(errs.InvalidState, "txn.commit", "transaction is not active")
	}
	// Phase 1: Freeze.
	tx.state = StateValidating
	tx.mu.Unlock()

	if err := ctx.Err(); err != nil {
		m.Abort(tx)
		return errs.Wrap(errs.Internal, "txn.commit", err)
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	// Phase 2: Assign commit_version.
	commitVersion := m.store.ReserveVersion()

	if err := ctx.Err(); err != nil {
		m.abortLocked(tx)
		return errs.Wrap(errs.Internal, "txn.commit", err)
	}

	// Phase 3: Validate.
	if conflictErr := m.validate(tx, commitVersion); conflictErr != nil {
		m.abortLocked(tx)
		return conflictErr
	}

	if err := ctx.Err(); err != nil {
		m.abortLocked(tx)
		return errs.Wrap(errs.Internal, "txn.commit", err)
	}

	// Phase 4: Log.
	if err := m.logCommit(tx, commitVersion); err != nil {
		m.abortLocked(tx)
		return err
	}

	// Phase 5: Apply. No cancellation check follows phase 4: the commit
	// record is durable, so the commit is already irrevocable.
	m.apply(tx, commitVersion)

	tx.mu.Lock()
	tx.state = StateCommitted
	tx.mu.Unlock()
	m.release(tx)
	return nil
}

func (m *Manager) abortLocked(tx *Txn) {
	tx.mu.Lock()
	tx.state = StateAborted
	tx.mu.Unlock()
	m.release(tx)
}

// validate implements §4.3's three validation sub-steps. Called with
// commitMu held, so "current" state cannot change underneath it.
func (m *Manager) validate(tx *Txn, commitVersion uint64) error {
	var conflictKeys []types.Key

	for kb, observed := range tx.readSet {
		key := tx.keysByStr[kb]
		current, found := m.store.Get(key)
		var currentVersion uint64
		if found {
			currentVersion = current.Version.N
		}
		if currentVersion > observed {
			conflictKeys = append(conflictKeys, key)
		}
	}
	// Phantom prevention: any key that now exists under a run_id prefix this
	// txn scanned via ScanByRun, but that wasn't part of the observed set at
	// scan time, is a concurrent insertion into the same range (spec §5/§8
	// scenario 6). Reported as ReadWrite since it invalidates a read (the
	// scan), not a write this txn staged.
	for runID, seen := range tx.scannedRuns {
		live := m.store.ScanByRun(runID, commitVersion)
		for _, kv := range live {
			kb := string(kv.Key.Bytes())
			if _, ok := seen[kb]; !ok {
				conflictKeys = append(conflictKeys, kv.Key)
			}
		}
	}
	if len(conflictKeys) > 0 {
		return errs.NewConflict("txn.commit", errs.ReadWrite, conflictKeys)
	}

	startVersion := tx.snapshot.Version()
	for kb := range tx.writeSet {
		key := tx.keysByStr[kb]
		if head := currentHeadVersion(m.store, key); head > startVersion {
			conflictKeys = append(conflictKeys, key)
		}
	}
	for kb := range tx.deleteSet {
		key := tx.keysByStr[kb]
		if head := currentHeadVersion(m.store, key); head > startVersion {
			conflictKeys = append(conflictKeys, key)
		}
	}
	if len(conflictKeys) > 0 {
		return errs.NewConflict("txn.commit", errs.WriteWrite, conflictKeys)
	}

	for _, cas := range tx.casSet {
		current, found := m.store.Get(cas.key)
		ok := true
		switch {
		case cas.expectVersion != nil:
			if !found {
				ok = false
			} else {
				ok = current.Version.Kind == cas.expectVersion.Kind && current.Version.N == cas.expectVersion.N
			}
		case cas.expectValue != nil:
			ok = found && current.Value.Equal(*cas.expectValue)
		default:
			// "create only if absent": expectation is that no live value exists.
			ok = !found
		}
		if !ok {
			return errs.NewConflict("txn.commit", errs.Cas, []types.Key{cas.key})
		}
	}

	return nil
}

func currentHeadVersion(store *storage.Store, key types.Key) uint64 {
	v, found := store.Get(key)
	if !found {
		// A tombstoned or never-written key still has a head version in
		// the chain; Get only reports live values, so fall back to
		// GetHistory's newest entry (tombstone included) for the true head.
		hist := store.GetHistory(key, 1, 0)
		if len(hist) == 0 {
			return 0
		}
		return hist[0].Version.N
	}
	return v.Version.N
}

// logCommit appends BeginTxn, one record per staged mutation, then
// CommitTxn. Mutations are logged grouped by kind (writes, deletes, CAS,
// then façade extra records); writes, deletes and CAS are not kept in
// the order they were staged, and writes and deletes follow map iteration
// order. Flushing per the writer's configured durability
// mode (handled inside walog.Writer.Append itself).
func (m *Manager) logCommit(tx *Txn, commitVersion uint64) error {
	if _, err := m.wal.Append(walog.Record{Type: walog.EntryBeginTxn, Payload: encodeTxnMarker(tx.id, commitVersion)}); err != nil {
		return err
	}

	for kb, w := range tx.writeSet {
		key := tx.keysByStr[kb]
		payload := encodePutPayload(key, commitVersion, uint64(w.ttl.Microseconds()), w.value)
		if _, err := m.wal.Append(walog.Record{Type: w.entryType, Payload: payload}); err != nil {
			return err
		}
	}
	for kb, d := range tx.deleteSet {
		key := tx.keysByStr[kb]
		payload := encodeDeletePayload(key, commitVersion)
		if _, err := m.wal.Append(walog.Record{Type: d.entryType, Payload: payload}); err != nil {
			return err
		}
	}
	for _, cas := range tx.casSet {
		payload := encodePutPayload(cas.key, commitVersion, 0, cas.newValue)
		if _, err := m.wal.Append(walog.Record{Type: cas.entryType, Payload: payload}); err != nil {
			return err
		}
	}
	for _, rec := range tx.extraRecs {
		if _, err := m.wal.Append(rec); err != nil {
			return err
		}
	}

	if _, err := m.wal.Append(walog.Record{Type: walog.EntryCommitTxn, Payload: encodeTxnMarker(tx.id, commitVersion)}); err != nil {
		return err
	}
	return nil
}

// apply atomically appends every staged mutation into the substrate's
// version chains at commitVersion. All-or-nothing from a reader's point of
// view because every chain append happens before commitMu is released, and
// no reader can pin a snapshot at exactly commitVersion until then.
func (m *Manager) apply(tx *Txn, commitVersion uint64) {
	log := strlog.WithComponent(strlog.ComponentTxn)

	for kb, w := range tx.writeSet {
		key := tx.keysByStr[kb]
		if err := m.store.Put(key, w.value, commitVersion, w.ttl); err != nil {
			log.Error().Err(err).Str("key", kb).Msg("apply: put failed after successful validation")
		}
	}
	for kb := range tx.deleteSet {
		key := tx.keysByStr[kb]
		if _, err := m.store.Delete(key, commitVersion); err != nil {
			log.Error().Err(err).Str("key", kb).Msg("apply: delete failed after successful validation")
		}
	}
	for _, cas := range tx.casSet {
		if err := m.store.Put(cas.key, cas.newValue, commitVersion, 0); err != nil {
			log.Error().Err(err).Msg("apply: cas put failed after successful validation")
		}
	}
}

func encodeTxnMarker(txID, commitVersion uint64) []byte {
	buf := make([]byte, 16)
	putUint64(buf[0:8], txID)
	putUint64(buf[8:16], commitVersion)
	return buf
}

// DecodeTxnMarker decodes a BeginTxn/CommitTxn/AbortTxn marker payload back
// into its (txn_id, commit_version) pair, for pkg/recovery.
func DecodeTxnMarker(buf []byte) (txID, commitVersion uint64, err error) {
	if len(buf) < 16 {
		return 0, 0, errs.New(errs.Corruption, "txn.decodeMarker", "truncated txn marker")
	}
	return getUint64(buf[0:8]), getUint64(buf[8:16]), nil
}

func getUint64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}
