// Package event implements the Event primitive façade named in spec §1:
// an append-only log with hash chaining. Per spec §9's explicitly
// sanctioned simplification, named streams share one per-run sequence
// space; Range post-filters by the stream tag carried in each entry
// rather than maintaining a (run, stream) secondary index.
package event

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/google/uuid"
	"strata/pkg/errs"
	"strata/pkg/storage"
	"strata/pkg/txn"
	"strata/pkg/types"
	"strata/pkg/walog"
)

// Store bundles the storage substrate and transaction manager this façade
// needs, mirroring pkg/kv.Store.
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

// cursorKeyName is reserved (starts with types.ReservedKeyPrefix) so it can
// never collide with an event's own 8-byte big-endian sequence key.
const cursorKeyName = types.ReservedKeyPrefix + "event_cursor"

const cursorFieldSeq = "next_seq"
const cursorFieldHash = "last_hash"

func cursorKey(runID uuid.UUID) types.Key {
	return types.NewKey(runID, types.TagEvent, []byte(cursorKeyName))
}

func seqKey(runID uuid.UUID, seq uint64) types.Key {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return types.NewKey(runID, types.TagEvent, buf)
}

// isCursorKey reports whether a scanned event-tagged key is the internal
// cursor rather than a real event (the cursor's user_key is the reserved
// name string; every real event's user_key is exactly 8 bytes).
func isCursorKey(k types.Key) bool {
	return len(k.User) != 8
}

// chainHash computes the SHA-256 of the encoded payload concatenated with
// the previous event's hash in the same run (prev-hash-over-payload, the
// simplest chain construction satisfying spec §1's "hash chaining" since
// the exact construction is otherwise unspecified).
func chainHash(payload types.Value, prevHash []byte) []byte {
	h := sha256.New()
	h.Write(types.EncodeValue(payload))
	h.Write(prevHash)
	return h.Sum(nil)
}

// Append writes payload to stream, assigning it the next position in
// run's sequence space, and returns the Sequence-kind version it was
// assigned.
func Append(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, stream string, payload types.Value) (types.Version, error) {
	ck := cursorKey(runID)
	var assigned uint64

	err := runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		var nextSeq uint64
		var prevHash []byte
		cur, found, err := t.Get(ck)
		if err != nil {
			return err
		}
		if found {
			m := cur.Value.AsMap()
			nextSeq = uint64(m[cursorFieldSeq].AsInt())
			prevHash = m[cursorFieldHash].AsBytes()
		}

		hash := chainHash(payload, prevHash)
		entry := types.Map(map[string]types.Value{
			"stream":    types.String(stream),
			"payload":   payload,
			"prev_hash": types.Bytes(prevHash),
			"hash":      types.Bytes(hash),
		})
		if err := t.PutRaw(seqKey(runID, nextSeq), entry, 0, walog.EntryEventAppend); err != nil {
			return err
		}

		newCursor := types.Map(map[string]types.Value{
			cursorFieldSeq:  types.Int(int64(nextSeq) + 1),
			cursorFieldHash: types.Bytes(hash),
		})
		if err := t.PutRaw(ck, newCursor, 0, walog.EntryEventAppend); err != nil {
			return err
		}

		assigned = nextSeq
		return nil
	})
	if err != nil {
		return types.Version{}, err
	}
	return types.Sequence(assigned), nil
}

// Entry is one row returned by Range.
type Entry struct {
	Stream  string
	Payload types.Value
	Hash    []byte
	Version types.Version
}

// Range returns entries from stream within [start, end] sequence bounds
// (nil means unbounded on that side), oldest first, limited to at most
// limit results (0 means unbounded).
func Range(store *Store, runID uuid.UUID, stream string, start, end *uint64, limit int) []Entry {
	raw := store.store.ScanByRun(runID, store.store.CurrentVersion())
	var out []Entry
	for _, kv := range raw {
		if kv.Key.Type != types.TagEvent || isCursorKey(kv.Key) {
			continue
		}
		seq := binary.BigEndian.Uint64(kv.Key.User)
		if start != nil && seq < *start {
			continue
		}
		if end != nil && seq > *end {
			continue
		}
		m := kv.Entry.Value.AsMap()
		if m["stream"].AsString() != stream {
			continue
		}
		out = append(out, Entry{
			Stream:  stream,
			Payload: m["payload"],
			Hash:    m["hash"].AsBytes(),
			Version: types.Sequence(seq),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version.N < out[j].Version.N })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// VerifyChain recomputes the hash chain over a run's full event sequence
// and reports the first position where it breaks, if any.
func VerifyChain(store *Store, runID uuid.UUID) (ok bool, brokenAt uint64) {
	raw := store.store.ScanByRun(runID, store.store.CurrentVersion())
	var seqs []uint64
	byline := map[uint64]types.Value{}
	for _, kv := range raw {
		if kv.Key.Type != types.TagEvent || isCursorKey(kv.Key) {
			continue
		}
		seq := binary.BigEndian.Uint64(kv.Key.User)
		seqs = append(seqs, seq)
		byline[seq] = kv.Entry.Value
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	var prevHash []byte
	for _, seq := range seqs {
		m := byline[seq].AsMap()
		want := chainHash(m["payload"], prevHash)
		got := m["hash"].AsBytes()
		if !bytes.Equal(want, got) {
			return false, seq
		}
		prevHash = got
	}
	return true, 0
}
