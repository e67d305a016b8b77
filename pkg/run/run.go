// Package run implements the Run primitive façade named in spec §1:
// hierarchical work-unit identifiers that partition all other data and
// provide an isolation boundary, plus their own lifecycle.
//
// Every run's metadata record is itself stored as one entry in the
// substrate — under the nil-UUID global namespace (types.DefaultRunID),
// tagged TagRun, keyed by the run's own id — rather than in a bespoke
// index structure. This turns status/tag/parent-child queries into a
// single scan_by_run(DefaultRunID) over a contiguous key range (§4.1's
// "Unified" backend already orders keys by run_id, so this reuses that
// ordering as the catalog instead of building a second index).
package run

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

// Status is a run's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusArchived  Status = "archived"
	StatusDeleted   Status = "deleted"
)

// Summary is one run's registry record.
type Summary struct {
	ID        uuid.UUID
	ParentID  uuid.UUID // uuid.Nil if this run has no parent
	Status    Status
	Tags      []string
	Metadata  types.Value
	CreatedAt int64
}

const (
	fieldParentID  = "parent_id"
	fieldStatus    = "status"
	fieldTags      = "tags"
	fieldMetadata  = "metadata"
	fieldCreatedAt = "created_at"
)

func registryKey(runID uuid.UUID) types.Key {
	return types.NewKey(types.DefaultRunID, types.TagRun, runID[:])
}

func encodeSummary(s Summary) types.Value {
	tags := make([]types.Value, len(s.Tags))
	for i, t := range s.Tags {
		tags[i] = types.String(t)
	}
	return types.Map(map[string]types.Value{
		fieldParentID:  types.Bytes(s.ParentID[:]),
		fieldStatus:    types.String(string(s.Status)),
		fieldTags:      types.Array(tags),
		fieldMetadata:  s.Metadata,
		fieldCreatedAt: types.Int(s.CreatedAt),
	})
}

func decodeSummary(id uuid.UUID, v types.Value) Summary {
	m := v.AsMap()
	var parent uuid.UUID
	copy(parent[:], m[fieldParentID].AsBytes())
	tagVals := m[fieldTags].AsArray()
	tags := make([]string, len(tagVals))
	for i, tv := range tagVals {
		tags[i] = tv.AsString()
	}
	return Summary{
		ID:        id,
		ParentID:  parent,
		Status:    Status(m[fieldStatus].AsString()),
		Tags:      tags,
		Metadata:  m[fieldMetadata],
		CreatedAt: m[fieldCreatedAt].AsInt(),
	}
}

// Create registers a new run. If id is uuid.Nil, a fresh id is generated.
// parentID of uuid.Nil marks a root run.
func Create(ctx context.Context, store *Store, tx *txn.Txn, id, parentID uuid.UUID, metadata types.Value) (uuid.UUID, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	k := registryKey(id)
	err := runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		if _, found, err := t.Get(k); err != nil {
			return err
		} else if found {
			return errs.New(errs.ConstraintViolation, "run.create", "run id already exists").WithKey(k)
		}
		summary := Summary{
			ID:        id,
			ParentID:  parentID,
			Status:    StatusActive,
			Metadata:  metadata,
			CreatedAt: time.Now().UnixMicro(),
		}
		return t.PutRaw(k, encodeSummary(summary), 0, walog.EntryRunCreate)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Get returns a run's registry record.
func Get(store *Store, tx *txn.Txn, id uuid.UUID) (Summary, bool, error) {
	k := registryKey(id)
	if tx != nil {
		v, found, err := tx.Get(k)
		if err != nil || !found {
			return Summary{}, found, err
		}
		return decodeSummary(id, v.Value), true, nil
	}
	v, found := store.store.Get(k)
	if !found {
		return Summary{}, false, nil
	}
	return decodeSummary(id, v.Value), true, nil
}

// isValidTransition encodes the lifecycle graph: Active<->Paused,
// Active->{Completed,Failed,Cancelled}, any non-terminal status->Archived,
// Archived->Deleted. Deleted is terminal.
func isValidTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch to {
	case StatusArchived:
		return from != StatusDeleted
	case StatusDeleted:
		return from == StatusArchived
	}
	switch from {
	case StatusActive:
		return to == StatusPaused || to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusPaused:
		return to == StatusActive
	default:
		return false
	}
}

// Transition moves a run to newStatus, rejecting invalid edges with
// ConstraintViolation. Transitioning to Deleted cascades: every KV, JSON
// and Vector entry under the run's own partition is tombstoned before the
// registry record itself is marked Deleted; Event and State entries are
// left in place (see deletableTags).
func Transition(ctx context.Context, store *Store, tx *txn.Txn, id uuid.UUID, newStatus Status) error {
	k := registryKey(id)
	return runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		cur, found, err := t.Get(k)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.NotFound, "run.transition", "run does not exist").WithKey(k)
		}
		summary := decodeSummary(id, cur.Value)
		if !isValidTransition(summary.Status, newStatus) {
			return errs.New(errs.ConstraintViolation, "run.transition",
				"invalid transition from "+string(summary.Status)+" to "+string(newStatus)).WithKey(k)
		}

		if newStatus == StatusDeleted {
			if err := cascadeDelete(t, id); err != nil {
				return err
			}
		}

		summary.Status = newStatus
		return t.PutRaw(k, encodeSummary(summary), 0, walog.EntryRunTransition)
	})
}

// deletableTags are the primitives cascadeDelete can tombstone: each has a
// dedicated WAL delete-entry type recovery knows how to replay (KV, JSON,
// Vector). Event is append-only by design — hash-chained history cannot
// be retracted without invalidating the chain — and is left in place;
// State cells are left orphaned under the now-unreachable run_id, to be
// reclaimed eventually by retention gc rather than by the cascade itself
// (state has no dedicated WAL delete-entry type, see DESIGN.md).
var deletableTags = map[types.TypeTag]walog.EntryType{
	types.TagKV:     walog.EntryKVDelete,
	types.TagJSON:   walog.EntryJSONDeleteDoc,
	types.TagVector: walog.EntryVectorDelete,
}

// AddTag adds tag to a run's tag set, a no-op if already present.
func AddTag(ctx context.Context, store *Store, tx *txn.Txn, id uuid.UUID, tag string) error {
	return mutateTags(ctx, store, tx, id, func(tags []string) []string {
		for _, t := range tags {
			if t == tag {
				return tags
			}
		}
		return append(tags, tag)
	})
}

// RemoveTag removes tag from a run's tag set, a no-op if absent.
func RemoveTag(ctx context.Context, store *Store, tx *txn.Txn, id uuid.UUID, tag string) error {
	return mutateTags(ctx, store, tx, id, func(tags []string) []string {
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			if t != tag {
				out = append(out, t)
			}
		}
		return out
	})
}

func mutateTags(ctx context.Context, store *Store, tx *txn.Txn, id uuid.UUID, edit func([]string) []string) error {
	k := registryKey(id)
	return runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		cur, found, err := t.Get(k)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.NotFound, "run.tags", "run does not exist").WithKey(k)
		}
		summary := decodeSummary(id, cur.Value)
		summary.Tags = edit(summary.Tags)
		return t.PutRaw(k, encodeSummary(summary), 0, walog.EntryRunTags)
	})
}

// ListByStatus returns every run registered with the given status.
func ListByStatus(store *Store, status Status) []Summary {
	var out []Summary
	for _, kv := range store.store.ScanByRun(types.DefaultRunID, store.store.CurrentVersion()) {
		if kv.Key.Type != types.TagRun {
			continue
		}
		s := decodeSummaryFromKey(kv)
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// ListByTag returns every run carrying the given tag.
func ListByTag(store *Store, tag string) []Summary {
	var out []Summary
	for _, kv := range store.store.ScanByRun(types.DefaultRunID, store.store.CurrentVersion()) {
		if kv.Key.Type != types.TagRun {
			continue
		}
		s := decodeSummaryFromKey(kv)
		for _, t := range s.Tags {
			if t == tag {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// Children returns every run whose parent_id is parentID.
func Children(store *Store, parentID uuid.UUID) []Summary {
	var out []Summary
	for _, kv := range store.store.ScanByRun(types.DefaultRunID, store.store.CurrentVersion()) {
		if kv.Key.Type != types.TagRun {
			continue
		}
		s := decodeSummaryFromKey(kv)
		if s.ParentID == parentID {
			out = append(out, s)
		}
	}
	return out
}

func decodeSummaryFromKey(kv storage.KeyedVersioned) Summary {
	var id uuid.UUID
	copy(id[:], kv.Key.User)
	return decodeSummary(id, kv.Entry.Value)
}

// cascadeDelete tombstones every entry the run owns across the primitives
// listed in deletableTags, staged into the same transaction as the status
// flip so the cascade is all-or-nothing with it.
func cascadeDelete(t *txn.Txn, id uuid.UUID) error {
	for _, kv := range t.ScanByRun(id) {
		entryType, ok := deletableTags[kv.Key.Type]
		if !ok {
			continue
		}
		if err := t.Delete(kv.Key, entryType); err != nil {
			return err
		}
	}
	return nil
}
