package run

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"strata/pkg/errs"
	"strata/pkg/kv"
	"strata/pkg/storage"
	"strata/pkg/txn"
	"strata/pkg/types"
	"strata/pkg/walog"
)

func newStore(t *testing.T) (*Store, *storage.Store, *txn.Manager) {
	t.Helper()
	dir := t.TempDir()
	w, err := walog.Open(walog.Options{
		Dir:             dir,
		DatabaseUUID:    uuid.New(),
		CodecID:         "identity",
		MaxSegmentBytes: walog.DefaultSegmentMaxBytes,
		Durability:      walog.None(),
	})
	if err != nil {
		t.Fatalf("walog.Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	st := storage.New(storage.KeepAllRetention())
	mgr := txn.NewManager(st, w)
	return New(st, mgr), st, mgr
}

func TestCreateAssignsActiveStatus(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	id, err := Create(ctx, s, nil, uuid.Nil, uuid.Nil, types.Null())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	summary, found, err := Get(s, nil, id)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if summary.Status != StatusActive {
		t.Errorf("expected Active, got %v", summary.Status)
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	id := uuid.New()

	if _, err := Create(ctx, s, nil, id, uuid.Nil, types.Null()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := Create(ctx, s, nil, id, uuid.Nil, types.Null()); !errs.Is(err, errs.ConstraintViolation) {
		t.Fatalf("expected ConstraintViolation on duplicate id, got %v", err)
	}
}

func TestValidTransitionSequence(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	id, _ := Create(ctx, s, nil, uuid.Nil, uuid.Nil, types.Null())

	if err := Transition(ctx, s, nil, id, StatusPaused); err != nil {
		t.Fatalf("Active->Paused: %v", err)
	}
	if err := Transition(ctx, s, nil, id, StatusActive); err != nil {
		t.Fatalf("Paused->Active: %v", err)
	}
	if err := Transition(ctx, s, nil, id, StatusCompleted); err != nil {
		t.Fatalf("Active->Completed: %v", err)
	}
	if err := Transition(ctx, s, nil, id, StatusArchived); err != nil {
		t.Fatalf("Completed->Archived: %v", err)
	}
	if err := Transition(ctx, s, nil, id, StatusDeleted); err != nil {
		t.Fatalf("Archived->Deleted: %v", err)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	id, _ := Create(ctx, s, nil, uuid.Nil, uuid.Nil, types.Null())

	if err := Transition(ctx, s, nil, id, StatusDeleted); !errs.Is(err, errs.ConstraintViolation) {
		t.Fatalf("expected ConstraintViolation going straight to Deleted, got %v", err)
	}
}

func TestCascadeDeleteTombstonesRunData(t *testing.T) {
	s, st, mgr := newStore(t)
	ctx := context.Background()
	id, _ := Create(ctx, s, nil, uuid.Nil, uuid.Nil, types.Null())

	kvStore := kv.New(st, mgr)
	if err := kv.Put(ctx, kvStore, nil, id, []byte("a"), types.Int(1), 0); err != nil {
		t.Fatalf("kv.Put: %v", err)
	}

	if err := Transition(ctx, s, nil, id, StatusArchived); err != nil {
		t.Fatalf("Active->Archived: %v", err)
	}
	if err := Transition(ctx, s, nil, id, StatusDeleted); err != nil {
		t.Fatalf("Archived->Deleted: %v", err)
	}

	_, _, found, err := kv.Get(kvStore, nil, id, []byte("a"))
	if err != nil || found {
		t.Fatalf("expected cascaded key gone, found=%v err=%v", found, err)
	}
}

func TestTagAddRemoveAndQuery(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	id, _ := Create(ctx, s, nil, uuid.Nil, uuid.Nil, types.Null())

	if err := AddTag(ctx, s, nil, id, "urgent"); err != nil {
		t.Fatalf("AddTag: %v", err)
	}
	matches := ListByTag(s, "urgent")
	if len(matches) != 1 || matches[0].ID != id {
		t.Fatalf("expected run tagged urgent, got %v", matches)
	}

	if err := RemoveTag(ctx, s, nil, id, "urgent"); err != nil {
		t.Fatalf("RemoveTag: %v", err)
	}
	if matches := ListByTag(s, "urgent"); len(matches) != 0 {
		t.Fatalf("expected no runs tagged urgent after removal, got %v", matches)
	}
}

func TestChildrenLookup(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	parent, _ := Create(ctx, s, nil, uuid.Nil, uuid.Nil, types.Null())
	child1, _ := Create(ctx, s, nil, uuid.Nil, parent, types.Null())
	child2, _ := Create(ctx, s, nil, uuid.Nil, parent, types.Null())
	Create(ctx, s, nil, uuid.Nil, uuid.Nil, types.Null())

	children := Children(s, parent)
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	seen := map[uuid.UUID]bool{}
	for _, c := range children {
		seen[c.ID] = true
	}
	if !seen[child1] || !seen[child2] {
		t.Errorf("expected both children listed, got %v", children)
	}
}

func TestListByStatus(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	active, _ := Create(ctx, s, nil, uuid.Nil, uuid.Nil, types.Null())
	paused, _ := Create(ctx, s, nil, uuid.Nil, uuid.Nil, types.Null())
	Transition(ctx, s, nil, paused, StatusPaused)

	actives := ListByStatus(s, StatusActive)
	if len(actives) != 1 || actives[0].ID != active {
		t.Fatalf("expected only %v active, got %v", active, actives)
	}
}
