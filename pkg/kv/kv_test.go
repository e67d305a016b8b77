package kv

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"strata/pkg/errs"
	"strata/pkg/storage"
	"strata/pkg/txn"
	"strata/pkg/types"
	"strata/pkg/walog"
)

func newStore(t *testing.T) *Store {
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
	return New(st, txn.NewManager(st, w))
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := uuid.New()

	if err := Put(ctx, s, nil, run, []byte("a"), types.String("hello"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, _, found, err := Get(s, nil, run, []byte("a"))
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if v.AsString() != "hello" {
		t.Errorf("got %q, want hello", v.AsString())
	}
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	s := newStore(t)
	_, _, found, err := Get(s, nil, uuid.New(), []byte("nope"))
	if err != nil || found {
		t.Fatalf("expected not found, got found=%v err=%v", found, err)
	}
}

func TestHistoryOrdersNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := uuid.New()

	for i := 0; i < 3; i++ {
		if err := Put(ctx, s, nil, run, []byte("k"), types.Int(int64(i)), 0); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	hist := History(s, run, []byte("k"), 0, 0)
	if len(hist) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(hist))
	}
	if hist[0].Value.AsInt() != 2 || hist[2].Value.AsInt() != 0 {
		t.Errorf("expected newest-first ordering, got %v, %v, %v", hist[0].Value, hist[1].Value, hist[2].Value)
	}
}

func TestDeleteTombstonesKey(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := uuid.New()

	if err := Put(ctx, s, nil, run, []byte("k"), types.Int(1), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := Delete(ctx, s, nil, run, []byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, _, found, err := Get(s, nil, run, []byte("k"))
	if err != nil || found {
		t.Fatalf("expected key gone after delete, found=%v err=%v", found, err)
	}
}

func TestCasVersionRejectsStaleExpectation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := uuid.New()

	if err := Put(ctx, s, nil, run, []byte("k"), types.Int(1), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, v1, _, _ := Get(s, nil, run, []byte("k"))
	if err := Put(ctx, s, nil, run, []byte("k"), types.Int(2), 0); err != nil {
		t.Fatalf("Put 2: %v", err)
	}

	err := CasVersion(ctx, s, nil, run, []byte("k"), v1, types.Int(99))
	if !errs.Is(err, errs.Conflict) {
		t.Fatalf("expected Conflict casing against a stale version, got %v", err)
	}
}

func TestCasValueSucceedsOnMatch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := uuid.New()

	if err := Put(ctx, s, nil, run, []byte("k"), types.String("old"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := CasValue(ctx, s, nil, run, []byte("k"), types.String("old"), types.String("new")); err != nil {
		t.Fatalf("CasValue: %v", err)
	}
	v, _, _, _ := Get(s, nil, run, []byte("k"))
	if v.AsString() != "new" {
		t.Errorf("got %q, want new", v.AsString())
	}
}

func TestIncrCreatesAndAccumulates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := uuid.New()

	n, err := Incr(ctx, s, run, []byte("counter"), 5)
	if err != nil || n != 5 {
		t.Fatalf("first Incr: n=%d err=%v", n, err)
	}
	n, err = Incr(ctx, s, run, []byte("counter"), -2)
	if err != nil || n != 3 {
		t.Fatalf("second Incr: n=%d err=%v", n, err)
	}
}

func TestIncrRejectsNonIntValue(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := uuid.New()

	if err := Put(ctx, s, nil, run, []byte("k"), types.String("not a number"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := Incr(ctx, s, run, []byte("k"), 1); !errs.Is(err, errs.ConstraintViolation) {
		t.Fatalf("expected ConstraintViolation, got %v", err)
	}
}

func TestPutJoinsCallerSuppliedTransaction(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := uuid.New()

	tx, err := s.mgr.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := Put(ctx, s, tx, run, []byte("a"), types.Int(1), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := Put(ctx, s, tx, run, []byte("b"), types.Int(2), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.mgr.Commit(ctx, tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_, _, found, _ := Get(s, nil, run, []byte("a"))
	if !found {
		t.Error("expected key a committed")
	}
	_, _, found, _ = Get(s, nil, run, []byte("b"))
	if !found {
		t.Error("expected key b committed")
	}
}
