package event

import (
	"context"
	"testing"

	"github.com/google/uuid"
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

func TestAppendAssignsIncreasingSequence(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := uuid.New()

	v1, err := Append(ctx, s, nil, run, "orders", types.String("first"))
	if err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	v2, err := Append(ctx, s, nil, run, "orders", types.String("second"))
	if err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	if v1.Kind != types.KindSequence || v2.Kind != types.KindSequence {
		t.Fatalf("expected Sequence-kind versions, got %v, %v", v1, v2)
	}
	if v2.N != v1.N+1 {
		t.Errorf("expected contiguous sequence, got %d then %d", v1.N, v2.N)
	}
}

func TestRangeFiltersByStreamAndOrdersOldestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := uuid.New()

	Append(ctx, s, nil, run, "a", types.Int(1))
	Append(ctx, s, nil, run, "b", types.Int(2))
	Append(ctx, s, nil, run, "a", types.Int(3))

	entries := Range(s, run, "a", nil, nil, 0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for stream a, got %d", len(entries))
	}
	if entries[0].Payload.AsInt() != 1 || entries[1].Payload.AsInt() != 3 {
		t.Errorf("expected oldest-first ordering, got %v then %v", entries[0].Payload, entries[1].Payload)
	}
}

func TestRangeRespectsLimitAndBounds(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := uuid.New()

	for i := 0; i < 5; i++ {
		if _, err := Append(ctx, s, nil, run, "s", types.Int(int64(i))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	limited := Range(s, run, "s", nil, nil, 2)
	if len(limited) != 2 {
		t.Fatalf("expected limit=2 to return 2 entries, got %d", len(limited))
	}

	start := uint64(2)
	bounded := Range(s, run, "s", &start, nil, 0)
	if len(bounded) != 3 {
		t.Fatalf("expected 3 entries from position 2 onward, got %d", len(bounded))
	}
}

func TestVerifyChainDetectsIntactChain(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := uuid.New()

	for i := 0; i < 4; i++ {
		if _, err := Append(ctx, s, nil, run, "s", types.Int(int64(i))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	ok, brokenAt := VerifyChain(s, run)
	if !ok {
		t.Errorf("expected intact chain, broke at %d", brokenAt)
	}
}

func TestAppendIsolatedPerRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	runA, runB := uuid.New(), uuid.New()

	Append(ctx, s, nil, runA, "s", types.Int(1))
	v, err := Append(ctx, s, nil, runB, "s", types.Int(1))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if v.N != 0 {
		t.Errorf("expected run B's sequence to start at 0 independently of run A, got %d", v.N)
	}
}
