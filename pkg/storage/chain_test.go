// pkg/storage/chain_test.go
package storage

import (
	"testing"

	"strata/pkg/types"
)

func TestChainPruneKeepsBoundaryEntry(t *testing.T) {
	c := newChainEntry(testKey("a"))
	for v := uint64(1); v <= 5; v++ {
		c.addVersion(&versionNode{version: v, value: types.Int(int64(v))})
	}

	dropped := c.pruneOlderThan(3)
	if dropped != 2 {
		t.Fatalf("expected to drop versions 1 and 2, dropped %d", dropped)
	}

	nodes := c.history(0, 0)
	if len(nodes) != 3 {
		t.Fatalf("expected 3 surviving history entries, got %d", len(nodes))
	}
	if nodes[len(nodes)-1].version != 3 {
		t.Errorf("expected oldest surviving entry to be the boundary version 3, got %d", nodes[len(nodes)-1].version)
	}
}

func TestChainPruneNoBoundaryKeepsEverything(t *testing.T) {
	c := newChainEntry(testKey("a"))
	for v := uint64(10); v <= 12; v++ {
		c.addVersion(&versionNode{version: v, value: types.Int(int64(v))})
	}

	dropped := c.pruneOlderThan(5) // floor below every version present
	if dropped != 0 {
		t.Errorf("expected nothing dropped when floor predates the whole chain, dropped %d", dropped)
	}
}

func TestChainPruneByRetentionKeepLastExtendsSurvival(t *testing.T) {
	c := newChainEntry(testKey("a"))
	for v := uint64(1); v <= 10; v++ {
		c.addVersion(&versionNode{version: v, value: types.Int(int64(v))})
	}

	// floor=8 alone would only guarantee versions 8,9,10 survive; KeepLast(5)
	// should extend survival down to the 5 newest regardless.
	dropped := c.pruneByRetention(8, KeepLastRetention(5), 0)
	if dropped != 5 {
		t.Fatalf("expected 5 nodes dropped (keeping newest 5 of 10), got %d", dropped)
	}
	hist := c.history(0, 0)
	if len(hist) != 5 {
		t.Fatalf("expected 5 surviving entries, got %d", len(hist))
	}
}

func TestChainPruneByRetentionNeverCrossesEpochFloor(t *testing.T) {
	c := newChainEntry(testKey("a"))
	for v := uint64(1); v <= 10; v++ {
		c.addVersion(&versionNode{version: v, value: types.Int(int64(v))})
	}

	// KeepLast(1) alone would drop down to 1 entry, but floor=5 requires the
	// boundary entry (version 5) and everything newer to survive regardless.
	dropped := c.pruneByRetention(5, KeepLastRetention(1), 0)
	hist := c.history(0, 0)
	if len(hist) != 6 {
		t.Fatalf("expected 6 surviving entries (versions 5-10), got %d (dropped %d)", len(hist), dropped)
	}
}
