// pkg/storage/ttl.go
package storage

import (
	"container/heap"

	"strata/pkg/types"
)

// ttlItem is one entry in the expiry min-heap: a chain entry that carries a
// live TTL, ordered by its expiry timestamp. No third-party priority queue
// appears anywhere in the retrieval pack, so this uses stdlib container/heap
// directly (see DESIGN.md).
type ttlItem struct {
	entry     *chainEntry
	expiresAt types.Timestamp
	index     int // maintained by heap.Interface
}

type ttlHeap []*ttlItem

func (h ttlHeap) Len() int { return len(h) }
func (h ttlHeap) Less(i, j int) bool {
	return h[i].expiresAt < h[j].expiresAt
}
func (h ttlHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *ttlHeap) Push(x any) {
	item := x.(*ttlItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *ttlHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// ttlTracker wraps the heap with the lookup needed to remove an entry early
// (e.g. when it is overwritten with a non-expiring value).
type ttlTracker struct {
	h       ttlHeap
	byEntry map[*chainEntry]*ttlItem
}

func newTTLTracker() *ttlTracker {
	t := &ttlTracker{byEntry: make(map[*chainEntry]*ttlItem)}
	heap.Init(&t.h)
	return t
}

func (t *ttlTracker) track(entry *chainEntry, expiresAt types.Timestamp) {
	if existing, ok := t.byEntry[entry]; ok {
		existing.expiresAt = expiresAt
		heap.Fix(&t.h, existing.index)
		return
	}
	item := &ttlItem{entry: entry, expiresAt: expiresAt}
	heap.Push(&t.h, item)
	t.byEntry[entry] = item
}

func (t *ttlTracker) untrack(entry *chainEntry) {
	item, ok := t.byEntry[entry]
	if !ok {
		return
	}
	heap.Remove(&t.h, item.index)
	delete(t.byEntry, entry)
}

// expired returns every tracked key whose expiry is <= now, without
// removing them from the tracker (the caller decides whether to physically
// delete via gc_below, or just filter them from reads).
func (t *ttlTracker) expired(now types.Timestamp) []types.Key {
	var out []types.Key
	for _, item := range t.h {
		if item.expiresAt <= now {
			out = append(out, item.entry.key)
		}
	}
	return out
}
