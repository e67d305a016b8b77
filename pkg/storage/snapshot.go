// pkg/storage/snapshot.go
package storage

import (
	"github.com/google/uuid"
	"strata/pkg/types"
)

// Snapshot is a read-only view pinned at a fixed store version. Acquisition
// is O(1): it only registers the pin and records the version, it never
// copies the index. Get/Scan on the snapshot are implemented by delegating
// back to the Store with maxVersion = the pinned version, i.e. lazy
// copy-on-read as spec.md prefers (Open Question 4, see DESIGN.md).
type Snapshot struct {
	store   *Store
	version uint64
	release func()
	done    bool
}

// Version reports the store version this snapshot is pinned at.
func (s *Snapshot) Version() uint64 { return s.version }

// Get returns the newest non-tombstone entry visible at this snapshot.
func (s *Snapshot) Get(key types.Key) (types.Versioned[types.Value], bool) {
	return s.store.GetAt(key, s.version)
}

// ScanPrefix scans under this snapshot's pin.
func (s *Snapshot) ScanPrefix(prefix []byte) []KeyedVersioned {
	return s.store.scanPrefixAt(prefix, s.version)
}

// ScanByRun scans under this snapshot's pin.
func (s *Snapshot) ScanByRun(runID uuid.UUID) []KeyedVersioned {
	return s.store.scanPrefixAt(types.RunPrefix(runID), s.version)
}

// Release unpins the snapshot's version, letting gc_below advance past it
// once no other snapshot needs it. Safe to call more than once.
func (s *Snapshot) Release() {
	if s.done {
		return
	}
	s.done = true
	s.release()
}
