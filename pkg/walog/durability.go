// pkg/walog/durability.go
package walog

import "time"

// Mode selects how aggressively WAL writes are fsynced, trading latency for
// data-loss exposure on crash.
type Mode int

const (
	// ModeNone never fsyncs; writes may buffer in memory. Fastest, loses
	// everything unflushed on crash.
	ModeNone Mode = iota
	// ModeBatched fsyncs every BatchSize writes or every Interval,
	// whichever comes first.
	ModeBatched
	// ModeStrict fsyncs after every commit record. Slowest, no data loss
	// after a commit is acknowledged.
	ModeStrict
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeBatched:
		return "batched"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// Durability bundles a Mode with the Batched-mode parameters. BatchSize and
// Interval are ignored outside ModeBatched.
type Durability struct {
	Mode       Mode
	BatchSize  int
	Interval   time.Duration
}

// Strict is a convenience constructor.
func Strict() Durability { return Durability{Mode: ModeStrict} }

// None is a convenience constructor.
func None() Durability { return Durability{Mode: ModeNone} }

// Batched is a convenience constructor.
func Batched(batchSize int, interval time.Duration) Durability {
	return Durability{Mode: ModeBatched, BatchSize: batchSize, Interval: interval}
}
