// pkg/walog/writer.go
package walog

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"strata/pkg/errs"
	"strata/pkg/strlog"
)

// Offset identifies a byte position within the WAL: a segment number plus a
// byte offset from the start of that segment's file (including its
// 64-byte header). Recovery uses Offset to resume iteration and to know
// exactly where to truncate on a torn tail.
type Offset struct {
	Segment uint64
	Pos     int64
}

func (o Offset) Less(other Offset) bool {
	if o.Segment != other.Segment {
		return o.Segment < other.Segment
	}
	return o.Pos < other.Pos
}

// Options configures a Writer.
type Options struct {
	Dir             string
	DatabaseUUID    uuid.UUID
	CodecID         string
	MaxSegmentBytes int64
	Durability      Durability
}

// Writer is the WAL's single logical writer: append serializes through mu,
// but callers may drive it from multiple goroutines.
type Writer struct {
	mu sync.Mutex

	dir             string
	databaseUUID    uuid.UUID
	codecID         string
	maxSegmentBytes int64
	durability      Durability

	activeSeg    uint64
	file         *os.File
	pos          int64 // current write offset within the active segment file
	sinceFlush   int
	lastFlush    time.Time

	batchDone chan struct{}
	closed    bool
}

// Open opens (creating if necessary) the WAL directory described by opts,
// resuming onto the highest-numbered existing segment, or creating segment
// 1 if the directory is empty.
func Open(opts Options) (*Writer, error) {
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = DefaultSegmentMaxBytes
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.StorageError, "walog.open", err)
	}

	w := &Writer{
		dir:             opts.Dir,
		databaseUUID:    opts.DatabaseUUID,
		codecID:         opts.CodecID,
		maxSegmentBytes: opts.MaxSegmentBytes,
		durability:      opts.Durability,
		lastFlush:       time.Now(),
	}

	segs, err := ListSegments(opts.Dir)
	if err != nil {
		return nil, err
	}

	if len(segs) == 0 {
		if err := w.createSegment(1); err != nil {
			return nil, err
		}
	} else {
		last := segs[len(segs)-1]
		if err := w.openExistingSegment(last); err != nil {
			return nil, err
		}
	}

	if w.durability.Mode == ModeBatched && w.durability.Interval > 0 {
		w.startBatchTicker()
	}

	return w, nil
}

func (w *Writer) createSegment(n uint64) error {
	path := SegmentPath(w.dir, n)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.StorageError, "walog.createSegment", err)
	}
	header := encodeSegmentHeader(segmentHeader{
		DatabaseUUID: w.databaseUUID,
		SegmentNo:    n,
		CreatedAt:    uint64(time.Now().UnixMicro()),
		CodecID:      w.codecID,
	})
	if _, err := f.Write(header); err != nil {
		f.Close()
		return errs.Wrap(errs.StorageError, "walog.createSegment", err)
	}
	w.file = f
	w.activeSeg = n
	w.pos = int64(SegmentHeaderSize)
	return nil
}

func (w *Writer) openExistingSegment(n uint64) error {
	path := SegmentPath(w.dir, n)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return errs.Wrap(errs.StorageError, "walog.openExistingSegment", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errs.Wrap(errs.StorageError, "walog.openExistingSegment", err)
	}
	w.file = f
	w.activeSeg = n
	w.pos = info.Size()
	if w.pos < int64(SegmentHeaderSize) {
		w.pos = int64(SegmentHeaderSize)
	}
	return nil
}

// Append appends a record to the active segment, rotating first if the
// record wouldn't fit within MaxSegmentBytes. A record is never split
// across segments.
func (w *Writer) Append(rec Record) (Offset, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return Offset{}, errs.New(errs.InvalidState, "walog.append", "writer is closed")
	}

	encoded := Encode(rec)
	if w.pos+int64(len(encoded)) > w.maxSegmentBytes && w.pos > int64(SegmentHeaderSize) {
		if err := w.rotateLocked(); err != nil {
			return Offset{}, err
		}
	}

	off := Offset{Segment: w.activeSeg, Pos: w.pos}
	if _, err := w.file.Write(encoded); err != nil {
		return Offset{}, errs.Wrap(errs.StorageError, "walog.append", err)
	}
	w.pos += int64(len(encoded))
	w.sinceFlush++

	if w.durability.Mode == ModeStrict && (rec.Type == EntryCommitTxn) {
		if err := w.flushLocked(); err != nil {
			return Offset{}, err
		}
	} else if w.durability.Mode == ModeBatched && w.durability.BatchSize > 0 && w.sinceFlush >= w.durability.BatchSize {
		if err := w.flushLocked(); err != nil {
			return Offset{}, err
		}
	}

	return off, nil
}

// Flush forces durability per the configured mode: a no-op under ModeNone.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if w.durability.Mode == ModeNone {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return errs.Wrap(errs.StorageError, "walog.flush", err)
	}
	w.sinceFlush = 0
	w.lastFlush = time.Now()
	return nil
}

// Rotate closes the active segment (fsyncing first in any durable mode)
// and opens the next segment number.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateLocked()
}

func (w *Writer) rotateLocked() error {
	if w.durability.Mode != ModeNone {
		if err := w.file.Sync(); err != nil {
			return errs.Wrap(errs.StorageError, "walog.rotate", err)
		}
	}
	if err := w.file.Close(); err != nil {
		return errs.Wrap(errs.StorageError, "walog.rotate", err)
	}
	return w.createSegment(w.activeSeg + 1)
}

// ActiveSegment reports the currently open segment number, for tests and
// diagnostics.
func (w *Writer) ActiveSegment() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeSeg
}

func (w *Writer) startBatchTicker() {
	w.batchDone = make(chan struct{})
	ticker := time.NewTicker(w.durability.Interval)
	log := strlog.WithComponent(strlog.ComponentWAL)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.Flush(); err != nil {
					log.Warn().Err(err).Msg("batched flush failed, will retry next tick")
				}
			case <-w.batchDone:
				return
			}
		}
	}()
}

// Close flushes and closes the active segment, stopping any batch ticker.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	done := w.batchDone
	w.mu.Unlock()

	if done != nil {
		close(done)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return errs.Wrap(errs.StorageError, "walog.close", err)
	}
	return w.file.Close()
}
