// pkg/walog/writer_test.go
package walog

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestWriter(t *testing.T, dur Durability) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := Open(Options{
		Dir:             dir,
		DatabaseUUID:    uuid.New(),
		CodecID:         "identity",
		MaxSegmentBytes: 256,
		Durability:      dur,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return w, dir
}

func TestWriterCreatesSegmentOne(t *testing.T) {
	w, dir := openTestWriter(t, None())
	defer w.Close()

	if w.ActiveSegment() != 1 {
		t.Errorf("expected active segment 1, got %d", w.ActiveSegment())
	}
	if _, err := os.Stat(SegmentPath(dir, 1)); err != nil {
		t.Errorf("expected segment file to exist: %v", err)
	}
}

func TestWriterAppendAndIterate(t *testing.T) {
	w, dir := openTestWriter(t, Strict())
	var offsets []Offset
	for i := 0; i < 5; i++ {
		off, err := w.Append(Record{Type: EntryKVPut, Payload: []byte{byte(i)}})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		offsets = append(offsets, off)
	}
	w.Close()

	var got []Record
	last, err := IterateFrom(dir, Offset{Segment: 1, Pos: 0}, func(off Offset, rec Record) error {
		got = append(got, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("IterateFrom failed: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 records, got %d", len(got))
	}
	for i, rec := range got {
		if rec.Payload[0] != byte(i) {
			t.Errorf("record %d: expected payload %d, got %d", i, i, rec.Payload[0])
		}
	}
	if last.Segment != 1 {
		t.Errorf("expected last offset in segment 1, got %d", last.Segment)
	}
	_ = offsets
}

func TestWriterRotatesOnMaxSize(t *testing.T) {
	w, dir := openTestWriter(t, None())
	defer w.Close()

	// MaxSegmentBytes=256 in the helper; each record here is well over 20
	// bytes, so a handful should force at least one rotation.
	for i := 0; i < 20; i++ {
		if _, err := w.Append(Record{Type: EntryKVPut, Payload: make([]byte, 32)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if w.ActiveSegment() <= 1 {
		t.Errorf("expected rotation to have advanced the segment number, still at %d", w.ActiveSegment())
	}
	segs, err := ListSegments(dir)
	if err != nil {
		t.Fatalf("ListSegments failed: %v", err)
	}
	if len(segs) < 2 {
		t.Errorf("expected at least 2 segment files on disk, got %d", len(segs))
	}
}

func TestWriterRotationNeverTearsRecord(t *testing.T) {
	w, dir := openTestWriter(t, None())
	defer w.Close()

	for i := 0; i < 15; i++ {
		if _, err := w.Append(Record{Type: EntryKVPut, Payload: make([]byte, 40)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	w.Close()

	count := 0
	_, err := IterateFrom(dir, Offset{Segment: 1, Pos: 0}, func(off Offset, rec Record) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("IterateFrom failed: %v", err)
	}
	if count != 15 {
		t.Errorf("expected all 15 records to survive rotation intact, got %d", count)
	}
}

func TestBatchedDurabilityFlushesOnInterval(t *testing.T) {
	w, dir := openTestWriter(t, Batched(1000, 20*time.Millisecond))
	if _, err := w.Append(Record{Type: EntryKVPut, Payload: []byte("x")}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	w.Close()

	count := 0
	_, err := IterateFrom(dir, Offset{Segment: 1, Pos: 0}, func(off Offset, rec Record) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("IterateFrom failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the batched write to be durable and replayable, got %d records", count)
	}
}

func TestTruncateAtTornTail(t *testing.T) {
	w, dir := openTestWriter(t, None())
	off1, _ := w.Append(Record{Type: EntryKVPut, Payload: []byte("a")})
	_, err := w.Append(Record{Type: EntryKVPut, Payload: []byte("b")})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	w.Close()

	// Corrupt the second record's CRC byte to simulate a torn/corrupt tail.
	path := SegmentPath(dir, 1)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	var seen []Record
	last, err := IterateFrom(dir, Offset{Segment: 1, Pos: 0}, func(off Offset, rec Record) error {
		seen = append(seen, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("IterateFrom should stop cleanly on CRC failure, got error: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("expected exactly 1 clean record before the torn tail, got %d", len(seen))
	}

	if err := Truncate(dir, last); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	_ = off1
	if info.Size() != last.Pos {
		t.Errorf("expected truncated size %d, got %d", last.Pos, info.Size())
	}
}
