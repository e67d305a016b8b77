// pkg/walog/reader.go
package walog

import (
	"io"
	"os"

	"strata/pkg/errs"
)

// Visit is called once per successfully decoded record during iteration.
type Visit func(off Offset, rec Record) error

// IterateFrom reads segments in dir starting at start.Segment, decoding
// records from start.Pos onward in the first segment and from the header
// end in every later one. It stops cleanly — without returning an error —
// at the first record whose length exceeds the segment remainder, whose
// CRC fails, or that is otherwise a torn tail, and reports the offset of
// the last cleanly-consumed record so the caller (recovery) can truncate
// there.
func IterateFrom(dir string, start Offset, visit Visit) (last Offset, err error) {
	segs, err := ListSegments(dir)
	if err != nil {
		return start, err
	}

	last = start
	for _, segNo := range segs {
		if segNo < start.Segment {
			continue
		}
		startPos := int64(SegmentHeaderSize)
		if segNo == start.Segment && start.Pos > startPos {
			startPos = start.Pos
		}

		segLast, clean, rerr := iterateSegment(dir, segNo, startPos, visit)
		if rerr != nil {
			return last, rerr
		}
		last = segLast
		if !clean {
			// Torn tail or corruption: stop iterating entirely, later
			// segments (if any) are presumed garbage past a crash point.
			break
		}
	}
	return last, nil
}

// iterateSegment decodes records from startPos to EOF in one segment file.
// clean is false if iteration stopped early due to a torn tail/CRC failure
// (not an error condition — just where replay must stop).
func iterateSegment(dir string, segNo uint64, startPos int64, visit Visit) (last Offset, clean bool, err error) {
	path := SegmentPath(dir, segNo)
	f, err := os.Open(path)
	if err != nil {
		return Offset{Segment: segNo, Pos: startPos}, false, errs.Wrap(errs.StorageError, "walog.iterate", err)
	}
	defer f.Close()

	header := make([]byte, SegmentHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		// Segment doesn't even have a full header: treat as empty/torn.
		return Offset{Segment: segNo, Pos: 0}, false, nil
	}
	if _, herr := decodeSegmentHeader(header); herr != nil {
		return Offset{Segment: segNo, Pos: 0}, false, nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return Offset{Segment: segNo, Pos: startPos}, false, errs.Wrap(errs.StorageError, "walog.iterate", err)
	}
	// data is the full post-header segment body; pos tracks absolute
	// file offset (including the header) for Offset reporting.
	bodyOffset := startPos - int64(SegmentHeaderSize)
	if bodyOffset < 0 {
		bodyOffset = 0
	}
	buf := data[bodyOffset:]
	pos := startPos

	for len(buf) > 0 {
		if len(buf) < MinRecordLength {
			return Offset{Segment: segNo, Pos: pos}, false, nil
		}
		rec, n, derr := Decode(buf)
		if derr != nil {
			return Offset{Segment: segNo, Pos: pos}, false, nil
		}
		if err := visit(Offset{Segment: segNo, Pos: pos}, rec); err != nil {
			return Offset{Segment: segNo, Pos: pos}, false, err
		}
		buf = buf[n:]
		pos += int64(n)
	}
	return Offset{Segment: segNo, Pos: pos}, true, nil
}

// Truncate truncates the segment at off.Segment to off.Pos and deletes every
// later segment file. Used by recovery after a torn tail or CRC failure to
// restore a clean, replayable WAL.
func Truncate(dir string, off Offset) error {
	path := SegmentPath(dir, off.Segment)
	if _, err := os.Stat(path); err == nil {
		if err := os.Truncate(path, off.Pos); err != nil {
			return errs.Wrap(errs.StorageError, "walog.truncate", err)
		}
	}

	segs, err := ListSegments(dir)
	if err != nil {
		return err
	}
	for _, n := range segs {
		if n > off.Segment {
			if err := os.Remove(SegmentPath(dir, n)); err != nil && !os.IsNotExist(err) {
				return errs.Wrap(errs.StorageError, "walog.truncate", err)
			}
		}
	}
	return nil
}
