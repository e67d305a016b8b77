// Package walog implements Strata's write-ahead log: a segmented,
// append-only sequence of typed, CRC-protected records that durably
// records every state-changing operation in commit order.
//
// This replaces the teacher's SQLite-style page-frame WAL (pkg/wal in the
// upstream tree): Strata has no fixed-size database pages to frame, so the
// wire format here is the typed, length-prefixed record format described
// in spec.md §4.2, while the segmented-file, single-writer-mutex,
// durability-mode idiom is carried over unchanged.
package walog

import (
	"encoding/binary"
	"hash/crc32"

	"strata/pkg/errs"
)

// EntryType is the 1-byte WAL record discriminator. Ranges are frozen per
// spec so future primitives get new ranges rather than renumbering.
type EntryType byte

const (
	// Core: 0x00-0x0F
	EntryBeginTxn   EntryType = 0x00
	EntryCommitTxn  EntryType = 0x01
	EntryAbortTxn   EntryType = 0x02
	EntryCheckpoint EntryType = 0x03

	// KV: 0x10-0x1F
	EntryKVPut    EntryType = 0x10
	EntryKVDelete EntryType = 0x11

	// JSON: 0x20-0x2F
	EntryJSONSetPath    EntryType = 0x20
	EntryJSONDeletePath EntryType = 0x21
	EntryJSONCreateDoc  EntryType = 0x22
	EntryJSONDeleteDoc  EntryType = 0x23

	// Event: 0x30-0x3F
	EntryEventAppend EntryType = 0x30

	// State: 0x40-0x4F
	EntryStateCasSet EntryType = 0x40
	EntryStateInit   EntryType = 0x41

	// 0x50-0x5F reserved (historical Trace)

	// Run: 0x60-0x6F
	EntryRunCreate     EntryType = 0x60
	EntryRunTransition EntryType = 0x61
	EntryRunDelete     EntryType = 0x62
	EntryRunMetadata   EntryType = 0x63
	EntryRunTags       EntryType = 0x64

	// Vector: 0x70-0x7F
	EntryVectorUpsert          EntryType = 0x70
	EntryVectorDelete          EntryType = 0x71
	EntryVectorCreateCollection EntryType = 0x72
	EntryVectorDropCollection   EntryType = 0x73
)

// MinRecordLength is the smallest legal record: 4-byte length header plus
// a 1-byte type and 4-byte CRC (5 bytes of "length" payload), per spec.
const MinRecordLength = 9

// lengthFieldSize is the size of the leading length header itself.
const lengthFieldSize = 4

// Record is one decoded WAL entry.
type Record struct {
	Type    EntryType
	Payload []byte
}

// Encode serializes r into the bit-exact wire form:
//
//	length(4B LE) | type(1B) | payload | crc32(4B LE, over type+payload)
//
// length counts everything after itself: 1 (type) + len(payload) + 4 (crc).
func Encode(r Record) []byte {
	inner := 1 + len(r.Payload) + 4
	buf := make([]byte, lengthFieldSize+inner)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(inner))
	buf[4] = byte(r.Type)
	copy(buf[5:5+len(r.Payload)], r.Payload)
	crc := crc32.ChecksumIEEE(buf[4 : 5+len(r.Payload)])
	binary.LittleEndian.PutUint32(buf[5+len(r.Payload):], crc)
	return buf
}

// Decode parses a single record starting at the head of buf. It returns the
// record, the total number of bytes consumed (including the length header),
// and an error. Decode never reads past buf; callers at a segment boundary
// should treat a short buffer as a torn tail, not an error to surface.
func Decode(buf []byte) (Record, int, error) {
	if len(buf) < lengthFieldSize {
		return Record{}, 0, errs.New(errs.Corruption, "walog.decode", "buffer shorter than length header")
	}
	inner := binary.LittleEndian.Uint32(buf[0:4])
	total := lengthFieldSize + int(inner)
	if inner < 5 {
		return Record{}, 0, errs.New(errs.Corruption, "walog.decode", "record shorter than minimum valid length")
	}
	if total > len(buf) {
		return Record{}, 0, errs.New(errs.Corruption, "walog.decode", "record length exceeds available buffer")
	}
	body := buf[lengthFieldSize:total]
	typ := EntryType(body[0])
	payload := body[1 : len(body)-4]
	wantCRC := binary.LittleEndian.Uint32(body[len(body)-4:])
	gotCRC := crc32.ChecksumIEEE(body[:len(body)-4])
	if gotCRC != wantCRC {
		return Record{}, 0, errs.New(errs.Corruption, "walog.decode", "CRC32 mismatch")
	}
	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)
	return Record{Type: typ, Payload: payloadCopy}, total, nil
}
