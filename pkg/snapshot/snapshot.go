// Package snapshot implements Strata's optional checkpoint file: a
// substrate dump at a given watermark that lets recovery skip replaying
// the full WAL history from the beginning.
//
// File layout (little-endian), mirroring pkg/walog/segment.go's header
// shape with the SNAP magic spec.md §6 specifies in place of STRA:
//
//	0  : magic "SNAP"             (4B)
//	4  : format version = 1       (4B)
//	8  : database_uuid            (16B)
//	24 : snapshot id (watermark)  (8B LE)
//	32 : creation timestamp (µs)  (8B LE)
//	40 : codec id (zero-padded)   (16B)
//	56 : CRC-32 of bytes [0,56)   (4B LE)
//	60 : reserved, zero           (4B)
//	64.. one section per TypeTag present in the store, each:
//	    tag(1B) entryCount(4B LE) [ keyLen(4B LE) key version(8B LE) ttlMicros(8B LE) valueLen(4B LE) value ]* crc32(4B LE, over the whole section excluding this trailer)
//
// Only the latest live (non-tombstone, non-expired) entry per key is
// captured: history before a snapshot's watermark is the retention
// policy's concern, not the snapshot's, and the per-key version recorded
// is sufficient for a later Put to accept it as the chain's current head.
// ttlMicros is the entry's remaining time-to-live as of the moment this
// section was written, not its absolute deadline: Load replays it the same
// way pkg/recovery replays a WAL put's ttlMicros, by restarting the TTL
// clock from the load-time "now" rather than preserving the exact original
// deadline. A key with an unexpired TTL at snapshot time therefore keeps
// expiring after a restart instead of becoming permanent.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"strata/pkg/errs"
	"strata/pkg/storage"
	"strata/pkg/types"
)

const (
	HeaderSize           = 64
	Magic                = "SNAP"
	FormatVersion uint32 = 1
	codecIDSize          = 16
)

// FileName returns the canonical snapshot file name for a snapshot id.
func FileName(id uint64) string {
	return fmt.Sprintf("snapshot-%06d.snap", id)
}

// Path joins a database root directory's snapshots subdirectory with the
// canonical file name for id.
func Path(root string, id uint64) string {
	return filepath.Join(root, "snapshots", FileName(id))
}

type header struct {
	DatabaseUUID uuid.UUID
	SnapshotID   uint64
	CreatedAt    uint64
	CodecID      string
}

func encodeHeader(h header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	copy(buf[8:24], h.DatabaseUUID[:])
	binary.LittleEndian.PutUint64(buf[24:32], h.SnapshotID)
	binary.LittleEndian.PutUint64(buf[32:40], h.CreatedAt)
	codec := make([]byte, codecIDSize)
	copy(codec, h.CodecID)
	copy(buf[40:56], codec)
	crc := crc32.ChecksumIEEE(buf[0:56])
	binary.LittleEndian.PutUint32(buf[56:60], crc)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	var h header
	if len(buf) < HeaderSize {
		return h, errs.New(errs.Corruption, "snapshot.decode", "header shorter than 64 bytes")
	}
	if string(buf[0:4]) != Magic {
		return h, errs.New(errs.Corruption, "snapshot.decode", "bad magic")
	}
	if binary.LittleEndian.Uint32(buf[4:8]) != FormatVersion {
		return h, errs.New(errs.Corruption, "snapshot.decode", "unsupported format version")
	}
	crc := binary.LittleEndian.Uint32(buf[56:60])
	if crc32.ChecksumIEEE(buf[0:56]) != crc {
		return h, errs.New(errs.Corruption, "snapshot.decode", "header CRC mismatch")
	}
	copy(h.DatabaseUUID[:], buf[8:24])
	h.SnapshotID = binary.LittleEndian.Uint64(buf[24:32])
	h.CreatedAt = binary.LittleEndian.Uint64(buf[32:40])
	end := 40
	for end < 56 && buf[end] != 0 {
		end++
	}
	h.CodecID = string(buf[40:end])
	return h, nil
}

// Write dumps every live entry in store into a new snapshot file at
// Path(root, watermark), returning the written path. Uses create-temp-
// then-rename, matching pkg/manifest's crash-safety approach.
func Write(root string, databaseUUID uuid.UUID, codecID string, watermark uint64, store *storage.Store) (string, error) {
	if err := os.MkdirAll(filepath.Join(root, "snapshots"), 0o755); err != nil {
		return "", errs.Wrap(errs.StorageError, "snapshot.write", err)
	}

	entries := store.ScanPrefix(nil, watermark)
	byTag := make(map[types.TypeTag][]storage.KeyedVersioned)
	for _, e := range entries {
		byTag[e.Key.Type] = append(byTag[e.Key.Type], e)
	}

	final := Path(root, watermark)
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", errs.Wrap(errs.StorageError, "snapshot.write", err)
	}

	h := encodeHeader(header{
		DatabaseUUID: databaseUUID,
		SnapshotID:   watermark,
		CreatedAt:    uint64(time.Now().UnixMicro()),
		CodecID:      codecID,
	})
	if _, err := f.Write(h); err != nil {
		f.Close()
		return "", errs.Wrap(errs.StorageError, "snapshot.write", err)
	}

	writeTime := types.Timestamp(time.Now().UnixMicro())
	for tag, group := range byTag {
		section := encodeSection(tag, group, writeTime)
		if _, err := f.Write(section); err != nil {
			f.Close()
			return "", errs.Wrap(errs.StorageError, "snapshot.write", err)
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return "", errs.Wrap(errs.StorageError, "snapshot.write", err)
	}
	if err := f.Close(); err != nil {
		return "", errs.Wrap(errs.StorageError, "snapshot.write", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", errs.Wrap(errs.StorageError, "snapshot.write", err)
	}
	return final, nil
}

func encodeSection(tag types.TypeTag, group []storage.KeyedVersioned, writeTime types.Timestamp) []byte {
	body := []byte{byte(tag), 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(body[1:5], uint32(len(group)))
	for _, e := range group {
		kb := e.Key.Bytes()
		vb := types.EncodeValue(e.Entry.Value)
		var ttlMicros uint64
		if e.ExpiresAt != 0 && e.ExpiresAt > writeTime {
			ttlMicros = uint64(e.ExpiresAt - writeTime)
		}
		rec := make([]byte, 4+len(kb)+8+8+4+len(vb))
		off := 0
		binary.LittleEndian.PutUint32(rec[off:], uint32(len(kb)))
		off += 4
		copy(rec[off:], kb)
		off += len(kb)
		binary.LittleEndian.PutUint64(rec[off:], e.Entry.Version.N)
		off += 8
		binary.LittleEndian.PutUint64(rec[off:], ttlMicros)
		off += 8
		binary.LittleEndian.PutUint32(rec[off:], uint32(len(vb)))
		off += 4
		copy(rec[off:], vb)
		body = append(body, rec...)
	}
	crc := crc32.ChecksumIEEE(body)
	trailer := make([]byte, 4)
	binary.LittleEndian.PutUint32(trailer, crc)
	return append(body, trailer...)
}

// Load reads the snapshot file at path and replays its entries into store
// via Put, at each entry's recorded version.
func Load(path string, store *storage.Store) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(errs.StorageError, "snapshot.load", err)
	}
	if _, err := decodeHeader(buf[:min(len(buf), HeaderSize)]); err != nil {
		return err
	}
	cursor := buf[HeaderSize:]

	for len(cursor) > 0 {
		if len(cursor) < 5 {
			return errs.New(errs.Corruption, "snapshot.load", "truncated section header")
		}
		tag := types.TypeTag(cursor[0])
		count := binary.LittleEndian.Uint32(cursor[1:5])
		pos := 5

		sectionStart := 0
		for i := uint32(0); i < count; i++ {
			if pos+4 > len(cursor) {
				return errs.New(errs.Corruption, "snapshot.load", "truncated entry")
			}
			keyLen := binary.LittleEndian.Uint32(cursor[pos : pos+4])
			pos += 4
			if pos+int(keyLen)+8+8+4 > len(cursor) {
				return errs.New(errs.Corruption, "snapshot.load", "truncated entry body")
			}
			keyBytes := cursor[pos : pos+int(keyLen)]
			pos += int(keyLen)
			version := binary.LittleEndian.Uint64(cursor[pos : pos+8])
			pos += 8
			ttlMicros := binary.LittleEndian.Uint64(cursor[pos : pos+8])
			pos += 8
			valLen := binary.LittleEndian.Uint32(cursor[pos : pos+4])
			pos += 4
			if pos+int(valLen) > len(cursor) {
				return errs.New(errs.Corruption, "snapshot.load", "truncated value")
			}
			valBytes := cursor[pos : pos+int(valLen)]
			pos += int(valLen)

			key, err := decodeKeyBytes(keyBytes, tag)
			if err != nil {
				return err
			}
			value, _, err := types.DecodeValue(valBytes)
			if err != nil {
				return errs.Wrap(errs.Corruption, "snapshot.load", err)
			}
			ttl := time.Duration(ttlMicros) * time.Microsecond
			if err := store.Put(key, value, version, ttl); err != nil {
				return err
			}
		}

		if pos+4 > len(cursor) {
			return errs.New(errs.Corruption, "snapshot.load", "truncated section trailer")
		}
		wantCRC := binary.LittleEndian.Uint32(cursor[pos : pos+4])
		if crc32.ChecksumIEEE(cursor[sectionStart:pos]) != wantCRC {
			return errs.New(errs.Corruption, "snapshot.load", "section CRC mismatch")
		}
		pos += 4
		cursor = cursor[pos:]
	}
	return nil
}

func decodeKeyBytes(b []byte, tag types.TypeTag) (types.Key, error) {
	if len(b) < 17 {
		return types.Key{}, errs.New(errs.Corruption, "snapshot.load", "truncated key bytes")
	}
	var runID uuid.UUID
	copy(runID[:], b[0:16])
	user := append([]byte(nil), b[17:]...)
	return types.Key{RunID: runID, Type: tag, User: user}, nil
}
