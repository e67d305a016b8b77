// Package manifest reads and writes Strata's MANIFEST file: the 68-byte
// fixed-layout record at the root of a database directory that anchors
// recovery (database identity, active codec, and the watermark up to
// which a snapshot already accounts for applied versions).
//
// Binary layout mirrors pkg/walog/segment.go's header style (named byte
// offsets, little-endian, CRC-32 trailer over the preceding bytes), the
// same style mjm918-tur's pkg/dbfile/header.go used for SQLite's page-0
// header before that package was retired in favor of this one.
package manifest

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"strata/pkg/errs"
)

const (
	// Size is the fixed on-disk length of a MANIFEST file.
	Size = 68

	// Magic identifies a Strata MANIFEST file.
	Magic = "MANF"

	// FormatVersion is the current on-disk manifest format version.
	FormatVersion uint32 = 1

	// codecIDSize is the fixed width of the zero-padded ASCII codec field.
	codecIDSize = 16

	// FileName is the canonical MANIFEST file name within a database dir.
	FileName = "MANIFEST"
)

// Manifest is the decoded contents of a MANIFEST file:
//
//	0  : magic "MANF"              (4B)
//	4  : format version = 1        (4B)
//	8  : database_uuid             (16B)
//	24 : codec_id (zero-padded)    (16B)
//	40 : snapshot_id (0 if none)   (8B LE)
//	48 : watermark                 (8B LE)
//	56 : timestamp of write (µs)   (8B LE)
//	64 : CRC-32 of bytes [0, 64)   (4B LE)
type Manifest struct {
	DatabaseUUID uuid.UUID
	CodecID      string
	SnapshotID   uint64
	Watermark    uint64
	Timestamp    uint64
}

// Encode serializes m into its 68-byte wire form.
func Encode(m Manifest) []byte {
	buf := make([]byte, Size)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	copy(buf[8:24], m.DatabaseUUID[:])
	codec := make([]byte, codecIDSize)
	copy(codec, m.CodecID)
	copy(buf[24:40], codec)
	binary.LittleEndian.PutUint64(buf[40:48], m.SnapshotID)
	binary.LittleEndian.PutUint64(buf[48:56], m.Watermark)
	binary.LittleEndian.PutUint64(buf[56:64], m.Timestamp)
	crc := crc32.ChecksumIEEE(buf[0:64])
	binary.LittleEndian.PutUint32(buf[64:68], crc)
	return buf
}

// Decode parses a MANIFEST's 68 bytes, validating magic, format version,
// and CRC before trusting any field.
func Decode(buf []byte) (Manifest, error) {
	var m Manifest
	if len(buf) < Size {
		return m, errs.New(errs.Corruption, "manifest.decode", "manifest shorter than 68 bytes")
	}
	if string(buf[0:4]) != Magic {
		return m, errs.New(errs.Corruption, "manifest.decode", "bad magic")
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != FormatVersion {
		return m, errs.New(errs.Corruption, "manifest.decode", "unsupported format version")
	}
	crc := binary.LittleEndian.Uint32(buf[64:68])
	if crc32.ChecksumIEEE(buf[0:64]) != crc {
		return m, errs.New(errs.Corruption, "manifest.decode", "CRC mismatch")
	}
	copy(m.DatabaseUUID[:], buf[8:24])
	end := 24
	for end < 40 && buf[end] != 0 {
		end++
	}
	m.CodecID = string(buf[24:end])
	m.SnapshotID = binary.LittleEndian.Uint64(buf[40:48])
	m.Watermark = binary.LittleEndian.Uint64(buf[48:56])
	m.Timestamp = binary.LittleEndian.Uint64(buf[56:64])
	return m, nil
}

// Path joins a database root directory with the canonical MANIFEST name.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Write durably replaces the MANIFEST at dir via create-temp-then-rename:
// the temp file is written and fsynced first, then renamed over the final
// path, which is atomic on POSIX filesystems (and on NTFS when source and
// destination share a volume) so a crash never leaves a half-written
// MANIFEST behind.
func Write(dir string, m Manifest) error {
	final := Path(dir)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.StorageError, "manifest.write", err)
	}
	if _, err := f.Write(Encode(m)); err != nil {
		f.Close()
		return errs.Wrap(errs.StorageError, "manifest.write", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(errs.StorageError, "manifest.write", err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.StorageError, "manifest.write", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return errs.Wrap(errs.StorageError, "manifest.write", err)
	}
	return nil
}

// Read loads and validates the MANIFEST at dir.
func Read(dir string) (Manifest, error) {
	buf, err := os.ReadFile(Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, errs.New(errs.NotFound, "manifest.read", "no MANIFEST in directory")
		}
		return Manifest{}, errs.Wrap(errs.StorageError, "manifest.read", err)
	}
	return Decode(buf)
}

// Exists reports whether dir already contains a MANIFEST file.
func Exists(dir string) bool {
	_, err := os.Stat(Path(dir))
	return err == nil
}
