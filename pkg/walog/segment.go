// pkg/walog/segment.go
package walog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"strata/pkg/errs"
)

const (
	// SegmentHeaderSize is the fixed 64-byte header at the start of every
	// wal-NNNNNN.seg file.
	SegmentHeaderSize = 64

	// SegmentMagic identifies a Strata WAL segment file.
	SegmentMagic = "STRA"

	// SegmentFormatVersion is the current on-disk segment format version.
	SegmentFormatVersion uint32 = 1

	// codecIDSize is the fixed width of the zero-padded ASCII codec field.
	codecIDSize = 16

	// DefaultSegmentMaxBytes is the rotation threshold when unconfigured.
	DefaultSegmentMaxBytes = 64 * 1024 * 1024
)

// segmentHeader is the 64-byte header written at offset 0 of every segment:
//
//	0  : magic "STRA"            (4B)
//	4  : format version = 1      (4B)
//	8  : database UUID            (16B)
//	24 : segment number           (8B LE)
//	32 : creation timestamp (µs)  (8B LE)
//	40 : codec id (zero-padded)   (16B)
//	56 : CRC-32 of bytes [0,56)   (4B LE)
//	60 : reserved, zero           (4B)
type segmentHeader struct {
	DatabaseUUID uuid.UUID
	SegmentNo    uint64
	CreatedAt    uint64
	CodecID      string
}

func encodeSegmentHeader(h segmentHeader) []byte {
	buf := make([]byte, SegmentHeaderSize)
	copy(buf[0:4], SegmentMagic)
	binary.LittleEndian.PutUint32(buf[4:8], SegmentFormatVersion)
	copy(buf[8:24], h.DatabaseUUID[:])
	binary.LittleEndian.PutUint64(buf[24:32], h.SegmentNo)
	binary.LittleEndian.PutUint64(buf[32:40], h.CreatedAt)
	codec := make([]byte, codecIDSize)
	copy(codec, h.CodecID)
	copy(buf[40:56], codec)
	crc := crc32.ChecksumIEEE(buf[0:56])
	binary.LittleEndian.PutUint32(buf[56:60], crc)
	// buf[60:64] stays zero (reserved)
	return buf
}

func decodeSegmentHeader(buf []byte) (segmentHeader, error) {
	var h segmentHeader
	if len(buf) < SegmentHeaderSize {
		return h, errs.New(errs.Corruption, "walog.segment", "header shorter than 64 bytes")
	}
	if string(buf[0:4]) != SegmentMagic {
		return h, errs.New(errs.Corruption, "walog.segment", "bad magic")
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != SegmentFormatVersion {
		return h, errs.New(errs.Corruption, "walog.segment", fmt.Sprintf("unsupported format version %d", version))
	}
	crc := binary.LittleEndian.Uint32(buf[56:60])
	if crc32.ChecksumIEEE(buf[0:56]) != crc {
		return h, errs.New(errs.Corruption, "walog.segment", "header CRC mismatch")
	}
	copy(h.DatabaseUUID[:], buf[8:24])
	h.SegmentNo = binary.LittleEndian.Uint64(buf[24:32])
	h.CreatedAt = binary.LittleEndian.Uint64(buf[32:40])
	end := 40
	for end < 56 && buf[end] != 0 {
		end++
	}
	h.CodecID = string(buf[40:end])
	return h, nil
}

// SegmentName returns the canonical "wal-NNNNNN.seg" file name for a
// segment number, zero-padded to 6 decimal digits.
func SegmentName(n uint64) string {
	return fmt.Sprintf("wal-%06d.seg", n)
}

// SegmentPath joins a WAL directory and segment number into a full path.
func SegmentPath(dir string, n uint64) string {
	return filepath.Join(dir, SegmentName(n))
}

// ListSegments returns the segment numbers present in dir, ascending.
func ListSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.StorageError, "walog.listsegments", err)
	}
	var nums []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var n uint64
		if _, err := fmt.Sscanf(e.Name(), "wal-%06d.seg", &n); err == nil {
			nums = append(nums, n)
		}
	}
	for i := 1; i < len(nums); i++ {
		for j := i; j > 0 && nums[j-1] > nums[j]; j-- {
			nums[j-1], nums[j] = nums[j], nums[j-1]
		}
	}
	return nums, nil
}
