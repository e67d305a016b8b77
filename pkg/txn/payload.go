// pkg/txn/payload.go
package txn

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"strata/pkg/types"
)

// WAL payloads are opaque to pkg/walog ("entry-specific, opaque to WAL" per
// spec §4.2); pkg/txn defines the encoding for the generic put/delete/cas
// shapes shared by every primitive, and pkg/recovery decodes them back.
//
// putPayload:    keyLen(4) key version(8) ttlMicros(8) value(EncodeValue)
// deletePayload: keyLen(4) key version(8)

func encodePutPayload(key types.Key, version uint64, ttlMicros uint64, value types.Value) []byte {
	keyBytes := key.Bytes()
	valBytes := types.EncodeValue(value)
	buf := make([]byte, 4+len(keyBytes)+8+8+len(valBytes))
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(keyBytes)))
	off += 4
	copy(buf[off:], keyBytes)
	off += len(keyBytes)
	binary.LittleEndian.PutUint64(buf[off:], version)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], ttlMicros)
	off += 8
	copy(buf[off:], valBytes)
	return buf
}

func decodePutPayload(buf []byte) (keyBytes []byte, version uint64, ttlMicros uint64, value types.Value, err error) {
	if len(buf) < 4 {
		return nil, 0, 0, types.Value{}, fmt.Errorf("txn: truncated put payload")
	}
	keyLen := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	if uint32(len(buf)-off) < keyLen+16 {
		return nil, 0, 0, types.Value{}, fmt.Errorf("txn: truncated put payload body")
	}
	keyBytes = buf[off : off+int(keyLen)]
	off += int(keyLen)
	version = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	ttlMicros = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	value, _, err = types.DecodeValue(buf[off:])
	if err != nil {
		return nil, 0, 0, types.Value{}, err
	}
	return keyBytes, version, ttlMicros, value, nil
}

func encodeDeletePayload(key types.Key, version uint64) []byte {
	keyBytes := key.Bytes()
	buf := make([]byte, 4+len(keyBytes)+8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(keyBytes)))
	copy(buf[4:], keyBytes)
	binary.LittleEndian.PutUint64(buf[4+len(keyBytes):], version)
	return buf
}

func decodeDeletePayload(buf []byte) (keyBytes []byte, version uint64, err error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("txn: truncated delete payload")
	}
	keyLen := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	if uint32(len(buf)-off) < keyLen+8 {
		return nil, 0, fmt.Errorf("txn: truncated delete payload body")
	}
	keyBytes = buf[off : off+int(keyLen)]
	off += int(keyLen)
	version = binary.LittleEndian.Uint64(buf[off:])
	return keyBytes, version, nil
}

// decodeKeyBytes reconstructs a types.Key from its Bytes() wire form
// (16-byte run_id, 1-byte type tag, remaining user_key).
func decodeKeyBytes(b []byte) (types.Key, error) {
	if len(b) < 17 {
		return types.Key{}, fmt.Errorf("txn: truncated key bytes")
	}
	var runID uuid.UUID
	copy(runID[:], b[0:16])
	tag := types.TypeTag(b[16])
	user := append([]byte(nil), b[17:]...)
	return types.Key{RunID: runID, Type: tag, User: user}, nil
}

// DecodePutPayload exposes decodePutPayload to pkg/recovery, which must
// replay the same WAL record shapes pkg/txn writes during logCommit.
func DecodePutPayload(buf []byte) (key types.Key, version uint64, ttlMicros uint64, value types.Value, err error) {
	kb, version, ttlMicros, value, err := decodePutPayload(buf)
	if err != nil {
		return types.Key{}, 0, 0, types.Value{}, err
	}
	key, err = decodeKeyBytes(kb)
	if err != nil {
		return types.Key{}, 0, 0, types.Value{}, err
	}
	return key, version, ttlMicros, value, nil
}

// DecodeDeletePayload exposes decodeDeletePayload to pkg/recovery.
func DecodeDeletePayload(buf []byte) (key types.Key, version uint64, err error) {
	kb, version, err := decodeDeletePayload(buf)
	if err != nil {
		return types.Key{}, 0, err
	}
	key, err = decodeKeyBytes(kb)
	if err != nil {
		return types.Key{}, 0, err
	}
	return key, version, nil
}
