// pkg/types/key.go
package types

import (
	"bytes"

	"github.com/google/uuid"
)

// TypeTag is the single-byte primitive discriminator embedded in every
// composite key.
type TypeTag byte

const (
	TagKV     TypeTag = 0x01
	TagEvent  TypeTag = 0x02
	TagState  TypeTag = 0x03
	TagRun    TypeTag = 0x04
	TagJSON   TypeTag = 0x05
	TagVector TypeTag = 0x06
)

func (t TypeTag) String() string {
	switch t {
	case TagKV:
		return "kv"
	case TagEvent:
		return "event"
	case TagState:
		return "state"
	case TagRun:
		return "run"
	case TagJSON:
		return "json"
	case TagVector:
		return "vector"
	default:
		return "unknown"
	}
}

// DefaultRunID is the nil UUID, reserved as the global-namespace sentinel.
// The literal run name "default" maps to this value.
var DefaultRunID = uuid.Nil

// MaxKeyLength is the maximum encoded length of a user_key, per spec.
const MaxKeyLength = 1024

// ReservedKeyPrefix is a user_key prefix rejected by validation.
const ReservedKeyPrefix = "__strata_"

// Key is Strata's composite key: (run_id, type_tag, user_key). Ordering is
// lexicographic over the triple so that scans by run, by (run, primitive),
// or by (run, primitive, prefix) are contiguous byte ranges.
type Key struct {
	RunID uuid.UUID
	Type  TypeTag
	User  []byte
}

// NewKey builds a Key, copying User so callers may reuse their buffer.
func NewKey(runID uuid.UUID, tag TypeTag, user []byte) Key {
	cp := make([]byte, len(user))
	copy(cp, user)
	return Key{RunID: runID, Type: tag, User: cp}
}

// Bytes returns the lexicographically-ordered wire form: 16-byte run_id,
// 1-byte type_tag, then user_key. This is both the google/btree ordering
// key and the encoding written into WAL key fields.
func (k Key) Bytes() []byte {
	buf := make([]byte, 16+1+len(k.User))
	copy(buf[0:16], k.RunID[:])
	buf[16] = byte(k.Type)
	copy(buf[17:], k.User)
	return buf
}

// Compare returns -1, 0, or 1 following the composite ordering.
func (k Key) Compare(o Key) int {
	return bytes.Compare(k.Bytes(), o.Bytes())
}

// Equal reports whether two keys are byte-identical.
func (k Key) Equal(o Key) bool {
	return k.Compare(o) == 0
}

// HasPrefix reports whether k falls within the (run_id[, type_tag[, user
// prefix]]) range described by prefix. Used by scan_prefix and scan_by_run.
func (k Key) HasPrefix(prefix []byte) bool {
	return bytes.HasPrefix(k.Bytes(), prefix)
}

// RunPrefix returns the byte prefix identifying all keys under a run.
func RunPrefix(runID uuid.UUID) []byte {
	return runID[:]
}

// RunTypePrefix returns the byte prefix identifying all keys under a
// (run, primitive) pair.
func RunTypePrefix(runID uuid.UUID, tag TypeTag) []byte {
	buf := make([]byte, 17)
	copy(buf[0:16], runID[:])
	buf[16] = byte(tag)
	return buf
}

// ValidateUserKey applies the boundary rules from spec §7/§8: empty,
// containing NUL, the reserved prefix, or exceeding MaxKeyLength are all
// InvalidKey conditions. Callers wrap the returned bool into a typed
// errs.Error; ValidateUserKey itself stays dependency-free so it can be
// used by any package (avoids an import cycle with pkg/errs).
func ValidateUserKey(user []byte) (ok bool, reason string) {
	if len(user) == 0 {
		return false, "empty key"
	}
	if len(user) > MaxKeyLength {
		return false, "key exceeds maximum length"
	}
	for _, b := range user {
		if b == 0 {
			return false, "key contains NUL byte"
		}
	}
	if bytes.HasPrefix(user, []byte(ReservedKeyPrefix)) {
		return false, "key uses reserved prefix __strata_"
	}
	return true, ""
}
