// pkg/types/key_test.go
package types

import (
	"testing"

	"github.com/google/uuid"
)

func TestKeyOrderingByRunThenTypeThenUser(t *testing.T) {
	run1 := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	run2 := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	k1 := NewKey(run1, TagKV, []byte("a"))
	k2 := NewKey(run1, TagKV, []byte("b"))
	k3 := NewKey(run1, TagEvent, []byte("a"))
	k4 := NewKey(run2, TagKV, []byte("a"))

	if k1.Compare(k2) >= 0 {
		t.Error("k1 should sort before k2 (same run/type, user 'a' < 'b')")
	}
	if k1.Compare(k3) >= 0 {
		t.Error("k1 should sort before k3 (KV tag 0x01 < Event tag 0x02)")
	}
	if k3.Compare(k4) >= 0 {
		t.Error("any run1 key should sort before any run2 key")
	}
}

func TestKeyPrefixScans(t *testing.T) {
	run := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	k := NewKey(run, TagKV, []byte("widget/1"))

	if !k.HasPrefix(RunPrefix(run)) {
		t.Error("key must match its own run prefix")
	}
	if !k.HasPrefix(RunTypePrefix(run, TagKV)) {
		t.Error("key must match its own (run, type) prefix")
	}
	otherRun := uuid.MustParse("00000000-0000-0000-0000-000000000099")
	if k.HasPrefix(RunPrefix(otherRun)) {
		t.Error("key must not match a different run's prefix")
	}
}

func TestValidateUserKeyBoundaries(t *testing.T) {
	if ok, _ := ValidateUserKey(nil); ok {
		t.Error("empty key must be invalid")
	}
	if ok, _ := ValidateUserKey([]byte("a\x00b")); ok {
		t.Error("key with NUL must be invalid")
	}
	if ok, _ := ValidateUserKey([]byte("__strata_internal")); ok {
		t.Error("key with reserved prefix must be invalid")
	}
	big := make([]byte, MaxKeyLength+1)
	for i := range big {
		big[i] = 'x'
	}
	if ok, _ := ValidateUserKey(big); ok {
		t.Error("key exceeding MaxKeyLength must be invalid")
	}
	if ok, _ := ValidateUserKey([]byte("fine")); !ok {
		t.Error("ordinary key must be valid")
	}
}
