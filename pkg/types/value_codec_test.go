// pkg/types/value_codec_test.go
package types

import "testing"

func TestValueCodecRoundTrip(t *testing.T) {
	cases := []Value{
		Null(),
		Bool(true),
		Int(-42),
		Float(3.25),
		String("hello"),
		Bytes([]byte{1, 2, 3}),
		Array([]Value{Int(1), String("x"), Null()}),
		Map(map[string]Value{"a": Int(1), "b": Bool(false)}),
	}
	for _, v := range cases {
		encoded := EncodeValue(v)
		decoded, n, err := DecodeValue(encoded)
		if err != nil {
			t.Fatalf("DecodeValue(%v) failed: %v", v, err)
		}
		if n != len(encoded) {
			t.Errorf("expected to consume %d bytes, consumed %d", len(encoded), n)
		}
		if !decoded.Equal(v) {
			t.Errorf("round-trip mismatch: got %v, want %v", decoded, v)
		}
	}
}

func TestValueCodecTruncatedBufferErrors(t *testing.T) {
	encoded := EncodeValue(String("hello world"))
	if _, _, err := DecodeValue(encoded[:len(encoded)-2]); err == nil {
		t.Error("expected error decoding truncated string value")
	}
}
