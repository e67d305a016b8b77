// pkg/types/value_codec.go
package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeValue produces a self-describing binary encoding of v: a 1-byte
// Kind tag followed by a kind-specific body. Used to build WAL payloads and
// the optional snapshot file (spec §6) without going through any generic
// serialization library — one more ambient concern the corpus always rolls
// by hand with encoding/binary rather than importing a serializer.
func EncodeValue(v Value) []byte {
	switch v.kind {
	case KindNull:
		return []byte{byte(KindNull)}
	case KindBool:
		b := byte(0)
		if v.boolVal {
			b = 1
		}
		return []byte{byte(KindBool), b}
	case KindInt:
		buf := make([]byte, 9)
		buf[0] = byte(KindInt)
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.intVal))
		return buf
	case KindFloat:
		buf := make([]byte, 9)
		buf[0] = byte(KindFloat)
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.floatVal))
		return buf
	case KindString:
		return encodeLenPrefixed(byte(KindString), []byte(v.stringVal))
	case KindBytes:
		return encodeLenPrefixed(byte(KindBytes), v.bytesVal)
	case KindArray:
		buf := []byte{byte(KindArray)}
		buf = appendUint32(buf, uint32(len(v.arrayVal)))
		for _, item := range v.arrayVal {
			buf = appendLenPrefixed(buf, EncodeValue(item))
		}
		return buf
	case KindMap:
		buf := []byte{byte(KindMap)}
		buf = appendUint32(buf, uint32(len(v.mapVal)))
		for k, item := range v.mapVal {
			buf = appendLenPrefixed(buf, []byte(k))
			buf = appendLenPrefixed(buf, EncodeValue(item))
		}
		return buf
	default:
		return []byte{byte(KindNull)}
	}
}

// DecodeValue is the inverse of EncodeValue. It returns the decoded value
// and the number of bytes consumed from buf.
func DecodeValue(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, fmt.Errorf("types: empty value buffer")
	}
	kind := Kind(buf[0])
	switch kind {
	case KindNull:
		return Null(), 1, nil
	case KindBool:
		if len(buf) < 2 {
			return Value{}, 0, fmt.Errorf("types: truncated bool value")
		}
		return Bool(buf[1] != 0), 2, nil
	case KindInt:
		if len(buf) < 9 {
			return Value{}, 0, fmt.Errorf("types: truncated int value")
		}
		return Int(int64(binary.LittleEndian.Uint64(buf[1:9]))), 9, nil
	case KindFloat:
		if len(buf) < 9 {
			return Value{}, 0, fmt.Errorf("types: truncated float value")
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(buf[1:9]))), 9, nil
	case KindString:
		body, n, err := decodeLenPrefixed(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		return String(string(body)), 1 + n, nil
	case KindBytes:
		body, n, err := decodeLenPrefixed(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		return Bytes(body), 1 + n, nil
	case KindArray:
		if len(buf) < 5 {
			return Value{}, 0, fmt.Errorf("types: truncated array value")
		}
		count := binary.LittleEndian.Uint32(buf[1:5])
		pos := 5
		items := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			elem, n, err := decodeLenPrefixed(buf[pos:])
			if err != nil {
				return Value{}, 0, err
			}
			val, _, err := DecodeValue(elem)
			if err != nil {
				return Value{}, 0, err
			}
			items = append(items, val)
			pos += n
		}
		return Array(items), pos, nil
	case KindMap:
		if len(buf) < 5 {
			return Value{}, 0, fmt.Errorf("types: truncated map value")
		}
		count := binary.LittleEndian.Uint32(buf[1:5])
		pos := 5
		m := make(map[string]Value, count)
		for i := uint32(0); i < count; i++ {
			keyBytes, n, err := decodeLenPrefixed(buf[pos:])
			if err != nil {
				return Value{}, 0, err
			}
			pos += n
			valBytes, n, err := decodeLenPrefixed(buf[pos:])
			if err != nil {
				return Value{}, 0, err
			}
			val, _, err := DecodeValue(valBytes)
			if err != nil {
				return Value{}, 0, err
			}
			m[string(keyBytes)] = val
			pos += n
		}
		return Map(m), pos, nil
	default:
		return Value{}, 0, fmt.Errorf("types: unknown value kind %d", kind)
	}
}

func appendUint32(buf []byte, n uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, n)
	return append(buf, tmp...)
}

func appendLenPrefixed(buf, body []byte) []byte {
	buf = appendUint32(buf, uint32(len(body)))
	return append(buf, body...)
}

func encodeLenPrefixed(tag byte, body []byte) []byte {
	buf := []byte{tag}
	return appendLenPrefixed(buf, body)
}

func decodeLenPrefixed(buf []byte) (body []byte, consumed int, err error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("types: truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	if uint32(len(buf)-4) < n {
		return nil, 0, fmt.Errorf("types: truncated length-prefixed body")
	}
	return buf[4 : 4+n], 4 + int(n), nil
}
