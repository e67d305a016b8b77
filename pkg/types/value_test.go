// pkg/types/value_test.go
package types

import (
	"math"
	"testing"
)

func TestValueEqualBasics(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null=null", Null(), Null(), true},
		{"null!=int", Null(), Int(0), false},
		{"int=int", Int(42), Int(42), true},
		{"int!=int", Int(42), Int(43), false},
		{"bool=bool", Bool(true), Bool(true), true},
		{"string=string", String("a"), String("a"), true},
		{"bytes=bytes", Bytes([]byte("xy")), Bytes([]byte("xy")), true},
		{"bytes!=bytes", Bytes([]byte("xy")), Bytes([]byte("xz")), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Equal(c.b); got != c.want {
				t.Errorf("Equal() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestValueEqualFloatIEEE754(t *testing.T) {
	nan := Float(math.NaN())
	if nan.Equal(nan) {
		t.Error("NaN must not equal itself")
	}
	posZero := Float(0.0)
	negZero := Float(math.Copysign(0, -1))
	if !posZero.Equal(negZero) {
		t.Error("-0.0 must equal 0.0")
	}
}

func TestValueArrayMapEqual(t *testing.T) {
	a := Array([]Value{Int(1), String("x")})
	b := Array([]Value{Int(1), String("x")})
	c := Array([]Value{Int(1), String("y")})
	if !a.Equal(b) {
		t.Error("identical arrays should be equal")
	}
	if a.Equal(c) {
		t.Error("differing arrays should not be equal")
	}

	m1 := Map(map[string]Value{"k": Int(1)})
	m2 := Map(map[string]Value{"k": Int(1)})
	m3 := Map(map[string]Value{"k": Int(2)})
	if !m1.Equal(m2) {
		t.Error("identical maps should be equal")
	}
	if m1.Equal(m3) {
		t.Error("differing maps should not be equal")
	}
}

func TestBytesIsolatesCaller(t *testing.T) {
	buf := []byte("hello")
	v := Bytes(buf)
	buf[0] = 'H'
	if v.AsBytes()[0] != 'h' {
		t.Error("Bytes() must copy input, not alias it")
	}
	got := v.AsBytes()
	got[0] = 'X'
	if v.AsBytes()[0] != 'h' {
		t.Error("AsBytes() must return a copy, not an alias")
	}
}
