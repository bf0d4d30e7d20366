package vm

import (
	"fmt"
	"strconv"

	"github.com/chazu/cbgc/gc"
)

// Kind tags the representation of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindInt
	KindBool
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindRef:
		return "ref"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is either an immediate or a reference to a heap object.
type Value struct {
	kind Kind
	n    int64
	h    gc.Handle
}

// Nil is the zero Value.
var Nil = Value{}

// Int returns an integer immediate.
func Int(n int64) Value { return Value{kind: KindInt, n: n} }

// Bool returns a boolean immediate.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.n = 1
	}
	return v
}

// Ref wraps a heap handle.
func Ref(h gc.Handle) Value { return Value{kind: KindRef, h: h} }

func (v Value) Kind() Kind         { return v.kind }
func (v Value) IsNil() bool        { return v.kind == KindNil }
func (v Value) IsInt() bool        { return v.kind == KindInt }
func (v Value) IsBool() bool       { return v.kind == KindBool }
func (v Value) IsRef() bool        { return v.kind == KindRef }
func (v Value) Int() int64         { return v.n }
func (v Value) Bool() bool         { return v.n != 0 }
func (v Value) Handle() gc.Handle  { return v.h }

// Trace marks the heap object v references, if any.
func (v Value) Trace(t *gc.Tracer) {
	if v.kind == KindRef {
		t.Mark(v.h)
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindInt:
		return strconv.FormatInt(v.n, 10)
	case KindBool:
		return strconv.FormatBool(v.Bool())
	default:
		return "ref" + v.h.String()
	}
}
