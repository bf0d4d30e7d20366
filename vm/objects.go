package vm

import "github.com/chazu/cbgc/gc"

const (
	// objectOverhead is charged for every heap object on top of its contents.
	objectOverhead = 32
	valueSize      = 24
)

// String is an immutable heap string.
type String struct {
	Chars string
}

func (s *String) Kind() string { return "string" }

func stringSize(chars string) int {
	return objectOverhead + len(chars)
}

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

// Array is a growable sequence of values. Each heap element is owned through
// a Ref held alongside it.
type Array struct {
	elems []Value
	refs  []*gc.Ref
}

func (a *Array) Kind() string { return "array" }

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.elems) }

// At returns element i.
func (a *Array) At(i int) Value { return a.elems[i] }

// Trace marks every heap element.
func (a *Array) Trace(t *gc.Tracer) {
	for _, v := range a.elems {
		v.Trace(t)
	}
}

func (a *Array) release() {
	for i, r := range a.refs {
		if r != nil {
			r.Release()
			a.refs[i] = nil
		}
	}
}

func arraySize(n int) int {
	return objectOverhead + n*valueSize
}

// ---------------------------------------------------------------------------
// Upvalue and Closure
// ---------------------------------------------------------------------------

// Upvalue is a closed-over variable. It owns the heap value it holds.
type Upvalue struct {
	value Value
	ref   *gc.Ref
}

func (u *Upvalue) Kind() string { return "upvalue" }

// Get returns the captured value.
func (u *Upvalue) Get() Value { return u.value }

func (u *Upvalue) Trace(t *gc.Tracer) { u.value.Trace(t) }

func (u *Upvalue) release() {
	if u.ref != nil {
		u.ref.Release()
		u.ref = nil
	}
}

// Closure is a function value together with the upvalues it closes over.
type Closure struct {
	Name     string
	upvalues []*gc.Ref
}

func (c *Closure) Kind() string { return "closure" }

// NumUpvalues returns the number of captured variables.
func (c *Closure) NumUpvalues() int { return len(c.upvalues) }

// Upvalue returns the handle of captured variable i.
func (c *Closure) Upvalue(i int) gc.Handle { return c.upvalues[i].Handle() }

func (c *Closure) Trace(t *gc.Tracer) {
	for _, r := range c.upvalues {
		t.Mark(r.Handle())
	}
}

func (c *Closure) release() {
	for _, r := range c.upvalues {
		r.Release()
	}
	c.upvalues = nil
}

func closureSize(name string, n int) int {
	return objectOverhead + len(name) + n*8
}
