package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/cbgc/gc"
)

var (
	ErrTypeMismatch = errors.New("type mismatch")
	ErrOutOfRange   = errors.New("index out of range")
)

// MachineConfig configures a Machine.
type MachineConfig struct {
	StackSize int
	GC        gc.Config
}

// DefaultMachineConfig returns the stock configuration.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		StackSize: DefaultStackSize,
		GC:        gc.DefaultConfig(),
	}
}

// ---------------------------------------------------------------------------
// Machine: one collector, one stack, one globals table
// ---------------------------------------------------------------------------

// Machine ties a collector to the stack it traces and the globals table that
// holds persistent references. Independent Machines share no state.
type Machine struct {
	stack   *Stack
	gc      *gc.Collector
	globals *Globals
}

// NewMachine creates a Machine with an empty heap.
func NewMachine(cfg MachineConfig) *Machine {
	stack := NewStack(cfg.StackSize)
	c := gc.New(stack, cfg.GC)
	return &Machine{
		stack:   stack,
		gc:      c,
		globals: NewGlobals(c),
	}
}

// Stack returns the execution stack.
func (m *Machine) Stack() *Stack { return m.stack }

// Collector returns the machine's collector.
func (m *Machine) Collector() *gc.Collector { return m.gc }

// Globals returns the persistent globals table.
func (m *Machine) Globals() *Globals { return m.globals }

// Push pushes v onto the execution stack.
func (m *Machine) Push(v Value) error { return m.stack.Push(v) }

// Pop pops the top of the execution stack.
func (m *Machine) Pop() (Value, error) { return m.stack.Pop() }

// Collect runs a full collection.
func (m *Machine) Collect() *gc.CollectStats { return m.gc.Collect() }

// Shutdown frees every heap object. The Machine cannot allocate afterwards.
func (m *Machine) Shutdown() {
	m.globals.vars = make(map[string]global)
	_ = m.stack.Truncate(0)
	m.gc.Shutdown()
}

// allocate is the single allocation path: collect if a threshold has been
// crossed, then register. The new object is unowned on return.
func (m *Machine) allocate(size int, obj any, deinit gc.Deinit) Value {
	m.gc.MaybeCollect()
	return Ref(m.gc.Register(size, obj, deinit))
}

func (m *Machine) retain(v Value) *gc.Ref {
	if !v.IsRef() {
		return nil
	}
	return m.gc.Acquire(v.Handle())
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// NewString allocates a heap string.
func (m *Machine) NewString(chars string) Value {
	return m.allocate(stringSize(chars), &String{Chars: chars}, nil)
}

// NewArray allocates an array holding elems. Heap elements are retained
// before the allocation so they cannot be collected by it.
func (m *Machine) NewArray(elems ...Value) Value {
	arr := &Array{
		elems: append([]Value(nil), elems...),
		refs:  make([]*gc.Ref, len(elems)),
	}
	for i, v := range elems {
		arr.refs[i] = m.retain(v)
	}
	return m.allocate(arraySize(len(elems)), arr, arr.release)
}

// NewUpvalue allocates a closed-over variable holding v.
func (m *Machine) NewUpvalue(v Value) Value {
	up := &Upvalue{value: v, ref: m.retain(v)}
	return m.allocate(objectOverhead+valueSize, up, up.release)
}

// NewClosure allocates a closure over the given upvalues, each of which must
// be an upvalue created by NewUpvalue.
func (m *Machine) NewClosure(name string, upvalues ...Value) (Value, error) {
	for i, u := range upvalues {
		if _, err := m.Upvalue(u); err != nil {
			return Nil, fmt.Errorf("closure %s upvalue %d: %w", name, i, err)
		}
	}
	cl := &Closure{Name: name, upvalues: make([]*gc.Ref, len(upvalues))}
	for i, u := range upvalues {
		cl.upvalues[i] = m.retain(u)
	}
	return m.allocate(closureSize(name, len(upvalues)), cl, cl.release), nil
}

// ---------------------------------------------------------------------------
// Mutators
// ---------------------------------------------------------------------------

// ArraySet stores v at index i of arr.
func (m *Machine) ArraySet(arr Value, i int, v Value) error {
	a, err := m.Array(arr)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(a.elems) {
		return fmt.Errorf("vm: array index %d of %d: %w", i, len(a.elems), ErrOutOfRange)
	}
	ref := m.retain(v)
	old := a.refs[i]
	a.elems[i], a.refs[i] = v, ref
	if old != nil {
		old.Release()
	}
	return nil
}

// ArrayAppend appends v to arr and grows its registered size to match. It
// never collects, so arr need not be rooted.
func (m *Machine) ArrayAppend(arr Value, v Value) error {
	a, err := m.Array(arr)
	if err != nil {
		return err
	}
	a.elems = append(a.elems, v)
	a.refs = append(a.refs, m.retain(v))
	m.gc.Resize(arr.Handle(), arraySize(len(a.elems)))
	return nil
}

// SetUpvalue replaces the value captured by up.
func (m *Machine) SetUpvalue(up Value, v Value) error {
	u, err := m.Upvalue(up)
	if err != nil {
		return err
	}
	ref := m.retain(v)
	old := u.ref
	u.value, u.ref = v, ref
	if old != nil {
		old.Release()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func payload[T any](m *Machine, v Value, want string) (T, error) {
	var zero T
	if !v.IsRef() {
		return zero, fmt.Errorf("vm: %s is not a %s: %w", v, want, ErrTypeMismatch)
	}
	obj, ok := m.gc.Payload(v.Handle()).(T)
	if !ok {
		return zero, fmt.Errorf("vm: %s is not a %s: %w", v, want, ErrTypeMismatch)
	}
	return obj, nil
}

// StringOf returns the contents of a heap string.
func (m *Machine) StringOf(v Value) (string, error) {
	s, err := payload[*String](m, v, "string")
	if err != nil {
		return "", err
	}
	return s.Chars, nil
}

// Array returns the array v references.
func (m *Machine) Array(v Value) (*Array, error) {
	return payload[*Array](m, v, "array")
}

// Upvalue returns the upvalue v references.
func (m *Machine) Upvalue(v Value) (*Upvalue, error) {
	return payload[*Upvalue](m, v, "upvalue")
}

// Closure returns the closure v references.
func (m *Machine) Closure(v Value) (*Closure, error) {
	return payload[*Closure](m, v, "closure")
}
