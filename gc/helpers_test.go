package gc

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Test helpers: a minimal stack and object model
// ---------------------------------------------------------------------------

type testStack struct {
	slots []Traceable
	sp    int
}

func (s *testStack) SP() int              { return s.sp }
func (s *testStack) Root(i int) Traceable { return s.slots[i] }

func (s *testStack) push(v Traceable) {
	s.slots = append(s.slots[:s.sp], v)
	s.sp++
}

func (s *testStack) pop() {
	s.sp--
}

// slot is a stack value referencing a heap object.
type slot Handle

func (h slot) Trace(t *Tracer) { t.Mark(Handle(h)) }

// node is a heap payload owning other objects.
type node struct {
	name     string
	children []Handle
}

func (n *node) Kind() string { return "node" }

func (n *node) Trace(t *Tracer) {
	for _, c := range n.children {
		t.Mark(c)
	}
}

type finalizeLog map[string]int

func (f finalizeLog) deinit(name string) Deinit {
	return func() { f[name]++ }
}

func newTestCollector(cfg Config) (*Collector, *testStack) {
	st := &testStack{}
	return New(st, cfg), st
}

// expectFault runs fn and fails unless it panics with a *Fault of kind.
func expectFault(t *testing.T, kind FaultKind, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected %s fault, got none", kind)
		}
		err, ok := r.(error)
		if !ok {
			t.Fatalf("expected *Fault, got %T: %v", r, r)
		}
		var f *Fault
		if !errors.As(err, &f) {
			t.Fatalf("expected *Fault, got %T: %v", r, r)
		}
		if f.Kind != kind {
			t.Fatalf("expected %s fault, got %s (%v)", kind, f.Kind, f)
		}
	}()
	fn()
}

// checkAccounting verifies the aggregate counter against the registry.
func checkAccounting(t *testing.T, c *Collector) {
	t.Helper()
	sum, n := 0, 0
	c.reg.each(func(_ Handle, hd *header) {
		sum += hd.size
		n++
		if hd.mark {
			t.Errorf("mark bit set at rest")
		}
	})
	if sum != c.Allocated() {
		t.Errorf("Allocated() = %d, sum of live sizes = %d", c.Allocated(), sum)
	}
	if n != c.Live() {
		t.Errorf("Live() = %d, registry holds %d", c.Live(), n)
	}
}
