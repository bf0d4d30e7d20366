package gc

// Traceable is implemented by values and heap payloads that reference other
// registered objects. Trace calls t.Mark for every handle it owns.
type Traceable interface {
	Trace(t *Tracer)
}

// Roots is the execution stack as seen by the mark phase. Slots [0, SP())
// are the root set; they are traced but never refcounted.
type Roots interface {
	SP() int
	Root(i int) Traceable
}

// Tracer is handed to Traceable implementations during a mark phase. It
// exposes marking only; nothing reachable through it can allocate or start a
// collection.
type Tracer struct {
	reg  *registry
	work []Handle

	// record, when set, collects handles instead of marking them.
	record *[]Handle
	marked int
}

// Mark sets the mark bit of h. It returns true when the bit was previously
// clear, in which case the object's own payload is traced before the mark
// phase ends.
func (t *Tracer) Mark(h Handle) bool {
	hd := t.reg.lookup(h)
	if t.record != nil {
		*t.record = append(*t.record, h)
		return false
	}
	if hd.mark {
		return false
	}
	hd.mark = true
	t.marked++
	if _, ok := hd.payload.(Traceable); ok {
		t.work = append(t.work, h)
	}
	return true
}

// IsMarked reports whether h has been marked in the current phase.
func (t *Tracer) IsMarked(h Handle) bool {
	return t.reg.lookup(h).mark
}

// markRoots traces every live root slot, then drains the worklist so that
// everything transitively reachable from the stack ends up marked.
func (t *Tracer) markRoots(roots Roots) {
	if roots != nil {
		sp := roots.SP()
		for i := 0; i < sp; i++ {
			if v := roots.Root(i); v != nil {
				v.Trace(t)
			}
		}
	}
	t.drain()
}

func (t *Tracer) drain() {
	for len(t.work) > 0 {
		n := len(t.work) - 1
		h := t.work[n]
		t.work = t.work[:n]
		if tr, ok := t.reg.lookup(h).payload.(Traceable); ok {
			tr.Trace(t)
		}
	}
}

func (t *Tracer) reset() {
	t.work = t.work[:0]
	t.marked = 0
}
