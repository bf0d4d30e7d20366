package gc

// Ref is a persistent reference: acquiring one adds a persistent owner to
// its object and Release removes it again, exactly once. Heap objects and
// global tables hold Refs; stack slots hold plain Handles.
type Ref struct {
	c        *Collector
	h        Handle
	released bool
}

// Acquire takes a new persistent reference to h.
func (c *Collector) Acquire(h Handle) *Ref {
	c.AdjustRefcount(h, 1)
	return &Ref{c: c, h: h}
}

// Handle returns the referenced object.
func (r *Ref) Handle() Handle {
	return r.h
}

// Released reports whether Release has been called.
func (r *Ref) Released() bool {
	return r.released
}

// Clone takes an additional, independent reference to the same object.
func (r *Ref) Clone() *Ref {
	if r.released {
		fault(FaultDoubleRelease, r.h, "clone of released reference")
	}
	return r.c.Acquire(r.h)
}

// Release drops the reference. Releasing twice faults. If the release itself
// faults, the reference stays unreleased.
func (r *Ref) Release() {
	if r.released {
		fault(FaultDoubleRelease, r.h, "reference released twice")
	}
	r.c.AdjustRefcount(r.h, -1)
	r.released = true
}
