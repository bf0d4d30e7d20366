package gc

import "fmt"

// Kinded is optionally implemented by payloads to name their object kind in
// snapshots.
type Kinded interface {
	Kind() string
}

// SnapshotEntry describes one registered object.
type SnapshotEntry struct {
	Handle   Handle
	Size     int
	Refcount uint32
	Kind     string
	Refs     []Handle
}

// Snapshot is a point-in-time copy of the registry and its reference graph.
type Snapshot struct {
	Entries   []SnapshotEntry
	Roots     []Handle
	Allocated int
	Threshold int
	Hint      int
}

// Snapshot records every live object with the handles its payload traces to,
// and the handles referenced from the current root slots. Mark bits are left
// untouched.
func (c *Collector) Snapshot() *Snapshot {
	if c.phase != phaseIdle {
		fault(FaultReentrant, NilHandle, "snapshot while %s", c.phase)
	}

	s := &Snapshot{
		Entries:   make([]SnapshotEntry, 0, c.reg.count),
		Allocated: c.reg.allocated,
		Threshold: c.threshold,
		Hint:      c.hint,
	}

	rec := &Tracer{reg: c.reg}
	if c.roots != nil {
		rec.record = &s.Roots
		sp := c.roots.SP()
		for i := 0; i < sp; i++ {
			if v := c.roots.Root(i); v != nil {
				v.Trace(rec)
			}
		}
	}

	c.reg.each(func(h Handle, hd *header) {
		e := SnapshotEntry{
			Handle:   h,
			Size:     hd.size,
			Refcount: hd.refcount,
			Kind:     kindOf(hd.payload),
		}
		if tr, ok := hd.payload.(Traceable); ok {
			rec.record = &e.Refs
			tr.Trace(rec)
		}
		s.Entries = append(s.Entries, e)
	})
	return s
}

func kindOf(payload any) string {
	switch p := payload.(type) {
	case nil:
		return "opaque"
	case Kinded:
		return p.Kind()
	default:
		return fmt.Sprintf("%T", p)
	}
}
