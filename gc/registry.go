package gc

import "math"

// Deinit is a finalizer run exactly once when its object is freed. It is a
// plain closure: it receives no collector access, and the collector faults if
// it registers objects or starts a collection. Releasing a Ref from a Deinit
// is allowed and is applied once the sweep has finished.
type Deinit func()

const (
	nilIndex = -1
	maxSlots = math.MaxInt32
)

// header is the per-object bookkeeping record. Headers live in the registry's
// slot table; the live ones form an intrusive singly-linked list through next.
type header struct {
	size     int
	mark     bool
	refcount uint32
	deinit   Deinit
	next     int
	gen      uint32
	live     bool
	payload  any
}

// ---------------------------------------------------------------------------
// registry: the allocation registry
// ---------------------------------------------------------------------------

// registry owns every live header and the aggregate allocated byte count.
// Freed slots are recycled through a free list with their generation bumped,
// so Handles to freed objects go stale instead of aliasing new ones.
type registry struct {
	slots     []header
	free      []int
	head      int
	count     int
	allocated int
}

func newRegistry() *registry {
	return &registry{head: nilIndex}
}

// insert registers a new header at the head of the live list.
func (r *registry) insert(size int, payload any, deinit Deinit) Handle {
	var idx int
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		if len(r.slots) >= maxSlots {
			fault(FaultExhausted, NilHandle, "%d slots in use", len(r.slots))
		}
		r.slots = append(r.slots, header{})
		idx = len(r.slots) - 1
	}

	hd := &r.slots[idx]
	*hd = header{
		size:    size,
		deinit:  deinit,
		next:    r.head,
		gen:     hd.gen,
		live:    true,
		payload: payload,
	}
	r.head = idx
	r.count++
	r.allocated += size
	return makeHandle(idx, hd.gen)
}

// lookup resolves h to its live header, faulting on invalid or stale handles.
func (r *registry) lookup(h Handle) *header {
	if h == NilHandle {
		fault(FaultInvalidHandle, h, "nil handle")
	}
	idx := h.index()
	if idx < 0 || idx >= len(r.slots) {
		fault(FaultInvalidHandle, h, "no such slot")
	}
	hd := &r.slots[idx]
	if !hd.live || hd.gen != h.gen() {
		fault(FaultStaleHandle, h, "object has been freed")
	}
	return hd
}

// contains reports whether h names a live object, without faulting.
func (r *registry) contains(h Handle) bool {
	idx := h.index()
	if h == NilHandle || idx < 0 || idx >= len(r.slots) {
		return false
	}
	hd := &r.slots[idx]
	return hd.live && hd.gen == h.gen()
}

// each visits live headers in list order (most recent first).
func (r *registry) each(fn func(Handle, *header)) {
	for cur := r.head; cur != nilIndex; cur = r.slots[cur].next {
		hd := &r.slots[cur]
		fn(makeHandle(cur, hd.gen), hd)
	}
}

// sweep makes one pass over the live list. Headers for which keep returns
// false are unlinked, finalized, subtracted from the aggregate and released;
// a released slot is never revisited in the same pass. Finalizers may lower
// the refcount of headers not yet visited, which are then judged on the new
// count. It returns the number
// of freed headers.
func (r *registry) sweep(keep func(Handle, *header) bool, finalize func(Handle, *header)) int {
	freed := 0
	prev := nilIndex
	cur := r.head
	for cur != nilIndex {
		hd := &r.slots[cur]
		next := hd.next
		h := makeHandle(cur, hd.gen)
		if keep(h, hd) {
			prev = cur
			cur = next
			continue
		}

		if prev == nilIndex {
			r.head = next
		} else {
			r.slots[prev].next = next
		}
		freed++
		r.retire(cur, h, finalize)
		cur = next
	}
	return freed
}

// retire finalizes an unlinked header and then releases its slot. The
// accounting is settled even when the finalizer panics, so the registry stays
// consistent for whoever recovers.
func (r *registry) retire(idx int, h Handle, finalize func(Handle, *header)) {
	hd := &r.slots[idx]
	defer func() {
		r.allocated -= hd.size
		r.count--
		r.release(idx)
	}()
	finalize(h, hd)
}

func (r *registry) release(idx int) {
	hd := &r.slots[idx]
	gen := hd.gen + 1
	*hd = header{next: nilIndex, gen: gen}
	r.free = append(r.free, idx)
}
