package heapdump

import "sort"

// LeakedCycles reports objects that no collection will ever reclaim: they
// are unreachable from the roots, and every one of their persistent owners
// is another such object. This is the cyclic garbage the collector
// deliberately leaves alone.
//
// The analysis assumes each reference edge in the dump accounts for exactly
// one unit of its target's refcount, which holds for heap objects that own
// their children through refs. Owners outside the heap, such as a globals
// table, show up as refcount not explained by edges; anything they keep
// alive is excluded. Unreachable objects that will be freed by upcoming
// collections, directly or once their owners are finalized, are excluded
// too.
//
// The result is sorted by handle.
func LeakedCycles(d *Dump) []uint64 {
	byHandle := make(map[uint64]*Object, len(d.Objects))
	for i := range d.Objects {
		byHandle[d.Objects[i].Handle] = &d.Objects[i]
	}

	live := make(map[uint64]bool, len(d.Objects))
	walk := func(h uint64) {
		stack := []uint64{h}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			o, ok := byHandle[cur]
			if !ok || live[cur] {
				continue
			}
			live[cur] = true
			stack = append(stack, o.Refs...)
		}
	}
	for _, r := range d.Roots {
		walk(r)
	}

	// Unreachable objects with no owners are freed by the next collection;
	// their finalizers release what they own, which may cascade.
	remaining := make(map[uint64]uint32)
	pending := make(map[uint64]bool)
	var queue []uint64
	for _, o := range d.Objects {
		if live[o.Handle] {
			continue
		}
		remaining[o.Handle] = o.Refcount
		if o.Refcount == 0 {
			pending[o.Handle] = true
			queue = append(queue, o.Handle)
		}
	}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		for _, r := range byHandle[h].Refs {
			if _, candidate := remaining[r]; !candidate || pending[r] || remaining[r] == 0 {
				continue
			}
			remaining[r]--
			if remaining[r] == 0 {
				pending[r] = true
				queue = append(queue, r)
			}
		}
	}

	// Count what the surviving candidates explain among themselves.
	internal := make(map[uint64]uint32)
	for h := range remaining {
		if pending[h] {
			continue
		}
		for _, r := range byHandle[h].Refs {
			if _, candidate := remaining[r]; candidate && !pending[r] {
				internal[r]++
			}
		}
	}

	// Refcount not explained by candidate edges comes from an owner outside
	// the heap; that object and everything it reaches stay alive.
	for h, rc := range remaining {
		if !pending[h] && rc > internal[h] {
			walk(h)
		}
	}

	var leaked []uint64
	for h := range remaining {
		if !pending[h] && !live[h] {
			leaked = append(leaked, h)
		}
	}
	sort.Slice(leaked, func(i, j int) bool { return leaked[i] < leaked[j] })
	return leaked
}
