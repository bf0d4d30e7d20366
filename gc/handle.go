package gc

import "fmt"

// Handle identifies an object registered with a Collector. The low 32 bits
// hold the slot index plus one, the high 32 bits hold the slot generation.
// The zero Handle is never issued.
type Handle uint64

// NilHandle is the zero Handle.
const NilHandle Handle = 0

func makeHandle(index int, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(uint32(index+1)))
}

func (h Handle) index() int {
	return int(uint32(h)) - 1
}

func (h Handle) gen() uint32 {
	return uint32(h >> 32)
}

// IsNil reports whether h is the zero Handle.
func (h Handle) IsNil() bool {
	return h == NilHandle
}

func (h Handle) String() string {
	if h == NilHandle {
		return "#nil"
	}
	return fmt.Sprintf("#%d.%d", h.index(), h.gen())
}
