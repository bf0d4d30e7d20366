// Package heapdump encodes collector snapshots as CBOR heap dumps and
// analyses them offline.
package heapdump

import (
	"fmt"
	"sort"

	"github.com/chazu/cbgc/gc"
	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is written into every dump.
const FormatVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("heapdump: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Object is one registered heap object.
type Object struct {
	Handle   uint64   `cbor:"1,keyasint"`
	Kind     string   `cbor:"2,keyasint"`
	Size     uint64   `cbor:"3,keyasint"`
	Refcount uint32   `cbor:"4,keyasint"`
	Refs     []uint64 `cbor:"5,keyasint,omitempty"`
}

// Dump is the serialized form of a gc.Snapshot.
type Dump struct {
	Version   int      `cbor:"1,keyasint"`
	Objects   []Object `cbor:"2,keyasint"`
	Roots     []uint64 `cbor:"3,keyasint,omitempty"`
	Allocated uint64   `cbor:"4,keyasint"`
	Threshold uint64   `cbor:"5,keyasint"`
	Hint      uint64   `cbor:"6,keyasint"`
}

// FromSnapshot converts a snapshot into a Dump with objects ordered by
// handle.
func FromSnapshot(s *gc.Snapshot) *Dump {
	d := &Dump{
		Version:   FormatVersion,
		Objects:   make([]Object, 0, len(s.Entries)),
		Allocated: uint64(s.Allocated),
		Threshold: uint64(s.Threshold),
		Hint:      uint64(s.Hint),
	}
	for _, e := range s.Entries {
		obj := Object{
			Handle:   uint64(e.Handle),
			Kind:     e.Kind,
			Size:     uint64(e.Size),
			Refcount: e.Refcount,
		}
		for _, r := range e.Refs {
			obj.Refs = append(obj.Refs, uint64(r))
		}
		d.Objects = append(d.Objects, obj)
	}
	for _, r := range s.Roots {
		d.Roots = append(d.Roots, uint64(r))
	}
	sort.Slice(d.Objects, func(i, j int) bool { return d.Objects[i].Handle < d.Objects[j].Handle })
	return d
}

// Marshal serializes a Dump to CBOR bytes.
func Marshal(d *Dump) ([]byte, error) {
	return cborEncMode.Marshal(d)
}

// MarshalSnapshot converts and serializes a snapshot in one step.
func MarshalSnapshot(s *gc.Snapshot) ([]byte, error) {
	return Marshal(FromSnapshot(s))
}

// Unmarshal deserializes a Dump from CBOR bytes.
func Unmarshal(data []byte) (*Dump, error) {
	var d Dump
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("heapdump: unmarshal dump: %w", err)
	}
	if d.Version != FormatVersion {
		return nil, fmt.Errorf("heapdump: unsupported dump version %d", d.Version)
	}
	return &d, nil
}

// TotalSize returns the sum of object sizes in the dump.
func (d *Dump) TotalSize() uint64 {
	var n uint64
	for _, o := range d.Objects {
		n += o.Size
	}
	return n
}

// KindSummary aggregates object counts and bytes per kind.
type KindSummary struct {
	Kind  string
	Count int
	Bytes uint64
}

// ByKind returns per-kind totals, largest byte total first.
func (d *Dump) ByKind() []KindSummary {
	idx := map[string]int{}
	var out []KindSummary
	for _, o := range d.Objects {
		i, ok := idx[o.Kind]
		if !ok {
			i = len(out)
			idx[o.Kind] = i
			out = append(out, KindSummary{Kind: o.Kind})
		}
		out[i].Count++
		out[i].Bytes += o.Size
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
