package heapdump

import (
	"sort"
	"testing"

	"github.com/chazu/cbgc/gc"
	"github.com/chazu/cbgc/vm"
)

// buildHeap returns a machine holding: a leaked two-array cycle, a cycle
// owned by a global, unowned garbage with an owned child, and a stack root.
func buildHeap(t *testing.T) (m *vm.Machine, leaked []uint64) {
	t.Helper()
	m = vm.NewMachine(vm.DefaultMachineConfig())
	t.Cleanup(m.Shutdown)

	a := m.NewArray(vm.Nil)
	if err := m.Push(a); err != nil {
		t.Fatal(err)
	}
	b := m.NewArray(a)
	if err := m.ArraySet(a, 0, b); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Pop(); err != nil {
		t.Fatal(err)
	}

	p := m.NewArray(vm.Nil)
	m.Globals().Set("p", p)
	q := m.NewArray(p)
	if err := m.ArraySet(p, 0, q); err != nil {
		t.Fatal(err)
	}

	m.NewArray(m.NewString("pending"))

	if err := m.Push(m.NewString("root")); err != nil {
		t.Fatal(err)
	}

	leaked = []uint64{uint64(a.Handle()), uint64(b.Handle())}
	sort.Slice(leaked, func(i, j int) bool { return leaked[i] < leaked[j] })
	return m, leaked
}

func TestDumpRoundTrip(t *testing.T) {
	m, _ := buildHeap(t)
	snap := m.Collector().Snapshot()

	data, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}
	d, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(d.Objects) != len(snap.Entries) {
		t.Errorf("objects = %d, want %d", len(d.Objects), len(snap.Entries))
	}
	if d.TotalSize() != uint64(snap.Allocated) || d.Allocated != uint64(snap.Allocated) {
		t.Errorf("total size %d, allocated %d, want %d", d.TotalSize(), d.Allocated, snap.Allocated)
	}
	if len(d.Roots) != 1 {
		t.Errorf("roots = %v", d.Roots)
	}
	for i := 1; i < len(d.Objects); i++ {
		if d.Objects[i-1].Handle >= d.Objects[i].Handle {
			t.Fatal("objects not ordered by handle")
		}
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error for invalid CBOR")
	}
	data, err := Marshal(&Dump{Version: 99})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(data); err == nil {
		t.Error("expected error for unknown version")
	}
}

func TestByKind(t *testing.T) {
	d := &Dump{Objects: []Object{
		{Handle: 1, Kind: "string", Size: 10},
		{Handle: 2, Kind: "array", Size: 50},
		{Handle: 3, Kind: "string", Size: 15},
	}}
	got := d.ByKind()
	if len(got) != 2 {
		t.Fatalf("ByKind = %+v", got)
	}
	if got[0].Kind != "array" || got[1].Kind != "string" || got[1].Count != 2 || got[1].Bytes != 25 {
		t.Errorf("ByKind = %+v", got)
	}
}

func TestLeakedCycles(t *testing.T) {
	m, want := buildHeap(t)
	d := FromSnapshot(m.Collector().Snapshot())

	got := LeakedCycles(d)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("LeakedCycles = %v, want %v", got, want)
	}

	// Collections reclaim the pending garbage but never the cycle.
	m.Collect()
	m.Collect()
	d = FromSnapshot(m.Collector().Snapshot())
	got = LeakedCycles(d)
	if len(got) != 2 {
		t.Errorf("after collections LeakedCycles = %v, want %v", got, want)
	}
	strings := 0
	for _, o := range d.Objects {
		if o.Kind == "string" {
			strings++
		}
	}
	if strings != 1 {
		t.Errorf("%d strings left, want only the stack root", strings)
	}
}

func TestLeakedCyclesSelfReference(t *testing.T) {
	d := &Dump{Objects: []Object{
		{Handle: 7, Refcount: 1, Refs: []uint64{7}},
		{Handle: 8, Refcount: 1, Refs: nil},
	}}
	got := LeakedCycles(d)
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("LeakedCycles = %v, want [7]", got)
	}
}

func TestFromSnapshotEmpty(t *testing.T) {
	d := FromSnapshot(&gc.Snapshot{})
	if d.Version != FormatVersion || len(d.Objects) != 0 {
		t.Errorf("empty dump = %+v", d)
	}
}
