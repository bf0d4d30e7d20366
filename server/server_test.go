package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/cbgc/gc"
	"github.com/chazu/cbgc/heapdump"
	"github.com/chazu/cbgc/vm"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T, setup func(*vm.Machine)) (*InspectServer, *httptest.Server) {
	t.Helper()
	m := vm.NewMachine(vm.DefaultMachineConfig())
	if setup != nil {
		setup(m)
	}
	s := New(m)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
		m.Shutdown()
	})
	return s, ts
}

func callStruct(t *testing.T, ts *httptest.Server, procedure string) *structpb.Struct {
	t.Helper()
	client := connect.NewClient[emptypb.Empty, structpb.Struct](ts.Client(), ts.URL+procedure)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		t.Fatalf("%s: %v", procedure, err)
	}
	return resp.Msg
}

func number(t *testing.T, st *structpb.Struct, key string) int {
	t.Helper()
	v, ok := st.Fields[key]
	if !ok {
		t.Fatalf("missing field %q in %v", key, st)
	}
	return int(v.GetNumberValue())
}

// ---------------------------------------------------------------------------
// Procedures
// ---------------------------------------------------------------------------

func TestStats(t *testing.T) {
	_, ts := newTestServer(t, func(m *vm.Machine) {
		m.Push(m.NewString("kept"))
	})

	st := callStruct(t, ts, HeapServiceStatsProcedure)
	if got := number(t, st, "live"); got != 1 {
		t.Errorf("live = %d, want 1", got)
	}
	if got := number(t, st, "stackDepth"); got != 1 {
		t.Errorf("stackDepth = %d, want 1", got)
	}
	if got := number(t, st, "collectCount"); got != 0 {
		t.Errorf("collectCount = %d, want 0", got)
	}
	if _, ok := st.Fields["last"]; ok {
		t.Error("last should be absent before any collection")
	}
}

func TestCollect(t *testing.T) {
	_, ts := newTestServer(t, func(m *vm.Machine) {
		m.Push(m.NewString("kept"))
		m.NewString("garbage")
		m.NewString("garbage")
	})

	st := callStruct(t, ts, HeapServiceCollectProcedure)
	if got := number(t, st, "objectsFreed"); got != 2 {
		t.Errorf("objectsFreed = %d, want 2", got)
	}
	if got := number(t, st, "objectsLive"); got != 1 {
		t.Errorf("objectsLive = %d, want 1", got)
	}
	if got := st.Fields["reason"].GetStringValue(); got != "explicit" {
		t.Errorf("reason = %q, want explicit", got)
	}

	stats := callStruct(t, ts, HeapServiceStatsProcedure)
	if got := number(t, stats, "collectCount"); got != 1 {
		t.Errorf("collectCount = %d, want 1", got)
	}
	if _, ok := stats.Fields["last"]; !ok {
		t.Error("last should be present after a collection")
	}
}

func TestSnapshot(t *testing.T) {
	_, ts := newTestServer(t, func(m *vm.Machine) {
		s := m.NewString("x")
		m.Push(m.NewArray(s, s))
	})

	client := connect.NewClient[emptypb.Empty, wrapperspb.BytesValue](ts.Client(), ts.URL+HeapServiceSnapshotProcedure)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	d, err := heapdump.Unmarshal(resp.Msg.GetValue())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(d.Objects) != 2 {
		t.Fatalf("objects = %d, want 2", len(d.Objects))
	}
	if len(d.Roots) != 1 {
		t.Errorf("roots = %d, want 1", len(d.Roots))
	}
}

func TestLeaks(t *testing.T) {
	_, ts := newTestServer(t, func(m *vm.Machine) {
		a := m.NewArray()
		b := m.NewArray(a)
		if err := m.ArrayAppend(a, b); err != nil {
			t.Fatalf("ArrayAppend: %v", err)
		}
		m.Push(m.NewString("rooted"))
	})

	st := callStruct(t, ts, HeapServiceLeaksProcedure)
	handles := st.Fields["handles"].GetListValue().GetValues()
	if len(handles) != 2 {
		t.Fatalf("leaked handles = %d, want 2", len(handles))
	}
	for _, h := range handles {
		if !strings.HasPrefix(h.GetStringValue(), "#") {
			t.Errorf("handle %q not formatted", h.GetStringValue())
		}
	}
	if number(t, st, "bytes") == 0 {
		t.Error("leaked bytes should be non-zero")
	}
}

func TestPinKeepsObjectAlive(t *testing.T) {
	var h uint64
	s, ts := newTestServer(t, func(m *vm.Machine) {
		h = uint64(m.NewString("pinned").Handle())
	})

	pin := connect.NewClient[wrapperspb.UInt64Value, wrapperspb.StringValue](ts.Client(), ts.URL+HeapServicePinProcedure)
	resp, err := pin.CallUnary(context.Background(), connect.NewRequest(wrapperspb.UInt64(h)))
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	id := resp.Msg.GetValue()
	if got, ok := s.Pins().Lookup(id); !ok || uint64(got) != h {
		t.Fatalf("Lookup(%q) = %v, %v", id, got, ok)
	}

	st := callStruct(t, ts, HeapServiceCollectProcedure)
	if got := number(t, st, "objectsFreed"); got != 0 {
		t.Errorf("pinned object freed: objectsFreed = %d", got)
	}
	if got := number(t, callStruct(t, ts, HeapServiceStatsProcedure), "pins"); got != 1 {
		t.Errorf("pins = %d, want 1", got)
	}

	unpin := connect.NewClient[wrapperspb.StringValue, wrapperspb.BoolValue](ts.Client(), ts.URL+HeapServiceUnpinProcedure)
	ok, err := unpin.CallUnary(context.Background(), connect.NewRequest(wrapperspb.String(id)))
	if err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if !ok.Msg.GetValue() {
		t.Error("Unpin reported missing pin")
	}
	again, err := unpin.CallUnary(context.Background(), connect.NewRequest(wrapperspb.String(id)))
	if err != nil {
		t.Fatalf("second Unpin: %v", err)
	}
	if again.Msg.GetValue() {
		t.Error("second Unpin should report a missing pin")
	}

	st = callStruct(t, ts, HeapServiceCollectProcedure)
	if got := number(t, st, "objectsFreed"); got != 1 {
		t.Errorf("objectsFreed after unpin = %d, want 1", got)
	}
}

func TestPinStaleHandle(t *testing.T) {
	var h uint64
	_, ts := newTestServer(t, func(m *vm.Machine) {
		h = uint64(m.NewString("gone").Handle())
		m.Collect()
	})

	pin := connect.NewClient[wrapperspb.UInt64Value, wrapperspb.StringValue](ts.Client(), ts.URL+HeapServicePinProcedure)
	_, err := pin.CallUnary(context.Background(), connect.NewRequest(wrapperspb.UInt64(h)))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("Pin(stale) code = %v, want not_found (err=%v)", connect.CodeOf(err), err)
	}
}

func TestPinSweep(t *testing.T) {
	m := vm.NewMachine(vm.DefaultMachineConfig())
	w := NewVMWorker(m)
	pins := NewPinStore(w)
	defer func() {
		w.Stop()
		m.Shutdown()
	}()

	v, _ := w.Do(func(m *vm.Machine) interface{} { return m.NewString("x").Handle() })
	if _, err := pins.Pin(v.(gc.Handle)); err != nil {
		t.Fatalf("Pin: %v", err)
	}

	n, err := pins.Sweep(time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("Sweep(1h) = %d, %v; want 0", n, err)
	}
	n, err = pins.Sweep(-time.Second)
	if err != nil || n != 1 {
		t.Fatalf("Sweep(-1s) = %d, %v; want 1", n, err)
	}
	if pins.Len() != 0 {
		t.Errorf("Len = %d after sweep", pins.Len())
	}

	rc, _ := w.Do(func(m *vm.Machine) interface{} { return m.Collector().Refcount(v.(gc.Handle)) })
	if rc.(uint32) != 0 {
		t.Errorf("refcount after sweep = %v, want 0", rc)
	}
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

func TestWorkerRecoversFault(t *testing.T) {
	m := vm.NewMachine(vm.DefaultMachineConfig())
	w := NewVMWorker(m)
	defer w.Stop()

	_, err := w.Do(func(m *vm.Machine) interface{} {
		m.Collector().AdjustRefcount(m.NewString("x").Handle(), -1)
		return nil
	})
	if err == nil {
		t.Fatal("expected underflow fault to surface as an error")
	}
	if !strings.Contains(err.Error(), "underflow") {
		t.Errorf("error = %v, want refcount underflow", err)
	}

	v, err := w.Do(func(m *vm.Machine) interface{} { return m.Collector().Live() })
	if err != nil {
		t.Fatalf("worker unusable after fault: %v", err)
	}
	if v.(int) != 1 {
		t.Errorf("live = %v, want 1", v)
	}
}

func TestWorkerUnwindsFaultedRequest(t *testing.T) {
	m := vm.NewMachine(vm.DefaultMachineConfig())
	w := NewVMWorker(m)
	defer func() {
		w.Stop()
		m.Shutdown()
	}()

	if _, err := w.Do(func(m *vm.Machine) interface{} {
		return m.Push(m.NewString("kept"))
	}); err != nil {
		t.Fatal(err)
	}

	// A stale handle on the stack faults the mark phase.
	_, err := w.Do(func(m *vm.Machine) interface{} {
		stale := m.NewString("gone")
		m.Collect()
		if err := m.Push(stale); err != nil {
			return err
		}
		return m.Collect()
	})
	if err == nil || !strings.Contains(err.Error(), "stale handle") {
		t.Fatalf("err = %v, want a stale handle fault", err)
	}
	if w.Faults() != 1 {
		t.Errorf("Faults = %d, want 1", w.Faults())
	}

	v, err := w.Do(func(m *vm.Machine) interface{} {
		st := m.Collect()
		m.NewString("fresh")
		return []int{m.Stack().SP(), st.ObjectsLive}
	})
	if err != nil {
		t.Fatalf("machine unusable after a faulted collection: %v", err)
	}
	got := v.([]int)
	if got[0] != 1 || got[1] != 1 {
		t.Errorf("sp=%d live=%d, want the earlier frame only", got[0], got[1])
	}
}

func TestWorkerStopped(t *testing.T) {
	w := NewVMWorker(vm.NewMachine(vm.DefaultMachineConfig()))
	w.Stop()
	if _, err := w.Do(func(*vm.Machine) interface{} { return nil }); err != errWorkerStopped {
		t.Errorf("err = %v, want errWorkerStopped", err)
	}
}
