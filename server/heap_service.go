package server

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/cbgc/gc"
	"github.com/chazu/cbgc/heapdump"
	"github.com/chazu/cbgc/vm"
)

const (
	// HeapServiceName is the fully-qualified name of the inspection service.
	HeapServiceName = "cbgc.v1.HeapService"

	HeapServiceStatsProcedure    = "/cbgc.v1.HeapService/Stats"
	HeapServiceCollectProcedure  = "/cbgc.v1.HeapService/Collect"
	HeapServiceSnapshotProcedure = "/cbgc.v1.HeapService/Snapshot"
	HeapServiceLeaksProcedure    = "/cbgc.v1.HeapService/Leaks"
	HeapServicePinProcedure      = "/cbgc.v1.HeapService/Pin"
	HeapServiceUnpinProcedure    = "/cbgc.v1.HeapService/Unpin"
)

var errWorkerStopped = errors.New("server: worker stopped")

// HeapService exposes collector state over Connect.
type HeapService struct {
	worker *VMWorker
	pins   *PinStore
}

// NewHeapService creates the service on top of a worker and its pin store.
func NewHeapService(worker *VMWorker, pins *PinStore) *HeapService {
	return &HeapService{worker: worker, pins: pins}
}

// NewHeapServiceHandler builds an HTTP handler serving every HeapService
// procedure, and returns the path prefix to mount it on.
func NewHeapServiceHandler(svc *HeapService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(HeapServiceStatsProcedure, connect.NewUnaryHandler(HeapServiceStatsProcedure, svc.Stats, opts...))
	mux.Handle(HeapServiceCollectProcedure, connect.NewUnaryHandler(HeapServiceCollectProcedure, svc.Collect, opts...))
	mux.Handle(HeapServiceSnapshotProcedure, connect.NewUnaryHandler(HeapServiceSnapshotProcedure, svc.Snapshot, opts...))
	mux.Handle(HeapServiceLeaksProcedure, connect.NewUnaryHandler(HeapServiceLeaksProcedure, svc.Leaks, opts...))
	mux.Handle(HeapServicePinProcedure, connect.NewUnaryHandler(HeapServicePinProcedure, svc.Pin, opts...))
	mux.Handle(HeapServiceUnpinProcedure, connect.NewUnaryHandler(HeapServiceUnpinProcedure, svc.Unpin, opts...))
	return "/" + HeapServiceName + "/", mux
}

// Stats reports the collector's current counters.
func (s *HeapService) Stats(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	v, err := s.worker.Do(func(m *vm.Machine) interface{} {
		c := m.Collector()
		fields := map[string]interface{}{
			"allocated":    c.Allocated(),
			"live":         c.Live(),
			"threshold":    c.Threshold(),
			"hint":         c.Hint(),
			"collectCount": c.CollectCount(),
			"stackDepth":   m.Stack().SP(),
			"globals":      m.Globals().Len(),
		}
		if last := c.LastStats(); last != nil {
			fields["last"] = statsFields(last)
		}
		return fields
	})
	if err != nil {
		return nil, workerError(err)
	}
	fields := v.(map[string]interface{})
	fields["pins"] = s.pins.Len()
	fields["faults"] = s.worker.Faults()
	return structResponse(fields)
}

// Collect runs a collection and reports its statistics.
func (s *HeapService) Collect(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	v, err := s.worker.Do(func(m *vm.Machine) interface{} {
		return statsFields(m.Collect())
	})
	if err != nil {
		return nil, workerError(err)
	}
	return structResponse(v.(map[string]interface{}))
}

// Snapshot returns a CBOR heap dump.
func (s *HeapService) Snapshot(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[wrapperspb.BytesValue], error) {
	v, err := s.worker.Do(func(m *vm.Machine) interface{} {
		return m.Collector().Snapshot()
	})
	if err != nil {
		return nil, workerError(err)
	}
	data, err := heapdump.MarshalSnapshot(v.(*gc.Snapshot))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(wrapperspb.Bytes(data)), nil
}

// Leaks reports cyclic garbage the collector will never reclaim.
func (s *HeapService) Leaks(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	v, err := s.worker.Do(func(m *vm.Machine) interface{} {
		return m.Collector().Snapshot()
	})
	if err != nil {
		return nil, workerError(err)
	}
	dump := heapdump.FromSnapshot(v.(*gc.Snapshot))
	leaked := heapdump.LeakedCycles(dump)

	handles := make([]interface{}, len(leaked))
	var bytes uint64
	sizes := make(map[uint64]uint64, len(dump.Objects))
	for _, o := range dump.Objects {
		sizes[o.Handle] = o.Size
	}
	for i, h := range leaked {
		handles[i] = gc.Handle(h).String()
		bytes += sizes[h]
	}
	return structResponse(map[string]interface{}{
		"handles": handles,
		"bytes":   bytes,
	})
}

// Pin keeps the object behind a raw handle alive until it is unpinned,
// returning the pin ID.
func (s *HeapService) Pin(ctx context.Context, req *connect.Request[wrapperspb.UInt64Value]) (*connect.Response[wrapperspb.StringValue], error) {
	id, err := s.pins.Pin(gc.Handle(req.Msg.GetValue()))
	if err != nil {
		return nil, workerError(err)
	}
	return connect.NewResponse(wrapperspb.String(id)), nil
}

// Unpin drops a pin, reporting whether it existed.
func (s *HeapService) Unpin(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[wrapperspb.BoolValue], error) {
	ok, err := s.pins.Unpin(req.Msg.GetValue())
	if err != nil {
		return nil, workerError(err)
	}
	return connect.NewResponse(wrapperspb.Bool(ok)), nil
}

func workerError(err error) error {
	if errors.Is(err, errWorkerStopped) {
		return connect.NewError(connect.CodeUnavailable, err)
	}
	var f *gc.Fault
	if errors.As(err, &f) {
		switch f.Kind {
		case gc.FaultInvalidHandle, gc.FaultStaleHandle:
			return connect.NewError(connect.CodeNotFound, err)
		}
	}
	return connect.NewError(connect.CodeInternal, err)
}

func statsFields(st *gc.CollectStats) map[string]interface{} {
	return map[string]interface{}{
		"reason":            string(st.Reason),
		"objectsBefore":     st.ObjectsBefore,
		"objectsMarked":     st.ObjectsMarked,
		"objectsFreed":      st.ObjectsFreed,
		"objectsLive":       st.ObjectsLive,
		"bytesBefore":       st.BytesBefore,
		"bytesAfter":        st.BytesAfter,
		"finalizerReleases": st.FinalizerReleases,
		"nextThreshold":     st.NextThreshold,
		"durationNs":        st.Duration.Nanoseconds(),
	}
}

func structResponse(fields map[string]interface{}) (*connect.Response[structpb.Struct], error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(st), nil
}
