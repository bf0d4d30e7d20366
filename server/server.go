// Package server serves collector inspection over Connect (HTTP/JSON and the
// gRPC protocol on the same port).
package server

import (
	"net/http"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/cbgc/vm"
)

var log = commonlog.GetLogger("cbgc.server")

// InspectServer wraps a running Machine.
type InspectServer struct {
	worker      *VMWorker
	pins        *PinStore
	mux         *http.ServeMux
	stopSweeper func()
}

// New creates an InspectServer for m. From here on m must only be touched
// through the server's worker.
func New(m *vm.Machine) *InspectServer {
	worker := NewVMWorker(m)
	pins := NewPinStore(worker)
	s := &InspectServer{
		worker: worker,
		pins:   pins,
		mux:    http.NewServeMux(),
	}

	path, handler := NewHeapServiceHandler(NewHeapService(worker, pins))
	s.mux.Handle(path, handler)

	// Drop pins abandoned by clients
	s.stopSweeper = pins.StartSweeper(5*time.Minute, 30*time.Minute)
	return s
}

// Handler returns the HTTP handler serving all procedures.
func (s *InspectServer) Handler() http.Handler {
	return s.mux
}

// Worker returns the worker owning the Machine.
func (s *InspectServer) Worker() *VMWorker {
	return s.worker
}

// ListenAndServe starts the HTTP server on the given address.
func (s *InspectServer) ListenAndServe(addr string) error {
	log.Noticef("cbgc inspection server listening on %s", addr)
	log.Noticef("  Connect (HTTP/JSON): http://%s%s", addr, HeapServiceStatsProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Pins returns the server's pin store.
func (s *InspectServer) Pins() *PinStore {
	return s.pins
}

// Stop releases all pins and shuts down the worker. The Machine itself is
// left running.
func (s *InspectServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	if err := s.pins.ReleaseAll(); err != nil {
		log.Errorf("releasing pins: %s", err)
	}
	s.worker.Stop()
}
