package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/cbgc/gc"
	"github.com/chazu/cbgc/vm"
)

// pin is a remote client's ownership of one heap object.
type pin struct {
	id       string
	ref      *gc.Ref
	created  time.Time
	lastUsed time.Time
}

// PinStore maps opaque string IDs to owned references. A pinned object holds
// one refcount for as long as the pin exists, so collections leave it alone
// even when nothing on the stack reaches it.
type PinStore struct {
	mu     sync.Mutex
	pins   map[string]*pin
	nextID atomic.Uint64
	worker *VMWorker
}

// NewPinStore creates an empty pin store.
func NewPinStore(worker *VMWorker) *PinStore {
	return &PinStore{
		pins:   make(map[string]*pin),
		worker: worker,
	}
}

// Pin acquires a reference to h and returns its pin ID. A stale or unknown
// handle is reported as an error.
func (s *PinStore) Pin(h gc.Handle) (string, error) {
	v, err := s.worker.Do(func(m *vm.Machine) interface{} {
		return m.Collector().Acquire(h)
	})
	if err != nil {
		return "", err
	}

	id := fmt.Sprintf("p-%d", s.nextID.Add(1))
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[id] = &pin{id: id, ref: v.(*gc.Ref), created: now, lastUsed: now}
	return id, nil
}

// Lookup returns the handle behind a pin.
func (s *PinStore) Lookup(id string) (gc.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pins[id]
	if !ok {
		return gc.NilHandle, false
	}
	p.lastUsed = time.Now()
	return p.ref.Handle(), true
}

// Len returns the number of live pins.
func (s *PinStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pins)
}

// Unpin releases a pin. It reports whether the pin existed.
func (s *PinStore) Unpin(id string) (bool, error) {
	s.mu.Lock()
	p, ok := s.pins[id]
	delete(s.pins, id)
	s.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, s.release([]*gc.Ref{p.ref})
}

// ReleaseAll drops every pin.
func (s *PinStore) ReleaseAll() error {
	return s.releaseWhere(func(*pin) bool { return true })
}

// Sweep drops pins that haven't been looked up within the TTL.
func (s *PinStore) Sweep(ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)
	var removed int
	err := s.releaseWhere(func(p *pin) bool {
		if p.lastUsed.Before(cutoff) {
			removed++
			return true
		}
		return false
	})
	return removed, err
}

func (s *PinStore) releaseWhere(match func(*pin) bool) error {
	s.mu.Lock()
	var refs []*gc.Ref
	for id, p := range s.pins {
		if match(p) {
			refs = append(refs, p.ref)
			delete(s.pins, id)
		}
	}
	s.mu.Unlock()

	if len(refs) == 0 {
		return nil
	}
	return s.release(refs)
}

func (s *PinStore) release(refs []*gc.Ref) error {
	_, err := s.worker.Do(func(*vm.Machine) interface{} {
		for _, r := range refs {
			r.Release()
		}
		return nil
	})
	return err
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *PinStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n, err := s.Sweep(ttl); err != nil {
					log.Errorf("pin sweep: %s", err)
				} else if n > 0 {
					log.Debugf("pin sweep released %d pins", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
