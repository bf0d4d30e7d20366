package server

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/cbgc/gc"
	"github.com/chazu/cbgc/vm"
)

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func(*vm.Machine) interface{}
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value interface{}
	err   error
}

// VMWorker serializes all Machine access through a single goroutine.
// The collector assumes a single mutator; every handler must go through
// the worker.
type VMWorker struct {
	machine  *vm.Machine
	requests chan vmRequest
	quit     chan struct{}
	faults   atomic.Uint64
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker(m *vm.Machine) *VMWorker {
	w := &VMWorker{
		machine:  m,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the Machine. A panic is reported as an error rather
// than taking the server down. A faulting request is treated as an aborted
// frame: stack slots it pushed are dropped so they stop rooting objects, and
// the collector has already returned itself to rest.
func (w *VMWorker) execute(fn func(*vm.Machine) interface{}) (result vmResult) {
	base := w.machine.Stack().SP()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if f, ok := r.(*gc.Fault); ok {
			result.err = f
		} else {
			result.err = fmt.Errorf("%v", r)
		}
		w.faults.Add(1)
		if w.machine.Stack().SP() > base {
			_ = w.machine.Stack().Truncate(base)
		}
		log.Warningf("request faulted: %s", result.err)
	}()
	result.value = fn(w.machine)
	return result
}

// Faults returns the number of requests that panicked.
func (w *VMWorker) Faults() uint64 {
	return w.faults.Load()
}

// Do submits fn for execution on the VM goroutine and blocks until it
// completes.
func (w *VMWorker) Do(fn func(*vm.Machine) interface{}) (interface{}, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case <-w.quit:
		return nil, errWorkerStopped
	default:
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, errWorkerStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, errWorkerStopped
	}
}

// Stop shuts down the worker goroutine.
func (w *VMWorker) Stop() {
	close(w.quit)
}
