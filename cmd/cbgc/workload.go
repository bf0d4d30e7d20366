package main

import (
	"fmt"

	"github.com/chazu/cbgc/vm"
)

// workload drives the Machine through a synthetic mutator: every iteration
// builds a small object graph on the stack, publishes part of it in a
// rotating set of globals, and unwinds the frame.
type workload struct {
	iterations int
	globals    int
	cycleEvery int
}

func (w workload) run(m *vm.Machine) error {
	for i := 0; i < w.iterations; i++ {
		if err := w.step(m, i); err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
	}
	return nil
}

func (w workload) step(m *vm.Machine, i int) error {
	base := m.Stack().SP()

	name := m.NewString(fmt.Sprintf("item-%d", i))
	if err := m.Push(name); err != nil {
		return err
	}
	pair := m.NewArray(name, vm.Int(int64(i)))
	if err := m.Push(pair); err != nil {
		return err
	}
	up := m.NewUpvalue(pair)
	if err := m.Push(up); err != nil {
		return err
	}
	fn, err := m.NewClosure(fmt.Sprintf("fn-%d", i), up)
	if err != nil {
		return err
	}
	if err := m.Push(fn); err != nil {
		return err
	}

	if w.globals > 0 {
		m.Globals().Set(fmt.Sprintf("g%d", i%w.globals), fn)
	}

	// A pair of arrays referring to each other and nothing else. Once the
	// frame unwinds, only an offline dump can find them.
	if w.cycleEvery > 0 && i%w.cycleEvery == 0 {
		a := m.NewArray()
		if err := m.Push(a); err != nil {
			return err
		}
		b := m.NewArray(a)
		if err := m.ArrayAppend(a, b); err != nil {
			return err
		}
	}

	return m.Stack().Truncate(base)
}
