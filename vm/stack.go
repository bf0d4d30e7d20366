package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/cbgc/gc"
)

// DefaultStackSize is the number of slots in a Machine's stack.
const DefaultStackSize = 1024

var (
	ErrStackOverflow  = errors.New("vm: stack overflow")
	ErrStackUnderflow = errors.New("vm: stack underflow")
)

// Stack is the execution stack. Slots [0, SP()) are live and form the
// collector's root set.
type Stack struct {
	slots []Value
	sp    int
}

// NewStack creates a stack with a fixed number of slots.
func NewStack(size int) *Stack {
	if size <= 0 {
		size = DefaultStackSize
	}
	return &Stack{slots: make([]Value, size)}
}

// SP returns the live boundary.
func (s *Stack) SP() int { return s.sp }

// Cap returns the number of slots.
func (s *Stack) Cap() int { return len(s.slots) }

// Root returns slot i for the mark phase.
func (s *Stack) Root(i int) gc.Traceable { return s.slots[i] }

// Push pushes v onto the stack.
func (s *Stack) Push(v Value) error {
	if s.sp >= len(s.slots) {
		return fmt.Errorf("push at depth %d: %w", s.sp, ErrStackOverflow)
	}
	s.slots[s.sp] = v
	s.sp++
	return nil
}

// Pop removes and returns the top value.
func (s *Stack) Pop() (Value, error) {
	if s.sp == 0 {
		return Nil, ErrStackUnderflow
	}
	s.sp--
	v := s.slots[s.sp]
	s.slots[s.sp] = Nil
	return v, nil
}

// Peek returns the value depth slots below the top without removing it.
func (s *Stack) Peek(depth int) (Value, error) {
	i := s.sp - 1 - depth
	if depth < 0 || i < 0 {
		return Nil, fmt.Errorf("peek %d at depth %d: %w", depth, s.sp, ErrStackUnderflow)
	}
	return s.slots[i], nil
}

// Get returns live slot i.
func (s *Stack) Get(i int) (Value, error) {
	if i < 0 || i >= s.sp {
		return Nil, fmt.Errorf("slot %d outside [0, %d): %w", i, s.sp, ErrStackUnderflow)
	}
	return s.slots[i], nil
}

// Set overwrites live slot i.
func (s *Stack) Set(i int, v Value) error {
	if i < 0 || i >= s.sp {
		return fmt.Errorf("slot %d outside [0, %d): %w", i, s.sp, ErrStackUnderflow)
	}
	s.slots[i] = v
	return nil
}

// Truncate drops every slot at or above sp, as when a frame returns.
func (s *Stack) Truncate(sp int) error {
	if sp < 0 || sp > s.sp {
		return fmt.Errorf("truncate to %d at depth %d: %w", sp, s.sp, ErrStackUnderflow)
	}
	for i := sp; i < s.sp; i++ {
		s.slots[i] = Nil
	}
	s.sp = sp
	return nil
}
