// Package vm provides the value model that sits on top of the collector:
// tagged values, the execution stack that forms the root set, and the heap
// object kinds (strings, arrays, closures and their upvalues) together with
// the persistent globals table.
//
// Stack slots hold plain values and are never refcounted. Every other owner
// of a heap value (an array element, a closed-over upvalue, a global) holds a
// *gc.Ref, so its referent survives collections even when it is off the
// stack.
//
// A value returned by one of the Machine's New* constructors is owned by
// nothing until the caller pushes it or stores it; the next allocation may
// collect it otherwise.
package vm
