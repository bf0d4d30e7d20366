// Package gc implements the memory manager embedded in the cbgc virtual
// machine.
//
// Reclamation combines two signals:
//   - A reference count per object that counts persistent owners only
//     (other heap objects, global tables). Execution stack slots are never
//     counted, so pushes and pops cost nothing.
//   - A mark phase that traces everything reachable from the live stack
//     slots [0, sp) of the mutator.
//
// An object is swept when, at collection time, it is unmarked and its
// reference count is zero. Collections run synchronously on the mutator's
// own call stack, either explicitly through Collect or implicitly when a
// refcount drop or an allocation pushes the hint counter or the allocated
// byte total past its threshold.
//
// Objects are addressed by generation-tagged Handles. A Handle whose slot has
// been freed is stale, and every use of a stale Handle panics with a *Fault.
// Cycles that are held together only by mutual persistent references are not
// reclaimed; see heapdump.LeakedCycles for an offline report of them.
package gc
