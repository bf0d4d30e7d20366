package vm

import (
	"sort"

	"github.com/chazu/cbgc/gc"
)

type global struct {
	value Value
	ref   *gc.Ref
}

// Globals is the persistent name table. A heap value stored here has a
// persistent owner and survives collections while it is bound.
type Globals struct {
	c    *gc.Collector
	vars map[string]global
}

// NewGlobals creates an empty table owning references through c.
func NewGlobals(c *gc.Collector) *Globals {
	return &Globals{c: c, vars: make(map[string]global)}
}

// Set binds name to v, releasing whatever it was bound to before.
func (g *Globals) Set(name string, v Value) {
	ng := global{value: v}
	if v.IsRef() {
		ng.ref = g.c.Acquire(v.Handle())
	}
	old, had := g.vars[name]
	g.vars[name] = ng
	if had && old.ref != nil {
		old.ref.Release()
	}
}

// Get returns the value bound to name.
func (g *Globals) Get(name string) (Value, bool) {
	gl, ok := g.vars[name]
	return gl.value, ok
}

// Delete unbinds name. It reports whether name was bound.
func (g *Globals) Delete(name string) bool {
	old, ok := g.vars[name]
	if !ok {
		return false
	}
	delete(g.vars, name)
	if old.ref != nil {
		old.ref.Release()
	}
	return true
}

// Len returns the number of bindings.
func (g *Globals) Len() int { return len(g.vars) }

// Names returns the bound names in sorted order.
func (g *Globals) Names() []string {
	names := make([]string, 0, len(g.vars))
	for name := range g.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
