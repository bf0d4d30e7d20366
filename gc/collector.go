package gc

import (
	"time"

	"github.com/tliron/commonlog"
)

type phase int

const (
	phaseIdle phase = iota
	phaseMarking
	phaseSweeping
	phaseShuttingDown
	phaseClosed
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseMarking:
		return "marking"
	case phaseSweeping:
		return "sweeping"
	case phaseShuttingDown:
		return "shutting down"
	default:
		return "closed"
	}
}

// ---------------------------------------------------------------------------
// Collector: registry, ledger and mark/sweep for one VM instance
// ---------------------------------------------------------------------------

// Collector owns every piece of collector state for a single VM: the
// allocation registry, the refcount ledger's hint counter, the growth
// threshold and the root set. It is not safe for concurrent use; exactly one
// mutator drives it.
type Collector struct {
	cfg    Config
	reg    *registry
	roots  Roots
	policy GrowthPolicy
	tracer Tracer
	log    traceLogger

	threshold         int
	hint              int
	phase             phase
	finalizerReleases int

	collects  uint64
	last      *CollectStats
	observers []func(*CollectStats)
}

// traceLogger is the part of commonlog.Logger the debug trace writes to.
type traceLogger interface {
	Infof(format string, values ...any)
	Debugf(format string, values ...any)
}

// New creates a Collector tracing the given roots. roots may be nil and set
// later with SetRoots.
func New(roots Roots, cfg Config) *Collector {
	cfg = cfg.withDefaults()
	c := &Collector{
		cfg:       cfg,
		reg:       newRegistry(),
		roots:     roots,
		policy:    GrowthPolicy{Factor: cfg.GrowthFactor},
		log:       commonlog.GetLogger("cbgc.gc"),
		threshold: cfg.InitialThreshold,
	}
	c.tracer.reg = c.reg
	return c
}

// SetRoots replaces the root set traced by future collections.
func (c *Collector) SetRoots(roots Roots) {
	c.roots = roots
}

// Config returns the effective configuration.
func (c *Collector) Config() Config {
	return c.cfg
}

// OnCollect registers fn to run after every completed collection.
func (c *Collector) OnCollect(fn func(*CollectStats)) {
	c.observers = append(c.observers, fn)
}

// Register adds a new object of the given byte size to the registry with a
// zero refcount and a clear mark. It never collects; allocators call
// MaybeCollect first.
func (c *Collector) Register(size int, payload any, deinit Deinit) Handle {
	switch c.phase {
	case phaseIdle:
	case phaseShuttingDown, phaseClosed:
		fault(FaultShutdown, NilHandle, "register after shutdown")
	default:
		fault(FaultReentrant, NilHandle, "register while %s", c.phase)
	}
	if size < 0 {
		fault(FaultNegativeSize, NilHandle, "size %d", size)
	}
	return c.reg.insert(size, payload, deinit)
}

// Resize changes the registered byte size of h, as when a container grows in
// place. Like Register it never collects; the new total is seen by the next
// ShouldCollect.
func (c *Collector) Resize(h Handle, size int) {
	switch c.phase {
	case phaseIdle:
	case phaseShuttingDown, phaseClosed:
		fault(FaultShutdown, h, "resize after shutdown")
	default:
		fault(FaultReentrant, h, "resize while %s", c.phase)
	}
	if size < 0 {
		fault(FaultNegativeSize, h, "size %d", size)
	}
	hd := c.reg.lookup(h)
	c.reg.allocated += size - hd.size
	hd.size = size
}

// ShouldCollect reports whether the hint counter or the allocated byte total
// has crossed its threshold.
func (c *Collector) ShouldCollect() bool {
	return c.hint > c.cfg.HintThreshold || c.reg.allocated > c.threshold
}

// MaybeCollect collects if ShouldCollect reports true. It is the allocator's
// trigger point and reports whether a collection ran.
func (c *Collector) MaybeCollect() bool {
	if c.phase != phaseIdle || !c.ShouldCollect() {
		return false
	}
	if c.cfg.DebugTracing {
		c.log.Infof("collecting due to allocation threshold (allocated=%d threshold=%d)",
			c.reg.allocated, c.threshold)
	}
	c.collect(ReasonThreshold)
	return true
}

// Collect runs a full mark and sweep synchronously, then recomputes the
// allocation threshold from what survived.
func (c *Collector) Collect() *CollectStats {
	return c.collect(ReasonExplicit)
}

func (c *Collector) collect(reason Reason) *CollectStats {
	if c.phase != phaseIdle {
		fault(FaultReentrant, NilHandle, "collect while %s", c.phase)
	}

	start := time.Now()
	stats := &CollectStats{
		Reason:        reason,
		ObjectsBefore: c.reg.count,
		BytesBefore:   c.reg.allocated,
		Timestamp:     start,
	}
	if c.cfg.DebugTracing {
		c.log.Infof("start; reason=%s allocated=%d objects=%d",
			reason, c.reg.allocated, c.reg.count)
	}

	c.hint = 0
	c.finalizerReleases = 0
	defer c.abandon()
	stats.ObjectsMarked = c.mark()
	stats.ObjectsFreed = c.sweep()
	stats.FinalizerReleases = c.finalizerReleases
	c.threshold = c.policy.Next(c.reg.allocated)

	stats.ObjectsLive = c.reg.count
	stats.BytesAfter = c.reg.allocated
	stats.NextThreshold = c.threshold
	stats.Duration = time.Since(start)

	c.collects++
	c.last = stats

	if c.cfg.DebugTracing {
		c.log.Infof("end; allocated=%d collected=%d freed=%d live=%d next collection at %d",
			stats.BytesAfter, stats.BytesFreed(), stats.ObjectsFreed,
			stats.ObjectsLive, stats.NextThreshold)
	}

	for _, fn := range c.observers {
		fn(stats)
	}
	return stats
}

// abandon returns the collector to rest after a fault escaped a Trace or a
// finalizer: mark bits are cleared, the worklist dropped and the phase reset
// to idle. The fault itself keeps propagating. On a completed collection it
// does nothing.
func (c *Collector) abandon() {
	if c.phase == phaseIdle {
		return
	}
	interrupted := c.phase
	c.reg.each(func(_ Handle, hd *header) { hd.mark = false })
	c.tracer.work = c.tracer.work[:0]
	c.phase = phaseIdle
	if c.cfg.DebugTracing {
		c.log.Infof("abandoned collection while %s", interrupted)
	}
}

// mark traces the root set and returns the number of objects marked.
func (c *Collector) mark() int {
	c.phase = phaseMarking
	c.tracer.reset()
	c.tracer.markRoots(c.roots)
	c.phase = phaseIdle
	if c.cfg.DebugTracing {
		c.log.Debugf("mark; marked=%d", c.tracer.marked)
	}
	return c.tracer.marked
}

// sweep frees every unmarked object with no persistent owners and clears the
// mark bit on everything it keeps.
func (c *Collector) sweep() int {
	c.phase = phaseSweeping
	freed := c.reg.sweep(func(h Handle, hd *header) bool {
		if hd.mark || hd.refcount > 0 {
			if c.cfg.DebugTracing {
				why := "refcount"
				if hd.mark {
					why = "mark"
				}
				c.log.Debugf("not freeing %s (%s)", h, why)
			}
			hd.mark = false
			return true
		}
		if c.cfg.DebugTracing {
			c.log.Debugf("freeing %s size=%d", h, hd.size)
		}
		return false
	}, finalize)
	c.phase = phaseIdle
	return freed
}

func finalize(_ Handle, hd *header) {
	if hd.deinit != nil {
		hd.deinit()
	}
}

// Shutdown frees every remaining object unconditionally, running each
// finalizer once. Releases issued by those finalizers are ignored. The
// Collector cannot be used afterwards, even if a finalizer faults.
func (c *Collector) Shutdown() {
	switch c.phase {
	case phaseClosed:
		return
	case phaseIdle:
	default:
		fault(FaultReentrant, NilHandle, "shutdown while %s", c.phase)
	}

	c.phase = phaseShuttingDown
	defer func() { c.phase = phaseClosed }()
	freed := c.reg.sweep(func(Handle, *header) bool { return false }, finalize)
	c.hint = 0

	if c.cfg.DebugTracing {
		c.log.Infof("shutdown; freed=%d", freed)
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Allocated returns the sum of sizes of all registered objects.
func (c *Collector) Allocated() int {
	return c.reg.allocated
}

// Live returns the number of registered objects.
func (c *Collector) Live() int {
	return c.reg.count
}

// Threshold returns the allocated byte total above which the next
// collection triggers.
func (c *Collector) Threshold() int {
	return c.threshold
}

// Hint returns the number of refcount-reached-zero events since the last
// collection.
func (c *Collector) Hint() int {
	return c.hint
}

// CollectCount returns the number of completed collections.
func (c *Collector) CollectCount() uint64 {
	return c.collects
}

// LastStats returns statistics from the most recent collection, or nil.
func (c *Collector) LastStats() *CollectStats {
	return c.last
}

// Contains reports whether h names a live object.
func (c *Collector) Contains(h Handle) bool {
	return c.reg.contains(h)
}

// Payload returns the object registered under h.
func (c *Collector) Payload(h Handle) any {
	return c.reg.lookup(h).payload
}

// Size returns the registered byte size of h.
func (c *Collector) Size(h Handle) int {
	return c.reg.lookup(h).size
}

// Mark marks h from within a Traceable's Trace during a mark phase.
func (c *Collector) Mark(h Handle) bool {
	if c.phase != phaseMarking {
		fault(FaultReentrant, h, "mark outside a mark phase (%s)", c.phase)
	}
	return c.tracer.Mark(h)
}

// IsMarked reports the mark bit of h. Outside a collection it is always
// false.
func (c *Collector) IsMarked(h Handle) bool {
	return c.reg.lookup(h).mark
}
