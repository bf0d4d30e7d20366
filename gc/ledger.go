package gc

import "math"

// AdjustRefcount applies delta to the persistent-owner count of h. When the
// count drops to exactly zero the hint counter grows, and a collection runs
// if either threshold has been crossed.
//
// Finalizers may only release. A negative delta issued during a sweep lowers
// the count at once, so an owned object later in the same pass is freed by
// it, but it neither bumps the hint nor starts a collection.
func (c *Collector) AdjustRefcount(h Handle, delta int) {
	switch c.phase {
	case phaseIdle:
	case phaseShuttingDown:
		return
	case phaseSweeping:
		c.finalizerRelease(h, delta)
		return
	case phaseClosed:
		fault(FaultShutdown, h, "refcount adjusted after shutdown")
	default:
		fault(FaultReentrant, h, "refcount adjusted while %s", c.phase)
	}

	hd := c.reg.lookup(h)
	next := int64(hd.refcount) + int64(delta)
	if next < 0 {
		fault(FaultRefcountUnderflow, h, "refcount %d, delta %d", hd.refcount, delta)
	}
	if next > math.MaxUint32 {
		fault(FaultRefcountOverflow, h, "refcount %d, delta %d", hd.refcount, delta)
	}
	hd.refcount = uint32(next)

	if delta < 0 && hd.refcount == 0 {
		c.hint++
		if c.ShouldCollect() {
			if c.cfg.DebugTracing {
				c.log.Infof("collecting due to refcount hint (hint=%d allocated=%d)",
					c.hint, c.reg.allocated)
			}
			c.collect(ReasonHint)
		}
	}
}

// Refcount returns the persistent-owner count of h.
func (c *Collector) Refcount(h Handle) uint32 {
	return c.reg.lookup(h).refcount
}

// finalizerRelease applies a release issued by a finalizer mid-sweep.
func (c *Collector) finalizerRelease(h Handle, delta int) {
	if delta > 0 {
		fault(FaultReentrant, h, "refcount acquired by a finalizer")
	}
	hd := c.reg.lookup(h)
	if int64(hd.refcount)+int64(delta) < 0 {
		fault(FaultRefcountUnderflow, h, "refcount %d, delta %d from a finalizer", hd.refcount, delta)
	}
	hd.refcount = uint32(int64(hd.refcount) + int64(delta))
	c.finalizerReleases -= delta
}
