package gc

import "time"

// Reason records what started a collection.
type Reason string

const (
	ReasonExplicit  Reason = "explicit"
	ReasonHint      Reason = "refcount hint"
	ReasonThreshold Reason = "allocation threshold"
)

// CollectStats holds statistics from a single collection.
type CollectStats struct {
	Reason            Reason
	ObjectsBefore     int
	ObjectsMarked     int
	ObjectsFreed      int
	ObjectsLive       int
	BytesBefore       int
	BytesAfter        int
	FinalizerReleases int // refcount releases issued by finalizers during the sweep
	NextThreshold     int
	Duration          time.Duration
	Timestamp         time.Time
}

// BytesFreed returns the number of bytes reclaimed.
func (s *CollectStats) BytesFreed() int {
	return s.BytesBefore - s.BytesAfter
}
