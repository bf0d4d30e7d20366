package gc

import "fmt"

// FaultKind classifies a caller logic fault detected by the collector.
type FaultKind int

const (
	FaultInvalidHandle FaultKind = iota + 1
	FaultStaleHandle
	FaultRefcountUnderflow
	FaultRefcountOverflow
	FaultDoubleRelease
	FaultReentrant
	FaultNegativeSize
	FaultShutdown
	FaultExhausted
)

func (k FaultKind) String() string {
	switch k {
	case FaultInvalidHandle:
		return "invalid handle"
	case FaultStaleHandle:
		return "stale handle"
	case FaultRefcountUnderflow:
		return "refcount underflow"
	case FaultRefcountOverflow:
		return "refcount overflow"
	case FaultDoubleRelease:
		return "double release"
	case FaultReentrant:
		return "reentrant collector call"
	case FaultNegativeSize:
		return "negative size"
	case FaultShutdown:
		return "collector shut down"
	case FaultExhausted:
		return "registry exhausted"
	default:
		return fmt.Sprintf("fault(%d)", int(k))
	}
}

// Fault is the panic value raised when a caller violates a collector
// invariant. Faults are never returned as errors: continuing after one would
// corrupt the registry.
type Fault struct {
	Kind   FaultKind
	Handle Handle
	Msg    string
}

func (f *Fault) Error() string {
	if f.Handle != NilHandle {
		return fmt.Sprintf("gc: %s %s: %s", f.Kind, f.Handle, f.Msg)
	}
	return fmt.Sprintf("gc: %s: %s", f.Kind, f.Msg)
}

func fault(kind FaultKind, h Handle, format string, args ...any) {
	panic(&Fault{Kind: kind, Handle: h, Msg: fmt.Sprintf(format, args...)})
}
