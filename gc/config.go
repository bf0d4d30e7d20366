package gc

const (
	// DefaultHintThreshold is the number of refcount-reached-zero events
	// tolerated between collections.
	DefaultHintThreshold = 2048

	// DefaultInitialThreshold is the allocated byte total that triggers the
	// first collection.
	DefaultInitialThreshold = 1024 * 1024

	// DefaultGrowthFactor scales post-sweep occupancy into the next threshold.
	DefaultGrowthFactor = 2
)

// Config holds collector tuning. Zero numeric fields take their defaults.
type Config struct {
	// DebugTracing logs per-phase statistics and per-object sweep decisions.
	// It never changes what is collected.
	DebugTracing bool

	HintThreshold    int
	InitialThreshold int
	GrowthFactor     int
}

// DefaultConfig returns the stock collector configuration.
func DefaultConfig() Config {
	return Config{
		HintThreshold:    DefaultHintThreshold,
		InitialThreshold: DefaultInitialThreshold,
		GrowthFactor:     DefaultGrowthFactor,
	}
}

func (c Config) withDefaults() Config {
	if c.HintThreshold <= 0 {
		c.HintThreshold = DefaultHintThreshold
	}
	if c.InitialThreshold <= 0 {
		c.InitialThreshold = DefaultInitialThreshold
	}
	if c.GrowthFactor <= 0 {
		c.GrowthFactor = DefaultGrowthFactor
	}
	return c
}
