package pool

import "time"

// Config is the pool's immutable-after-construction configuration.
// MinIdle and MaxActive are per endpoint; MaxTotal is global across
// endpoints. Negative MaxActive and non-positive MaxTotal both mean
// "unbounded".
type Config struct {
	MinIdle      int
	MaxActive    int
	MaxTotal     int
	TestOnBorrow bool
	TestOnReturn bool

	// TimeBetweenEvictionRuns <= 0 disables the eviction worker entirely
	// (no goroutine is started).
	TimeBetweenEvictionRuns time.Duration
}

func (c Config) maxActiveUnbounded() bool { return c.MaxActive < 0 }
func (c Config) maxTotalUnbounded() bool  { return c.MaxTotal <= 0 }
