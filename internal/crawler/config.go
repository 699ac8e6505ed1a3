package crawler

import "fmt"

const (
	// DefaultMaxInFlight bounds outstanding fetches within one crawl.
	DefaultMaxInFlight = 100
	// DefaultPoolSize bounds outstanding fetches across all crawls.
	DefaultPoolSize = 100
)

// Config controls crawl concurrency.
type Config struct {
	// MaxInFlight is the per-invocation bound on outstanding fetches.
	MaxInFlight int
	// PoolSize is shared by every crawl made through the same Crawler, so
	// on-demand crawls contend with the periodic crawl for slots.
	PoolSize int
}

func (c Config) withDefaults() Config {
	if c.MaxInFlight == 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	return c
}

// Validate reports nonsensical limits.
func (c Config) Validate() error {
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("crawler max in flight must be > 0, got %d", c.MaxInFlight)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("crawler pool size must be > 0, got %d", c.PoolSize)
	}
	return nil
}
