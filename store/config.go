package store

// Config holds configuration for a Repository.
type Config struct {
	// BatchSize is the maximum page size requested from the store.
	// Default: 100
	// Max: 1000
	//
	// Larger pages mean fewer round-trips per query but more memory per page
	// and coarser export progress.
	BatchSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize: DefaultBatchSize,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.BatchSize < 1 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > 1000 {
		c.BatchSize = 1000
	}
}
