package bulk

// Config holds configuration for an Engine.
type Config struct {
	// MaxRounds caps the number of bulk round-trips one import may take.
	// Default: 0 (unlimited)
	MaxRounds int

	// MaxIdleRounds is the number of consecutive rounds importing nothing
	// after which an import gives up.
	// Default: 3
	MaxIdleRounds int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRounds:     0,
		MaxIdleRounds: 3,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxRounds < 0 {
		c.MaxRounds = 0
	}
	if c.MaxIdleRounds < 1 {
		c.MaxIdleRounds = 3
	}
}
