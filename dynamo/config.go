package dynamo

import "time"

// Config holds configuration for a Client.
type Config struct {
	// ProcedureTable is the table holding stored procedures.
	// Default: "docferry_procedures"
	ProcedureTable string

	// MaxConcurrency is the number of write buckets a bulk import fans out to.
	// Documents of one partition always land in the same bucket.
	// Default: 4
	// Max: 32
	MaxConcurrency int

	// MaxRetryAttempts is the number of BatchWriteItem attempts per chunk
	// before its remaining documents are reported as unprocessed.
	// Default: 9
	MaxRetryAttempts int

	// MaxRetryWait caps the backoff between attempts.
	// Default: 30s
	MaxRetryWait time.Duration

	// CreateTimeout bounds the wait for a newly created table to become active.
	// Default: 2m
	CreateTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProcedureTable:   "docferry_procedures",
		MaxConcurrency:   4,
		MaxRetryAttempts: 9,
		MaxRetryWait:     30 * time.Second,
		CreateTimeout:    2 * time.Minute,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	d := DefaultConfig()
	if c.ProcedureTable == "" {
		c.ProcedureTable = d.ProcedureTable
	}
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.MaxConcurrency > 32 {
		c.MaxConcurrency = 32
	}
	if c.MaxRetryAttempts < 1 {
		c.MaxRetryAttempts = d.MaxRetryAttempts
	}
	if c.MaxRetryWait <= 0 {
		c.MaxRetryWait = d.MaxRetryWait
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = d.CreateTimeout
	}
}
