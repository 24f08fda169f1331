package store

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a named resource (such as a stored procedure)
	// doesn't exist in the collection. Document lookups report absence with a
	// boolean instead.
	ErrNotFound = errors.New("docferry: resource not found")

	// ErrConfiguration is returned when a schema or predicate cannot be resolved
	// against a document type. It is raised before any call to the store.
	ErrConfiguration = errors.New("docferry: schema configuration error")

	// ErrInvalidQuery is returned when a query spec is malformed.
	ErrInvalidQuery = errors.New("docferry: invalid query")

	// ErrDeleteFailed is returned when the store answers a delete with anything
	// other than a successful deletion status.
	ErrDeleteFailed = errors.New("docferry: delete failed")

	// ErrCrossPartitionDisabled is returned by drivers when a query spans
	// partitions without cross-partition fan-out being enabled.
	ErrCrossPartitionDisabled = errors.New("docferry: cross-partition query is required but disabled")
)

// DeleteError reports a non-success deletion response. Removed counts the
// documents already deleted by the same call; those deletions stay committed.
type DeleteError struct {
	SelfLink   string
	StatusCode int
	Removed    int
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("docferry: delete %s: status %d (%d removed before failure)", e.SelfLink, e.StatusCode, e.Removed)
}

// Unwrap lets errors.Is match ErrDeleteFailed.
func (e *DeleteError) Unwrap() error { return ErrDeleteFailed }

func configErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}
