package store

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/pkg/errors"
)

// RawJSON is a Raw backed by a JSON document.
type RawJSON json.RawMessage

// Decode unmarshals the document into v.
func (r RawJSON) Decode(v interface{}) error {
	return json.Unmarshal(r, v)
}

// exhausted is a feed with no pages.
type exhausted struct{}

func (exhausted) HasMoreResults() bool { return false }

func (exhausted) Next(context.Context) (*Page, error) { return &Page{}, nil }

// Cursor drives one feed and decodes its pages into T. It owns the feed for
// the lifetime of one logical query and is not restartable.
type Cursor[T any] struct {
	feed  Feed
	pages int
	units float64
	token string
}

// NewCursor wraps feed.
func NewCursor[T any](feed Feed) *Cursor[T] {
	return &Cursor[T]{feed: feed}
}

// HasMore reports whether the feed has another page.
func (c *Cursor[T]) HasMore() bool { return c.feed.HasMoreResults() }

// Next fetches and decodes the next page. Pages may be empty.
func (c *Cursor[T]) Next(ctx context.Context) ([]T, error) {
	page, err := c.feed.Next(ctx)
	if err != nil {
		return nil, err
	}
	c.pages++
	c.units += page.ThroughputUnits
	c.token = page.ContinuationToken
	batch := make([]T, 0, len(page.Documents))
	for _, raw := range page.Documents {
		var v T
		if err := raw.Decode(&v); err != nil {
			return nil, errors.Wrapf(err, "decode page %d", c.pages)
		}
		batch = append(batch, v)
	}
	return batch, nil
}

// Pages returns the number of pages fetched so far.
func (c *Cursor[T]) Pages() int { return c.pages }

// ThroughputUnits returns the units charged for the pages fetched so far.
func (c *Cursor[T]) ThroughputUnits() float64 { return c.units }

// ContinuationToken returns the token of the last fetched page.
func (c *Cursor[T]) ContinuationToken() string { return c.token }

// Drain fetches every page and returns the documents in arrival order.
func (c *Cursor[T]) Drain(ctx context.Context) ([]T, error) {
	var out []T
	for c.HasMore() {
		batch, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// DrainWindow returns the documents in [skip, skip+take) of the arrival
// order. There is no server-side seek: every page before skip is still
// fetched and discarded, so the cost grows with skip. Fetching stops as soon
// as take documents are collected.
func (c *Cursor[T]) DrainWindow(ctx context.Context, skip, take int) ([]T, error) {
	if skip < 0 {
		skip = 0
	}
	out := []T{}
	if take <= 0 {
		return out, nil
	}
	processed := 0
	for c.HasMore() && len(out) < take {
		batch, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if processed+len(batch) > skip {
			start := skip - processed
			if start < 0 {
				start = 0
			}
			end := start + (take - len(out))
			if end > len(batch) {
				end = len(batch)
			}
			out = append(out, batch[start:end]...)
		}
		processed += len(batch)
	}
	return out, nil
}

// All returns a lazy sequence over the remaining documents. Iteration stops
// at the first error, which is yielded with a zero document.
func (c *Cursor[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for c.HasMore() {
			batch, err := c.Next(ctx)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, v := range batch {
				if !yield(v, nil) {
					return
				}
			}
		}
	}
}

// First returns the first document of the first page, if the feed reports
// any results.
func (c *Cursor[T]) First(ctx context.Context) (T, bool, error) {
	var zero T
	if !c.HasMore() {
		return zero, false, nil
	}
	batch, err := c.Next(ctx)
	if err != nil || len(batch) == 0 {
		return zero, false, err
	}
	return batch[0], true, nil
}
