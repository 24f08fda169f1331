// Package bulk moves whole document sets in and out of a collection.
//
// Import drives the bulk-write primitive round after round until every
// document is written or the context is cancelled. Export drains a query page
// by page and hands each page to a sink. Both report Progress after every
// round-trip and check for cancellation only between round-trips.
package bulk

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jacentio/docferry/store"
)

// ErrImportIncomplete is returned when an import stops making progress
// before every document is written.
var ErrImportIncomplete = errors.New("docferry: bulk import incomplete")

// State is the lifecycle state of one transfer.
type State int

// Transfer states.
const (
	Pending State = iota
	InProgress
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InProgress:
		return "in-progress"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Progress holds the running totals of one transfer.
type Progress struct {
	Documents       int64
	ThroughputUnits float64
	Elapsed         time.Duration
	Rounds          int
}

// Result is the outcome of one transfer. Cancelled transfers keep the
// progress made before cancellation; nothing is rolled back.
type Result struct {
	State    State
	Progress Progress
}

// Sink receives the documents of one exported page.
type Sink[T any] func(ctx context.Context, docs []T) error

// Observer is called after every round-trip with the running totals.
type Observer func(Progress)

// Engine runs imports and exports for one document type and collection.
// It issues one round-trip at a time and isn't safe for concurrent use.
type Engine[T store.Document] struct {
	repo     *store.Repository[T]
	executor store.BulkExecutor
	config   Config
	logger   logrus.FieldLogger
	observer Observer
}

// New creates an Engine. executor must be bound to repo's collection; it may
// be nil for an export-only engine.
func New[T store.Document](repo *store.Repository[T], executor store.BulkExecutor, config Config) *Engine[T] {
	config.validate()
	return &Engine[T]{
		repo:     repo,
		executor: executor,
		config:   config,
		logger:   repo.Logger(),
	}
}

// SetLogger sets the logger used by the engine.
func (e *Engine[T]) SetLogger(logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e.logger = logger
}

// SetObserver replaces the default progress logging.
func (e *Engine[T]) SetObserver(fn Observer) { e.observer = fn }

func (e *Engine[T]) observe(op string, p Progress) {
	if e.observer != nil {
		e.observer(p)
		return
	}
	e.logger.WithFields(logrus.Fields{
		"collection": e.repo.Collection().Name,
		"kind":       e.repo.Schema().Kind(),
		"added":      p.Documents,
		"units":      p.ThroughputUnits,
		"elapsed":    p.Elapsed.Seconds(),
		"round":      p.Rounds,
	}).Infof("bulk %s progress", op)
}

// Import writes docs through the bulk executor. Each round submits the
// documents the previous round reported as unprocessed, or the whole input
// when the executor doesn't report them, and the loop runs while the running
// total is below len(docs). Every document is checked against the schema
// before the first round. Cancellation ends the loop with the partial count
// and no error; a round already submitted runs to completion and is counted.
func (e *Engine[T]) Import(ctx context.Context, docs []T) (*Result, error) {
	res := &Result{State: Pending}
	if e.executor == nil {
		res.State = Failed
		return res, errors.New("docferry: engine has no bulk executor")
	}

	schema := e.repo.Schema()
	total := int64(len(docs))
	pending := make([]store.Document, len(docs))
	for i := range docs {
		if err := schema.Check(docs[i]); err != nil {
			res.State = Failed
			return res, errors.Wrapf(err, "import document %q", docs[i].Identity())
		}
		pending[i] = docs[i]
	}

	// Rounds ignore cancellation; it is checked between them.
	round := context.WithoutCancel(ctx)
	res.State = InProgress
	idle := 0
	for res.Progress.Documents < total {
		if ctx.Err() != nil {
			res.State = Cancelled
			return res, nil
		}
		if e.config.MaxRounds > 0 && res.Progress.Rounds >= e.config.MaxRounds {
			res.State = Failed
			return res, errors.Wrapf(ErrImportIncomplete, "%d of %d documents after %d rounds",
				res.Progress.Documents, total, res.Progress.Rounds)
		}

		resp, err := e.executor.BulkImport(round, pending)
		if err != nil {
			res.State = Failed
			return res, errors.Wrapf(err, "bulk import round %d", res.Progress.Rounds+1)
		}

		res.Progress.Rounds++
		res.Progress.Documents += resp.NumberOfDocumentsImported
		if res.Progress.Documents > total {
			res.Progress.Documents = total
		}
		res.Progress.ThroughputUnits += resp.TotalThroughputUnits
		res.Progress.Elapsed += resp.TotalTimeTaken
		e.observe("import", res.Progress)

		if resp.NumberOfDocumentsImported == 0 {
			idle++
			if idle >= e.config.MaxIdleRounds {
				res.State = Failed
				return res, errors.Wrapf(ErrImportIncomplete, "%d of %d documents, no progress in %d rounds",
					res.Progress.Documents, total, idle)
			}
		} else {
			idle = 0
		}
		if len(resp.Unprocessed) > 0 {
			pending = resp.Unprocessed
		}
	}
	res.State = Completed
	return res, nil
}

// Export drains q page by page, passing each page to sink (when not nil)
// before adding its size to the total. Pages arrive in feed order with
// server-chosen sizes. A sink error fails the export. A page being fetched or
// sunk when ctx is cancelled is finished and counted.
func (e *Engine[T]) Export(ctx context.Context, q store.QuerySpec, sink Sink[T]) (*Result, error) {
	res := &Result{State: Pending}
	cur, err := e.repo.Query(ctx, q)
	if err != nil {
		res.State = Failed
		return res, err
	}

	round := context.WithoutCancel(ctx)
	res.State = InProgress
	for cur.HasMore() {
		if ctx.Err() != nil {
			res.State = Cancelled
			return res, nil
		}
		start := time.Now()
		batch, err := cur.Next(round)
		if err != nil {
			res.State = Failed
			return res, errors.Wrapf(err, "export page %d", res.Progress.Rounds+1)
		}
		if sink != nil {
			if err := sink(round, batch); err != nil {
				res.State = Failed
				return res, errors.Wrapf(err, "sink page %d", res.Progress.Rounds+1)
			}
		}
		res.Progress.Rounds++
		res.Progress.Documents += int64(len(batch))
		res.Progress.ThroughputUnits = cur.ThroughputUnits()
		res.Progress.Elapsed += time.Since(start)
		e.observe("export", res.Progress)
	}
	res.State = Completed
	return res, nil
}
