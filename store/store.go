package store

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Repository provides CRUD and query operations for one document type bound
// to one collection. Operations are issued one round-trip at a time; a
// Repository is not meant to be used by concurrent callers.
type Repository[T Document] struct {
	client  Client
	coll    *Collection
	schema  Schema
	queries QueryBuilder
	config  Config
	logger  logrus.FieldLogger
}

// New creates a Repository for schema over the named collection. The
// collection is resolved (and created if missing) once, here.
func New[T Document](ctx context.Context, client Client, database, collection string, schema Schema, config Config) (*Repository[T], error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	config.validate()
	coll, err := client.EnsureCollection(ctx, database, collection, schema.PartitionKeys())
	if err != nil {
		return nil, errors.Wrapf(err, "ensure collection %s/%s", database, collection)
	}
	return &Repository[T]{
		client:  client,
		coll:    coll,
		schema:  schema,
		queries: NewQueryBuilder(schema),
		config:  config,
		logger:  logrus.StandardLogger(),
	}, nil
}

// SetLogger sets the logger used by the repository.
func (r *Repository[T]) SetLogger(logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r.logger = logger
}

// Logger returns the repository logger.
func (r *Repository[T]) Logger() logrus.FieldLogger { return r.logger }

// Collection returns the resolved collection metadata.
func (r *Repository[T]) Collection() *Collection { return r.coll }

// Schema returns the document schema.
func (r *Repository[T]) Schema() Schema { return r.schema }

// Queries returns the query builder bound to the repository's schema.
func (r *Repository[T]) Queries() QueryBuilder { return r.queries }

// Query opens a cursor over the documents matching q. An empty q yields an
// exhausted cursor without a round-trip.
func (r *Repository[T]) Query(ctx context.Context, q QuerySpec) (*Cursor[T], error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.IsEmpty() {
		return NewCursor[T](exhausted{}), nil
	}
	feed, err := r.client.Query(ctx, r.coll, q, r.queries.FeedOptions(r.config.BatchSize))
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", r.coll.Name)
	}
	return NewCursor[T](feed), nil
}

// GetAll returns every document in the collection.
func (r *Repository[T]) GetAll(ctx context.Context) ([]T, error) {
	return r.drain(ctx, QuerySpec{Text: selectAll})
}

// All returns a lazy sequence over every document in the collection.
func (r *Repository[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		cur, err := r.Query(ctx, QuerySpec{Text: selectAll})
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		cur.All(ctx)(yield)
	}
}

// GetAllPaged returns the documents in [skip, skip+take) of the collection's
// arrival order. See Cursor.DrainWindow for the cost model.
func (r *Repository[T]) GetAllPaged(ctx context.Context, skip, take int) ([]T, error) {
	cur, err := r.Query(ctx, QuerySpec{Text: selectAll})
	if err != nil {
		return nil, err
	}
	return cur.DrainWindow(ctx, skip, take)
}

// GetByPredicate returns every document matching p.
func (r *Repository[T]) GetByPredicate(ctx context.Context, p Predicate) ([]T, error) {
	q, err := r.queries.BuildPredicateQuery(p)
	if err != nil {
		return nil, err
	}
	return r.drain(ctx, q)
}

// GetByQuery returns every document matching the query text.
func (r *Repository[T]) GetByQuery(ctx context.Context, text string, params ...Parameter) ([]T, error) {
	return r.drain(ctx, NewQuery(text, params...))
}

// GetByID returns the document with the given id and partition-key values.
// The boolean is false when no document matches, including when the number of
// values doesn't match the schema.
func (r *Repository[T]) GetByID(ctx context.Context, id string, partitionKeyValues ...string) (T, bool, error) {
	q := r.queries.BuildPointQuery(id, partitionKeyValues...)
	if q.IsEmpty() {
		r.logger.WithFields(logrus.Fields{
			"kind":     r.schema.Kind(),
			"id":       id,
			"expected": len(r.schema.partitionKeys),
			"got":      len(partitionKeyValues),
		}).Debug("partition key count mismatch, skipping lookup")
		var zero T
		return zero, false, nil
	}
	return r.FirstOrDefaultQuery(ctx, q)
}

// FirstOrDefault returns the first document matching p.
func (r *Repository[T]) FirstOrDefault(ctx context.Context, p Predicate) (T, bool, error) {
	q, err := r.queries.BuildPredicateQuery(p)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return r.FirstOrDefaultQuery(ctx, q)
}

// FirstOrDefaultQuery returns the first document of the first page of q.
// An empty feed is a normal outcome and reported with false.
func (r *Repository[T]) FirstOrDefaultQuery(ctx context.Context, q QuerySpec) (T, bool, error) {
	var zero T
	if q.IsEmpty() {
		return zero, false, nil
	}
	cur, err := r.Query(ctx, q)
	if err != nil {
		return zero, false, err
	}
	return cur.First(ctx)
}

// Upsert writes doc by identity and returns the stored version.
//
// The existence lookup doesn't gate the write: the store-level upsert is
// idempotent by identity, so the race between lookup and write is tolerated.
func (r *Repository[T]) Upsert(ctx context.Context, doc T) (T, error) {
	var zero T
	q, err := r.queries.BuildExistenceQuery(doc)
	if err != nil {
		return zero, err
	}
	_, found, err := r.FirstOrDefaultQuery(ctx, q)
	if err != nil {
		return zero, err
	}
	r.logger.WithFields(logrus.Fields{
		"kind":   r.schema.Kind(),
		"id":     doc.Identity(),
		"exists": found,
	}).Debug("upserting document")

	raw, err := r.client.Upsert(ctx, r.coll, doc)
	if err != nil {
		return zero, errors.Wrapf(err, "upsert %s", doc.Identity())
	}
	var stored T
	if err := raw.Decode(&stored); err != nil {
		return zero, errors.Wrapf(err, "decode upserted %s", doc.Identity())
	}
	return stored, nil
}

// Remove deletes doc by its self link. It returns false without calling the
// store when doc was never persisted, and a *DeleteError when the store
// answers with anything other than a successful deletion.
func (r *Repository[T]) Remove(ctx context.Context, doc T) (bool, error) {
	self := doc.SelfLink()
	if self == "" {
		return false, nil
	}
	if err := r.delete(ctx, self, 0); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveByPredicate deletes every document matching p, one at a time, and
// returns the number removed. The first failed deletion stops the call; the
// documents removed before it stay removed.
func (r *Repository[T]) RemoveByPredicate(ctx context.Context, p Predicate) (int, error) {
	found, err := r.GetByPredicate(ctx, p)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, doc := range found {
		if err := r.delete(ctx, doc.SelfLink(), removed); err != nil {
			r.logger.WithFields(logrus.Fields{
				"kind":    r.schema.Kind(),
				"removed": removed,
				"pending": len(found) - removed,
				"error":   err,
			}).Error("delete by predicate aborted")
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (r *Repository[T]) delete(ctx context.Context, self string, removed int) error {
	status, err := r.client.Delete(ctx, self)
	if err != nil {
		return errors.Wrapf(err, "delete %s", self)
	}
	if status != http.StatusNoContent {
		return &DeleteError{SelfLink: self, StatusCode: status, Removed: removed}
	}
	return nil
}

// Count returns the number of documents in the collection using the store's
// aggregate query. Each page carries a partial count; the partials are summed.
func (r *Repository[T]) Count(ctx context.Context) (int, error) {
	feed, err := r.client.Query(ctx, r.coll, r.queries.BuildCountQuery(), r.queries.FeedOptions(r.config.BatchSize))
	if err != nil {
		return 0, errors.Wrapf(err, "count %s", r.coll.Name)
	}
	cur := NewCursor[int](feed)
	count := 0
	for cur.HasMore() {
		partials, err := cur.Next(ctx)
		if err != nil {
			return 0, err
		}
		for _, n := range partials {
			count += n
		}
	}
	return count, nil
}

// CountWhere returns the number of documents matching p. It drains the
// matching feed and sums page sizes, so the store does work proportional to
// the number of matches.
func (r *Repository[T]) CountWhere(ctx context.Context, p Predicate) (int, error) {
	q, err := r.queries.BuildPredicateQuery(p)
	if err != nil {
		return 0, err
	}
	cur, err := r.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	count := 0
	for cur.HasMore() {
		batch, err := cur.Next(ctx)
		if err != nil {
			return 0, err
		}
		count += len(batch)
	}
	return count, nil
}

// ExecuteStoredOperation invokes the stored procedure with the given id in the
// bound collection. params are passed in order; matching the callee's
// parameter order is the caller's responsibility.
func (r *Repository[T]) ExecuteStoredOperation(ctx context.Context, name string, params ...interface{}) (json.RawMessage, error) {
	proc, err := r.client.StoredProcedure(ctx, r.coll, name)
	if err != nil {
		return nil, errors.Wrapf(err, "stored procedure %s", name)
	}
	out, err := r.client.ExecuteStoredProcedure(ctx, proc, params)
	if err != nil {
		return nil, errors.Wrapf(err, "execute stored procedure %s", name)
	}
	return out, nil
}

func (r *Repository[T]) drain(ctx context.Context, q QuerySpec) ([]T, error) {
	cur, err := r.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return cur.Drain(ctx)
}
