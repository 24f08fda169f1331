package store

import (
	"context"
	"encoding/json"
	"time"
)

// IDField is the name of the identity field every document carries.
const IDField = "id"

// Document is the base interface for all storable types.
type Document interface {
	// Identity returns the document id, unique within a collection.
	Identity() string

	// PartitionKeyValues returns the values of the fields named by the type's
	// schema partition keys, in declared order. Unpartitioned types return nil.
	PartitionKeyValues() []string

	// SelfLink returns the store-assigned location handle.
	// Returns empty string for documents that were never persisted.
	SelfLink() string
}

// Resource carries the identity and the store-owned system properties.
// Document types embed it; the system properties are set by the store and
// never authored by clients.
type Resource struct {
	ID         string `json:"id"`
	ETag       string `json:"_etag,omitempty"`
	Self       string `json:"_self,omitempty"`
	ResourceID string `json:"_rid,omitempty"`
}

func (r Resource) Identity() string             { return r.ID }
func (r Resource) SelfLink() string             { return r.Self }
func (r Resource) PartitionKeyValues() []string { return nil }

// Collection is the metadata of a resolved collection. It is immutable for
// the lifetime of a Repository.
type Collection struct {
	// Database is the database the collection belongs to.
	Database string

	// Name is the collection name.
	Name string

	// SelfLink is the store's location handle for the collection.
	SelfLink string

	// PartitionKeys are the partition-key field names the collection was created with.
	PartitionKeys []string
}

// Raw is a document as returned by the store, decoded on demand.
type Raw interface {
	Decode(v interface{}) error
}

// Page is the result of one round-trip to the store.
type Page struct {
	// Documents are the page's documents in arrival order. A page may be empty
	// while more results remain.
	Documents []Raw

	// ContinuationToken is the server-issued cursor for the next page.
	ContinuationToken string

	// ThroughputUnits is the store capacity charged for the page.
	ThroughputUnits float64
}

// Feed is a server-side result feed for one logical query.
type Feed interface {
	// HasMoreResults reports whether another page can be fetched.
	HasMoreResults() bool

	// Next fetches the next page.
	Next(ctx context.Context) (*Page, error)
}

// StoredProcedure is a named server-side operation bound to a collection.
type StoredProcedure struct {
	ID         string
	SelfLink   string
	Collection *Collection
}

// Client is the query-capable connection handle the repository needs.
type Client interface {
	// EnsureCollection resolves the collection, creating it when missing.
	EnsureCollection(ctx context.Context, database, name string, partitionKeys []string) (*Collection, error)

	// Query opens a feed over the documents matching q.
	Query(ctx context.Context, coll *Collection, q QuerySpec, opts FeedOptions) (Feed, error)

	// Upsert writes doc by identity and returns the stored version.
	Upsert(ctx context.Context, coll *Collection, doc Document) (Raw, error)

	// Delete removes the document at selfLink and returns the store's status
	// code. http.StatusNoContent is the only successful status.
	Delete(ctx context.Context, selfLink string) (int, error)

	// StoredProcedure looks up a procedure by id. Returns ErrNotFound if absent.
	StoredProcedure(ctx context.Context, coll *Collection, id string) (*StoredProcedure, error)

	// ExecuteStoredProcedure invokes proc with params in the callee's order.
	ExecuteStoredProcedure(ctx context.Context, proc *StoredProcedure, params []interface{}) (json.RawMessage, error)
}

// BulkImportResponse is the outcome of one bulk-write round-trip.
type BulkImportResponse struct {
	// NumberOfDocumentsImported counts the documents written by the round.
	NumberOfDocumentsImported int64

	// TotalThroughputUnits is the store capacity consumed by the round.
	TotalThroughputUnits float64

	// TotalTimeTaken is the wall-clock duration of the round.
	TotalTimeTaken time.Duration

	// Unprocessed holds the documents the executor gave up on after its own
	// retries. Executors that can't tell leave it nil.
	Unprocessed []Document
}

// BulkExecutor is the throughput-aware batched write primitive, pre-bound to
// one collection. It handles partitioning and throttled sub-batches itself.
type BulkExecutor interface {
	BulkImport(ctx context.Context, docs []Document) (*BulkImportResponse, error)
}
