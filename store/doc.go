// Package store provides a generic repository over a partitioned document
// collection.
//
// A document type is described once by a [Schema]: its kind tag and the
// ordered list of partition-key fields. A [Repository] binds one type to one
// collection and derives every query from the schema, so callers never write
// partition-key clauses by hand.
//
// # Documents
//
// All document types must implement the [Document] interface:
//
//	type Document interface {
//	    Identity() string
//	    PartitionKeyValues() []string
//	    SelfLink() string
//	}
//
// Embedding [Resource] provides the identity and the store-owned system
// properties. Partitioned types override PartitionKeyValues:
//
//	type Order struct {
//	    store.Resource
//	    TenantID string `json:"tenantId"`
//	}
//
//	func (o Order) PartitionKeyValues() []string { return []string{o.TenantID} }
//
//	orders := store.NewSchema("Order", "tenantId")
//
// # Queries
//
// Queries are parameterized [QuerySpec] values in a small SQL subset
// (SELECT * | SELECT VALUE COUNT(1) FROM c WHERE ... ORDER BY ...).
// Results arrive in pages through a [Feed]; a [Cursor] decodes them.
//
// # Drivers
//
// The repository talks to the store through [Client] and the bulk engine
// through [BulkExecutor]. The dynamo package implements both on DynamoDB and
// the memstore package in memory.
//
// # Errors
//
//   - [ErrNotFound] - named resource doesn't exist
//   - [ErrConfiguration] - schema or predicate can't be resolved for a type
//   - [ErrInvalidQuery] - malformed query spec
//   - [ErrDeleteFailed] - delete answered with a non-success status, see [DeleteError]
//   - [ErrCrossPartitionDisabled] - query needs fan-out that wasn't enabled
package store
