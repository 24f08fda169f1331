package store

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	// selectAll is the projection every document query starts with.
	selectAll = "SELECT * FROM c"

	// countAll is the aggregate query used by an unfiltered Count.
	countAll = "SELECT VALUE COUNT(1) FROM c"

	// DefaultBatchSize is the page size used when none is configured.
	DefaultBatchSize = 100
)

var fieldNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func isFieldName(s string) bool { return fieldNameRE.MatchString(s) }

// Parameter is a named query parameter. Names start with '@'.
type Parameter struct {
	Name  string
	Value interface{}
}

// Param is shorthand for building a Parameter.
func Param(name string, value interface{}) Parameter {
	if !strings.HasPrefix(name, "@") {
		name = "@" + name
	}
	return Parameter{Name: name, Value: value}
}

// QuerySpec is a query text template plus its ordered named parameters.
type QuerySpec struct {
	Text       string
	Parameters []Parameter
}

// NewQuery creates a QuerySpec from text and parameters.
func NewQuery(text string, params ...Parameter) QuerySpec {
	return QuerySpec{Text: text, Parameters: params}
}

// IsEmpty reports whether the spec has no query text. An empty spec is a
// no-op: it matches nothing and is never sent to the store.
func (q QuerySpec) IsEmpty() bool { return strings.TrimSpace(q.Text) == "" }

// Validate checks that parameter names are well formed and unique.
func (q QuerySpec) Validate() error {
	seen := make(map[string]bool, len(q.Parameters))
	for _, p := range q.Parameters {
		if !strings.HasPrefix(p.Name, "@") || !isFieldName(p.Name[1:]) {
			return errors.Wrapf(ErrInvalidQuery, "bad parameter name %q", p.Name)
		}
		if seen[p.Name] {
			return errors.Wrapf(ErrInvalidQuery, "duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Filter compares one document field with a value.
type Filter struct {
	Field string
	Op    string // one of = != < <= > >=
	Value interface{}
}

// Predicate is a conjunction of filters. The zero value matches every document.
type Predicate []Filter

// Where starts a predicate with one filter.
func Where(field, op string, value interface{}) Predicate {
	return Predicate{{Field: field, Op: op, Value: value}}
}

// And returns p extended with another filter.
func (p Predicate) And(field, op string, value interface{}) Predicate {
	out := make(Predicate, len(p), len(p)+1)
	copy(out, p)
	return append(out, Filter{Field: field, Op: op, Value: value})
}

var validOps = map[string]bool{"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

// FeedOptions control how a query feed is paged.
type FeedOptions struct {
	// EnableCrossPartitionQuery allows the query to fan out over partitions.
	EnableCrossPartitionQuery bool

	// MaxItemCount is the maximum page size.
	MaxItemCount int
}

// QueryBuilder translates identities, documents and predicates into
// parameterized queries for one schema.
type QueryBuilder struct {
	schema Schema
}

// NewQueryBuilder creates a QueryBuilder for schema.
func NewQueryBuilder(schema Schema) QueryBuilder {
	return QueryBuilder{schema: schema}
}

// BuildPointQuery matches the document with the given id and, for partitioned
// types, the given partition-key values in declared order. The number of
// values must equal the number of declared partition keys; on a mismatch the
// returned spec is empty and matches nothing.
func (b QueryBuilder) BuildPointQuery(id string, partitionKeyValues ...string) QuerySpec {
	if len(partitionKeyValues) != len(b.schema.partitionKeys) {
		return QuerySpec{}
	}
	return b.pointQuery(id, partitionKeyValues)
}

// BuildExistenceQuery is BuildPointQuery with the values read from doc.
// It fails with ErrConfiguration when a declared partition key can't be
// resolved or its value is empty.
func (b QueryBuilder) BuildExistenceQuery(doc Document) (QuerySpec, error) {
	values, err := b.schema.partitionValues(doc)
	if err != nil {
		return QuerySpec{}, err
	}
	return b.pointQuery(doc.Identity(), values), nil
}

func (b QueryBuilder) pointQuery(id string, values []string) QuerySpec {
	var sb strings.Builder
	sb.WriteString(selectAll)
	sb.WriteString(" WHERE c.id = @id")
	params := []Parameter{{Name: "@id", Value: id}}
	for i, key := range b.schema.partitionKeys {
		fmt.Fprintf(&sb, " AND c.%s = @%s", key, key)
		params = append(params, Parameter{Name: "@" + key, Value: values[i]})
	}
	return QuerySpec{Text: sb.String(), Parameters: params}
}

// BuildPredicateQuery renders p as a parameterized query.
func (b QueryBuilder) BuildPredicateQuery(p Predicate) (QuerySpec, error) {
	if len(p) == 0 {
		return QuerySpec{Text: selectAll}, nil
	}
	var sb strings.Builder
	sb.WriteString(selectAll)
	params := make([]Parameter, 0, len(p))
	for i, f := range p {
		if !isFieldName(f.Field) {
			return QuerySpec{}, configErrorf("schema %s: invalid field %q in predicate", b.schema.kind, f.Field)
		}
		if !validOps[f.Op] {
			return QuerySpec{}, configErrorf("schema %s: invalid operator %q in predicate", b.schema.kind, f.Op)
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		name := fmt.Sprintf("@p%d", i)
		fmt.Fprintf(&sb, "c.%s %s %s", f.Field, f.Op, name)
		params = append(params, Parameter{Name: name, Value: f.Value})
	}
	return QuerySpec{Text: sb.String(), Parameters: params}, nil
}

// BuildCountQuery returns the aggregate query counting every document.
func (b QueryBuilder) BuildCountQuery() QuerySpec {
	return QuerySpec{Text: countAll}
}

// FeedOptions enables cross-partition fan-out iff the type declares at least
// one partition key, and sets the page size.
func (b QueryBuilder) FeedOptions(batchSize int) FeedOptions {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return FeedOptions{
		EnableCrossPartitionQuery: b.schema.Partitioned(),
		MaxItemCount:              batchSize,
	}
}
