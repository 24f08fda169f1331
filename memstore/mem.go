// Package memstore is an in-memory implementation of the store client and
// bulk executor. It follows the same paging, partitioning and status-code
// rules as the DynamoDB driver and is meant for tests and local runs.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jacentio/docferry/internal/shard"
	"github.com/jacentio/docferry/store"
)

// Options tunes the simulated store.
type Options struct {
	// BulkBatchLimit caps the number of documents one bulk round writes; the
	// rest are reported as unprocessed. Zero means no cap.
	BulkBatchLimit int

	// ReadUnits is charged per returned page. Default: 1
	ReadUnits float64

	// WriteUnits is charged per written document. Default: 5
	WriteUnits float64
}

// Procedure is a stored procedure body.
type Procedure func(ctx context.Context, params []interface{}) (interface{}, error)

// Store is an in-memory document store. It is safe for concurrent use.
type Store struct {
	opts Options
	env  *cel.Env

	mu          sync.RWMutex
	collections map[string]*collection
	links       map[string]docRef
	procedures  map[string]Procedure
	programs    map[string]cel.Program
}

type collection struct {
	meta  *store.Collection
	docs  map[string]*entry
	order []string
}

type entry struct {
	pk   string
	body map[string]interface{}
}

type docRef struct {
	coll string
	key  string
}

var _ store.Client = (*Store)(nil)

// New creates an empty Store.
func New(opts Options) (*Store, error) {
	if opts.ReadUnits <= 0 {
		opts.ReadUnits = 1
	}
	if opts.WriteUnits <= 0 {
		opts.WriteUnits = 5
	}
	env, err := cel.NewEnv(cel.Variable("c", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, errors.Wrap(err, "create CEL environment")
	}
	return &Store{
		opts:        opts,
		env:         env,
		collections: make(map[string]*collection),
		links:       make(map[string]docRef),
		procedures:  make(map[string]Procedure),
		programs:    make(map[string]cel.Program),
	}, nil
}

func collectionLink(database, name string) string {
	return fmt.Sprintf("dbs/%s/colls/%s", database, name)
}

func docKey(pk, id string) string { return pk + "\x00" + id }

// EnsureCollection returns the named collection, creating it with the given
// partition keys when missing. An existing collection must have been created
// with the same keys.
func (s *Store) EnsureCollection(_ context.Context, database, name string, partitionKeys []string) (*store.Collection, error) {
	link := collectionLink(database, name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[link]; ok {
		if strings.Join(c.meta.PartitionKeys, ",") != strings.Join(partitionKeys, ",") {
			return nil, errors.Wrapf(store.ErrConfiguration, "collection %s is partitioned by %v, not %v",
				link, c.meta.PartitionKeys, partitionKeys)
		}
		return c.meta, nil
	}
	keys := make([]string, len(partitionKeys))
	copy(keys, partitionKeys)
	meta := &store.Collection{Database: database, Name: name, SelfLink: link, PartitionKeys: keys}
	s.collections[link] = &collection{meta: meta, docs: make(map[string]*entry)}
	return meta, nil
}

func (s *Store) collection(coll *store.Collection) (*collection, error) {
	c, ok := s.collections[coll.SelfLink]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "collection %s", coll.SelfLink)
	}
	return c, nil
}

// Upsert writes doc by identity within its partition and stamps the system
// properties.
func (s *Store) Upsert(_ context.Context, coll *store.Collection, doc store.Document) (store.Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(coll)
	if err != nil {
		return nil, err
	}
	body, err := s.write(c, doc)
	if err != nil {
		return nil, err
	}
	return encode(body)
}

// write stores doc in c. Callers hold s.mu.
func (s *Store) write(c *collection, doc store.Document) (map[string]interface{}, error) {
	id := doc.Identity()
	if id == "" {
		return nil, errors.Wrap(store.ErrInvalidQuery, "document has no id")
	}
	values := doc.PartitionKeyValues()
	if len(values) != len(c.meta.PartitionKeys) {
		return nil, errors.Wrapf(store.ErrConfiguration, "document %s carries %d partition-key values, collection declares %d",
			id, len(values), len(c.meta.PartitionKeys))
	}
	if slices.Contains(values, "") {
		return nil, errors.Wrapf(store.ErrConfiguration, "document %s has an empty partition-key value", id)
	}
	body, err := toMap(doc)
	if err != nil {
		return nil, errors.Wrapf(err, "encode document %s", id)
	}

	pk := shard.PartitionKey(values)
	key := docKey(pk, id)
	rid := uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.meta.SelfLink+"/"+key)).String()
	self := c.meta.SelfLink + "/docs/" + rid
	body["_rid"] = rid
	body["_self"] = self
	body["_etag"] = uuid.New().String()
	body["_ts"] = float64(time.Now().Unix())

	if _, exists := c.docs[key]; !exists {
		c.order = append(c.order, key)
	}
	c.docs[key] = &entry{pk: pk, body: body}
	s.links[self] = docRef{coll: c.meta.SelfLink, key: key}
	return body, nil
}

// Delete removes the document at selfLink. It answers http.StatusNoContent on
// success and http.StatusNotFound when there is nothing to delete.
func (s *Store) Delete(_ context.Context, selfLink string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.links[selfLink]
	if !ok {
		return http.StatusNotFound, nil
	}
	delete(s.links, selfLink)
	c, ok := s.collections[ref.coll]
	if !ok {
		return http.StatusNotFound, nil
	}
	if _, ok := c.docs[ref.key]; !ok {
		return http.StatusNotFound, nil
	}
	delete(c.docs, ref.key)
	for i, k := range c.order {
		if k == ref.key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return http.StatusNoContent, nil
}

// RegisterProcedure installs fn as the stored procedure id of coll.
func (s *Store) RegisterProcedure(coll *store.Collection, id string, fn Procedure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procedures[coll.SelfLink+"/sprocs/"+id] = fn
}

// StoredProcedure looks up a registered procedure.
func (s *Store) StoredProcedure(_ context.Context, coll *store.Collection, id string) (*store.StoredProcedure, error) {
	link := coll.SelfLink + "/sprocs/" + id
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.procedures[link]; !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "stored procedure %s", link)
	}
	return &store.StoredProcedure{ID: id, SelfLink: link, Collection: coll}, nil
}

// ExecuteStoredProcedure runs proc and returns its result as JSON.
func (s *Store) ExecuteStoredProcedure(ctx context.Context, proc *store.StoredProcedure, params []interface{}) (json.RawMessage, error) {
	s.mu.RLock()
	fn, ok := s.procedures[proc.SelfLink]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "stored procedure %s", proc.SelfLink)
	}
	out, err := fn(ctx, params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// Len returns the number of documents in coll.
func (s *Store) Len(coll *store.Collection) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[coll.SelfLink]
	if !ok {
		return 0
	}
	return len(c.docs)
}

// toMap round-trips v through JSON so stored bodies and parameters share
// one value model: strings, float64, bool, nil, maps and slices.
func toMap(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func encode(body map[string]interface{}) (store.Raw, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return store.RawJSON(b), nil
}

func normalize(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	err = json.Unmarshal(b, &out)
	return out, err
}
