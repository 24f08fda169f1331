package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jacentio/docferry/store"
)

// --- Test Document Types ---

// Order is partitioned by tenant.
type Order struct {
	store.Resource
	TenantID string  `json:"tenantId"`
	Status   string  `json:"status"`
	Total    float64 `json:"total"`
}

func (o Order) PartitionKeyValues() []string { return []string{o.TenantID} }

// Note is unpartitioned.
type Note struct {
	store.Resource
	Text string `json:"text"`
}

var (
	orderSchema = store.NewSchema("Order", "tenantId")
	noteSchema  = store.NewSchema("Note")
)

// --- Scripted Client ---

// scriptedFeed serves fixed pages.
type scriptedFeed struct {
	pages [][]store.Raw
	pos   int
	units float64
}

func (f *scriptedFeed) HasMoreResults() bool { return f.pos < len(f.pages) }

func (f *scriptedFeed) Next(ctx context.Context) (*store.Page, error) {
	if f.pos >= len(f.pages) {
		return &store.Page{}, nil
	}
	p := &store.Page{Documents: f.pages[f.pos], ThroughputUnits: f.units}
	f.pos++
	if f.pos < len(f.pages) {
		p.ContinuationToken = fmt.Sprintf("tok-%d", f.pos)
	}
	return p, nil
}

// pagesOf splits the notes n0..n(total-1) into pages of the given sizes.
func pagesOf(sizes ...int) [][]store.Raw {
	var pages [][]store.Raw
	i := 0
	for _, size := range sizes {
		page := []store.Raw{}
		for j := 0; j < size; j++ {
			page = append(page, rawNote(fmt.Sprintf("n%d", i)))
			i++
		}
		pages = append(pages, page)
	}
	return pages
}

func rawNote(id string) store.Raw {
	b, _ := json.Marshal(Note{Resource: store.Resource{ID: id, Self: "docs/" + id}})
	return store.RawJSON(b)
}

// scriptedClient records calls and answers from canned data.
type scriptedClient struct {
	pages    [][]store.Raw
	statuses []int

	queries []store.QuerySpec
	opts    []store.FeedOptions
	deletes []string
	procs   map[string]json.RawMessage
}

func (c *scriptedClient) EnsureCollection(_ context.Context, database, name string, partitionKeys []string) (*store.Collection, error) {
	return &store.Collection{Database: database, Name: name, SelfLink: "dbs/" + database + "/colls/" + name, PartitionKeys: partitionKeys}, nil
}

func (c *scriptedClient) Query(_ context.Context, _ *store.Collection, q store.QuerySpec, opts store.FeedOptions) (store.Feed, error) {
	c.queries = append(c.queries, q)
	c.opts = append(c.opts, opts)
	return &scriptedFeed{pages: c.pages, units: 2.5}, nil
}

func (c *scriptedClient) Upsert(_ context.Context, _ *store.Collection, doc store.Document) (store.Raw, error) {
	b, err := json.Marshal(doc)
	return store.RawJSON(b), err
}

func (c *scriptedClient) Delete(_ context.Context, selfLink string) (int, error) {
	c.deletes = append(c.deletes, selfLink)
	i := len(c.deletes) - 1
	if i < len(c.statuses) {
		return c.statuses[i], nil
	}
	return http.StatusNoContent, nil
}

func (c *scriptedClient) StoredProcedure(_ context.Context, coll *store.Collection, id string) (*store.StoredProcedure, error) {
	if _, ok := c.procs[id]; !ok {
		return nil, store.ErrNotFound
	}
	return &store.StoredProcedure{ID: id, SelfLink: coll.SelfLink + "/sprocs/" + id, Collection: coll}, nil
}

func (c *scriptedClient) ExecuteStoredProcedure(_ context.Context, proc *store.StoredProcedure, _ []interface{}) (json.RawMessage, error) {
	return c.procs[proc.ID], nil
}
