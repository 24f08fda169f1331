package memstore_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/docferry/memstore"
	"github.com/jacentio/docferry/store"
)

type item struct {
	store.Resource
	Tenant string      `json:"tenant"`
	Name   string      `json:"name"`
	Size   float64     `json:"size"`
	Tags   []string    `json:"tags,omitempty"`
	Extra  interface{} `json:"extra"`
}

func (i item) PartitionKeyValues() []string { return []string{i.Tenant} }

func setup(t *testing.T, opts memstore.Options) (*memstore.Store, *store.Collection) {
	t.Helper()
	mem, err := memstore.New(opts)
	require.NoError(t, err)
	coll, err := mem.EnsureCollection(context.Background(), "db", "items", []string{"tenant"})
	require.NoError(t, err)
	return mem, coll
}

func put(t *testing.T, mem *memstore.Store, coll *store.Collection, items ...item) {
	t.Helper()
	for _, it := range items {
		_, err := mem.Upsert(context.Background(), coll, it)
		require.NoError(t, err)
	}
}

func query(t *testing.T, mem *memstore.Store, coll *store.Collection, q store.QuerySpec, opts store.FeedOptions) []item {
	t.Helper()
	feed, err := mem.Query(context.Background(), coll, q, opts)
	require.NoError(t, err)
	out, err := store.NewCursor[item](feed).Drain(context.Background())
	require.NoError(t, err)
	return out
}

func names(items []item) []string {
	out := []string{}
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

var fanOut = store.FeedOptions{EnableCrossPartitionQuery: true, MaxItemCount: 2}

func TestEnsureCollection(t *testing.T) {
	mem, coll := setup(t, memstore.Options{})
	assert.Equal(t, "dbs/db/colls/items", coll.SelfLink)

	again, err := mem.EnsureCollection(context.Background(), "db", "items", []string{"tenant"})
	require.NoError(t, err)
	assert.Same(t, coll, again)

	_, err = mem.EnsureCollection(context.Background(), "db", "items", []string{"region"})
	assert.True(t, errors.Is(err, store.ErrConfiguration))
}

func TestUpsert_StampsSystemProperties(t *testing.T) {
	mem, coll := setup(t, memstore.Options{})
	raw, err := mem.Upsert(context.Background(), coll, item{Resource: store.Resource{ID: "a"}, Tenant: "t1"})
	require.NoError(t, err)

	var got item
	require.NoError(t, raw.Decode(&got))
	assert.Contains(t, got.Self, "dbs/db/colls/items/docs/")
	assert.NotEmpty(t, got.ETag)
	assert.NotEmpty(t, got.ResourceID)

	// Same identity keeps the same self link, fresh etag
	raw, err = mem.Upsert(context.Background(), coll, item{Resource: store.Resource{ID: "a"}, Tenant: "t1", Name: "x"})
	require.NoError(t, err)
	var again item
	require.NoError(t, raw.Decode(&again))
	assert.Equal(t, got.Self, again.Self)
	assert.NotEqual(t, got.ETag, again.ETag)
	assert.Equal(t, 1, mem.Len(coll))
}

func TestUpsert_Rejects(t *testing.T) {
	mem, coll := setup(t, memstore.Options{})

	_, err := mem.Upsert(context.Background(), coll, item{Tenant: "t1"})
	assert.True(t, errors.Is(err, store.ErrInvalidQuery))

	_, err = mem.Upsert(context.Background(), coll, store.Resource{ID: "a"})
	assert.True(t, errors.Is(err, store.ErrConfiguration))

	_, err = mem.BulkExecutor(coll).BulkImport(context.Background(), []store.Document{item{Resource: store.Resource{ID: "b"}}})
	assert.True(t, errors.Is(err, store.ErrConfiguration))
	assert.Equal(t, 0, mem.Len(coll))
}

func TestQuery_Filters(t *testing.T) {
	mem, coll := setup(t, memstore.Options{})
	put(t, mem, coll,
		item{Resource: store.Resource{ID: "1"}, Tenant: "t1", Name: "a", Size: 1},
		item{Resource: store.Resource{ID: "2"}, Tenant: "t1", Name: "b", Size: 2, Extra: "s"},
		item{Resource: store.Resource{ID: "3"}, Tenant: "t2", Name: "c", Size: 3},
	)

	tests := []struct {
		text   string
		params []store.Parameter
		want   []string
	}{
		{"SELECT * FROM c", nil, []string{"a", "b", "c"}},
		{"SELECT * FROM c WHERE c.size >= @n", []store.Parameter{store.Param("n", 2)}, []string{"b", "c"}},
		{"SELECT * FROM c WHERE c.size > 1 AND c.size < 3", nil, []string{"b"}},
		{"SELECT * FROM c WHERE c.name = 'a' OR c.name = 'c'", nil, []string{"a", "c"}},
		{"SELECT * FROM c WHERE NOT (c.name = 'a')", nil, []string{"b", "c"}},
		{"SELECT * FROM c WHERE c.name <> @n", []store.Parameter{store.Param("n", "b")}, []string{"a", "c"}},
		{"SELECT * FROM c WHERE c.extra = null", nil, []string{"a", "c"}},
		{"SELECT * FROM c WHERE c.nope = 1", nil, []string{}},
		{"SELECT * FROM c WHERE c.name > 1", nil, []string{}},
		{"SELECT * FROM c ORDER BY c.size DESC", nil, []string{"c", "b", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := query(t, mem, coll, store.NewQuery(tt.text, tt.params...), fanOut)
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestQuery_CrossPartitionDisabled(t *testing.T) {
	mem, coll := setup(t, memstore.Options{})
	put(t, mem, coll,
		item{Resource: store.Resource{ID: "1"}, Tenant: "t1", Name: "a"},
		item{Resource: store.Resource{ID: "2"}, Tenant: "t2", Name: "b"},
	)
	single := store.FeedOptions{MaxItemCount: 10}

	_, err := mem.Query(context.Background(), coll, store.NewQuery("SELECT * FROM c"), single)
	assert.True(t, errors.Is(err, store.ErrCrossPartitionDisabled))

	got := query(t, mem, coll, store.NewQuery("SELECT * FROM c WHERE c.tenant = @t", store.Param("t", "t2")), single)
	assert.Equal(t, []string{"b"}, names(got))
}

func TestQuery_UnboundParameter(t *testing.T) {
	mem, coll := setup(t, memstore.Options{})
	_, err := mem.Query(context.Background(), coll, store.NewQuery("SELECT * FROM c WHERE c.name = @n"), fanOut)
	assert.True(t, errors.Is(err, store.ErrInvalidQuery))
}

func TestQuery_Paging(t *testing.T) {
	mem, coll := setup(t, memstore.Options{ReadUnits: 2})
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		put(t, mem, coll, item{Resource: store.Resource{ID: id}, Tenant: "t1", Name: id})
	}

	feed, err := mem.Query(context.Background(), coll, store.NewQuery("SELECT * FROM c"), fanOut)
	require.NoError(t, err)
	cur := store.NewCursor[item](feed)
	got, err := cur.Drain(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, 3, cur.Pages())
	assert.InDelta(t, 6.0, cur.ThroughputUnits(), 1e-9)
}

func TestQuery_CountPartials(t *testing.T) {
	mem, coll := setup(t, memstore.Options{})
	put(t, mem, coll,
		item{Resource: store.Resource{ID: "1"}, Tenant: "t1"},
		item{Resource: store.Resource{ID: "2"}, Tenant: "t2"},
		item{Resource: store.Resource{ID: "3"}, Tenant: "t2"},
	)
	feed, err := mem.Query(context.Background(), coll, store.NewQuery("SELECT VALUE COUNT(1) FROM c"), fanOut)
	require.NoError(t, err)
	partials, err := store.NewCursor[int](feed).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, partials)
}

func TestDelete(t *testing.T) {
	mem, coll := setup(t, memstore.Options{})
	raw, err := mem.Upsert(context.Background(), coll, item{Resource: store.Resource{ID: "a"}, Tenant: "t1"})
	require.NoError(t, err)
	var it item
	require.NoError(t, raw.Decode(&it))

	status, err := mem.Delete(context.Background(), it.Self)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	status, err = mem.Delete(context.Background(), it.Self)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 0, mem.Len(coll))
}

func TestBulkImport_BatchLimit(t *testing.T) {
	mem, coll := setup(t, memstore.Options{BulkBatchLimit: 2, WriteUnits: 1})
	docs := []store.Document{
		item{Resource: store.Resource{ID: "1"}, Tenant: "t1"},
		item{Resource: store.Resource{ID: "2"}, Tenant: "t1"},
		item{Resource: store.Resource{ID: "3"}, Tenant: "t1"},
	}

	resp, err := mem.BulkExecutor(coll).BulkImport(context.Background(), docs)
	require.NoError(t, err)
	assert.EqualValues(t, 2, resp.NumberOfDocumentsImported)
	assert.InDelta(t, 2.0, resp.TotalThroughputUnits, 1e-9)
	require.Len(t, resp.Unprocessed, 1)
	assert.Equal(t, "3", resp.Unprocessed[0].Identity())
	assert.Equal(t, 2, mem.Len(coll))
}

func TestBulkImport_Cancelled(t *testing.T) {
	mem, coll := setup(t, memstore.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mem.BulkExecutor(coll).BulkImport(ctx, []store.Document{item{Resource: store.Resource{ID: "1"}, Tenant: "t1"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoredProcedure(t *testing.T) {
	mem, coll := setup(t, memstore.Options{})
	_, err := mem.StoredProcedure(context.Background(), coll, "bump")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	mem.RegisterProcedure(coll, "bump", func(_ context.Context, params []interface{}) (interface{}, error) {
		return len(params), nil
	})
	proc, err := mem.StoredProcedure(context.Background(), coll, "bump")
	require.NoError(t, err)

	out, err := mem.ExecuteStoredProcedure(context.Background(), proc, []interface{}{"a", "b"})
	require.NoError(t, err)
	assert.JSONEq(t, "2", string(out))
}
