package dynamo

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/docferry/store"
)

var (
	ordersColl = &store.Collection{Database: "shop", Name: "orders", SelfLink: "dbs/shop/colls/orders", PartitionKeys: []string{"tenantId"}}
	notesColl  = &store.Collection{Database: "shop", Name: "notes", SelfLink: "dbs/shop/colls/notes"}
)

func strAV(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func numAV(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func TestPartiQL(t *testing.T) {
	cross := store.FeedOptions{EnableCrossPartitionQuery: true}

	tests := []struct {
		name  string
		coll  *store.Collection
		query store.QuerySpec
		want  string
		args  []types.AttributeValue
	}{
		{
			name:  "cross partition scan",
			coll:  ordersColl,
			query: store.NewQuery("SELECT * FROM c"),
			want:  `SELECT * FROM "shop.orders"`,
		},
		{
			name:  "cross partition filter",
			coll:  ordersColl,
			query: store.NewQuery("SELECT * FROM c WHERE c.total > 5 AND c.status != @s", store.Param("s", "void")),
			want:  `SELECT * FROM "shop.orders" WHERE ("total" > ? AND "status" <> ?)`,
			args:  []types.AttributeValue{numAV("5"), strAV("void")},
		},
		{
			name:  "pinned partition",
			coll:  ordersColl,
			query: store.NewQuery("SELECT * FROM c WHERE c.tenantId = @t AND c.status = 'open'", store.Param("t", "acme")),
			want:  `SELECT * FROM "shop.orders" WHERE "_pk" = ? AND ("tenantId" = ? AND "status" = ?)`,
			args:  []types.AttributeValue{strAV("acme"), strAV("acme"), strAV("open")},
		},
		{
			name:  "pinned with order by id",
			coll:  ordersColl,
			query: store.NewQuery("SELECT * FROM c WHERE c.tenantId = 'acme' ORDER BY c.id DESC"),
			want:  `SELECT * FROM "shop.orders" WHERE "_pk" = ? AND "tenantId" = ? ORDER BY "id" DESC`,
			args:  []types.AttributeValue{strAV("acme"), strAV("acme")},
		},
		{
			name:  "unpartitioned",
			coll:  notesColl,
			query: store.NewQuery("SELECT * FROM c WHERE NOT c.done = true"),
			want:  `SELECT * FROM "shop.notes" WHERE "_pk" = ? AND NOT ("done" = ?)`,
			args:  []types.AttributeValue{strAV("_"), &types.AttributeValueMemberBOOL{Value: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newPlan(tt.coll, tt.query, cross)
			require.NoError(t, err)
			got, args, err := p.partiQL()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestNewPlan_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query store.QuerySpec
		opts  store.FeedOptions
		want  error
	}{
		{
			name:  "cross partition disabled",
			query: store.NewQuery("SELECT * FROM c WHERE c.status = 'open'"),
			want:  store.ErrCrossPartitionDisabled,
		},
		{
			name:  "unbound parameter",
			query: store.NewQuery("SELECT * FROM c WHERE c.status = @s"),
			opts:  store.FeedOptions{EnableCrossPartitionQuery: true},
			want:  store.ErrInvalidQuery,
		},
		{
			name:  "order by non key field",
			query: store.NewQuery("SELECT * FROM c WHERE c.tenantId = 'acme' ORDER BY c.total"),
			want:  store.ErrInvalidQuery,
		},
		{
			name:  "order by across partitions",
			query: store.NewQuery("SELECT * FROM c ORDER BY c.id"),
			opts:  store.FeedOptions{EnableCrossPartitionQuery: true},
			want:  store.ErrInvalidQuery,
		},
		{
			name:  "syntax error",
			query: store.NewQuery("SELECT FROM"),
			opts:  store.FeedOptions{EnableCrossPartitionQuery: true},
			want:  store.ErrInvalidQuery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newPlan(ordersColl, tt.query, tt.opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCondition(t *testing.T) {
	q := store.NewQuery("SELECT VALUE COUNT(1) FROM c WHERE c.total >= @min OR c.total < 0", store.Param("min", 10))
	p, err := newPlan(ordersColl, q, store.FeedOptions{EnableCrossPartitionQuery: true})
	require.NoError(t, err)

	expr, names, values, err := p.condition()
	require.NoError(t, err)
	assert.Equal(t, "(#f0 >= :v0 OR #f0 < :v1)", expr)
	assert.Equal(t, map[string]string{"#f0": "total"}, names)
	assert.Equal(t, map[string]types.AttributeValue{":v0": numAV("10"), ":v1": numAV("0")}, values)
}

func TestCondition_NoFilter(t *testing.T) {
	p, err := newPlan(notesColl, store.NewQuery("SELECT VALUE COUNT(1) FROM c"), store.FeedOptions{})
	require.NoError(t, err)

	expr, names, values, err := p.condition()
	require.NoError(t, err)
	assert.Empty(t, expr)
	assert.Nil(t, names)
	assert.Nil(t, values)
}

func TestSelfLink(t *testing.T) {
	link := selfLink("shop", "orders", `a/b#c`, "o 1")
	assert.Equal(t, "dbs/shop/colls/orders/docs/a%2Fb%23c/o%201", link)

	table, key, err := parseSelfLink(link)
	require.NoError(t, err)
	assert.Equal(t, "shop.orders", table)
	assert.Equal(t, keyOf(`a/b#c`, "o 1"), key)

	for _, bad := range []string{"", "dbs/shop/colls/orders", "dbs/shop/tables/orders/docs/a/b", "dbs/shop/colls/orders/docs/a/b/c"} {
		_, _, err := parseSelfLink(bad)
		assert.Error(t, err, bad)
	}
}
