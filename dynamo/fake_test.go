package dynamo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/docferry/store"
)

// --- Test Document Types ---

type order struct {
	store.Resource
	TenantID string  `json:"tenantId"`
	Status   string  `json:"status"`
	Total    float64 `json:"total"`
}

func (o order) PartitionKeyValues() []string { return []string{o.TenantID} }

var orderSchema = store.NewSchema("Order", "tenantId")

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// --- Fake DynamoDB ---

type fakeTable struct {
	keys  []string
	items map[string]map[string]types.AttributeValue
}

func (t *fakeTable) key(item map[string]types.AttributeValue) string {
	parts := make([]string, 0, len(t.keys))
	for _, k := range t.keys {
		if v, ok := item[k].(*types.AttributeValueMemberS); ok {
			parts = append(parts, v.Value)
		}
	}
	return strings.Join(parts, "\x00")
}

// fakeDynamo keeps tables in memory and serves scripted pages for
// statements, scans and queries.
type fakeDynamo struct {
	mu     sync.Mutex
	tables map[string]*fakeTable

	created    []*dynamodb.CreateTableInput
	statements []dynamodb.ExecuteStatementInput
	scans      []dynamodb.ScanInput
	queries    []dynamodb.QueryInput
	batches    [][]types.WriteRequest

	statementPages []*dynamodb.ExecuteStatementOutput
	scanPages      []*dynamodb.ScanOutput
	queryPages     []*dynamodb.QueryOutput

	// batchWrite overrides the default BatchWriteItem behavior. call counts
	// from 1.
	batchWrite func(call int, reqs []types.WriteRequest) (*dynamodb.BatchWriteItemOutput, error)
}

var _ DynamoClient = (*fakeDynamo)(nil)

func newFakeDynamo(tables ...string) *fakeDynamo {
	f := &fakeDynamo{tables: map[string]*fakeTable{}}
	for _, name := range tables {
		f.tables[name] = &fakeTable{keys: []string{attrPK, attrID}, items: map[string]map[string]types.AttributeValue{}}
	}
	return f
}

func missingTable(table string) error {
	return &types.ResourceNotFoundException{Message: aws.String("table " + table + " not found")}
}

func (f *fakeDynamo) table(name *string) (*fakeTable, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		return nil, missingTable(aws.ToString(name))
	}
	return t, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.table(in.TableName); err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	keys := make([]string, 0, len(in.KeySchema))
	for _, k := range in.KeySchema {
		keys = append(keys, aws.ToString(k.AttributeName))
	}
	f.tables[aws.ToString(in.TableName)] = &fakeTable{keys: keys, items: map[string]map[string]types.AttributeValue{}}
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	t.items[t.key(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: t.items[t.key(in.Key)]}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k := t.key(in.Key)
	if _, ok := t.items[k]; !ok && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	delete(t.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) ExecuteStatement(_ context.Context, in *dynamodb.ExecuteStatementInput, _ ...func(*dynamodb.Options)) (*dynamodb.ExecuteStatementOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statements = append(f.statements, *in)
	if len(f.statementPages) == 0 {
		return &dynamodb.ExecuteStatementOutput{}, nil
	}
	out := f.statementPages[0]
	f.statementPages = f.statementPages[1:]
	return out, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, *in)
	if len(f.scanPages) == 0 {
		return &dynamodb.ScanOutput{}, nil
	}
	out := f.scanPages[0]
	f.scanPages = f.scanPages[1:]
	return out, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, *in)
	if len(f.queryPages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryPages[0]
	f.queryPages = f.queryPages[1:]
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		name string
		reqs []types.WriteRequest
	)
	for name, reqs = range in.RequestItems {
	}
	f.batches = append(f.batches, reqs)
	if f.batchWrite != nil {
		return f.batchWrite(len(f.batches), reqs)
	}
	t, err := f.table(aws.String(name))
	if err != nil {
		return nil, err
	}
	for _, r := range reqs {
		t.items[t.key(r.PutRequest.Item)] = r.PutRequest.Item
	}
	return &dynamodb.BatchWriteItemOutput{
		ConsumedCapacity: []types.ConsumedCapacity{{TableName: aws.String(name), CapacityUnits: aws.Float64(float64(len(reqs)))}},
	}, nil
}

// itemIDs returns the ids stored in table, sorted.
func (f *fakeDynamo) itemIDs(table string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, item := range f.tables[table].items {
		ids = append(ids, item[attrID].(*types.AttributeValueMemberS).Value)
	}
	sort.Strings(ids)
	return ids
}

// --- Helpers ---

// newTestClient returns a client over api with a fixed clock and a sleep
// that records delays instead of waiting.
func newTestClient(api DynamoClient, config Config) (*Client, *[]time.Duration) {
	c := New(api, config)
	var slept []time.Duration
	var mu sync.Mutex
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		slept = append(slept, d)
		return ctx.Err()
	}
	c.now = func() time.Time { return fixedNow }
	return c, &slept
}

func orderItem(t *testing.T, tenant, id, status string) map[string]types.AttributeValue {
	t.Helper()
	item, err := encodeItem(map[string]interface{}{
		attrPK:     tenant,
		attrID:     id,
		attrSelf:   selfLink("shop", "orders", tenant, id),
		"tenantId": tenant,
		"status":   status,
	})
	require.NoError(t, err)
	return item
}

func newOrders(t *testing.T, c *Client) *store.Repository[order] {
	t.Helper()
	repo, err := store.New[order](context.Background(), c, "shop", "orders", orderSchema, store.DefaultConfig())
	require.NoError(t, err)
	return repo
}
