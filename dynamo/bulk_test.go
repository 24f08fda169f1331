package dynamo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/docferry/store"
)

func orders(tenants []string, perTenant int) []store.Document {
	var docs []store.Document
	for _, tenant := range tenants {
		for i := 0; i < perTenant; i++ {
			docs = append(docs, order{Resource: store.Resource{ID: fmt.Sprintf("%s-%02d", tenant, i)}, TenantID: tenant})
		}
	}
	return docs
}

func TestBulkImport_WritesAllChunks(t *testing.T) {
	api := newFakeDynamo("shop.orders")
	c, slept := newTestClient(api, DefaultConfig())

	docs := orders([]string{"acme", "globex", "initech"}, 20)
	resp, err := c.BulkExecutor(ordersColl).BulkImport(context.Background(), docs)
	require.NoError(t, err)

	assert.Equal(t, int64(60), resp.NumberOfDocumentsImported)
	assert.InDelta(t, 60.0, resp.TotalThroughputUnits, 1e-9)
	assert.Empty(t, resp.Unprocessed)
	assert.Empty(t, *slept)
	assert.Len(t, api.itemIDs("shop.orders"), 60)
	for _, batch := range api.batches {
		assert.LessOrEqual(t, len(batch), maxBatchWrite)
	}
}

func TestBulkImport_EmptyPartitionValueFailsBeforeWriting(t *testing.T) {
	api := newFakeDynamo("shop.orders")
	c, _ := newTestClient(api, DefaultConfig())

	docs := orders([]string{"acme", "globex"}, 30)
	docs = append(docs, order{Resource: store.Resource{ID: "blank"}})
	_, err := c.BulkExecutor(ordersColl).BulkImport(context.Background(), docs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConfiguration), "got %v", err)
	assert.Empty(t, api.batches)
	assert.Empty(t, api.itemIDs("shop.orders"))
}

func TestBulkImport_RetriesUnprocessedItems(t *testing.T) {
	api := newFakeDynamo("shop.orders")
	api.batchWrite = func(call int, reqs []types.WriteRequest) (*dynamodb.BatchWriteItemOutput, error) {
		if call == 1 {
			return &dynamodb.BatchWriteItemOutput{
				UnprocessedItems: map[string][]types.WriteRequest{"shop.orders": reqs[1:]},
			}, nil
		}
		return &dynamodb.BatchWriteItemOutput{}, nil
	}
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 1
	c, slept := newTestClient(api, cfg)

	resp, err := c.BulkExecutor(ordersColl).BulkImport(context.Background(), orders([]string{"acme"}, 3))
	require.NoError(t, err)

	assert.Equal(t, int64(3), resp.NumberOfDocumentsImported)
	assert.Empty(t, resp.Unprocessed)
	assert.Len(t, *slept, 1)
	require.Len(t, api.batches, 2)
	assert.Len(t, api.batches[1], 2)
}

func TestBulkImport_ReportsLeftovers(t *testing.T) {
	api := newFakeDynamo("shop.orders")
	api.batchWrite = func(_ int, reqs []types.WriteRequest) (*dynamodb.BatchWriteItemOutput, error) {
		return &dynamodb.BatchWriteItemOutput{
			UnprocessedItems: map[string][]types.WriteRequest{"shop.orders": reqs},
		}, nil
	}
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 1
	cfg.MaxRetryAttempts = 2
	c, slept := newTestClient(api, cfg)

	docs := orders([]string{"acme"}, 3)
	resp, err := c.BulkExecutor(ordersColl).BulkImport(context.Background(), docs)
	require.NoError(t, err)

	assert.Equal(t, int64(0), resp.NumberOfDocumentsImported)
	assert.ElementsMatch(t, docs, resp.Unprocessed)
	assert.Len(t, *slept, 1)
	assert.Len(t, api.batches, 2)
}

func TestBulkImport_RetriesThrottles(t *testing.T) {
	api := newFakeDynamo("shop.orders")
	api.batchWrite = func(call int, _ []types.WriteRequest) (*dynamodb.BatchWriteItemOutput, error) {
		if call == 1 {
			return nil, &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
		}
		return &dynamodb.BatchWriteItemOutput{}, nil
	}
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 1
	c, slept := newTestClient(api, cfg)

	resp, err := c.BulkExecutor(ordersColl).BulkImport(context.Background(), orders([]string{"acme"}, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.NumberOfDocumentsImported)
	assert.Len(t, *slept, 1)
}

func TestBulkImport_FailsOnServiceError(t *testing.T) {
	api := newFakeDynamo("shop.orders")
	boom := errors.New("boom")
	api.batchWrite = func(int, []types.WriteRequest) (*dynamodb.BatchWriteItemOutput, error) {
		return nil, boom
	}
	c, _ := newTestClient(api, DefaultConfig())

	_, err := c.BulkExecutor(ordersColl).BulkImport(context.Background(), orders([]string{"acme"}, 2))
	assert.True(t, errors.Is(err, boom))
}

func TestBulkImport_Cancelled(t *testing.T) {
	api := newFakeDynamo("shop.orders")
	c, _ := newTestClient(api, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.BulkExecutor(ordersColl).BulkImport(ctx, orders([]string{"acme"}, 2))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, api.batches)
}
