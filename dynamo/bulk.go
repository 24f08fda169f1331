package dynamo

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/docferry/internal/shard"
	"github.com/jacentio/docferry/store"
)

// maxBatchWrite is the BatchWriteItem request limit.
const maxBatchWrite = 25

// BulkExecutor returns a bulk executor bound to coll.
func (c *Client) BulkExecutor(coll *store.Collection) store.BulkExecutor {
	return &bulkExecutor{client: c, coll: coll, table: TableName(coll.Database, coll.Name)}
}

type bulkExecutor struct {
	client *Client
	coll   *store.Collection
	table  string
}

type pendingWrite struct {
	doc  store.Document
	item map[string]types.AttributeValue
}

// tally accumulates the outcome of concurrent bucket writers.
type tally struct {
	mu          sync.Mutex
	imported    int64
	units       float64
	unprocessed []store.Document
}

func (t *tally) add(written int, units float64, left []store.Document) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.imported += int64(written)
	t.units += units
	t.unprocessed = append(t.unprocessed, left...)
}

// BulkImport writes docs in BatchWriteItem chunks. Documents are spread over
// up to MaxConcurrency writers by partition key, so one partition is always
// written by the same writer. Throttled requests and unprocessed items are
// retried with exponential jitter backoff; what is left after
// MaxRetryAttempts is returned as unprocessed.
func (b *bulkExecutor) BulkImport(ctx context.Context, docs []store.Document) (*store.BulkImportResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	workers := b.client.config.MaxConcurrency
	buckets := make([][]pendingWrite, workers)
	for _, doc := range docs {
		m, pk, err := b.client.item(b.coll, doc)
		if err != nil {
			return nil, err
		}
		item, err := encodeItem(m)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal document %s", doc.Identity())
		}
		i := shard.Bucket(pk, workers)
		buckets[i] = append(buckets[i], pendingWrite{doc: doc, item: item})
	}

	t := &tally{}
	g, gctx := errgroup.WithContext(ctx)
	for _, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		g.Go(func() error {
			for i := 0; i < len(bucket); i += maxBatchWrite {
				end := min(i+maxBatchWrite, len(bucket))
				written, units, left, err := b.writeChunk(gctx, bucket[i:end])
				t.add(written, units, left)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(t.unprocessed) > 0 {
		b.client.logger.WithFields(logrus.Fields{
			"table":       b.table,
			"imported":    t.imported,
			"unprocessed": len(t.unprocessed),
		}).Warn("bulk import left documents unprocessed")
	}
	return &store.BulkImportResponse{
		NumberOfDocumentsImported: t.imported,
		TotalThroughputUnits:      t.units,
		TotalTimeTaken:            time.Since(start),
		Unprocessed:               t.unprocessed,
	}, nil
}

// writeChunk writes at most maxBatchWrite items, retrying what the service
// hands back. It returns the number written, the consumed capacity and the
// documents still unwritten when the attempts ran out.
func (b *bulkExecutor) writeChunk(ctx context.Context, chunk []pendingWrite) (int, float64, []store.Document, error) {
	byKey := make(map[string]store.Document, len(chunk))
	requests := make([]types.WriteRequest, 0, len(chunk))
	for _, w := range chunk {
		byKey[itemKey(w.item)] = w.doc
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: w.item}})
	}

	cfg := b.client.config
	backoff := retry.NewExponentialJitterBackoff(cfg.MaxRetryWait)
	throttles := retry.IsErrorThrottles(retry.DefaultThrottles)
	written := 0
	units := 0.0
	for attempt := 1; ; attempt++ {
		out, err := b.client.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems:           map[string][]types.WriteRequest{b.table: requests},
			ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
		})
		if err != nil {
			if throttles.IsErrorThrottle(err) != aws.TrueTernary {
				return written, units, nil, errors.Wrapf(err, "batch write %s", b.table)
			}
		} else {
			for i := range out.ConsumedCapacity {
				units += capacityUnits(&out.ConsumedCapacity[i])
			}
			rest := out.UnprocessedItems[b.table]
			written += len(requests) - len(rest)
			requests = rest
			if len(requests) == 0 {
				return written, units, nil, nil
			}
		}
		if attempt >= cfg.MaxRetryAttempts {
			break
		}
		delay, derr := backoff.BackoffDelay(attempt, err)
		if derr != nil {
			break
		}
		b.client.logger.WithFields(logrus.Fields{
			"table":   b.table,
			"pending": len(requests),
			"attempt": attempt,
			"delay":   delay,
		}).Debug("retrying batch write")
		if err := b.client.sleep(ctx, delay); err != nil {
			return written, units, nil, err
		}
	}

	left := make([]store.Document, 0, len(requests))
	for _, req := range requests {
		if req.PutRequest == nil {
			continue
		}
		if doc, ok := byKey[itemKey(req.PutRequest.Item)]; ok {
			left = append(left, doc)
		}
	}
	return written, units, left, nil
}

func itemKey(item map[string]types.AttributeValue) string {
	var pk, id string
	if v, ok := item[attrPK].(*types.AttributeValueMemberS); ok {
		pk = v.Value
	}
	if v, ok := item[attrID].(*types.AttributeValueMemberS); ok {
		id = v.Value
	}
	return pk + "\x00" + id
}
