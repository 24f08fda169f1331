package dynamo

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"

	"github.com/jacentio/docferry/store"
)

// statementFeed pages a PartiQL statement by NextToken.
type statementFeed struct {
	api   DynamoClient
	input dynamodb.ExecuteStatementInput
	done  bool
}

func (f *statementFeed) HasMoreResults() bool { return !f.done }

func (f *statementFeed) Next(ctx context.Context) (*store.Page, error) {
	if f.done {
		return &store.Page{}, nil
	}
	out, err := f.api.ExecuteStatement(ctx, &f.input)
	if err != nil {
		return nil, errors.Wrapf(err, "execute %s", aws.ToString(f.input.Statement))
	}
	page := &store.Page{ThroughputUnits: capacityUnits(out.ConsumedCapacity)}
	for _, item := range out.Items {
		raw, err := decodeItem(item)
		if err != nil {
			return nil, err
		}
		page.Documents = append(page.Documents, raw)
	}
	f.input.NextToken = out.NextToken
	if out.NextToken == nil {
		f.done = true
	} else {
		page.ContinuationToken = *out.NextToken
	}
	return page, nil
}

// countFeed pages a COUNT scan or query; every page carries one partial count.
type countFeed struct {
	api   DynamoClient
	scan  *dynamodb.ScanInput
	query *dynamodb.QueryInput
	done  bool
}

func (f *countFeed) HasMoreResults() bool { return !f.done }

func (f *countFeed) Next(ctx context.Context) (*store.Page, error) {
	if f.done {
		return &store.Page{}, nil
	}
	var (
		count int32
		last  map[string]types.AttributeValue
		cc    *types.ConsumedCapacity
	)
	if f.query != nil {
		out, err := f.api.Query(ctx, f.query)
		if err != nil {
			return nil, errors.Wrapf(err, "count %s", aws.ToString(f.query.TableName))
		}
		count, last, cc = out.Count, out.LastEvaluatedKey, out.ConsumedCapacity
		f.query.ExclusiveStartKey = last
	} else {
		out, err := f.api.Scan(ctx, f.scan)
		if err != nil {
			return nil, errors.Wrapf(err, "count %s", aws.ToString(f.scan.TableName))
		}
		count, last, cc = out.Count, out.LastEvaluatedKey, out.ConsumedCapacity
		f.scan.ExclusiveStartKey = last
	}
	page := &store.Page{
		Documents:       []store.Raw{store.RawJSON(strconv.Itoa(int(count)))},
		ThroughputUnits: capacityUnits(cc),
	}
	if len(last) == 0 {
		f.done = true
	} else if tok, err := decodeItem(last); err == nil {
		page.ContinuationToken = string(tok)
	}
	return page, nil
}

func capacityUnits(cc *types.ConsumedCapacity) float64 {
	if cc == nil {
		return 0
	}
	return aws.ToFloat64(cc.CapacityUnits)
}
