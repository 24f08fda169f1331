// Package dynamo implements the store client and bulk executor on Amazon
// DynamoDB.
//
// Each collection is a table named <database>.<collection> keyed by _pk (the
// joined partition-key values) and id. Document queries run as PartiQL
// statements; a query that pins every partition key, or any query on an
// unpartitioned collection, is bound to a single _pk and runs as a key query
// instead of a scan.
package dynamo

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jacentio/docferry/internal/shard"
	"github.com/jacentio/docferry/store"
)

// DynamoClient is the subset of the DynamoDB API the driver uses. It is
// satisfied by *dynamodb.Client and by test doubles.
type DynamoClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	ExecuteStatement(ctx context.Context, params *dynamodb.ExecuteStatementInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ExecuteStatementOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Client is a store.Client backed by DynamoDB.
type Client struct {
	api    DynamoClient
	config Config
	logger logrus.FieldLogger

	// sleep waits between bulk retry attempts.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

var _ store.Client = (*Client)(nil)

// New creates a Client with the given configuration.
func New(api DynamoClient, config Config) *Client {
	config.validate()
	return &Client{
		api:    api,
		config: config,
		logger: logrus.StandardLogger(),
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

// SetLogger sets the logger used by the client.
func (c *Client) SetLogger(logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c.logger = logger
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureCollection resolves the table of a collection, creating it when
// missing and waiting for it to become active.
func (c *Client) EnsureCollection(ctx context.Context, database, name string, partitionKeys []string) (*store.Collection, error) {
	table := TableName(database, name)
	if err := c.ensureTable(ctx, table, attrPK, attrID); err != nil {
		return nil, err
	}
	keys := make([]string, len(partitionKeys))
	copy(keys, partitionKeys)
	return &store.Collection{
		Database:      database,
		Name:          name,
		SelfLink:      "dbs/" + database + "/colls/" + name,
		PartitionKeys: keys,
	}, nil
}

func (c *Client) ensureTable(ctx context.Context, table, hashKey, rangeKey string) error {
	_, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return errors.Wrapf(err, "describe table %s", table)
	}

	c.logger.WithField("table", table).Info("creating table")
	_, err = c.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(hashKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(rangeKey), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(hashKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(rangeKey), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return errors.Wrapf(err, "create table %s", table)
	}

	waiter := dynamodb.NewTableExistsWaiter(c.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, c.config.CreateTimeout); err != nil {
		return errors.Wrapf(err, "wait for table %s", table)
	}
	return nil
}

// Query opens a feed over the documents matching q.
func (c *Client) Query(_ context.Context, coll *store.Collection, q store.QuerySpec, opts store.FeedOptions) (store.Feed, error) {
	p, err := newPlan(coll, q, opts)
	if err != nil {
		return nil, err
	}
	limit := opts.MaxItemCount
	if limit <= 0 {
		limit = store.DefaultBatchSize
	}

	if p.stmt.Count {
		return c.countFeed(p, int32(limit))
	}
	text, args, err := p.partiQL()
	if err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{"statement": text, "partition": p.partition}).Debug("query")
	return &statementFeed{
		api: c.api,
		input: dynamodb.ExecuteStatementInput{
			Statement:              aws.String(text),
			Parameters:             args,
			Limit:                  aws.Int32(int32(limit)),
			ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
		},
	}, nil
}

func (c *Client) countFeed(p *plan, limit int32) (store.Feed, error) {
	filter, names, values, err := p.condition()
	if err != nil {
		return nil, err
	}
	var filterExpr *string
	if filter != "" {
		filterExpr = aws.String(filter)
	}
	if p.partition == "" {
		if len(values) == 0 {
			values = nil
		}
		if len(names) == 0 {
			names = nil
		}
		return &countFeed{api: c.api, scan: &dynamodb.ScanInput{
			TableName:                 aws.String(p.table),
			Select:                    types.SelectCount,
			Limit:                     aws.Int32(limit),
			FilterExpression:          filterExpr,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ReturnConsumedCapacity:    types.ReturnConsumedCapacityTotal,
		}}, nil
	}

	if names == nil {
		names = map[string]string{}
	}
	if values == nil {
		values = map[string]types.AttributeValue{}
	}
	names["#pk"] = attrPK
	values[":pk"] = &types.AttributeValueMemberS{Value: p.partition}
	return &countFeed{api: c.api, query: &dynamodb.QueryInput{
		TableName:                 aws.String(p.table),
		Select:                    types.SelectCount,
		Limit:                     aws.Int32(limit),
		KeyConditionExpression:    aws.String("#pk = :pk"),
		FilterExpression:          filterExpr,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnConsumedCapacity:    types.ReturnConsumedCapacityTotal,
	}}, nil
}

// item renders doc as a stored item with its system attributes stamped.
func (c *Client) item(coll *store.Collection, doc store.Document) (map[string]interface{}, string, error) {
	id := doc.Identity()
	if id == "" {
		return nil, "", errors.Wrap(store.ErrInvalidQuery, "document has no id")
	}
	values := doc.PartitionKeyValues()
	if len(values) != len(coll.PartitionKeys) {
		return nil, "", errors.Wrapf(store.ErrConfiguration, "document %s carries %d partition-key values, collection declares %d",
			id, len(values), len(coll.PartitionKeys))
	}
	if slices.Contains(values, "") {
		return nil, "", errors.Wrapf(store.ErrConfiguration, "document %s has an empty partition-key value", id)
	}
	m, err := toJSONMap(doc)
	if err != nil {
		return nil, "", errors.Wrapf(err, "encode document %s", id)
	}
	pk := shard.PartitionKey(values)
	self := selfLink(coll.Database, coll.Name, pk, id)
	m[attrPK] = pk
	m[attrID] = id
	m[attrSelf] = self
	m[attrRID] = uuid.NewSHA1(uuid.NameSpaceURL, []byte(self)).String()
	m[attrETag] = uuid.New().String()
	m[attrTS] = c.now().Unix()
	return m, pk, nil
}

// Upsert writes doc with PutItem.
func (c *Client) Upsert(ctx context.Context, coll *store.Collection, doc store.Document) (store.Raw, error) {
	m, _, err := c.item(coll, doc)
	if err != nil {
		return nil, err
	}
	item, err := encodeItem(m)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal document %s", doc.Identity())
	}
	table := TableName(coll.Database, coll.Name)
	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(table), Item: item}); err != nil {
		return nil, errors.Wrapf(err, "put %s", doc.Identity())
	}
	return decodeItem(item)
}

// Delete removes the document at selfLink. A missing document or a malformed
// link is reported through the status code.
func (c *Client) Delete(ctx context.Context, link string) (int, error) {
	table, key, err := parseSelfLink(link)
	if err != nil {
		c.logger.WithField("selfLink", link).Warn(err.Error())
		return http.StatusBadRequest, nil
	}
	_, err = c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(table),
		Key:                      key,
		ConditionExpression:      aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": attrID},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &condErr) || errors.As(err, &notFound) {
			return http.StatusNotFound, nil
		}
		return 0, errors.Wrapf(err, "delete %s", link)
	}
	return http.StatusNoContent, nil
}
