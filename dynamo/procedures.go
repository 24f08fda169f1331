package dynamo

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"

	"github.com/jacentio/docferry/store"
)

// Stored procedures are PartiQL statements with positional '?' parameters,
// kept in the procedure table keyed by collection link and id.
const (
	procCollection = "collection"
	procID         = "id"
	procStatement  = "statement"
)

// PutStoredProcedure registers statement as the stored procedure id of coll,
// creating the procedure table when missing.
func (c *Client) PutStoredProcedure(ctx context.Context, coll *store.Collection, id, statement string) error {
	if strings.TrimSpace(statement) == "" {
		return errors.Wrapf(store.ErrInvalidQuery, "stored procedure %s has no statement", id)
	}
	if err := c.ensureTable(ctx, c.config.ProcedureTable, procCollection, procID); err != nil {
		return err
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.config.ProcedureTable),
		Item: map[string]types.AttributeValue{
			procCollection: &types.AttributeValueMemberS{Value: coll.SelfLink},
			procID:         &types.AttributeValueMemberS{Value: id},
			procStatement:  &types.AttributeValueMemberS{Value: statement},
		},
	})
	return errors.Wrapf(err, "put stored procedure %s", id)
}

func (c *Client) procedure(ctx context.Context, coll *store.Collection, id string) (string, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.config.ProcedureTable),
		Key: map[string]types.AttributeValue{
			procCollection: &types.AttributeValueMemberS{Value: coll.SelfLink},
			procID:         &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", errors.Wrapf(store.ErrNotFound, "stored procedure %s", id)
		}
		return "", errors.Wrapf(err, "get stored procedure %s", id)
	}
	stmt, ok := out.Item[procStatement].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.Wrapf(store.ErrNotFound, "stored procedure %s", id)
	}
	return stmt.Value, nil
}

// StoredProcedure looks up a stored procedure of coll.
func (c *Client) StoredProcedure(ctx context.Context, coll *store.Collection, id string) (*store.StoredProcedure, error) {
	if _, err := c.procedure(ctx, coll, id); err != nil {
		return nil, err
	}
	return &store.StoredProcedure{ID: id, SelfLink: coll.SelfLink + "/sprocs/" + id, Collection: coll}, nil
}

// ExecuteStoredProcedure runs the procedure's statement with params bound in
// order and returns the resulting items as a JSON array.
func (c *Client) ExecuteStoredProcedure(ctx context.Context, proc *store.StoredProcedure, params []interface{}) (json.RawMessage, error) {
	stmt, err := c.procedure(ctx, proc.Collection, proc.ID)
	if err != nil {
		return nil, err
	}
	args := make([]types.AttributeValue, 0, len(params))
	for i, p := range params {
		av, err := marshalValue(p)
		if err != nil {
			return nil, errors.Wrapf(err, "stored procedure %s parameter %d", proc.ID, i)
		}
		args = append(args, av)
	}
	if len(args) == 0 {
		args = nil
	}

	docs := []json.RawMessage{}
	input := &dynamodb.ExecuteStatementInput{Statement: aws.String(stmt), Parameters: args}
	for {
		out, err := c.api.ExecuteStatement(ctx, input)
		if err != nil {
			return nil, errors.Wrapf(err, "execute stored procedure %s", proc.ID)
		}
		for _, item := range out.Items {
			raw, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, json.RawMessage(raw))
		}
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}
	return json.Marshal(docs)
}
