package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jacentio/docferry/dynamo"
	"github.com/jacentio/docferry/store"
)

// backend is a store client that can also hand out bulk executors.
type backend interface {
	store.Client
	BulkExecutor(coll *store.Collection) store.BulkExecutor
}

var _ backend = (*dynamo.Client)(nil)

type opener func(ctx context.Context, s *Settings, logger logrus.FieldLogger) (backend, error)

// openDynamo connects to DynamoDB with the default AWS credential chain.
// An endpoint override points the client at DynamoDB Local.
func openDynamo(ctx context.Context, s *Settings, logger logrus.FieldLogger) (backend, error) {
	var opts []func(*config.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, config.WithRegion(s.Region))
	}
	if s.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(s.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load AWS config")
	}
	api := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
		}
	})

	cfg := dynamo.DefaultConfig()
	cfg.MaxConcurrency = s.BulkConcurrency
	cfg.ProcedureTable = s.ProcedureTable
	client := dynamo.New(api, cfg)
	client.SetLogger(logger)
	return client, nil
}
