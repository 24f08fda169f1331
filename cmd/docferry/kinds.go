package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jacentio/docferry/bulk"
	"github.com/jacentio/docferry/models"
	"github.com/jacentio/docferry/staging"
	"github.com/jacentio/docferry/store"
)

// job holds what the per-kind operations share within one run.
type job struct {
	backend  backend
	stage    *staging.Stage
	registry *store.Registry
	settings *Settings
	logger   logrus.FieldLogger
}

// kindOps are the operations of one model, instantiated for its Go type.
type kindOps struct {
	export func(ctx context.Context, j *job, database string, spec CollectionSpec) (*bulk.Result, error)
	load   func(ctx context.Context, j *job, database string, spec CollectionSpec) (*bulk.Result, error)
	count  func(ctx context.Context, j *job, database, collection string, spec CollectionSpec) (int, error)
}

var kinds = map[string]kindOps{
	models.KindApplicabilityScope: opsFor[models.ApplicabilityScope](),
	models.KindControl:            opsFor[models.Control](),
	models.KindNodeMapping:        opsFor[models.NodeMapping](),
}

func opsFor[T store.Document]() kindOps {
	return kindOps{export: exportAs[T], load: importAs[T], count: countAs[T]}
}

func opsOf(model string) (kindOps, error) {
	ops, ok := kinds[model]
	if !ok {
		return kindOps{}, errors.Wrapf(store.ErrConfiguration, "model %q has no Go type", model)
	}
	return ops, nil
}

func repository[T store.Document](ctx context.Context, j *job, database, collection, kind string) (*store.Repository[T], error) {
	schema, ok := j.registry.Lookup(kind)
	if !ok {
		return nil, errors.Wrapf(store.ErrConfiguration, "unknown model %q", kind)
	}
	cfg := store.DefaultConfig()
	cfg.BatchSize = j.settings.BatchSize
	repo, err := store.New[T](ctx, j.backend, database, collection, schema, cfg)
	if err != nil {
		return nil, err
	}
	repo.SetLogger(j.logger.WithFields(logrus.Fields{
		"database":   database,
		"collection": collection,
	}))
	return repo, nil
}

func (j *job) engineConfig() bulk.Config {
	cfg := bulk.DefaultConfig()
	cfg.MaxRounds = j.settings.MaxRounds
	cfg.MaxIdleRounds = j.settings.MaxIdleRounds
	return cfg
}

// exportAs drains spec.Query into the staging directory of the model.
func exportAs[T store.Document](ctx context.Context, j *job, database string, spec CollectionSpec) (*bulk.Result, error) {
	repo, err := repository[T](ctx, j, database, spec.Name, spec.Model)
	if err != nil {
		return nil, err
	}
	eng := bulk.New[T](repo, nil, j.engineConfig())
	return eng.Export(ctx, store.NewQuery(spec.Query), staging.Sink[T](j.stage, spec.Model))
}

// importAs bulk-writes the staged documents of the model to spec.Target.
func importAs[T store.Document](ctx context.Context, j *job, database string, spec CollectionSpec) (*bulk.Result, error) {
	docs, err := staging.Read[T](ctx, j.stage, spec.Model)
	if err != nil {
		return nil, err
	}
	repo, err := repository[T](ctx, j, database, spec.Target, spec.Model)
	if err != nil {
		return nil, err
	}
	eng := bulk.New[T](repo, j.backend.BulkExecutor(repo.Collection()), j.engineConfig())
	return eng.Import(ctx, docs)
}

func countAs[T store.Document](ctx context.Context, j *job, database, collection string, spec CollectionSpec) (int, error) {
	repo, err := repository[T](ctx, j, database, collection, spec.Model)
	if err != nil {
		return 0, err
	}
	return repo.Count(ctx)
}
