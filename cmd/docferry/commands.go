package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/docferry/bulk"
	"github.com/jacentio/docferry/models"
	"github.com/jacentio/docferry/staging"
)

const usageSuffix = `

  The control file lists the collections to process:

    database: benchmark
    collections:
      - name: controls
        model: Control
        query: SELECT * FROM c WHERE c.type = 'policy'
        target: controls-copy

  Settings come from DOCFERRY_* environment variables and the -env file.
`

// command holds the flags and plumbing shared by all sub-commands.
type command struct {
	controlPath string
	dotenv      string
	staging     string
	parallel    int

	// open and out are replaced in tests.
	open opener
	out  io.Writer
}

func (c *command) setFlags(f *flag.FlagSet) {
	f.StringVar(&c.controlPath, "control", "control.yaml", "control file listing the collections (YAML, or JSON by extension)")
	f.StringVar(&c.dotenv, "env", ".env", "dotenv file with DOCFERRY_* settings, skipped when missing")
	f.StringVar(&c.staging, "staging", "", "staging directory or bucket URL (overrides DOCFERRY_STAGING)")
	f.IntVar(&c.parallel, "parallel", 1, "number of collections processed concurrently")
}

// session is one run of a sub-command.
type session struct {
	job    *job
	source string
	target string

	mu  sync.Mutex
	out io.Writer
}

func (s *session) printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

type collectionFunc func(ctx context.Context, s *session, spec CollectionSpec) error

// run loads settings and the control file, then applies fn to every listed
// collection, up to -parallel at a time. Collections never share an engine.
func (c *command) run(ctx context.Context, f *flag.FlagSet, fn collectionFunc) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	settings, err := loadSettings(c.dotenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "docferry: %v\n", err)
		return subcommands.ExitUsageError
	}
	logger, err := newLogger(settings, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "docferry: %v\n", err)
		return subcommands.ExitUsageError
	}

	reg := models.NewRegistry()
	control, err := loadControl(c.controlPath, reg)
	if err != nil {
		logger.WithError(err).Error("invalid control file")
		return subcommands.ExitUsageError
	}
	source := control.Database
	if source == "" {
		source = settings.Database
	}
	if source == "" {
		logger.Error("no database: set it in the control file or DOCFERRY_DATABASE")
		return subcommands.ExitUsageError
	}
	target := settings.TargetDatabase
	if target == "" {
		target = source
	}

	location := c.staging
	if location == "" {
		location = settings.Staging
	}
	stage, err := staging.Open(ctx, location)
	if err != nil {
		logger.WithError(err).Error("failed to open staging area")
		return subcommands.ExitFailure
	}
	defer stage.Close()
	stage.SetLogger(logger)

	open := c.open
	if open == nil {
		open = openDynamo
	}
	be, err := open(ctx, settings, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect")
		return subcommands.ExitFailure
	}

	out := c.out
	if out == nil {
		out = os.Stdout
	}
	s := &session{
		job: &job{
			backend:  be,
			stage:    stage,
			registry: reg,
			settings: settings,
			logger:   logger,
		},
		source: source,
		target: target,
		out:    out,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.parallel, 1))
	for _, spec := range control.Collections {
		g.Go(func() error {
			return fn(gctx, s, spec)
		})
	}
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("docferry failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// finished turns a cancelled transfer into an error so the run exits non-zero.
func finished(res *bulk.Result, op, name string) error {
	if res.State == bulk.Cancelled {
		return errors.Errorf("%s of %s cancelled after %d documents", op, name, res.Progress.Documents)
	}
	return nil
}

func exportCollection(ctx context.Context, s *session, spec CollectionSpec) error {
	ops, err := opsOf(spec.Model)
	if err != nil {
		return err
	}
	res, err := ops.export(ctx, s.job, s.source, spec)
	if err != nil {
		return errors.Wrapf(err, "export %s", spec.Name)
	}
	s.printf("Total of %d documents are exported from collection %s\n", res.Progress.Documents, spec.Name)
	return finished(res, "export", spec.Name)
}

func importCollection(ctx context.Context, s *session, spec CollectionSpec) error {
	ops, err := opsOf(spec.Model)
	if err != nil {
		return err
	}
	res, err := ops.load(ctx, s.job, s.target, spec)
	if err != nil {
		return errors.Wrapf(err, "import %s", spec.Target)
	}
	s.printf("Total of %d %s documents are imported to collection %s\n", res.Progress.Documents, spec.Model, spec.Target)
	return finished(res, "import", spec.Target)
}

func transferCollection(ctx context.Context, s *session, spec CollectionSpec) error {
	if err := exportCollection(ctx, s, spec); err != nil {
		return err
	}
	return importCollection(ctx, s, spec)
}

// --- export ---

type exportCmd struct{ command }

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "Export collections to staging files" }
func (*exportCmd) Usage() string {
	return `export [-control <file>] [-staging <dir|url>] [-parallel <n>]

  Run each collection's query and write every document to
  <staging>/<model>/<id>.json.` + usageSuffix
}

func (cmd *exportCmd) SetFlags(f *flag.FlagSet) { cmd.setFlags(f) }

func (cmd *exportCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return cmd.run(ctx, f, exportCollection)
}

// --- import ---

type importCmd struct{ command }

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "Bulk import staging files into collections" }
func (*importCmd) Usage() string {
	return `import [-control <file>] [-staging <dir|url>] [-parallel <n>]

  Read every staged document of each collection's model and bulk write
  them to the target collection of DOCFERRY_TARGET_DATABASE.` + usageSuffix
}

func (cmd *importCmd) SetFlags(f *flag.FlagSet) { cmd.setFlags(f) }

func (cmd *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return cmd.run(ctx, f, importCollection)
}

// --- transfer ---

type transferCmd struct{ command }

func (*transferCmd) Name() string     { return "transfer" }
func (*transferCmd) Synopsis() string { return "Export then import each collection" }
func (*transferCmd) Usage() string {
	return `transfer [-control <file>] [-staging <dir|url>] [-parallel <n>]

  Export each collection to staging files, then import them into the
  target collection.` + usageSuffix
}

func (cmd *transferCmd) SetFlags(f *flag.FlagSet) { cmd.setFlags(f) }

func (cmd *transferCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return cmd.run(ctx, f, transferCollection)
}

// --- count ---

type countCmd struct {
	command
	target bool
}

func (*countCmd) Name() string     { return "count" }
func (*countCmd) Synopsis() string { return "Count the documents of each collection" }
func (*countCmd) Usage() string {
	return `count [-control <file>] [-target]

  Print the number of documents in each source collection, or in each
  target collection with -target.` + usageSuffix
}

func (cmd *countCmd) SetFlags(f *flag.FlagSet) {
	cmd.setFlags(f)
	f.BoolVar(&cmd.target, "target", false, "count the target collections instead of the sources")
}

func (cmd *countCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return cmd.run(ctx, f, func(ctx context.Context, s *session, spec CollectionSpec) error {
		ops, err := opsOf(spec.Model)
		if err != nil {
			return err
		}
		database, collection := s.source, spec.Name
		if cmd.target {
			database, collection = s.target, spec.Target
		}
		n, err := ops.count(ctx, s.job, database, collection, spec)
		if err != nil {
			return errors.Wrapf(err, "count %s", collection)
		}
		s.printf("Collection %s/%s holds %d documents\n", database, collection, n)
		return nil
	})
}
