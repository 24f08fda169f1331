// Package staging stores exported documents as one JSON blob per document,
// keyed <kind>/<id>.json, in a gocloud.dev blob bucket.
package staging

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	// Drivers the bucket URL may name.
	_ "gocloud.dev/blob/memblob"

	"github.com/jacentio/docferry/bulk"
	"github.com/jacentio/docferry/store"
)

const ext = ".json"

// Stage is a staging area for exported documents.
type Stage struct {
	bucket *blob.Bucket
	logger logrus.FieldLogger
}

// Open opens the staging area at location: a blob URL (file://, mem://)
// or a plain directory path, created if missing.
func Open(ctx context.Context, location string) (*Stage, error) {
	if !strings.Contains(location, "://") {
		dir, err := filepath.Abs(location)
		if err != nil {
			return nil, errors.Wrapf(err, "staging dir %s", location)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create staging dir %s", dir)
		}
		bucket, err := fileblob.OpenBucket(dir, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "open staging dir %s", dir)
		}
		return New(bucket), nil
	}
	bucket, err := blob.OpenBucket(ctx, location)
	if err != nil {
		return nil, errors.Wrapf(err, "open staging bucket %s", location)
	}
	return New(bucket), nil
}

// New wraps an open bucket.
func New(bucket *blob.Bucket) *Stage {
	return &Stage{bucket: bucket, logger: logrus.StandardLogger()}
}

// SetLogger sets the logger used by the stage.
func (s *Stage) SetLogger(logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s.logger = logger
}

// Close closes the underlying bucket.
func (s *Stage) Close() error { return s.bucket.Close() }

// Key returns the blob key of the document id of kind.
func Key(kind, id string) string { return kind + "/" + id + ext }

// Write stores docs under kind, overwriting blobs with the same id.
// Documents without an id are skipped. It returns the number written.
func Write[T store.Document](ctx context.Context, s *Stage, kind string, docs []T) (int, error) {
	written := 0
	for _, doc := range docs {
		id := doc.Identity()
		if id == "" {
			s.logger.WithField("kind", kind).Warn("skipping document without id")
			continue
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return written, errors.Wrapf(err, "encode %s/%s", kind, id)
		}
		opts := &blob.WriterOptions{ContentType: "application/json"}
		if err := s.bucket.WriteAll(ctx, Key(kind, id), b, opts); err != nil {
			return written, errors.Wrapf(err, "write %s", Key(kind, id))
		}
		written++
	}
	return written, nil
}

// Sink returns an export sink writing each page to s under kind.
func Sink[T store.Document](s *Stage, kind string) bulk.Sink[T] {
	return func(ctx context.Context, docs []T) error {
		_, err := Write(ctx, s, kind, docs)
		return err
	}
}

// Read decodes every document staged under kind, in key order.
func Read[T any](ctx context.Context, s *Stage, kind string) ([]T, error) {
	var out []T
	iter := s.bucket.List(&blob.ListOptions{Prefix: kind + "/", Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "list %s", kind)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, ext) {
			continue
		}
		b, err := s.bucket.ReadAll(ctx, obj.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", obj.Key)
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, errors.Wrapf(err, "decode %s", obj.Key)
		}
		out = append(out, v)
	}
	return out, nil
}
