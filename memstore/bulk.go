package memstore

import (
	"context"
	"time"

	"github.com/jacentio/docferry/store"
)

// BulkExecutor returns a bulk executor bound to coll.
func (s *Store) BulkExecutor(coll *store.Collection) store.BulkExecutor {
	return &bulkExecutor{store: s, coll: coll}
}

type bulkExecutor struct {
	store *Store
	coll  *store.Collection
}

// BulkImport writes docs without existence checks. With a BulkBatchLimit only
// the first documents up to the limit are written and the rest are returned
// as unprocessed.
func (b *bulkExecutor) BulkImport(ctx context.Context, docs []store.Document) (*store.BulkImportResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	batch, rest := docs, []store.Document(nil)
	if limit := b.store.opts.BulkBatchLimit; limit > 0 && len(docs) > limit {
		batch, rest = docs[:limit], docs[limit:]
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	c, err := b.store.collection(b.coll)
	if err != nil {
		return nil, err
	}
	for _, doc := range batch {
		if _, err := b.store.write(c, doc); err != nil {
			return nil, err
		}
	}
	return &store.BulkImportResponse{
		NumberOfDocumentsImported: int64(len(batch)),
		TotalThroughputUnits:      float64(len(batch)) * b.store.opts.WriteUnits,
		TotalTimeTaken:            time.Since(start),
		Unprocessed:               rest,
	}, nil
}
