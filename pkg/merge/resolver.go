package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-syncstore/pkg/couch"
	"github.com/dd0wney/cluso-syncstore/pkg/logging"
	"github.com/dd0wney/cluso-syncstore/pkg/metrics"
)

// Store is the slice of the document database the resolver needs.
// *couch.Database satisfies it.
type Store interface {
	Get(ctx context.Context, id string, opts couch.GetOptions, out any) error
	BulkDocs(ctx context.Context, docs []any) ([]couch.BulkResult, error)
}

// Resolver collapses the revision tree of a document into a single merged revision
type Resolver struct {
	store   Store
	cache   *RevisionCache
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewResolver creates a resolver. cache and metricsRegistry may be nil.
func NewResolver(store Store, cache *RevisionCache, logger logging.Logger, metricsRegistry *metrics.Registry) *Resolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Resolver{
		store:   store,
		cache:   cache,
		logger:  logger.With(logging.Component("resolver")),
		metrics: metricsRegistry,
	}
}

// Fetch reads the current winner of a document together with its conflict set
func (r *Resolver) Fetch(ctx context.Context, id string) (Document, error) {
	var doc Document
	if err := r.store.Get(ctx, id, couch.GetOptions{Conflicts: true}, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Resolve merges and retires conflicting revisions until a fresh read of the
// document reports none. The returned document is that conflict-free read.
// Another node may be creating branches concurrently, so this loops rather
// than trusting a single merge.
func (r *Resolver) Resolve(ctx context.Context, doc Document) (Document, error) {
	rounds := 0
	for len(doc.Conflicts) > 0 {
		if err := ctx.Err(); err != nil {
			return doc, err
		}
		rounds++

		if _, _, err := r.mergeRound(ctx, doc); err != nil && !couch.IsNotFound(err) {
			return doc, err
		}

		latest, err := r.Fetch(ctx, doc.ID)
		if err != nil {
			return doc, err
		}
		doc = latest
	}

	if r.metrics != nil {
		r.metrics.RecordResolve(rounds)
	}
	if rounds > 0 {
		r.logger.Debug("conflicts resolved",
			logging.DocID(doc.ID),
			logging.Revision(doc.Rev),
			logging.Int("rounds", rounds))
	}
	return doc, nil
}

// Overwrite writes attempted on top of whatever the store currently holds,
// merging per field with the current winner and every conflicting branch.
// It is the recovery path for a write rejected with a revision conflict and
// retries until the merged revision is accepted.
func (r *Resolver) Overwrite(ctx context.Context, attempted Document) (Document, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}

		latest, err := r.Fetch(ctx, attempted.ID)
		if err != nil {
			return Document{}, err
		}

		merged, ok, err := r.mergeRound(ctx, latest, attempted)
		if err != nil && !couch.IsNotFound(err) {
			return Document{}, err
		}
		if ok {
			return merged, nil
		}
		r.logger.Debug("merged write lost a race, retrying", logging.DocID(attempted.ID))
	}
}

// mergeRound fetches every conflicting revision of head, merges them with
// head (after any leading documents) and writes the result as a child of
// head while tombstoning the losers in the same batch. ok reports whether the
// merged revision itself was accepted; tombstone rejections are left for the
// next round.
func (r *Resolver) mergeRound(ctx context.Context, head Document, leading ...Document) (Document, bool, error) {
	revisions, err := r.fetchRevisions(ctx, head.ID, head.Conflicts)
	if err != nil {
		return Document{}, false, err
	}

	docs := make([]Document, 0, len(leading)+1+len(revisions))
	docs = append(docs, leading...)
	docs = append(docs, head)
	docs = append(docs, revisions...)

	merged := MergeAll(docs)
	merged.ID = head.ID
	merged.Rev = head.Rev

	batch := make([]any, 0, 1+len(head.Conflicts))
	batch = append(batch, merged.Body())
	for _, rev := range head.Conflicts {
		batch = append(batch, couch.Tombstone(head.ID, rev))
	}

	results, err := r.store.BulkDocs(ctx, batch)
	if err != nil {
		return Document{}, false, err
	}
	if len(results) == 0 {
		return Document{}, false, fmt.Errorf("bulk write of %s returned no results", head.ID)
	}

	for _, res := range results {
		if res.Error != "" && !res.Conflicted() {
			return Document{}, false, &couch.Error{Method: "POST", URL: "_bulk_docs", Kind: res.Error, Reason: res.Reason}
		}
	}

	primary := results[0]
	if primary.Conflicted() {
		return Document{}, false, nil
	}
	merged.Rev = primary.Rev
	return merged, true, nil
}

// fetchRevisions loads the given revisions of a document concurrently
func (r *Resolver) fetchRevisions(ctx context.Context, id string, revs []string) ([]Document, error) {
	out := make([]Document, len(revs))
	g, gctx := errgroup.WithContext(ctx)
	for i, rev := range revs {
		i, rev := i, rev
		if doc, ok := r.cache.Get(id, rev); ok {
			out[i] = doc
			continue
		}
		g.Go(func() error {
			start := time.Now()
			var raw json.RawMessage
			if err := r.store.Get(gctx, id, couch.GetOptions{Rev: rev}, &raw); err != nil {
				return fmt.Errorf("fetch %s@%s: %w", id, rev, err)
			}
			var doc Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode %s@%s: %w", id, rev, err)
			}
			r.cache.Add(doc)
			out[i] = doc
			r.logger.Debug("fetched revision",
				logging.DocID(id),
				logging.Revision(rev),
				logging.Latency(time.Since(start)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
