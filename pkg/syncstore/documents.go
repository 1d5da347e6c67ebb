package syncstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-syncstore/pkg/couch"
	"github.com/dd0wney/cluso-syncstore/pkg/logging"
	"github.com/dd0wney/cluso-syncstore/pkg/merge"
)

// Create inserts fields as a new document under a generated id
func (s *Store) Create(ctx context.Context, fields map[string]any) (merge.Document, error) {
	return s.CreateWithID(ctx, "", fields)
}

// CreateWithID inserts fields as a new document. Every field is stamped with
// the current time.
func (s *Store) CreateWithID(ctx context.Context, id string, fields map[string]any) (doc merge.Document, err error) {
	defer s.observe("create", time.Now(), &err)

	if err := checkFields(fields); err != nil {
		return merge.Document{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	stamp := s.now()
	doc = merge.Document{
		ID:     id,
		Fields: make(map[string]any, len(fields)),
		Times:  make(merge.Timestamps, len(fields)),
	}
	for k, v := range fields {
		doc.Fields[k] = v
		doc.Times[k] = stamp
	}

	res, err := s.db.Put(ctx, id, doc.Body())
	if err != nil {
		return merge.Document{}, fmt.Errorf("create %s: %w", id, err)
	}
	doc.Rev = res.Rev
	s.logger.Debug("document created", logging.DocID(id), logging.Revision(doc.Rev))
	return doc, nil
}

// Get returns a document. Conflicting revisions are merged first unless
// conflict processing is switched off.
func (s *Store) Get(ctx context.Context, id string) (doc merge.Document, err error) {
	defer s.observe("get", time.Now(), &err)

	doc, err = s.resolver.Fetch(ctx, id)
	if err != nil {
		return merge.Document{}, fmt.Errorf("get %s: %w", id, err)
	}
	if !s.config.ResolveConflicts() {
		return doc, nil
	}
	doc, err = s.resolver.Resolve(ctx, doc)
	if err != nil {
		return merge.Document{}, fmt.Errorf("resolve %s: %w", id, err)
	}
	return doc, nil
}

// Update writes fields over the revision original was read at. Only fields
// whose value changed get a fresh stamp; the rest keep the original's, so a
// concurrent edit of another field is not overridden by this one. A write
// that lost the race with a concurrent revision is merged and retried.
func (s *Store) Update(ctx context.Context, fields map[string]any, original merge.Document) (doc merge.Document, err error) {
	defer s.observe("update", time.Now(), &err)

	if original.ID == "" || original.Rev == "" {
		return merge.Document{}, ErrMissingRevision
	}
	if err := checkFields(fields); err != nil {
		return merge.Document{}, err
	}

	doc = Restamp(fields, original, s.now())

	res, err := s.db.Put(ctx, doc.ID, doc.Body())
	switch {
	case err == nil:
		doc.Rev = res.Rev
		return doc, nil
	case !couch.IsConflict(err):
		return merge.Document{}, fmt.Errorf("update %s: %w", doc.ID, err)
	}

	if s.metrics != nil {
		s.metrics.StoreWriteConflicts.Inc()
	}
	s.logger.Info("update conflicted, merging", logging.DocID(doc.ID), logging.Revision(doc.Rev))

	doc, err = s.resolver.Overwrite(ctx, doc)
	if err != nil {
		return merge.Document{}, fmt.Errorf("update %s: %w", original.ID, err)
	}
	return doc, nil
}

// Restamp builds the document an edit produces: identity from original,
// values from fields, and a $times map where changed, added or removed
// fields carry stamp. A field the original holds without a stamp is stamped
// too, so every written field has one.
func Restamp(fields map[string]any, original merge.Document, stamp int64) merge.Document {
	doc := merge.Document{
		ID:     original.ID,
		Rev:    original.Rev,
		Fields: make(map[string]any, len(fields)),
		Times:  make(merge.Timestamps, len(original.Times)+len(fields)),
	}
	for k, ts := range original.Times {
		doc.Times[k] = ts
	}
	for k, v := range fields {
		if !merge.IsReserved(k) {
			doc.Fields[k] = v
		}
	}

	keys := make(map[string]struct{}, len(doc.Fields)+len(original.Fields))
	for k := range doc.Fields {
		keys[k] = struct{}{}
	}
	for k := range original.Fields {
		if !merge.IsReserved(k) {
			keys[k] = struct{}{}
		}
	}

	for k := range keys {
		newValue, inNew := doc.Fields[k]
		oldValue, inOld := original.Fields[k]
		_, stamped := original.Times[k]
		if !stamped || inNew != inOld || !merge.SameValue(newValue, oldValue) {
			doc.Times[k] = stamp
		}
	}
	return doc
}

// Delete removes a document on every branch. The direct delete is best
// effort; afterwards every remaining leaf is deleted in one batch until the
// document reads as not found, so replication cannot revive an old branch.
func (s *Store) Delete(ctx context.Context, id, rev string) (result couch.DocResult, err error) {
	defer s.observe("delete", time.Now(), &err)

	result = couch.DocResult{ID: id}
	if res, err := s.db.Delete(ctx, id, rev); err == nil {
		result = *res
	} else {
		s.logger.Debug("direct delete refused", logging.DocID(id), logging.Error(err))
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		doc, err := s.resolver.Fetch(ctx, id)
		if couch.IsNotFound(err) {
			result.OK = true
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("delete %s: %w", id, err)
		}

		batch := make([]any, 0, 1+len(doc.Conflicts))
		batch = append(batch, couch.Tombstone(id, doc.Rev))
		for _, conflict := range doc.Conflicts {
			batch = append(batch, couch.Tombstone(id, conflict))
		}

		results, err := s.db.BulkDocs(ctx, batch)
		if err != nil {
			return result, fmt.Errorf("delete %s: %w", id, err)
		}
		for _, r := range results {
			switch {
			case r.Error == "":
				result = couch.DocResult{OK: true, ID: r.ID, Rev: r.Rev}
			case !r.Conflicted():
				return result, fmt.Errorf("delete %s: %w", id,
					&couch.Error{Method: "POST", URL: "_bulk_docs", Kind: r.Error, Reason: r.Reason})
			}
		}
		s.logger.Debug("deleted branches", logging.DocID(id), logging.Count(len(batch)))
	}
}

// List returns every document, each resolved concurrently unless conflict
// processing is switched off
func (s *Store) List(ctx context.Context) (docs []merge.Document, err error) {
	defer s.observe("list", time.Now(), &err)

	res, err := s.db.AllDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	docs = make([]merge.Document, 0, len(res.Rows))
	for _, row := range res.Rows {
		if strings.HasPrefix(row.ID, "_design/") || len(row.Doc) == 0 {
			continue
		}
		var doc merge.Document
		if err := json.Unmarshal(row.Doc, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", row.ID, err)
		}
		docs = append(docs, doc)
	}

	if s.config.ResolveConflicts() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.config.ListConcurrency)
		for i := range docs {
			i := i
			if len(docs[i].Conflicts) == 0 {
				continue
			}
			g.Go(func() error {
				resolved, err := s.resolver.Resolve(gctx, docs[i])
				if err != nil {
					return fmt.Errorf("resolve %s: %w", docs[i].ID, err)
				}
				docs[i] = resolved
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	if s.metrics != nil {
		s.metrics.StoreDocumentsTotal.Set(float64(len(docs)))
	}
	return docs, nil
}

func (s *Store) observe(op string, start time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	switch {
	case *err == nil:
	case errors.Is(*err, ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	s.metrics.RecordStoreOperation(op, status, time.Since(start))
}

func checkFields(fields map[string]any) error {
	for k := range fields {
		if merge.IsReserved(k) {
			return fmt.Errorf("%w: %s", ErrReservedField, k)
		}
	}
	return nil
}
