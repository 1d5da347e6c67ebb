package couch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	kivik "github.com/go-kivik/kivik/v4"
)

// Database is a handle on one database of an instance
type Database struct {
	client *Client
	name   string
	db     *kivik.DB
}

// Name returns the database name
func (d *Database) Name() string {
	return d.name
}

func (d *Database) path(parts ...string) string {
	p := "/" + url.PathEscape(d.name)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// Info fetches the database metadata; used to probe a peer's database
func (d *Database) Info(ctx context.Context) (*DBInfo, error) {
	return d.client.DBInfo(ctx, d.name)
}

// Get decodes a document into out
func (d *Database) Get(ctx context.Context, id string, opts GetOptions, out any) error {
	var options []kivik.Option
	if opts.Rev != "" {
		options = append(options, kivik.Rev(opts.Rev))
	}
	if opts.Conflicts {
		options = append(options, kivik.Param("conflicts", true))
	}
	return d.client.call(http.MethodGet, d.path(id), func() error {
		return d.db.Get(ctx, id, options...).ScanDoc(out)
	})
}

// Put writes a document under id. The body must carry _rev when it updates
// an existing revision.
func (d *Database) Put(ctx context.Context, id string, doc any) (*DocResult, error) {
	var rev string
	err := d.client.call(http.MethodPut, d.path(id), func() error {
		var err error
		rev, err = d.db.Put(ctx, id, doc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &DocResult{OK: true, ID: id, Rev: rev}, nil
}

// Delete removes one revision of a document
func (d *Database) Delete(ctx context.Context, id, rev string) (*DocResult, error) {
	var newRev string
	err := d.client.call(http.MethodDelete, d.path(id), func() error {
		var err error
		newRev, err = d.db.Delete(ctx, id, rev)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &DocResult{OK: true, ID: id, Rev: newRev}, nil
}

// BulkDocs writes several documents in one request. Per-document rejections
// come back in the results, not as an error.
func (d *Database) BulkDocs(ctx context.Context, docs []any) ([]BulkResult, error) {
	var out []BulkResult
	err := d.client.call(http.MethodPost, d.path("_bulk_docs"), func() error {
		results, err := d.db.BulkDocs(ctx, docs)
		if err != nil {
			return err
		}
		out = make([]BulkResult, len(results))
		for i, r := range results {
			out[i] = BulkResult{ID: r.ID, Rev: r.Rev, OK: r.Error == nil}
			if r.Error != nil {
				out[i].Error = bulkKind(r.Error)
				out[i].Reason = r.Error.Error()
			}
		}
		return nil
	})
	return out, err
}

// AllDocs lists every document with its body and conflict set
func (d *Database) AllDocs(ctx context.Context) (*AllDocsResponse, error) {
	res := &AllDocsResponse{}
	err := d.client.call(http.MethodGet, d.path("_all_docs"), func() error {
		rows := d.db.AllDocs(ctx, kivik.IncludeDocs(), kivik.Param("conflicts", true))
		defer rows.Close()

		for rows.Next() {
			id, err := rows.ID()
			if err != nil {
				return err
			}
			row := Row{ID: id, Key: id}
			if err := rows.ScanValue(&row.Value); err != nil {
				return err
			}
			if err := rows.ScanDoc(&row.Doc); err != nil {
				return err
			}
			res.Rows = append(res.Rows, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Tombstone is a deletion marker for one revision inside a bulk write
func Tombstone(id, rev string) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"_id":      id,
		"_rev":     rev,
		"_deleted": true,
	})
	return data
}
