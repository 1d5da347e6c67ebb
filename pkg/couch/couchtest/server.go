// Package couchtest provides an in-memory CouchDB-compatible HTTP server for
// tests. It keeps full revision trees, so conflicting leaves, tombstones and
// revision-checked writes behave like the real store.
package couchtest

import (
	"compress/gzip"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
)

type revision struct {
	rev     string
	gen     int
	body    map[string]any
	deleted bool
	leaf    bool
}

type document struct {
	revs map[string]*revision
}

func (d *document) liveLeaves() []*revision {
	var out []*revision
	for _, r := range d.revs {
		if r.leaf && !r.deleted {
			out = append(out, r)
		}
	}
	// Highest generation wins, then the lexically greatest rev
	sort.Slice(out, func(i, j int) bool {
		if out[i].gen != out[j].gen {
			return out[i].gen > out[j].gen
		}
		return out[i].rev > out[j].rev
	})
	return out
}

func (d *document) deletedLeaf() *revision {
	var best *revision
	for _, r := range d.revs {
		if r.leaf && r.deleted && (best == nil || r.gen > best.gen) {
			best = r
		}
	}
	return best
}

type database struct {
	docs map[string]*document
}

// Server is a fake store instance
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	dbs       map[string]*database
	jobStates map[string]string
	seq       int
	requests  map[string]int
	offline   bool
}

// NewServer starts a fake store. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		dbs:       make(map[string]*database),
		jobStates: make(map[string]string),
		requests:  make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetJobState overrides the scheduler state reported for a replication document
func (s *Server) SetJobState(db, docID, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobStates[db+"\x00"+docID] = state
}

// SetOffline makes every request fail with 503 until switched back
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// HasDB reports whether a database exists
func (s *Server) HasDB(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dbs[name]
	return ok
}

// CreateDB creates a database directly
func (s *Server) CreateDB(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dbs[name]; !ok {
		s.dbs[name] = &database{docs: make(map[string]*document)}
	}
}

// DocIDs lists the live document ids of a database
func (s *Server) DocIDs(db string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok {
		return nil
	}
	var ids []string
	for id, doc := range d.docs {
		if len(doc.liveLeaves()) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Doc returns the body of the winning revision, or nil when the document is missing or deleted
func (s *Server) Doc(db, id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok {
		return nil
	}
	doc, ok := d.docs[id]
	if !ok {
		return nil
	}
	leaves := doc.liveLeaves()
	if len(leaves) == 0 {
		return nil
	}
	return render(id, leaves[0])
}

// LiveLeaves returns the revisions of a document that are neither deleted nor superseded
func (s *Server) LiveLeaves(db, id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok {
		return nil
	}
	doc, ok := d.docs[id]
	if !ok {
		return nil
	}
	var revs []string
	for _, r := range doc.liveLeaves() {
		revs = append(revs, r.rev)
	}
	return revs
}

// Put writes a document as a regular client would. It panics on a rejected
// write since it is only used to arrange fixtures.
func (s *Server) Put(db, id string, body map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	body = clone(body)
	body["_id"] = id
	res, status, _ := s.writeLocked(db, body)
	if status >= 300 {
		panic(fmt.Sprintf("couchtest: put %s/%s rejected with %d", db, id, status))
	}
	_, rev, _ := strings.Cut(res, "\x00")
	return rev
}

// InjectConflict adds a sibling leaf next to the current winner, the way
// replication of a disconnected write does. It returns the new revision.
func (s *Server) InjectConflict(db, id string, body map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dbLocked(db)
	doc, ok := d.docs[id]
	if !ok {
		doc = &document{revs: make(map[string]*revision)}
		d.docs[id] = doc
	}
	gen := 1
	if leaves := doc.liveLeaves(); len(leaves) > 0 {
		gen = leaves[0].gen
	}
	r := &revision{gen: gen, body: strip(body), leaf: true}
	r.rev = s.nextRevLocked(gen, "conflict", r.body)
	doc.revs[r.rev] = r
	return r.rev
}

// Requests returns how many requests hit a method and first path segment, e.g. "DELETE people"
func (s *Server) Requests(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[key]
}

func (s *Server) dbLocked(name string) *database {
	d, ok := s.dbs[name]
	if !ok {
		d = &database{docs: make(map[string]*document)}
		s.dbs[name] = d
	}
	return d
}

func (s *Server) nextRevLocked(gen int, parent string, body map[string]any) string {
	s.seq++
	data, _ := json.Marshal(body)
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%d|%s", parent, s.seq, data)))
	return fmt.Sprintf("%d-%x", gen, sum)
}

// writeLocked applies one document write with the store's revision rules:
// an update must name a live leaf, an insert must not shadow a live document.
func (s *Server) writeLocked(dbName string, body map[string]any) (string, int, string) {
	d, ok := s.dbs[dbName]
	if !ok {
		return "", http.StatusNotFound, "not_found"
	}
	id, _ := body["_id"].(string)
	if id == "" {
		s.seq++
		id = fmt.Sprintf("%032x", md5.Sum([]byte(fmt.Sprintf("id|%d", s.seq))))
	}
	rev, _ := body["_rev"].(string)
	deleted, _ := body["_deleted"].(bool)

	doc, exists := d.docs[id]
	var parent *revision
	switch {
	case rev == "":
		if exists && len(doc.liveLeaves()) > 0 {
			return id, http.StatusConflict, "conflict"
		}
		if deleted {
			return id, http.StatusConflict, "conflict"
		}
		if exists {
			parent = doc.deletedLeaf()
		}
	default:
		if !exists {
			return id, http.StatusConflict, "conflict"
		}
		parent = doc.revs[rev]
		if parent == nil || !parent.leaf || parent.deleted {
			return id, http.StatusConflict, "conflict"
		}
	}

	if !exists {
		doc = &document{revs: make(map[string]*revision)}
		d.docs[id] = doc
	}

	gen := 1
	parentRev := ""
	if parent != nil {
		gen = parent.gen + 1
		parentRev = parent.rev
		parent.leaf = false
	}
	r := &revision{gen: gen, body: strip(body), deleted: deleted, leaf: true}
	r.rev = s.nextRevLocked(gen, parentRev, r.body)
	doc.revs[r.rev] = r
	return id + "\x00" + r.rev, http.StatusCreated, ""
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	segments := splitPath(r.URL.EscapedPath())

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(segments) > 0 {
		s.requests[r.Method+" "+segments[0]]++
	}
	if s.offline {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "offline")
		return
	}

	switch {
	case len(segments) == 0:
		writeJSON(w, http.StatusOK, map[string]any{"couchdb": "Welcome", "version": "3.3.3"})
	case segments[0] == "_scheduler" && len(segments) == 4 && segments[1] == "docs":
		s.schedulerDocLocked(w, segments[2], segments[3])
	case len(segments) == 1:
		s.databaseLocked(w, r, segments[0])
	case segments[1] == "_all_docs":
		s.allDocsLocked(w, r, segments[0])
	case segments[1] == "_bulk_docs":
		s.bulkDocsLocked(w, r, segments[0])
	default:
		s.documentLocked(w, r, segments[0], strings.Join(segments[1:], "/"))
	}
}

func (s *Server) databaseLocked(w http.ResponseWriter, r *http.Request, name string) {
	_, exists := s.dbs[name]
	switch r.Method {
	case http.MethodGet:
		if !exists {
			writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
			return
		}
		count := 0
		for _, doc := range s.dbs[name].docs {
			if len(doc.liveLeaves()) > 0 {
				count++
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"db_name": name, "doc_count": count})
	case http.MethodPut:
		if exists {
			writeError(w, http.StatusPreconditionFailed, "file_exists", "The database could not be created, the file already exists.")
			return
		}
		s.dbs[name] = &database{docs: make(map[string]*document)}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
	case http.MethodDelete:
		if !exists {
			writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
			return
		}
		delete(s.dbs, name)
		for key := range s.jobStates {
			if strings.HasPrefix(key, name+"\x00") {
				delete(s.jobStates, key)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case http.MethodPost:
		var body map[string]any
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		s.respondWriteLocked(w, name, body)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (s *Server) documentLocked(w http.ResponseWriter, r *http.Request, dbName, id string) {
	d, ok := s.dbs[dbName]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	q := r.URL.Query()

	switch r.Method {
	case http.MethodGet:
		doc, exists := d.docs[id]
		if !exists {
			writeError(w, http.StatusNotFound, "not_found", "missing")
			return
		}
		if rev := q.Get("rev"); rev != "" {
			rv, ok := doc.revs[rev]
			if !ok {
				writeError(w, http.StatusNotFound, "not_found", "missing")
				return
			}
			w.Header().Set("ETag", `"`+rv.rev+`"`)
			writeJSON(w, http.StatusOK, render(id, rv))
			return
		}
		leaves := doc.liveLeaves()
		if len(leaves) == 0 {
			writeError(w, http.StatusNotFound, "not_found", "deleted")
			return
		}
		body := render(id, leaves[0])
		if q.Get("conflicts") == "true" && len(leaves) > 1 {
			conflicts := make([]string, 0, len(leaves)-1)
			for _, l := range leaves[1:] {
				conflicts = append(conflicts, l.rev)
			}
			body["_conflicts"] = conflicts
		}
		w.Header().Set("ETag", `"`+leaves[0].rev+`"`)
		writeJSON(w, http.StatusOK, body)
	case http.MethodPut:
		var body map[string]any
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		body["_id"] = id
		s.respondWriteLocked(w, dbName, body)
	case http.MethodDelete:
		rev := q.Get("rev")
		if rev == "" {
			rev = strings.Trim(r.Header.Get("If-Match"), `"`)
		}
		body := map[string]any{"_id": id, "_rev": rev, "_deleted": true}
		s.respondWriteLocked(w, dbName, body)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (s *Server) respondWriteLocked(w http.ResponseWriter, dbName string, body map[string]any) {
	res, status, kind := s.writeLocked(dbName, body)
	if status >= 300 {
		writeError(w, status, kind, "Document update conflict.")
		return
	}
	id, rev, _ := strings.Cut(res, "\x00")
	writeJSON(w, status, map[string]any{"ok": true, "id": id, "rev": rev})
}

func (s *Server) bulkDocsLocked(w http.ResponseWriter, r *http.Request, dbName string) {
	if _, ok := s.dbs[dbName]; !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	var req struct {
		Docs []map[string]any `json:"docs"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	results := make([]map[string]any, 0, len(req.Docs))
	for _, body := range req.Docs {
		res, status, kind := s.writeLocked(dbName, body)
		if status >= 300 {
			results = append(results, map[string]any{"id": res, "error": kind, "reason": "Document update conflict."})
			continue
		}
		id, rev, _ := strings.Cut(res, "\x00")
		results = append(results, map[string]any{"ok": true, "id": id, "rev": rev})
	}
	writeJSON(w, http.StatusCreated, results)
}

func (s *Server) allDocsLocked(w http.ResponseWriter, r *http.Request, dbName string) {
	d, ok := s.dbs[dbName]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	q := r.URL.Query()
	ids := make([]string, 0, len(d.docs))
	for id, doc := range d.docs {
		if len(doc.liveLeaves()) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		leaves := d.docs[id].liveLeaves()
		row := map[string]any{
			"id":    id,
			"key":   id,
			"value": map[string]any{"rev": leaves[0].rev},
		}
		if q.Get("include_docs") == "true" {
			body := render(id, leaves[0])
			if q.Get("conflicts") == "true" && len(leaves) > 1 {
				conflicts := make([]string, 0, len(leaves)-1)
				for _, l := range leaves[1:] {
					conflicts = append(conflicts, l.rev)
				}
				body["_conflicts"] = conflicts
			}
			row["doc"] = body
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_rows": len(rows), "offset": 0, "rows": rows})
}

func (s *Server) schedulerDocLocked(w http.ResponseWriter, dbName, docID string) {
	d, ok := s.dbs[dbName]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	doc, ok := d.docs[docID]
	if !ok || len(doc.liveLeaves()) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "missing")
		return
	}
	body := doc.liveLeaves()[0].body
	state := "running"
	if override, ok := s.jobStates[dbName+"\x00"+docID]; ok {
		state = override
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"database": dbName,
		"doc_id":   docID,
		"source":   body["source"],
		"target":   body["target"],
		"state":    state,
	})
}

func render(id string, r *revision) map[string]any {
	out := clone(r.body)
	out["_id"] = id
	out["_rev"] = r.rev
	if r.deleted {
		out["_deleted"] = true
	}
	return out
}

func strip(body map[string]any) map[string]any {
	out := clone(body)
	delete(out, "_id")
	delete(out, "_rev")
	delete(out, "_deleted")
	delete(out, "_conflicts")
	return out
}

func clone(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	return out
}

func splitPath(escaped string) []string {
	escaped = strings.Trim(escaped, "/")
	if escaped == "" {
		return nil
	}
	parts := strings.Split(escaped, "/")
	for i, p := range parts {
		if unescaped, err := url.PathUnescape(p); err == nil {
			parts[i] = unescaped
		}
	}
	return parts
}

// decodeBody reads a JSON request body, gunzipping it when the client
// compressed it, and keeps numbers exact
func decodeBody(r *http.Request, dst any) error {
	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return err
		}
		defer zr.Close()
		body = zr
	}
	dec := json.NewDecoder(body)
	dec.UseNumber()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, reason string) {
	writeJSON(w, status, map[string]any{"error": kind, "reason": reason})
}
