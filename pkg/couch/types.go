package couch

import "encoding/json"

// ServerInfo is the welcome document of an instance
type ServerInfo struct {
	Version string `json:"version"`
	Vendor  string `json:"vendor,omitempty"`
}

// DBInfo is the subset of GET /{db} this package reads
type DBInfo struct {
	DBName    string `json:"db_name"`
	DocCount  int64  `json:"doc_count"`
	DocDelCnt int64  `json:"doc_del_count"`
}

// DocResult is the answer to a single document write
type DocResult struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// BulkResult is one element of a _bulk_docs answer. Error is set per document
// when that document was rejected.
type BulkResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev,omitempty"`
	OK     bool   `json:"ok,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Conflicted reports whether the store refused this document for a stale revision
func (r BulkResult) Conflicted() bool {
	return r.Error == "conflict"
}

// Row is a single row of _all_docs
type Row struct {
	ID    string          `json:"id"`
	Key   string          `json:"key"`
	Value struct {
		Rev     string `json:"rev"`
		Deleted bool   `json:"deleted,omitempty"`
	} `json:"value"`
	Doc json.RawMessage `json:"doc,omitempty"`
}

// AllDocsResponse is the body of GET /{db}/_all_docs
type AllDocsResponse struct {
	Rows []Row `json:"rows"`
}

// SchedulerDoc is the body of GET /_scheduler/docs/{db}/{docid}
type SchedulerDoc struct {
	Database      string `json:"database"`
	DocID         string `json:"doc_id"`
	ID            string `json:"id,omitempty"`
	Node          string `json:"node,omitempty"`
	Source        string `json:"source"`
	Target        string `json:"target"`
	State         string `json:"state"`
	ErrorCount    int    `json:"error_count"`
	LastUpdated   string `json:"last_updated,omitempty"`
	StartTime     string `json:"start_time,omitempty"`
}

// GetOptions selects the query flags of a document read
type GetOptions struct {
	Rev       string
	Conflicts bool
}
