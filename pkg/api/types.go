package api

import (
	"github.com/dd0wney/cluso-syncstore/pkg/merge"
	"github.com/dd0wney/cluso-syncstore/pkg/replication"
)

// API Request/Response Types. Create and update bodies are
// validation.DocumentRequest and validation.UpdateRequest.

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ListResponse is the body of GET /api/docs
type ListResponse struct {
	Documents []merge.Document `json:"documents"`
	Count     int              `json:"count"`
}

// MasterResponse is the body of GET /api/master
type MasterResponse struct {
	Master     string `json:"master"`
	Standalone bool   `json:"standalone"`
}

// ReplicationResponse is the body of GET /api/replication
type ReplicationResponse struct {
	Master  string                  `json:"master"`
	Healthy bool                    `json:"healthy"`
	Jobs    []replication.JobStatus `json:"jobs"`
}
