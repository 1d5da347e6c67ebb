// Package replication manages the continuous replication jobs that tie this
// node to its current master: registry and data collections, both directions.
package replication

import (
	"github.com/dd0wney/cluso-syncstore/pkg/couch"
	"github.com/dd0wney/cluso-syncstore/pkg/registry"
)

// Role names one of the four replication jobs. It doubles as the job's
// document id, so rewriting a role replaces the old job.
type Role string

const (
	PullNodes Role = "pull_nodes"
	PushNodes Role = "push_nodes"
	PullDB    Role = "pull_db"
	PushDB    Role = "push_db"
)

// Roles lists every job a replicating node runs
var Roles = []Role{PullNodes, PushNodes, PullDB, PushDB}

// ReplicatorDatabase returns the job database of a cluster
func ReplicatorDatabase(cluster string) string {
	return cluster + "/_replicator"
}

// Job is a continuous replication document
type Job struct {
	Source     string `json:"source"`
	Target     string `json:"target"`
	Continuous bool   `json:"continuous"`
}

// Jobs builds the four jobs replicating cluster between local and upstream
func Jobs(local, upstream, cluster string) map[Role]Job {
	nodes := registry.DatabaseName(cluster)
	return map[Role]Job{
		PullNodes: {Source: couch.JoinURL(upstream, nodes), Target: couch.JoinURL(local, nodes), Continuous: true},
		PushNodes: {Source: couch.JoinURL(local, nodes), Target: couch.JoinURL(upstream, nodes), Continuous: true},
		PullDB:    {Source: couch.JoinURL(upstream, cluster), Target: couch.JoinURL(local, cluster), Continuous: true},
		PushDB:    {Source: couch.JoinURL(local, cluster), Target: couch.JoinURL(upstream, cluster), Continuous: true},
	}
}

// Healthy reports whether a scheduler state counts as working. Jobs that
// have not started yet are given the benefit of the doubt.
func Healthy(state string) bool {
	switch state {
	case "running", "initializing", "pending":
		return true
	}
	return false
}

// JobStatus is the observed state of one job
type JobStatus struct {
	Role    Role   `json:"role"`
	State   string `json:"state"`
	Source  string `json:"source,omitempty"`
	Target  string `json:"target,omitempty"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}
