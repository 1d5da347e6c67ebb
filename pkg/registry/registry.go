// Package registry keeps the cluster's membership list: one descriptor per
// node in a small database that every node replicates with its master.
package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dd0wney/cluso-syncstore/pkg/couch"
	"github.com/dd0wney/cluso-syncstore/pkg/logging"
)

// DatabaseName returns the registry database of a cluster
func DatabaseName(cluster string) string {
	return cluster + "/$nodes"
}

// Node describes one cluster member
type Node struct {
	ID       string `json:"_id"`
	Rev      string `json:"_rev,omitempty"`
	URL      string `json:"url"`
	Priority int    `json:"priority"`
}

// Store is the slice of a database the registry needs
type Store interface {
	Get(ctx context.Context, id string, opts couch.GetOptions, out any) error
	Put(ctx context.Context, id string, doc any) (*couch.DocResult, error)
	AllDocs(ctx context.Context) (*couch.AllDocsResponse, error)
}

// Registry reads and writes node descriptors
type Registry struct {
	store  Store
	logger logging.Logger
}

// New creates a registry over the given database
func New(store Store, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{
		store:  store,
		logger: logger.With(logging.Component("registry")),
	}
}

// RegisterSelf upserts the descriptor of this node. An existing descriptor is
// overwritten at its current revision; a missing one is inserted fresh.
func (r *Registry) RegisterSelf(ctx context.Context, self Node) (Node, error) {
	var current Node
	err := r.store.Get(ctx, self.ID, couch.GetOptions{}, &current)
	switch {
	case err == nil:
		self.Rev = current.Rev
	case couch.IsNotFound(err):
		self.Rev = ""
	default:
		// Unreadable: fall through to a fresh insert, which reports the real problem
		r.logger.Warn("could not read own descriptor", logging.NodeID(self.ID), logging.Error(err))
		self.Rev = ""
	}

	res, err := r.store.Put(ctx, self.ID, self)
	if err != nil {
		return self, fmt.Errorf("register node %s: %w", self.ID, err)
	}
	self.Rev = res.Rev

	r.logger.Info("node registered",
		logging.NodeID(self.ID),
		logging.String("url", self.URL),
		logging.Int("priority", self.Priority))
	return self, nil
}

// ListPeers returns every registered node except excludeID, in store order
func (r *Registry) ListPeers(ctx context.Context, excludeID string) ([]Node, error) {
	res, err := r.store.AllDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	peers := make([]Node, 0, len(res.Rows))
	for _, row := range res.Rows {
		if row.ID == excludeID || len(row.Doc) == 0 {
			continue
		}
		var n Node
		if err := json.Unmarshal(row.Doc, &n); err != nil {
			r.logger.Warn("skipping malformed node descriptor", logging.NodeID(row.ID), logging.Error(err))
			continue
		}
		if n.URL == "" {
			continue
		}
		peers = append(peers, n)
	}
	return peers, nil
}
