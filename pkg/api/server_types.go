package api

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-syncstore/pkg/couch"
	"github.com/dd0wney/cluso-syncstore/pkg/health"
	"github.com/dd0wney/cluso-syncstore/pkg/logging"
	"github.com/dd0wney/cluso-syncstore/pkg/merge"
	"github.com/dd0wney/cluso-syncstore/pkg/metrics"
	"github.com/dd0wney/cluso-syncstore/pkg/replication"
	"github.com/dd0wney/cluso-syncstore/pkg/syncstore"
)

// DocumentStore is the part of the node the API serves
type DocumentStore interface {
	Create(ctx context.Context, fields map[string]any) (merge.Document, error)
	CreateWithID(ctx context.Context, id string, fields map[string]any) (merge.Document, error)
	Get(ctx context.Context, id string) (merge.Document, error)
	Update(ctx context.Context, fields map[string]any, original merge.Document) (merge.Document, error)
	Delete(ctx context.Context, id, rev string) (couch.DocResult, error)
	List(ctx context.Context) ([]merge.Document, error)
	Stats(ctx context.Context) (syncstore.Stats, error)
	GetMaster() string
	Replication(ctx context.Context) ([]replication.JobStatus, bool)
}

// Server represents the HTTP API server
type Server struct {
	store           DocumentStore
	healthChecker   *health.HealthChecker
	metricsRegistry *metrics.Registry
	logger          logging.Logger
	maxBodyBytes    int64
	startTime       time.Time
	version         string
}
