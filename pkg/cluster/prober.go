package cluster

import (
	"context"
	"net/http"
	"time"

	"github.com/dd0wney/cluso-syncstore/pkg/couch"
	"github.com/dd0wney/cluso-syncstore/pkg/registry"
)

// Prober checks whether a peer store can be reached
type Prober interface {
	// ProbeRegistry reads the node registry database of a candidate
	ProbeRegistry(ctx context.Context, baseURL string) error
	// ProbeServer reads the welcome document of an upstream
	ProbeServer(ctx context.Context, baseURL string) error
}

// StoreProber probes peers over HTTP with a fixed short timeout
type StoreProber struct {
	cluster    string
	httpClient *http.Client
}

// NewStoreProber creates a prober for the registry of cluster
func NewStoreProber(cluster string, timeout time.Duration) *StoreProber {
	return &StoreProber{
		cluster:    cluster,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *StoreProber) client(baseURL string) *couch.Client {
	return couch.NewClient(baseURL, couch.WithHTTPClient(p.httpClient))
}

// ProbeRegistry implements Prober
func (p *StoreProber) ProbeRegistry(ctx context.Context, baseURL string) error {
	c := p.client(baseURL)
	defer c.Close()
	_, err := c.DBInfo(ctx, registry.DatabaseName(p.cluster))
	return err
}

// ProbeServer implements Prober
func (p *StoreProber) ProbeServer(ctx context.Context, baseURL string) error {
	c := p.client(baseURL)
	defer c.Close()
	_, err := c.Info(ctx)
	return err
}
