package cluster

import (
	"context"
	"errors"
	"sync"

	"github.com/dd0wney/cluso-syncstore/pkg/registry"
	"github.com/dd0wney/cluso-syncstore/pkg/replication"
)

var errUnreachable = errors.New("unreachable")

type fakePeers struct {
	mu    sync.Mutex
	nodes []registry.Node
	err   error
}

func (f *fakePeers) ListPeers(ctx context.Context, excludeID string) ([]registry.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]registry.Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		if n.ID != excludeID {
			out = append(out, n)
		}
	}
	return out, nil
}

type fakeRetargeter struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeRetargeter) Retarget(ctx context.Context, upstream string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, upstream)
	if f.fail[upstream] {
		return errors.New("retarget failed")
	}
	return nil
}

func (f *fakeRetargeter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeProber struct {
	mu         sync.Mutex
	down       map[string]bool
	serverDown map[string]bool
	probed     []string
}

func newFakeProber(down ...string) *fakeProber {
	p := &fakeProber{down: map[string]bool{}, serverDown: map[string]bool{}}
	for _, d := range down {
		p.down[d] = true
	}
	return p
}

func (f *fakeProber) ProbeRegistry(ctx context.Context, baseURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, baseURL)
	if f.down[baseURL] {
		return errUnreachable
	}
	return nil
}

func (f *fakeProber) ProbeServer(ctx context.Context, baseURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[baseURL] || f.serverDown[baseURL] {
		return errUnreachable
	}
	return nil
}

func (f *fakeProber) setDown(url string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[url] = down
}

func (f *fakeProber) setServerDown(url string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serverDown[url] = down
}

func (f *fakeProber) Probed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probed...)
}

type fakeJobs struct {
	mu      sync.Mutex
	healthy bool
	checks  int
}

func (f *fakeJobs) CheckJobs(ctx context.Context) ([]replication.JobStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return nil, f.healthy
}

func (f *fakeJobs) set(healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = healthy
}
