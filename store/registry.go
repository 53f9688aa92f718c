// store/registry.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry maps names to connection configs and hands out one Handle per
// name. A handle, once created, is pinned: registering a new Config under
// the same name does not replace it.
type Registry struct {
	mu      sync.Mutex
	configs map[string]Config
	handles map[string]*Handle
	opts    []Option
}

// NewRegistry returns an empty registry. opts are applied to every handle
// it creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		configs: make(map[string]Config),
		handles: make(map[string]*Handle),
		opts:    opts,
	}
}

// Register stores cfg under name, replacing any earlier config. Existing
// handles are not touched.
func (r *Registry) Register(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[name] = cfg
}

// Client returns the handle for name, creating it on first use. It does not
// connect the handle.
func (r *Registry) Client(name string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[name]; ok {
		return h, nil
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConfigNotFound, name)
	}
	h := NewHandle(name, cfg, r.opts...)
	r.handles[name] = h
	return h, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.configs))
	for n := range r.configs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Handles returns a snapshot of the handles created so far.
func (r *Registry) Handles() map[string]*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Handle, len(r.handles))
	for n, h := range r.handles {
		out[n] = h
	}
	return out
}

// DisconnectAll disconnects every handle concurrently and returns the first
// error. Handles stay in the registry and can be reconnected.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	var g errgroup.Group
	for _, h := range r.Handles() {
		g.Go(func() error {
			return h.Disconnect(ctx)
		})
	}
	return g.Wait()
}
