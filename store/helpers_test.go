package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/docstore/store"
	"github.com/dalemusser/docstore/store/memstore"
	"go.uber.org/zap/zaptest"
)

// recorder is an Observer that remembers what it saw.
type recorder struct {
	mu         sync.Mutex
	states     []store.State
	refreshes  int
	refreshErr int
	probeFails int
	ops        []string
}

func (r *recorder) StateChanged(_ string, s store.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) Refreshed(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.refreshErr++
		return
	}
	r.refreshes++
}

func (r *recorder) ProbeFailed(string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probeFails++
}

func (r *recorder) OperationDone(collection, op string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ops = append(r.ops, collection+"."+op+":"+result)
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		states:     append([]store.State(nil), r.states...),
		refreshes:  r.refreshes,
		refreshErr: r.refreshErr,
		probeFails: r.probeFails,
		ops:        append([]string(nil), r.ops...),
	}
}

// newHandle returns a disconnected handle on srv whose monitor probes
// quickly. It is disconnected when the test ends.
func newHandle(t *testing.T, srv *memstore.Server, opts ...store.Option) *store.Handle {
	t.Helper()
	base := []store.Option{
		store.WithLogger(zaptest.NewLogger(t)),
		store.WithDialer(srv.Dialer()),
		store.WithProbeInterval(time.Hour),
	}
	h := store.NewHandle("test", store.DefaultConfig("mongodb://memstore", "app"), append(base, opts...)...)
	t.Cleanup(func() { _ = h.Disconnect(context.Background()) })
	return h
}

func connected(t *testing.T, srv *memstore.Server, opts ...store.Option) *store.Handle {
	t.Helper()
	h := newHandle(t, srv, opts...)
	if err := h.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return h
}
