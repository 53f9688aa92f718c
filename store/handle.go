// store/handle.go
package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a Handle.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Refreshing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Refreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// CollectionResolver resolves a collection against whatever client is
// current at call time.
type CollectionResolver interface {
	Collection(name, database string) (Collection, error)
}

// Connection is the lifecycle surface of a Handle.
type Connection interface {
	CollectionResolver
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected(ctx context.Context) bool
	Refresh(ctx context.Context) error
	RefreshIfStale(ctx context.Context, seen time.Time) error
	LastRefresh() time.Time
	Database(name string) (Database, error)
	WithSession(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ Connection = (*Handle)(nil)

// closeTimeout bounds closing a client whose probe failed during open.
const closeTimeout = 5 * time.Second

// Handle owns one client for one Config and keeps it healthy.
//
// Connect, Disconnect and Refresh are serialized by a one-slot semaphore.
// Lookups never take it: they read the client through an atomic pointer and
// fail the single call if they observe the handle between clients.
type Handle struct {
	name   string
	cfg    Config
	opts   handleOptions
	logger *zap.Logger

	sem chan struct{}

	state       atomic.Int32
	client      atomic.Pointer[clientRef]
	lastRefresh atomic.Int64 // unix nanos

	mon atomic.Pointer[monitor]
}

// clientRef carries its own health flag so a probe that raced with a
// refresh can only condemn the client it actually pinged.
type clientRef struct {
	c         Client
	unhealthy atomic.Bool
}

type monitor struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHandle returns a disconnected handle for cfg. The Config is copied.
func NewHandle(name string, cfg Config, opts ...Option) *Handle {
	o := defaultHandleOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Handle{
		name:   name,
		cfg:    cfg,
		opts:   o,
		logger: o.logger.With(zap.String("store", name), zap.String("database", cfg.Database)),
		sem:    make(chan struct{}, 1),
	}
}

func (h *Handle) Name() string   { return h.name }
func (h *Handle) Config() Config { return h.cfg }
func (h *Handle) State() State   { return State(h.state.Load()) }

// LastRefresh is when the current client was opened. Zero before the first
// successful Connect.
func (h *Handle) LastRefresh() time.Time {
	n := h.lastRefresh.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Connect opens and probes a client. It is a no-op when already connected.
func (h *Handle) Connect(ctx context.Context) error {
	if err := h.lock(ctx); err != nil {
		return err
	}
	defer h.unlock()

	if h.client.Load() != nil && h.State() == Connected {
		// Replaces a monitor that an abandoned Disconnect cancelled.
		h.startMonitor()
		return nil
	}

	h.logger.Info("connecting")
	h.setState(Connecting)
	c, err := h.open(ctx)
	if err != nil {
		h.setState(Disconnected)
		return err
	}
	h.install(c)
	h.startMonitor()
	h.logger.Info("connected")
	return nil
}

// Disconnect stops the health monitor and closes the client. Calling it on a
// disconnected handle does nothing.
func (h *Handle) Disconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.cancelMonitor()
	if err := h.lock(ctx); err != nil {
		// The monitor is already cancelled but the client stays; put a
		// monitor back once the lock frees up.
		go h.reviveMonitor()
		return err
	}
	defer h.unlock()

	h.stopMonitor()
	ref := h.detach()
	h.setState(Disconnected)
	if ref == nil {
		return nil
	}
	if err := ref.c.Disconnect(ctx); err != nil {
		h.logger.Warn("disconnect failed", zap.Error(err))
		return fmt.Errorf("store %q: disconnect: %w", h.name, err)
	}
	h.logger.Info("disconnected")
	return nil
}

// IsConnected probes the current client. A failed probe marks the handle
// unhealthy until the next successful open.
func (h *Handle) IsConnected(ctx context.Context) bool {
	ref := h.client.Load()
	if ref == nil || ref.unhealthy.Load() {
		return false
	}
	if err := ref.c.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		ref.unhealthy.Store(true)
		h.opts.observer.ProbeFailed(h.name, err)
		h.logger.Warn("liveness probe failed", zap.Error(err))
		return false
	}
	return true
}

// Refresh replaces the client with a freshly opened one.
func (h *Handle) Refresh(ctx context.Context) error {
	return h.refresh(ctx, false, nil)
}

// RefreshIfStale is Refresh for callers that saw a bad connection at
// LastRefresh() == seen. If another refresh installed a healthy client
// while this one waited for the lock, it returns nil without reopening.
//
//	seen := h.LastRefresh()
//	if !h.IsConnected(ctx) {
//	    err = h.RefreshIfStale(ctx, seen)
//	}
func (h *Handle) RefreshIfStale(ctx context.Context, seen time.Time) error {
	return h.refresh(ctx, false, &seen)
}

// refresh does the work of Refresh. The monitor calls it with fromMonitor
// set, in which case the monitor is neither stopped nor restarted. A non-nil
// seen skips the reopen when the client was already replaced since then.
func (h *Handle) refresh(ctx context.Context, fromMonitor bool, seen *time.Time) error {
	if err := h.lock(ctx); err != nil {
		return err
	}
	defer h.unlock()
	if fromMonitor && ctx.Err() != nil {
		return ctx.Err()
	}
	if seen != nil && h.superseded(*seen) {
		h.logger.Debug("refresh skipped, client already replaced")
		return nil
	}

	h.logger.Info("refreshing connection")
	h.setState(Refreshing)
	if !fromMonitor {
		h.stopMonitor()
	}

	if old := h.detach(); old != nil {
		if err := old.c.Disconnect(ctx); err != nil {
			h.logger.Warn("closing previous client failed", zap.Error(err))
		}
	}

	c, err := h.open(ctx)
	if err != nil {
		h.setState(Disconnected)
		if !fromMonitor || ctx.Err() == nil {
			h.opts.observer.Refreshed(h.name, err)
		}
		return err
	}
	h.install(c)
	if !fromMonitor {
		h.startMonitor()
	}
	h.opts.observer.Refreshed(h.name, nil)
	h.logger.Info("connection refreshed")
	return nil
}

// Database returns the named database on the current client. An empty name
// selects Config.Database.
func (h *Handle) Database(name string) (Database, error) {
	ref := h.client.Load()
	if ref == nil {
		return nil, ErrNotInitialized
	}
	if name == "" {
		name = h.cfg.Database
	}
	return ref.c.Database(name), nil
}

// Collection returns the named collection on the current client.
func (h *Handle) Collection(name, database string) (Collection, error) {
	db, err := h.Database(database)
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

// WithSession runs fn with a context bound to a new driver session. The
// handle connects first if it has no client. The session is ended on every
// exit path, including panics.
func (h *Handle) WithSession(ctx context.Context, fn func(ctx context.Context) error) error {
	if h.client.Load() == nil {
		if err := h.Connect(ctx); err != nil {
			return err
		}
	}
	ref := h.client.Load()
	if ref == nil {
		return ErrNotInitialized
	}

	sess, err := ref.c.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("store %q: start session: %w", h.name, err)
	}
	defer sess.End(context.WithoutCancel(ctx))

	return fn(sess.Bind(ctx))
}

func (h *Handle) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) unlock() { <-h.sem }

// superseded reports whether a healthy client newer than seen is installed.
// The caller holds the lock.
func (h *Handle) superseded(seen time.Time) bool {
	ref := h.client.Load()
	return ref != nil && !ref.unhealthy.Load() && h.LastRefresh().After(seen)
}

// open dials and probes. The caller holds the lock.
func (h *Handle) open(ctx context.Context) (Client, error) {
	c, err := h.opts.dialer(ctx, h.cfg)
	if err != nil {
		h.logger.Error("connect failed", zap.Error(err))
		return nil, fmt.Errorf("%w: store %q: %w", ErrConnectFailure, h.name, err)
	}
	if err := c.Ping(ctx); err != nil {
		h.logger.Error("connect probe failed", zap.Error(err))
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		_ = c.Disconnect(cctx)
		cancel()
		return nil, fmt.Errorf("%w: store %q: %w", ErrConnectFailure, h.name, err)
	}
	return c, nil
}

func (h *Handle) install(c Client) {
	h.client.Store(&clientRef{c: c})
	h.touch()
	h.setState(Connected)
}

func (h *Handle) detach() *clientRef {
	ref := h.client.Swap(nil)
	if ref != nil {
		ref.unhealthy.Store(true)
	}
	return ref
}

// touch records now as the refresh time, keeping it strictly increasing
// even when the wall clock does not advance between two opens.
func (h *Handle) touch() {
	now := time.Now().UnixNano()
	if prev := h.lastRefresh.Load(); now <= prev {
		now = prev + 1
	}
	h.lastRefresh.Store(now)
}

func (h *Handle) setState(s State) {
	if State(h.state.Swap(int32(s))) != s {
		h.opts.observer.StateChanged(h.name, s)
	}
}
