// store/monitor.go
package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// startMonitor launches the health monitor unless a live one is running.
// A monitor that was cancelled but never reaped is waited for and replaced.
// The caller holds the lock.
func (h *Handle) startMonitor() {
	if m := h.mon.Load(); m != nil {
		if m.ctx.Err() == nil {
			return
		}
		h.stopMonitor()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &monitor{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	h.mon.Store(m)
	go h.watch(ctx, m.done)
}

// cancelMonitor signals the monitor without waiting for it. Disconnect calls
// it before taking the lock so a monitor mid-refresh gives up instead of
// holding it off.
func (h *Handle) cancelMonitor() {
	if m := h.mon.Load(); m != nil {
		m.cancel()
	}
}

// reviveMonitor waits for the lock and restarts a monitor that was
// cancelled but never reaped. A Disconnect or Refresh that got the lock
// first has already dealt with it, leaving nothing to do.
func (h *Handle) reviveMonitor() {
	h.sem <- struct{}{}
	defer h.unlock()
	if h.mon.Load() != nil {
		h.startMonitor()
	}
}

// stopMonitor cancels the monitor and waits for it to exit.
// The caller holds the lock.
func (h *Handle) stopMonitor() {
	m := h.mon.Swap(nil)
	if m == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (h *Handle) watch(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	h.logger.Debug("health monitor started")

	for {
		err := h.check(ctx)
		if ctx.Err() != nil {
			h.logger.Debug("health monitor stopped")
			return
		}
		if err != nil {
			h.logger.Error("health monitor error", zap.Error(err))
			if !sleepCtx(ctx, h.opts.backoff) {
				h.logger.Debug("health monitor stopped")
				return
			}
		}
	}
}

// check runs one monitor cycle: refresh if the client is too old, wait one
// probe interval, then refresh if the probe fails.
func (h *Handle) check(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("health monitor panic: %v", r)
		}
	}()

	if seen := h.LastRefresh(); time.Since(seen) > h.opts.refreshInterval {
		if err := h.refresh(ctx, true, &seen); err != nil {
			return err
		}
	}

	if !sleepCtx(ctx, h.opts.probeInterval) {
		return ctx.Err()
	}

	// Read before probing so a request-driven refresh that lands while we
	// wait for the lock is not torn down again.
	seen := h.LastRefresh()
	if !h.IsConnected(ctx) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.logger.Warn("connection unhealthy, refreshing")
		return h.refresh(ctx, true, &seen)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
