// health/health.go
package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dalemusser/docstore/httputil"
	"github.com/dalemusser/docstore/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single check so one stuck dependency cannot hold
// the probe open past the load balancer's own timeout.
const checkTimeout = 3 * time.Second

// ErrNotConnected is reported for a store handle whose liveness probe fails.
var ErrNotConnected = errors.New("not connected")

// Check represents a single health probe. It returns nil when the
// dependency is healthy.
type Check func(ctx context.Context) error

// Response is the JSON body returned by Handler.
type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler runs every check concurrently on each request. With no checks it
// is a plain liveness probe ({"status":"ok"}). If any check fails it answers
// 503 with status "error"; otherwise 200 with status "ok". Each check's
// result is "ok" or "error: <message>".
func Handler(checks map[string]Check, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(checks) == 0 {
			httputil.WriteJSON(w, http.StatusOK, Response{Status: "ok"})
			return
		}

		var (
			mu      sync.Mutex
			results = make(map[string]string, len(checks))
			failed  bool
			g       errgroup.Group
		)
		for name, check := range checks {
			g.Go(func() error {
				res := "ok"
				if check != nil {
					ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
					defer cancel()
					if err := check(ctx); err != nil {
						logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
						res = "error: " + err.Error()
					}
				}
				mu.Lock()
				defer mu.Unlock()
				results[name] = res
				failed = failed || res != "ok"
				return nil
			})
		}
		_ = g.Wait()

		if failed {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, Response{Status: "error", Checks: results})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, Response{Status: "ok", Checks: results})
	})
}

// FromRegistry returns one check per handle in reg, keyed by store name.
// Handles created later are not included, so call it after startup.
func FromRegistry(reg *store.Registry) map[string]Check {
	handles := reg.Handles()
	checks := make(map[string]Check, len(handles))
	for name, h := range handles {
		checks[name] = ConnectionCheck(h)
	}
	return checks
}

// ConnectionCheck reports ErrNotConnected when conn fails its probe.
func ConnectionCheck(conn store.Connection) Check {
	return func(ctx context.Context) error {
		if !conn.IsConnected(ctx) {
			return ErrNotConnected
		}
		return nil
	}
}

// Welcome answers with a short JSON greeting naming the service.
func Welcome(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"message": "Welcome to the " + service + " API",
		})
	}
}

// Mount attaches GET /health to r.
func Mount(r chi.Router, checks map[string]Check, logger *zap.Logger) {
	r.Method(http.MethodGet, "/health", Handler(checks, logger))
}
