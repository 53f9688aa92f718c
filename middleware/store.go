// middleware/store.go
package middleware

import (
	"net/http"

	"github.com/dalemusser/docstore/httputil"
	"github.com/dalemusser/docstore/store"
	"go.uber.org/zap"
)

// RequireStore makes sure conn is usable before the request reaches a
// handler. A connection that fails its probe gets one refresh attempt;
// if that fails the request is answered 503.
//
// Requests that fail the probe together share one refresh: LastRefresh is
// read before probing, so callers queued behind a successful refresh find
// it done instead of tearing the fresh client down again.
func RequireStore(conn store.Connection, logger *zap.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			seen := conn.LastRefresh()
			if !conn.IsConnected(ctx) {
				if err := conn.RefreshIfStale(ctx, seen); err != nil {
					logger.Warn("store unavailable", zap.String("path", r.URL.Path), zap.Error(err))
					httputil.JSONError(w, http.StatusServiceUnavailable,
						"store_unavailable", "document store is unavailable")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
