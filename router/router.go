// router/router.go
package router

import (
	"github.com/dalemusser/docstore/config"
	"github.com/dalemusser/docstore/logging"
	"github.com/dalemusser/docstore/metrics"
	"github.com/dalemusser/docstore/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// quietPaths are logged at debug so probes and scrapes do not flood the log.
var quietPaths = []string{"/health", "/metrics"}

// New creates a chi.Router with the standard middleware stack:
//   - RequestID, RealIP
//   - Recoverer (panic → 500 JSON)
//   - body size limit (MaxRequestBodyBytes)
//   - HTTP metrics
//   - request logging
//   - security headers
//   - CORS and compression, when enabled in config
//   - JSON NotFound / MethodNotAllowed handlers
//
// Routes are mounted by the caller.
func New(coreCfg *config.CoreConfig, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	// RequestID first so every later log line and panic report carries it.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.Recoverer(logger))

	r.Use(middleware.LimitBodySize(coreCfg.MaxRequestBodyBytes))
	// A panic unwinds past metrics and the request logger unrecorded;
	// the recoverer's own log line covers it.
	r.Use(metrics.HTTPMetrics)
	r.Use(logging.RequestLogger(logger, quietPaths...))

	r.Use(middleware.SecurityHeaders(middleware.APISecurityHeaders()))
	// CORS and compression return passthrough middleware when disabled.
	r.Use(middleware.CORSFromConfig(coreCfg))
	r.Use(middleware.CompressFromConfig(coreCfg))

	r.NotFound(middleware.NotFoundHandler(logger))
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler(logger))

	return r
}
