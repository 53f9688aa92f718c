// middleware/notfound.go
package middleware

import (
	"net/http"

	"github.com/dalemusser/docstore/httputil"
	"go.uber.org/zap"
)

// NotFoundHandler logs and answers 404 with a JSON body. Pass it to
// chi.Router.NotFound.
func NotFoundHandler(logger *zap.Logger) http.HandlerFunc {
	return rejectHandler(logger, "not_found", http.StatusNotFound,
		"the requested resource was not found")
}

// MethodNotAllowedHandler logs and answers 405 with a JSON body. Pass it to
// chi.Router.MethodNotAllowed.
func MethodNotAllowedHandler(logger *zap.Logger) http.HandlerFunc {
	return rejectHandler(logger, "method_not_allowed", http.StatusMethodNotAllowed,
		"the requested HTTP method is not allowed for this resource")
}

func rejectHandler(logger *zap.Logger, code string, status int, message string) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug(code,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_ip", r.RemoteAddr),
		)
		httputil.JSONError(w, status, code, message)
	}
}
