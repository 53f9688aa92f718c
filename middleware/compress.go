// middleware/compress.go
package middleware

import (
	"net/http"

	"github.com/dalemusser/docstore/config"
	"github.com/go-chi/chi/v5/middleware"
)

// compressionLevel balances CPU against size for JSON payloads.
const compressionLevel = 5

// compressedTypes are the response types worth compressing in this service.
var compressedTypes = []string{"application/json", "text/plain"}

// CompressFromConfig returns gzip/deflate compression when
// coreCfg.EnableCompression is set, and a pass-through otherwise, so it is
// safe to call unconditionally:
//
//	r.Use(middleware.CompressFromConfig(coreCfg))
func CompressFromConfig(coreCfg *config.CoreConfig) func(next http.Handler) http.Handler {
	if coreCfg == nil || !coreCfg.EnableCompression {
		return passthrough
	}
	return middleware.Compress(compressionLevel, compressedTypes...)
}

func passthrough(next http.Handler) http.Handler { return next }
