package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/docstore/config"
	"github.com/dalemusser/docstore/store"
	"github.com/dalemusser/docstore/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestNotFoundHandlers(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFoundHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))

	rec = httptest.NewRecorder()
	MethodNotAllowedHandler(zaptest.NewLogger(t))(rec, httptest.NewRequest(http.MethodPatch, "/users", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method_not_allowed", errorCode(t, rec))
}

func TestRequireJSON(t *testing.T) {
	h := RequireJSON(okHandler())

	tests := []struct {
		name   string
		ct     string
		body   string
		status int
	}{
		{"json", "application/json", `{}`, http.StatusOK},
		{"json with charset", "application/json; charset=utf-8", `{}`, http.StatusOK},
		{"plus json", "application/merge-patch+json", `{}`, http.StatusOK},
		{"form", "application/x-www-form-urlencoded", `a=b`, http.StatusUnsupportedMediaType},
		{"missing", "", `{}`, http.StatusUnsupportedMediaType},
		{"no body", "", ``, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(tt.body))
			if tt.ct != "" {
				req.Header.Set("Content-Type", tt.ct)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestLimitBodySize(t *testing.T) {
	var readErr error
	h := LimitBodySize(4)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	var maxErr *http.MaxBytesError
	assert.ErrorAs(t, readErr, &maxErr)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123")))
	assert.NoError(t, readErr)
}

func TestCORSFromConfig(t *testing.T) {
	cfg := &config.CoreConfig{}
	cfg.CORS.EnableCORS = true
	cfg.CORS.CORSAllowedOrigins = []string{"https://app.example.com"}
	cfg.CORS.CORSAllowedMethods = []string{"GET", "POST"}

	h := CORSFromConfig(cfg)(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	cfg.CORS.EnableCORS = false
	rec = httptest.NewRecorder()
	CORSFromConfig(cfg)(okHandler()).ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCompressFromConfig(t *testing.T) {
	payload := strings.Repeat(`{"name":"Ada Lovelace"}`, 100)
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, payload)
	})

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Accept-Encoding", "gzip")

	rec := httptest.NewRecorder()
	CompressFromConfig(&config.CoreConfig{EnableCompression: true})(h).ServeHTTP(rec, req)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Less(t, rec.Body.Len(), len(payload))

	rec = httptest.NewRecorder()
	CompressFromConfig(&config.CoreConfig{})(h).ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, payload, rec.Body.String())
}

func TestRequireStore(t *testing.T) {
	srv := memstore.New()
	h := store.NewHandle("default", store.DefaultConfig("mongodb://memory", "test"),
		store.WithDialer(srv.Dialer()), store.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = h.Disconnect(context.Background()) })

	mw := RequireStore(h, zaptest.NewLogger(t))(okHandler())

	// Not yet connected: the middleware connects through Refresh.
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.Connected, h.State())

	srv.SetDown(true)
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store_unavailable", errorCode(t, rec))

	srv.SetDown(false)
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireStore_ConcurrentRequestsShareOneRefresh(t *testing.T) {
	ctx := context.Background()
	srv := memstore.New()
	base := srv.Dialer()
	var dials atomic.Int32
	slow := func(ctx context.Context, cfg store.Config) (store.Client, error) {
		dials.Add(1)
		time.Sleep(20 * time.Millisecond)
		return base(ctx, cfg)
	}
	h := store.NewHandle("default", store.DefaultConfig("mongodb://memory", "test"),
		store.WithDialer(slow), store.WithLogger(zaptest.NewLogger(t)),
		store.WithProbeInterval(time.Hour))
	t.Cleanup(func() { _ = h.Disconnect(context.Background()) })
	require.NoError(t, h.Connect(ctx))

	// One failed probe marks the handle unhealthy; the server is fine again.
	srv.SetDown(true)
	require.False(t, h.IsConnected(ctx))
	srv.SetDown(false)

	mw := RequireStore(h, zaptest.NewLogger(t))(okHandler())

	const n = 20
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, int32(2), dials.Load(), "initial connect plus one shared refresh")
	assert.Equal(t, 1, srv.OpenClients())
	assert.True(t, h.IsConnected(ctx))
}
