package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/docstore/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func memoryConfig() *config.CoreConfig {
	cfg := &config.CoreConfig{}
	cfg.Store.Backend = "memory"
	cfg.Store.MongoURI = "mongodb://memory"
	cfg.Store.MongoDatabase = "docstore"
	cfg.Store.UsersCollection = "users"
	cfg.Store.ProbeInterval = time.Hour
	cfg.Cache.Backend = "memory"
	cfg.Cache.TTL = time.Minute
	cfg.MaxRequestBodyBytes = 1 << 20
	cfg.MetricsAPIKey = "scrape"
	return cfg
}

func TestBackends_EndToEnd(t *testing.T) {
	observerRegisterer = prometheus.NewRegistry()
	t.Cleanup(func() { observerRegisterer = prometheus.DefaultRegisterer })

	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	cfg := memoryConfig()

	b, err := connect(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, shutdown(context.Background(), b, logger)) })
	require.NoError(t, ensureSchema(ctx, cfg, b, logger))

	h, err := buildHandler(cfg, b, logger)
	require.NoError(t, err)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"default":"ok"}}`, rec.Body.String())

	rec = do(http.MethodPost, "/users", `{"name":"Ada","email":"ada@example.com","age":36}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id, _ := created["_id"].(string)
	require.NotEmpty(t, id)

	rec = do(http.MethodGet, "/users/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodPost, "/users", `{"name":"Ada again","email":"ada@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-API-Key", "scrape")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewCache(t *testing.T) {
	c, err := newCache(context.Background(), config.CacheConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = newCache(context.Background(), config.CacheConfig{Backend: "redis"})
	assert.ErrorContains(t, err, "redis address required")
}
