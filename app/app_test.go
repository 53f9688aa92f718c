package app

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/docstore/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.CoreConfig {
	cfg := &config.CoreConfig{Env: "dev", LogLevel: "error"}
	cfg.HTTP.HTTPPort = 0
	cfg.HTTP.ShutdownTimeout = time.Second
	cfg.DBConnectTimeout = time.Second
	cfg.IndexBootTimeout = time.Second
	return cfg
}

func TestRun_Lifecycle(t *testing.T) {
	var steps []string
	var shutdowns atomic.Int32

	hooks := Hooks[string]{
		Name: "test",
		LoadConfig: func(*zap.Logger) (*config.CoreConfig, error) {
			steps = append(steps, "config")
			return testConfig(), nil
		},
		ConnectDB: func(ctx context.Context, _ *config.CoreConfig, _ *zap.Logger) (string, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			steps = append(steps, "connect")
			return "db", nil
		},
		EnsureSchema: func(_ context.Context, _ *config.CoreConfig, db string, _ *zap.Logger) error {
			assert.Equal(t, "db", db)
			steps = append(steps, "schema")
			return nil
		},
		BuildHandler: func(*config.CoreConfig, string, *zap.Logger) (http.Handler, error) {
			steps = append(steps, "handler")
			return http.NotFoundHandler(), nil
		},
		Shutdown: func(ctx context.Context, db string, _ *zap.Logger) error {
			assert.NoError(t, ctx.Err())
			shutdowns.Add(1)
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, hooks) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{"config", "connect", "schema", "handler"}, steps)
	assert.EqualValues(t, 1, shutdowns.Load())
}

func TestRun_SchemaFailureStillShutsDown(t *testing.T) {
	var shutdowns atomic.Int32
	boom := errors.New("index build failed")

	err := Run(context.Background(), Hooks[int]{
		Name:       "test",
		LoadConfig: func(*zap.Logger) (*config.CoreConfig, error) { return testConfig(), nil },
		ConnectDB: func(context.Context, *config.CoreConfig, *zap.Logger) (int, error) {
			return 1, nil
		},
		EnsureSchema: func(context.Context, *config.CoreConfig, int, *zap.Logger) error { return boom },
		BuildHandler: func(*config.CoreConfig, int, *zap.Logger) (http.Handler, error) {
			t.Fatal("handler must not be built")
			return nil, nil
		},
		Shutdown: func(context.Context, int, *zap.Logger) error {
			shutdowns.Add(1)
			return nil
		},
	})
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, shutdowns.Load())
}

func TestRun_ConfigError(t *testing.T) {
	boom := errors.New("bad config")
	err := Run(context.Background(), Hooks[int]{
		Name:       "test",
		LoadConfig: func(*zap.Logger) (*config.CoreConfig, error) { return nil, boom },
	})
	assert.ErrorIs(t, err, boom)
}
