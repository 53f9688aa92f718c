// app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dalemusser/docstore/config"
	"github.com/dalemusser/docstore/httputil"
	"github.com/dalemusser/docstore/logging"
	"github.com/dalemusser/docstore/metrics"
	"github.com/dalemusser/docstore/server"
	"go.uber.org/zap"
)

// shutdownGrace bounds the Shutdown hook once the server has stopped.
const shutdownGrace = 10 * time.Second

// Hooks are the integration points a service provides to Run. D is the
// bundle of backends the service connects to (store registry, caches).
type Hooks[D any] struct {
	// Name is used only for logging.
	Name string

	// LoadConfig returns the service configuration.
	LoadConfig func(logger *zap.Logger) (*config.CoreConfig, error)

	// ConnectDB connects the backends. ctx carries cfg.DBConnectTimeout.
	ConnectDB func(ctx context.Context, core *config.CoreConfig, logger *zap.Logger) (D, error)

	// EnsureSchema creates indexes once the backends are up. Optional.
	EnsureSchema func(ctx context.Context, core *config.CoreConfig, db D, logger *zap.Logger) error

	// BuildHandler constructs the final http.Handler.
	BuildHandler func(core *config.CoreConfig, db D, logger *zap.Logger) (http.Handler, error)

	// Shutdown releases the backends after the server has stopped. Optional.
	Shutdown func(ctx context.Context, db D, logger *zap.Logger) error
}

// Run executes the startup sequence:
//
//  1. Bootstrap logger
//  2. Load config (Hooks.LoadConfig)
//  3. Build the final logger from config
//  4. Register default metrics
//  5. Connect backends (Hooks.ConnectDB)
//  6. Ensure schema/indexes (Hooks.EnsureSchema, if provided)
//  7. Wire shutdown signals to a context
//  8. Build the HTTP handler (Hooks.BuildHandler)
//  9. Serve until shutdown, then run Hooks.Shutdown
func Run[D any](ctx context.Context, hooks Hooks[D]) error {
	bootstrap := logging.BootstrapLogger()
	defer func() { _ = bootstrap.Sync() }()

	coreCfg, err := hooks.LoadConfig(bootstrap)
	if err != nil {
		bootstrap.Error("config load failed", zap.Error(err))
		return fmt.Errorf("load config: %w", err)
	}
	bootstrap.Info("config loaded",
		zap.String("env", coreCfg.Env),
		zap.String("log_level", coreCfg.LogLevel),
	)

	logger, err := logging.BuildLogger(coreCfg.LogLevel, coreCfg.Env)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("app", hooks.Name))
	httputil.SetLogger(logger)
	logger.Debug("effective config", zap.String("config", coreCfg.Dump()))

	metrics.RegisterDefault(logger)

	connectCtx, cancelConnect := context.WithTimeout(ctx, coreCfg.DBConnectTimeout)
	db, err := hooks.ConnectDB(connectCtx, coreCfg, logger)
	cancelConnect()
	if err != nil {
		logger.Error("backend connect failed", zap.Error(err))
		return fmt.Errorf("connect: %w", err)
	}
	defer shutdown(ctx, hooks, db, logger)

	if hooks.EnsureSchema != nil {
		schemaCtx, cancel := context.WithTimeout(ctx, coreCfg.IndexBootTimeout)
		err := hooks.EnsureSchema(schemaCtx, coreCfg, db, logger)
		cancel()
		if err != nil {
			logger.Error("schema ensure failed", zap.Error(err))
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	ctx, cancel := server.WithShutdownSignals(ctx, logger)
	defer cancel()

	handler, err := hooks.BuildHandler(coreCfg, db, logger)
	if err != nil {
		logger.Error("handler build failed", zap.Error(err))
		return fmt.Errorf("build handler: %w", err)
	}

	if err := server.ListenAndServeWithContext(ctx, coreCfg, handler, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func shutdown[D any](ctx context.Context, hooks Hooks[D], db D, logger *zap.Logger) {
	if hooks.Shutdown == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := hooks.Shutdown(sctx, db, logger); err != nil {
		logger.Warn("shutdown hook failed", zap.Error(err))
	}
}
