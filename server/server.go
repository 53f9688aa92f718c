// server/server.go
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dalemusser/docstore/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// WithShutdownSignals returns a context that is canceled on SIGINT or
// SIGTERM. The returned cancel function also stops signal delivery.
func WithShutdownSignals(parent context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			if logger != nil {
				logger.Info("shutdown signal received", zap.Any("signal", sig))
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// ListenAndServeWithContext serves handler over HTTP, or over HTTPS with
// either manual certificates or Let's Encrypt (http-01), and blocks until
// ctx is canceled or a server fails. In HTTPS modes a second server on :80
// answers ACME challenges and redirects everything else to HTTPS.
//
// On cancellation both servers are shut down gracefully within
// cfg.HTTP.ShutdownTimeout.
func ListenAndServeWithContext(ctx context.Context, cfg *config.CoreConfig, handler http.Handler, logger *zap.Logger) error {
	if cfg == nil {
		return errors.New("server: cfg is nil")
	}
	if handler == nil {
		return errors.New("server: handler is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	srv := newHTTPServer(cfg, handler, logger)

	var (
		aux  *http.Server
		addr = ":" + strconv.Itoa(cfg.HTTP.HTTPPort)
	)
	if cfg.HTTP.UseHTTPS {
		tlsCfg, auxHandler, err := tlsSetup(ctx, cfg, logger)
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsCfg
		aux = newHTTPServer(cfg, auxHandler, logger)
		aux.Addr = ":80"
		addr = ":" + strconv.Itoa(cfg.HTTP.HTTPSPort)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if srv.TLSConfig != nil {
		ln = tls.NewListener(ln, srv.TLSConfig)
	}
	logger.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("https", cfg.HTTP.UseHTTPS),
		zap.Bool("lets_encrypt", cfg.HTTP.UseHTTPS && cfg.TLS.UseLetsEncrypt))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("primary server: %w", err)
		}
		return nil
	})
	if aux != nil {
		g.Go(func() error {
			logger.Info("redirect server listening", zap.String("addr", aux.Addr))
			if err := aux.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("redirect server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if aux != nil {
			errs = append(errs, aux.Shutdown(shutdownCtx))
		}
		errs = append(errs, srv.Shutdown(shutdownCtx))
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

// newHTTPServer applies the configured timeouts and routes net/http's own
// error log into zap at warn.
func newHTTPServer(cfg *config.CoreConfig, handler http.Handler, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	if stdlog, err := zap.NewStdLogAt(logger, zapcore.WarnLevel); err == nil {
		srv.ErrorLog = stdlog
	}
	return srv
}
