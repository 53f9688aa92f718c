// store/options.go
package store

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultRefreshInterval is how old a connection may get before the
	// health monitor replaces it.
	DefaultRefreshInterval = 300 * time.Second

	// DefaultProbeInterval is the pause between liveness probes.
	DefaultProbeInterval = 30 * time.Second

	// DefaultBackoff is the pause after an unexpected health monitor error.
	DefaultBackoff = 5 * time.Second
)

// Option configures a Handle. Registry applies the same options to every
// handle it creates.
type Option func(*handleOptions)

type handleOptions struct {
	logger          *zap.Logger
	observer        Observer
	dialer          Dialer
	refreshInterval time.Duration
	probeInterval   time.Duration
	backoff         time.Duration
}

func defaultHandleOptions() handleOptions {
	return handleOptions{
		logger:          zap.NewNop(),
		observer:        nopObserver{},
		dialer:          MongoDialer(nil),
		refreshInterval: DefaultRefreshInterval,
		probeInterval:   DefaultProbeInterval,
		backoff:         DefaultBackoff,
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *handleOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the lifecycle/operation observer. A nil observer is ignored.
func WithObserver(obs Observer) Option {
	return func(o *handleOptions) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithDialer replaces the driver used to open connections.
func WithDialer(d Dialer) Option {
	return func(o *handleOptions) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithRefreshInterval sets the maximum connection age. Non-positive values are ignored.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *handleOptions) {
		if d > 0 {
			o.refreshInterval = d
		}
	}
}

// WithProbeInterval sets the pause between liveness probes. Non-positive values are ignored.
func WithProbeInterval(d time.Duration) Option {
	return func(o *handleOptions) {
		if d > 0 {
			o.probeInterval = d
		}
	}
}

// WithBackoff sets the pause after a health monitor error. Non-positive values are ignored.
func WithBackoff(d time.Duration) Option {
	return func(o *handleOptions) {
		if d > 0 {
			o.backoff = d
		}
	}
}
