// config/store.go
package config

import "github.com/dalemusser/docstore/store"

// ConnectionConfig builds the store.Config for the default connection.
func (s StoreConfig) ConnectionConfig() store.Config {
	return store.Config{
		URI:                    s.MongoURI,
		Database:               s.MongoDatabase,
		MaxPoolSize:            s.MaxPoolSize,
		MinPoolSize:            s.MinPoolSize,
		MaxIdleTime:            s.MaxIdleTime,
		ConnectTimeout:         s.ConnectTimeout,
		ServerSelectionTimeout: s.ServerSelectionTimeout,
	}
}

// HandleOptions returns the lifecycle tuning for handles built from this config.
func (s StoreConfig) HandleOptions() []store.Option {
	return []store.Option{
		store.WithRefreshInterval(s.RefreshInterval),
		store.WithProbeInterval(s.ProbeInterval),
	}
}
