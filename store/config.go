// store/config.go
package store

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config describes one document-store connection. It is a plain value:
// a Handle keeps its own copy, so later changes to the caller's Config
// (or a re-registration in the Registry) never reach an existing handle.
type Config struct {
	// URI is the connection string, e.g. "mongodb://localhost:27017".
	URI string

	// Database is the default database used when a lookup names none.
	Database string

	// MaxPoolSize is the maximum number of pooled connections.
	MaxPoolSize uint64

	// MinPoolSize is the number of connections the driver keeps warm.
	MinPoolSize uint64

	// MaxIdleTime closes pooled connections idle for longer than this.
	MaxIdleTime time.Duration

	// ConnectTimeout bounds establishing a single connection.
	ConnectTimeout time.Duration

	// ServerSelectionTimeout bounds finding a usable server for an operation.
	ServerSelectionTimeout time.Duration
}

// DefaultConfig returns a Config with conservative pool settings suited to
// a single API process.
func DefaultConfig(uri, database string) Config {
	return Config{
		URI:                    uri,
		Database:               database,
		MaxPoolSize:            10,
		MinPoolSize:            1,
		MaxIdleTime:            60 * time.Second,
		ConnectTimeout:         5 * time.Second,
		ServerSelectionTimeout: 5 * time.Second,
	}
}

// ClientOptions builds the driver option set for this Config.
// Zero values are left unset so the driver defaults apply.
func (c Config) ClientOptions() *options.ClientOptions {
	opts := options.Client().ApplyURI(c.URI)

	if c.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(c.MaxPoolSize)
	}
	if c.MinPoolSize > 0 {
		opts.SetMinPoolSize(c.MinPoolSize)
	}
	if c.MaxIdleTime > 0 {
		opts.SetMaxConnIdleTime(c.MaxIdleTime)
	}
	if c.ConnectTimeout > 0 {
		opts.SetConnectTimeout(c.ConnectTimeout)
	}
	if c.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(c.ServerSelectionTimeout)
	}
	return opts
}

// ValidateURI does a lightweight shape check of a connection string without
// touching the driver. It accepts mongodb:// and mongodb+srv:// schemes,
// requires a host, and rejects CR/LF characters.
//
// It is a url.Parse check, not the driver's parser, so a few shapes the
// driver accepts are rejected: url.Parse reads everything after the last
// colon of a seed list as the port, so "h1:27017,h2" fails while "h1,h2"
// and "h1:27017,h2:27017" pass, and an unescaped "/" or "?" in the password
// ends the authority early. Percent-encode such passwords.
func ValidateURI(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty")
	}
	if strings.ContainsAny(raw, "\r\n") {
		return fmt.Errorf("contains CR/LF")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}

	switch u.Scheme {
	case "mongodb", "mongodb+srv":
	default:
		return fmt.Errorf(`scheme must be "mongodb" or "mongodb+srv" (got %q)`, u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
