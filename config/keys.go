// config/keys.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// key describes one configuration key. The name is used as-is for config
// files and flags; env vars are upper-cased and prefixed with DOCSTORE_.
type key struct {
	name string
	def  any // string, int, int64, bool, []string or time.Duration
	desc string
}

var keys = []key{
	// runtime
	{"env", "dev", `Runtime environment "dev"|"prod"`},
	{"log_level", "debug", "Log level"},

	// HTTP
	{"http_port", 8080, "HTTP port"},
	{"https_port", 443, "HTTPS port"},
	{"use_https", false, "Serve HTTPS"},
	{"read_timeout", 15 * time.Second, "HTTP read timeout"},
	{"read_header_timeout", 10 * time.Second, "HTTP read-header timeout"},
	{"write_timeout", 60 * time.Second, "HTTP write timeout"},
	{"idle_timeout", 120 * time.Second, "HTTP idle timeout"},
	{"shutdown_timeout", 15 * time.Second, "Graceful shutdown timeout"},
	{"enable_compression", true, "Enable HTTP compression"},
	{"max_request_body_bytes", int64(2 << 20), "Max HTTP request body size in bytes (0 = unlimited)"},
	{"metrics_api_key", "", "API key required to scrape /metrics (empty = open)"},

	// TLS / Let's Encrypt
	{"use_lets_encrypt", false, "Use Let's Encrypt"},
	{"lets_encrypt_email", "", "ACME account e-mail"},
	{"lets_encrypt_cache_dir", "letsencrypt-cache", "ACME cache dir"},
	{"acme_directory_url", "", "ACME directory URL (empty = Let's Encrypt production)"},
	{"cert_file", "", "TLS cert file (manual TLS)"},
	{"key_file", "", "TLS key file (manual TLS)"},
	{"domain", "", "Domain for TLS or ACME"},

	// CORS
	{"enable_cors", false, "Enable CORS"},
	{"cors_allowed_origins", []string{}, `JSON array of origins, e.g. '["https://a.example"]'`},
	{"cors_allowed_methods", []string{}, `JSON array of methods, e.g. '["GET","POST"]'`},
	{"cors_allowed_headers", []string{}, `JSON array of headers, e.g. '["Accept","Authorization"]'`},
	{"cors_exposed_headers", []string{}, `JSON array of headers, e.g. '["Link"]'`},
	{"cors_allow_credentials", false, "CORS: allow credentials"},
	{"cors_max_age", 0, "CORS: max age seconds (0 disables cache)"},

	// document store
	{"store_backend", "mongo", `Document store backend "mongo"|"memory"`},
	{"mongo_uri", "mongodb://localhost:27017", "MongoDB connection string"},
	{"mongo_database", "docstore", "Default database"},
	{"mongo_max_pool_size", 20, "Max pooled connections"},
	{"mongo_min_pool_size", 1, "Min pooled connections"},
	{"mongo_max_idle_time", 60 * time.Second, "Close pooled connections idle longer than this"},
	{"mongo_connect_timeout", 5 * time.Second, "Timeout for establishing one connection"},
	{"mongo_server_selection_timeout", 5 * time.Second, "Timeout for selecting a server"},
	{"store_refresh_interval", 300 * time.Second, "Replace the connection after this long"},
	{"store_probe_interval", 30 * time.Second, "Pause between liveness probes"},
	{"users_collection", "users", "Collection backing the users API"},
	{"db_connect_timeout", 10 * time.Second, "Startup timeout for the DB connection"},
	{"index_boot_timeout", 120 * time.Second, "Startup timeout for building DB indexes"},

	// cache
	{"cache_backend", "none", `Document cache "none"|"memory"|"redis"`},
	{"redis_addr", "", "Redis address host:port"},
	{"redis_password", "", "Redis password"},
	{"redis_db", 0, "Redis database number"},
	{"cache_ttl", 5 * time.Minute, "Cached document TTL"},
}

var listKeys = []string{
	"cors_allowed_origins",
	"cors_allowed_methods",
	"cors_allowed_headers",
	"cors_exposed_headers",
}

// registerFlags defines a flag for every key on fs. Durations and lists are
// string flags; they are parsed after merging.
func registerFlags(fs *pflag.FlagSet) {
	for _, k := range keys {
		switch d := k.def.(type) {
		case string:
			fs.String(k.name, d, k.desc)
		case int:
			fs.Int(k.name, d, k.desc)
		case int64:
			fs.Int64(k.name, d, k.desc)
		case bool:
			fs.Bool(k.name, d, k.desc)
		case []string:
			fs.String(k.name, "", k.desc)
		case time.Duration:
			fs.String(k.name, d.String(), k.desc+` (e.g. "90s" or seconds)`)
		default:
			panic(fmt.Sprintf("config: key %q has unsupported default %T", k.name, k.def))
		}
	}
}

func setDefaults(v *viper.Viper) {
	for _, k := range keys {
		if d, ok := k.def.(time.Duration); ok {
			v.SetDefault(k.name, d.String())
			continue
		}
		v.SetDefault(k.name, k.def)
	}
}

func durationDefault(name string) time.Duration {
	for _, k := range keys {
		if k.name == name {
			if d, ok := k.def.(time.Duration); ok {
				return d
			}
		}
	}
	return 0
}
