// config/config.go
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment variable, e.g. DOCSTORE_MONGO_URI.
const EnvPrefix = "DOCSTORE"

// HTTPConfig groups HTTP/HTTPS port, protocol and timeout settings.
type HTTPConfig struct {
	HTTPPort  int  `mapstructure:"http_port"`
	HTTPSPort int  `mapstructure:"https_port"`
	UseHTTPS  bool `mapstructure:"use_https"`

	ReadTimeout       time.Duration `mapstructure:"-"`
	ReadHeaderTimeout time.Duration `mapstructure:"-"`
	WriteTimeout      time.Duration `mapstructure:"-"`
	IdleTimeout       time.Duration `mapstructure:"-"`
	ShutdownTimeout   time.Duration `mapstructure:"-"`
}

// TLSConfig groups manual TLS and Let's Encrypt (http-01) settings.
type TLSConfig struct {
	CertFile            string `mapstructure:"cert_file"`
	KeyFile             string `mapstructure:"key_file"`
	UseLetsEncrypt      bool   `mapstructure:"use_lets_encrypt"`
	LetsEncryptEmail    string `mapstructure:"lets_encrypt_email"`
	LetsEncryptCacheDir string `mapstructure:"lets_encrypt_cache_dir"`
	Domain              string `mapstructure:"domain"`

	// ACMEDirectoryURL overrides the ACME endpoint, e.g. for Let's Encrypt staging.
	ACMEDirectoryURL string `mapstructure:"acme_directory_url"`
}

// CORSConfig groups all CORS behavior and lists.
type CORSConfig struct {
	EnableCORS           bool     `mapstructure:"enable_cors"`
	CORSAllowedOrigins   []string `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string `mapstructure:"cors_allowed_headers"`
	CORSExposedHeaders   []string `mapstructure:"cors_exposed_headers"`
	CORSAllowCredentials bool     `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int      `mapstructure:"cors_max_age"`
}

// StoreConfig selects and tunes the document store.
type StoreConfig struct {
	Backend         string `mapstructure:"store_backend"` // "mongo" | "memory"
	MongoURI        string `mapstructure:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"`
	MaxPoolSize     uint64 `mapstructure:"mongo_max_pool_size"`
	MinPoolSize     uint64 `mapstructure:"mongo_min_pool_size"`
	UsersCollection string `mapstructure:"users_collection"`

	MaxIdleTime            time.Duration `mapstructure:"-"`
	ConnectTimeout         time.Duration `mapstructure:"-"`
	ServerSelectionTimeout time.Duration `mapstructure:"-"`
	RefreshInterval        time.Duration `mapstructure:"-"`
	ProbeInterval          time.Duration `mapstructure:"-"`
}

// CacheConfig selects the document cache placed in front of the users repository.
type CacheConfig struct {
	Backend       string        `mapstructure:"cache_backend"` // "none" | "memory" | "redis"
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"-"`
}

// CoreConfig holds the complete service configuration.
type CoreConfig struct {
	// runtime
	Env      string `mapstructure:"env"`       // "dev" | "prod"
	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error …

	// grouped config
	HTTP  HTTPConfig  `mapstructure:",squash"`
	TLS   TLSConfig   `mapstructure:",squash"`
	CORS  CORSConfig  `mapstructure:",squash"`
	Store StoreConfig `mapstructure:",squash"`
	Cache CacheConfig `mapstructure:",squash"`

	// startup timeouts
	DBConnectTimeout time.Duration `mapstructure:"-"`
	IndexBootTimeout time.Duration `mapstructure:"-"`

	// HTTP behavior
	MaxRequestBodyBytes int64  `mapstructure:"max_request_body_bytes"`
	EnableCompression   bool   `mapstructure:"enable_compression"`
	MetricsAPIKey       string `mapstructure:"metrics_api_key"`
}

// Dump returns pretty JSON of the config with credentials redacted.
func (c CoreConfig) Dump() string {
	b, _ := json.MarshalIndent(c.redactedCopy(), "", "  ")
	return string(b)
}

func (c CoreConfig) redactedCopy() CoreConfig {
	cp := c
	if u, err := url.Parse(cp.Store.MongoURI); err == nil {
		cp.Store.MongoURI = u.Redacted()
	}
	if cp.Cache.RedisPassword != "" {
		cp.Cache.RedisPassword = "xxxxx"
	}
	if cp.MetricsAPIKey != "" {
		cp.MetricsAPIKey = "xxxxx"
	}
	return cp
}

// Load merges defaults → config.* file(s) → env vars → explicit flags into one CoreConfig.
// Final precedence (highest wins): flags(explicit) > env > config > defaults.
// args are the command-line arguments without the program name.
func Load(logger *zap.Logger, args []string) (*CoreConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded .env file")
	}

	fs := pflag.NewFlagSet("docstore", pflag.ContinueOnError)
	registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k.name)
	}

	mergeConfigFiles(logger, v)
	setDefaults(v)

	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	if err := normalizeListKeys(logger, v, listKeys...); err != nil {
		return nil, err
	}

	var cfg CoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	var badDurations []string
	for name, dst := range cfg.durations() {
		d, err := parseDurationFlexible(v.Get(name), durationDefault(name))
		if err != nil {
			badDurations = append(badDurations, fmt.Sprintf("%s: %v", name, err))
		}
		*dst = d
	}

	if err := validate(cfg, badDurations); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *CoreConfig) durations() map[string]*time.Duration {
	return map[string]*time.Duration{
		"read_timeout":                   &c.HTTP.ReadTimeout,
		"read_header_timeout":            &c.HTTP.ReadHeaderTimeout,
		"write_timeout":                  &c.HTTP.WriteTimeout,
		"idle_timeout":                   &c.HTTP.IdleTimeout,
		"shutdown_timeout":               &c.HTTP.ShutdownTimeout,
		"mongo_max_idle_time":            &c.Store.MaxIdleTime,
		"mongo_connect_timeout":          &c.Store.ConnectTimeout,
		"mongo_server_selection_timeout": &c.Store.ServerSelectionTimeout,
		"store_refresh_interval":         &c.Store.RefreshInterval,
		"store_probe_interval":           &c.Store.ProbeInterval,
		"db_connect_timeout":             &c.DBConnectTimeout,
		"index_boot_timeout":             &c.IndexBootTimeout,
		"cache_ttl":                      &c.Cache.TTL,
	}
}

// mergeConfigFiles merges any config.{yaml,yml,json,toml} in the working directory.
func mergeConfigFiles(logger *zap.Logger, v *viper.Viper) {
	for _, ext := range [...]string{"yaml", "yml", "json", "toml"} {
		file := "config." + ext
		b, err := os.ReadFile(file)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("cannot read config file", zap.String("file", file), zap.Error(err))
			}
			continue
		}
		v.SetConfigType(ext)
		if err := v.MergeConfig(bytes.NewReader(b)); err != nil {
			logger.Warn("cannot decode config file", zap.String("file", file), zap.Error(err))
			continue
		}
		logger.Info("loaded config file", zap.String("file", file))
	}
}

// normalizeListKeys coerces JSON-string values into []string for the given keys.
func normalizeListKeys(logger *zap.Logger, v *viper.Viper, keys ...string) error {
	for _, key := range keys {
		switch t := v.Get(key).(type) {
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				v.Set(key, []string{})
				continue
			}
			var arr []string
			if err := json.Unmarshal([]byte(s), &arr); err != nil {
				return fmt.Errorf("config key %q expects a JSON array string, got %q: %w", key, s, err)
			}
			v.Set(key, arr)
		case []interface{}:
			arr := make([]string, 0, len(t))
			for _, e := range t {
				arr = append(arr, fmt.Sprint(e))
			}
			v.Set(key, arr)
		case []string, nil:
		default:
			logger.Warn("unexpected type for list key; expected JSON array/string",
				zap.String("key", key), zap.Any("value", t))
		}
	}
	return nil
}
