// config/validate.go
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dalemusser/docstore/store"
)

func validate(cfg CoreConfig, badDurations []string) error {
	var missing []string
	invalid := append([]string(nil), badDurations...)
	sort.Strings(invalid)

	// TLS / ACME consistency
	if cfg.TLS.UseLetsEncrypt && !cfg.HTTP.UseHTTPS {
		invalid = append(invalid, "use_lets_encrypt=true requires use_https=true")
	}
	if cfg.TLS.UseLetsEncrypt && (strings.TrimSpace(cfg.TLS.CertFile) != "" || strings.TrimSpace(cfg.TLS.KeyFile) != "") {
		invalid = append(invalid, "use_lets_encrypt=true cannot be combined with cert_file/key_file")
	}
	if cfg.TLS.UseLetsEncrypt {
		if strings.TrimSpace(cfg.TLS.Domain) == "" {
			missing = append(missing, "DOCSTORE_DOMAIN (or --domain) for Let's Encrypt")
		}
		if s := strings.TrimSpace(cfg.TLS.LetsEncryptEmail); s == "" {
			missing = append(missing, "DOCSTORE_LETS_ENCRYPT_EMAIL (or --lets_encrypt_email)")
		} else if !strings.Contains(s, "@") {
			invalid = append(invalid, "lets_encrypt_email must look like an email address")
		}
	}
	if cfg.HTTP.UseHTTPS && !cfg.TLS.UseLetsEncrypt {
		if strings.TrimSpace(cfg.TLS.CertFile) == "" || strings.TrimSpace(cfg.TLS.KeyFile) == "" {
			missing = append(missing, "DOCSTORE_CERT_FILE and DOCSTORE_KEY_FILE (or --cert_file/--key_file) for manual TLS")
		}
	}

	// Port sanity
	if cfg.HTTP.HTTPPort <= 0 || cfg.HTTP.HTTPPort > 65535 {
		invalid = append(invalid, "http_port must be in 1..65535")
	}
	if cfg.HTTP.HTTPSPort <= 0 || cfg.HTTP.HTTPSPort > 65535 {
		invalid = append(invalid, "https_port must be in 1..65535")
	}
	if cfg.HTTP.UseHTTPS {
		if cfg.HTTP.HTTPPort == cfg.HTTP.HTTPSPort {
			invalid = append(invalid, "http_port and https_port cannot be equal when use_https=true")
		}
		if cfg.HTTP.HTTPSPort == 80 {
			invalid = append(invalid, "https_port cannot be 80; port 80 is used by the ACME/redirect server")
		}
	}

	// CORS sanity
	if cfg.CORS.EnableCORS {
		if len(cfg.CORS.CORSAllowedOrigins) == 0 {
			missing = append(missing, "CORS: cors_allowed_origins (JSON array) required when enable_cors=true")
		}
		if len(cfg.CORS.CORSAllowedMethods) == 0 {
			missing = append(missing, "CORS: cors_allowed_methods (JSON array) required when enable_cors=true")
		}
		for _, o := range cfg.CORS.CORSAllowedOrigins {
			if o == "*" && cfg.CORS.CORSAllowCredentials {
				invalid = append(invalid, `CORS: cannot use "*" in cors_allowed_origins when cors_allow_credentials=true`)
				break
			}
		}
		if cfg.CORS.CORSMaxAge < 0 {
			invalid = append(invalid, "CORS: cors_max_age must be >= 0")
		}
	}

	// Store
	switch cfg.Store.Backend {
	case "memory":
	case "mongo":
		if err := store.ValidateURI(cfg.Store.MongoURI); err != nil {
			invalid = append(invalid, fmt.Sprintf("mongo_uri: %v", err))
		}
		if cfg.Store.MinPoolSize > cfg.Store.MaxPoolSize {
			invalid = append(invalid, "mongo_min_pool_size cannot exceed mongo_max_pool_size")
		}
	default:
		invalid = append(invalid, `store_backend must be "mongo" or "memory"`)
	}
	if strings.TrimSpace(cfg.Store.MongoDatabase) == "" {
		missing = append(missing, "DOCSTORE_MONGO_DATABASE (or --mongo_database)")
	}
	if strings.TrimSpace(cfg.Store.UsersCollection) == "" {
		missing = append(missing, "DOCSTORE_USERS_COLLECTION (or --users_collection)")
	}

	// Cache
	switch cfg.Cache.Backend {
	case "none", "memory":
	case "redis":
		if strings.TrimSpace(cfg.Cache.RedisAddr) == "" {
			missing = append(missing, "DOCSTORE_REDIS_ADDR (or --redis_addr) for cache_backend=redis")
		}
		if cfg.Cache.RedisDB < 0 {
			invalid = append(invalid, "redis_db must be >= 0")
		}
	default:
		invalid = append(invalid, `cache_backend must be "none", "memory" or "redis"`)
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(invalid, ", "))
	}
	return fmt.Errorf("configuration errors: %s", strings.Join(parts, " | "))
}
