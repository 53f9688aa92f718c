// server/tls.go
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/dalemusser/docstore/config"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

// certWarmTimeout bounds the wait for the first Let's Encrypt certificate.
const certWarmTimeout = 60 * time.Second

// errLoosePerms marks a key file readable by group or others.
type errLoosePerms struct {
	path string
	perm os.FileMode
}

func (e errLoosePerms) Error() string {
	return fmt.Sprintf("TLS key file %s has overly permissive permissions %o (recommended: 0600)", e.path, e.perm)
}

// tlsSetup builds the TLS config for the primary listener and the handler
// for the :80 server.
func tlsSetup(ctx context.Context, cfg *config.CoreConfig, logger *zap.Logger) (*tls.Config, http.Handler, error) {
	if cfg.TLS.UseLetsEncrypt {
		m := newAutocertManager(cfg.TLS)
		if err := waitForCert(ctx, m, cfg.TLS.Domain, certWarmTimeout); err != nil {
			logger.Warn("autocert pre-warm failed; first HTTPS hits may see TLS errors", zap.Error(err))
		}
		return &tls.Config{MinVersion: tls.VersionTLS12, GetCertificate: m.GetCertificate},
			m.HTTPHandler(httpRedirectHandler()), nil
	}

	if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
		return nil, nil, fmt.Errorf("manual TLS selected but cert_file / key_file not provided")
	}
	if err := validateTLSFiles(cfg.TLS.CertFile, cfg.TLS.KeyFile); err != nil {
		var loose errLoosePerms
		if !errors.As(err, &loose) || cfg.Env == "prod" {
			return nil, nil, err
		}
		logger.Warn("TLS key file security warning (would block in prod)", zap.Error(err))
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load TLS cert/key: %w", err)
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}},
		httpRedirectHandler(), nil
}

func newAutocertManager(t config.TLSConfig) *autocert.Manager {
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(t.Domain),
		Cache:      autocert.DirCache(t.LetsEncryptCacheDir),
		Email:      t.LetsEncryptEmail,
	}
	if t.ACMEDirectoryURL != "" {
		m.Client = &acme.Client{DirectoryURL: t.ACMEDirectoryURL}
	}
	return m
}

// validateTLSFiles checks that both files exist and are regular files, and
// that the key is not readable by group or others (skipped on Windows).
func validateTLSFiles(certFile, keyFile string) error {
	if _, err := statFile("certificate", certFile); err != nil {
		return err
	}
	keyInfo, err := statFile("key", keyFile)
	if err != nil {
		return err
	}
	if runtime.GOOS != "windows" && keyInfo.Mode().Perm()&0o077 != 0 {
		return errLoosePerms{path: keyFile, perm: keyInfo.Mode().Perm()}
	}
	return nil
}

func statFile(kind, path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("TLS %s file does not exist: %s", kind, path)
		}
		return nil, fmt.Errorf("cannot access TLS %s file %s: %w", kind, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("TLS %s path is a directory, not a file: %s", kind, path)
	}
	return info, nil
}

// waitForCert polls autocert until it has a certificate for host, the
// timeout passes, or ctx is done.
func waitForCert(ctx context.Context, m *autocert.Manager, host string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: host})
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for cert for %q: %w", host, err)
		case <-tick.C:
		}
	}
}
