package tls

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/acme/autocert"

	"travel-auth/internal/config"
	"travel-auth/internal/util"
)

// Manager picks the serving certificate: ACME when AutoCert is on, then the
// configured key pair, then a self-signed certificate outside production.
type Manager struct {
	server     config.ServerConfig
	production bool
	autoCert   *autocert.Manager

	mu       sync.Mutex
	fallback *tls.Certificate
}

func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{server: cfg.Server, production: cfg.IsProduction()}
	if !cfg.Server.AutoCert {
		return m, nil
	}
	if cfg.Server.Domain == "" {
		return nil, fmt.Errorf("autocert needs SERVER_DOMAIN")
	}
	if err := os.MkdirAll(cfg.Server.AutoCertDir, 0o700); err != nil {
		return nil, fmt.Errorf("create autocert dir: %w", err)
	}
	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Server.Domain),
		Cache:      autocert.DirCache(cfg.Server.AutoCertDir),
		Email:      cfg.Server.Email,
	}
	util.Info("AutoCert configured",
		util.String("domain", cfg.Server.Domain),
		util.String("cache_dir", cfg.Server.AutoCertDir),
	)
	return m, nil
}

func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert certificate unavailable", util.String("server_name", hello.ServerName), util.ErrorField(err))
	}
	return m.staticCertificate()
}

func (m *Manager) staticCertificate() (*tls.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fallback != nil {
		return m.fallback, nil
	}

	if m.server.CertFile != "" && m.server.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.server.CertFile, m.server.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load key pair: %w", err)
		}
		m.fallback = &cert
		return m.fallback, nil
	}
	if m.production {
		return nil, fmt.Errorf("no certificate configured")
	}

	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if m.server.Domain != "" {
		hosts = append(hosts, m.server.Domain)
	}
	cert, err := NewDevCertGenerator(m.server.AutoCertDir).GenerateCert(hosts)
	if err != nil {
		return nil, err
	}
	m.fallback = &cert
	return m.fallback, nil
}

func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// AutoCert is nil unless ACME is enabled.
func (m *Manager) AutoCert() *autocert.Manager {
	return m.autoCert
}
