// FILE: src/internal/tls/server.go
package tls

import (
	"crypto/tls"
	"fmt"

	"saslwisp/src/internal/config"

	"github.com/lixenwraith/log"
)

// ServerManager handles TLS configuration for the HTTP listener.
type ServerManager struct {
	config    *config.TLSServerConfig
	tlsConfig *tls.Config
	logger    *log.Logger
}

// NewServerManager loads the server certificate. It returns nil when TLS is disabled.
func NewServerManager(cfg *config.TLSServerConfig, logger *log.Logger) (*ServerManager, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	m := &ServerManager{
		config: cfg,
		logger: logger,
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server cert/key: %w", err)
	}
	minVersion, maxVersion, err := parseVersionRange(cfg.MinVersion, cfg.MaxVersion)
	if err != nil {
		return nil, err
	}

	// TLS 1.2 and 1.3 both carry the extended master secret that
	// tls-exporter binding relies on
	m.tlsConfig = &tls.Config{
		Certificates:  []tls.Certificate{cert},
		MinVersion:    minVersion,
		MaxVersion:    maxVersion,
		NextProtos:    []string{"http/1.1"},
		Renegotiation: tls.RenegotiateNever,
	}

	if cfg.CipherSuites != "" {
		if m.tlsConfig.CipherSuites, err = parseCipherSuites(cfg.CipherSuites); err != nil {
			return nil, err
		}
	} else {
		m.tlsConfig.CipherSuites = []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		}
	}

	// Configure client authentication (mTLS)
	if cfg.ClientAuth {
		if cfg.ClientCAFile == "" {
			return nil, fmt.Errorf("client_auth is enabled but client_ca_file is not specified")
		}
		if m.tlsConfig.ClientCAs, err = loadPool(cfg.ClientCAFile); err != nil {
			return nil, fmt.Errorf("client CA: %w", err)
		}
		m.tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	logger.Info("msg", "TLS Server Manager initialized",
		"component", "tls",
		"min_version", versionName(m.tlsConfig.MinVersion),
		"max_version", versionName(m.tlsConfig.MaxVersion),
		"client_auth", cfg.ClientAuth)
	return m, nil
}

// GetHTTPConfig returns a TLS configuration for the HTTP listener.
func (m *ServerManager) GetHTTPConfig() *tls.Config {
	if m == nil {
		return nil
	}
	return m.tlsConfig.Clone()
}

// GetStats returns statistics about the server TLS configuration.
func (m *ServerManager) GetStats() map[string]any {
	if m == nil {
		return map[string]any{"enabled": false}
	}
	return map[string]any{
		"enabled":      true,
		"min_version":  versionName(m.tlsConfig.MinVersion),
		"max_version":  versionName(m.tlsConfig.MaxVersion),
		"client_auth":  m.config.ClientAuth,
		"cipher_count": len(m.tlsConfig.CipherSuites),
	}
}
