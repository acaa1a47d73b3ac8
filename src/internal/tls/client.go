// FILE: src/internal/tls/client.go
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"saslwisp/src/internal/config"

	"github.com/lixenwraith/log"
)

// ClientManager holds the TLS settings the CLI uses to reach an HTTPS
// SASL endpoint. The HTTP client derives the connection's channel binding
// from handshakes made with this configuration.
type ClientManager struct {
	config    *config.TLSClientConfig
	tlsConfig *tls.Config
}

// NewClientManager builds the client configuration. It returns nil when
// TLS is disabled, and a nil manager yields a nil config.
func NewClientManager(cfg *config.TLSClientConfig, logger *log.Logger) (*ClientManager, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	minVersion, maxVersion, err := parseVersionRange(cfg.MinVersion, cfg.MaxVersion)
	if err != nil {
		return nil, err
	}
	m := &ClientManager{
		config: cfg,
		tlsConfig: &tls.Config{
			MinVersion:         minVersion,
			MaxVersion:         maxVersion,
			ServerName:         cfg.ServerName,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}
	if cfg.CipherSuites != "" {
		if m.tlsConfig.CipherSuites, err = parseCipherSuites(cfg.CipherSuites); err != nil {
			return nil, err
		}
	}

	switch {
	case cfg.ClientCertFile != "" && cfg.ClientKeyFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		m.tlsConfig.Certificates = []tls.Certificate{cert}
	case cfg.ClientCertFile != "" || cfg.ClientKeyFile != "":
		return nil, fmt.Errorf("both client_cert_file and client_key_file must be provided for mTLS")
	}

	if cfg.ServerCAFile != "" {
		if m.tlsConfig.RootCAs, err = loadPool(cfg.ServerCAFile); err != nil {
			return nil, fmt.Errorf("server CA: %w", err)
		}
	}

	if cfg.InsecureSkipVerify {
		logger.Warn("msg", "Server certificate verification disabled",
			"component", "tls_client",
			"server_name", cfg.ServerName)
	}
	logger.Debug("msg", "SASL client TLS configured",
		"component", "tls_client",
		"server_name", cfg.ServerName,
		"min_version", versionName(minVersion),
		"custom_roots", cfg.ServerCAFile != "",
		"client_cert", len(m.tlsConfig.Certificates) > 0)
	return m, nil
}

// GetConfig returns a copy of the client configuration.
func (m *ClientManager) GetConfig() *tls.Config {
	if m == nil {
		return nil
	}
	return m.tlsConfig.Clone()
}

// GetStats reports how the client verifies the server.
func (m *ClientManager) GetStats() map[string]any {
	if m == nil {
		return map[string]any{"enabled": false}
	}
	return map[string]any{
		"enabled":              true,
		"min_version":          versionName(m.tlsConfig.MinVersion),
		"max_version":          versionName(m.tlsConfig.MaxVersion),
		"has_client_cert":      len(m.tlsConfig.Certificates) > 0,
		"has_server_ca":        m.tlsConfig.RootCAs != nil,
		"insecure_skip_verify": m.config.InsecureSkipVerify,
	}
}

// loadPool reads a PEM bundle into a certificate pool.
func loadPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
