// FILE: src/internal/config/server.go
package config

// TCPConfig configures the line-protocol SASL listener.
type TCPConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int64  `toml:"port"`

	// Longest accepted protocol line, base64 payload included
	MaxLineBytes int64 `toml:"max_line_bytes"`

	// Connections that have not authenticated within this window are closed
	HandshakeTimeoutSec int64 `toml:"handshake_timeout_sec"`
}

// HTTPConfig configures the JSON SASL API.
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int64  `toml:"port"`

	MaxBodySize    int64 `toml:"max_body_size"`
	ReadTimeoutMs  int64 `toml:"read_timeout_ms"`
	WriteTimeoutMs int64 `toml:"write_timeout_ms"`

	// Pending exchanges expire after this window
	HandshakeTimeoutSec int64 `toml:"handshake_timeout_sec"`

	// HTTPS; required for the -PLUS mechanisms
	TLS *TLSServerConfig `toml:"tls"`
}

// TLSServerConfig holds the server certificate and handshake policy.
type TLSServerConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// mTLS
	ClientAuth   bool   `toml:"client_auth"`
	ClientCAFile string `toml:"client_ca_file"`

	// "TLS1.2" or "TLS1.3"
	MinVersion string `toml:"min_version"`
	MaxVersion string `toml:"max_version"`

	// Comma-separated names, empty = secure defaults
	CipherSuites string `toml:"cipher_suites"`
}

// TLSClientConfig is the client side of an HTTPS connection.
type TLSClientConfig struct {
	Enabled bool `toml:"enabled"`

	ServerCAFile       string `toml:"server_ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`

	ClientCertFile string `toml:"client_cert_file"`
	ClientKeyFile  string `toml:"client_key_file"`

	MinVersion   string `toml:"min_version"`
	MaxVersion   string `toml:"max_version"`
	CipherSuites string `toml:"cipher_suites"`
}
