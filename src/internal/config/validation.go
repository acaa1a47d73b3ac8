// FILE: src/internal/config/validation.go
package config

import (
	"fmt"
	"regexp"
	"strings"

	"saslwisp/src/internal/sasl"

	lconfig "github.com/lixenwraith/config"
)

// validateConfig is the centralized validator for the entire configuration
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if err := validateLogConfig(cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if (cfg.TCP == nil || !cfg.TCP.Enabled) && (cfg.HTTP == nil || !cfg.HTTP.Enabled) {
		return fmt.Errorf("no listener enabled: enable tcp or http")
	}
	if err := validateTCP(cfg.TCP); err != nil {
		return fmt.Errorf("tcp config: %w", err)
	}
	if err := validateHTTP(cfg.HTTP); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if cfg.TCP != nil && cfg.HTTP != nil && cfg.TCP.Enabled && cfg.HTTP.Enabled && cfg.TCP.Port == cfg.HTTP.Port {
		return fmt.Errorf("tcp and http listeners share port %d", cfg.TCP.Port)
	}

	if err := validateScram(cfg.Scram); err != nil {
		return fmt.Errorf("scram config: %w", err)
	}
	if err := validateToken(cfg.Token); err != nil {
		return fmt.Errorf("token config: %w", err)
	}
	if err := validateRateLimit(cfg.RateLimit); err != nil {
		return fmt.Errorf("ratelimit config: %w", err)
	}

	if err := validateAudit(cfg.Audit); err != nil {
		return fmt.Errorf("audit config: %w", err)
	}
	for i := range cfg.Access {
		if err := validateAccessRule(&cfg.Access[i]); err != nil {
			return fmt.Errorf("access[%d]: %w", i, err)
		}
	}

	if len(cfg.Mechanisms) == 0 {
		return fmt.Errorf("no mechanisms configured")
	}
	seen := make(map[string]bool)
	for i, name := range cfg.Mechanisms {
		name = strings.ToUpper(strings.TrimSpace(name))
		if err := sasl.ValidateName(name); err != nil {
			return fmt.Errorf("mechanisms[%d]: %w", i, err)
		}
		if seen[name] {
			return fmt.Errorf("mechanisms[%d]: duplicate mechanism %s", i, name)
		}
		seen[name] = true
		cfg.Mechanisms[i] = name
	}

	return validateUsers(cfg.Users)
}

func validateTCP(tcp *TCPConfig) error {
	if tcp == nil || !tcp.Enabled {
		return nil
	}
	if err := lconfig.Port(tcp.Port); err != nil {
		return err
	}
	if tcp.Host != "" && tcp.Host != "0.0.0.0" {
		if err := lconfig.IPAddress(tcp.Host); err != nil {
			return err
		}
	}
	if tcp.MaxLineBytes < 512 {
		return fmt.Errorf("max_line_bytes too small: %d", tcp.MaxLineBytes)
	}
	if tcp.HandshakeTimeoutSec < 1 {
		return fmt.Errorf("handshake_timeout_sec must be positive: %d", tcp.HandshakeTimeoutSec)
	}
	return nil
}

func validateHTTP(h *HTTPConfig) error {
	if h == nil || !h.Enabled {
		return nil
	}
	if err := lconfig.Port(h.Port); err != nil {
		return err
	}
	if h.Host != "" && h.Host != "0.0.0.0" {
		if err := lconfig.IPAddress(h.Host); err != nil {
			return err
		}
	}
	if h.MaxBodySize < 512 {
		return fmt.Errorf("max_body_size too small: %d", h.MaxBodySize)
	}
	if h.ReadTimeoutMs <= 0 {
		h.ReadTimeoutMs = 5000
	}
	if h.WriteTimeoutMs <= 0 {
		h.WriteTimeoutMs = 5000
	}
	if h.HandshakeTimeoutSec < 1 {
		return fmt.Errorf("handshake_timeout_sec must be positive: %d", h.HandshakeTimeoutSec)
	}
	if err := validateTLSServer(h.TLS); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	return nil
}

func validateTLSServer(t *TLSServerConfig) error {
	if t == nil || !t.Enabled {
		return nil
	}
	if t.CertFile == "" || t.KeyFile == "" {
		return fmt.Errorf("cert_file and key_file are required")
	}
	if t.ClientAuth && t.ClientCAFile == "" {
		return fmt.Errorf("client_auth is enabled but client_ca_file is not specified")
	}
	for _, v := range []string{t.MinVersion, t.MaxVersion} {
		switch strings.ToUpper(v) {
		case "", "TLS1.2", "TLS12", "TLS1.3", "TLS13":
		default:
			return fmt.Errorf("unsupported TLS version '%s'", v)
		}
	}
	return nil
}

func validateScram(s *ScramConfig) error {
	if s == nil {
		return fmt.Errorf("scram section missing")
	}
	if s.MinIterations < 1 {
		return fmt.Errorf("min_iterations must be positive: %d", s.MinIterations)
	}
	if s.DefaultIterations < s.MinIterations {
		return fmt.Errorf("default_iterations %d below min_iterations %d", s.DefaultIterations, s.MinIterations)
	}
	if s.SaltLength < 8 {
		return fmt.Errorf("salt_length too small: %d", s.SaltLength)
	}
	if s.NonceLength < 8 {
		return fmt.Errorf("nonce_length too small: %d", s.NonceLength)
	}
	for _, c := range s.ExtensionAttrs {
		if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') {
			return fmt.Errorf("extension_attrs must be letters: %q", c)
		}
	}
	return nil
}

func validateToken(t *TokenConfig) error {
	if t == nil {
		return fmt.Errorf("token section missing")
	}
	if t.TTLSeconds < 1 {
		return fmt.Errorf("ttl_seconds must be positive: %d", t.TTLSeconds)
	}
	if t.Secret != "" && len(t.Secret) < 32 {
		return fmt.Errorf("secret must be at least 32 characters")
	}
	return nil
}

func validateRateLimit(r *RateLimitConfig) error {
	if r == nil || !r.Enabled {
		return nil
	}
	if r.AttemptsPerMinute <= 0 {
		return fmt.Errorf("attempts_per_minute must be positive")
	}
	if r.Burst < 1 {
		return fmt.Errorf("burst must be at least 1")
	}
	if r.MaxTrackedIPs < 1 {
		return fmt.Errorf("max_tracked_ips must be positive")
	}
	if r.IdleTimeoutSec < 1 {
		r.IdleTimeoutSec = 600
	}
	return nil
}

func validateUsers(users []UserConfig) error {
	seen := make(map[string]bool)
	for i, user := range users {
		if err := lconfig.NonEmpty(user.Username); err != nil {
			return fmt.Errorf("users[%d]: missing username", i)
		}
		if seen[user.Username] {
			return fmt.Errorf("users[%d]: duplicate username '%s'", i, user.Username)
		}
		seen[user.Username] = true

		if len(user.Scram) == 0 && user.PasswordHash == "" {
			return fmt.Errorf("user '%s': needs scram credentials or password_hash", user.Username)
		}
		for j, cred := range user.Scram {
			if !strings.HasPrefix(cred, "SCRAM-") {
				return fmt.Errorf("user '%s' scram[%d]: not a SCRAM credential", user.Username, j)
			}
		}
		if user.PasswordHash != "" && !validHashPrefix(user.PasswordHash) {
			return fmt.Errorf("user '%s': password_hash must be argon2id PHC or bcrypt", user.Username)
		}
	}
	return nil
}

func validHashPrefix(hash string) bool {
	for _, prefix := range []string{"$argon2id$", "$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(hash, prefix) {
			return true
		}
	}
	return false
}

func validateAudit(a *AuditConfig) error {
	if a == nil || !a.Enabled {
		return nil
	}
	switch a.Format {
	case "", "json", "txt", "raw":
	default:
		return fmt.Errorf("unknown format '%s'", a.Format)
	}
	if a.Format == "txt" && a.Template == "" {
		return fmt.Errorf("txt format needs a template")
	}
	return nil
}

func validateAccessRule(r *AccessRule) error {
	switch r.Type {
	case "":
		r.Type = AccessTypeAllow
	case AccessTypeAllow, AccessTypeDeny:
	default:
		return fmt.Errorf("unknown type '%s'", r.Type)
	}
	switch r.Logic {
	case "":
		r.Logic = AccessLogicOr
	case AccessLogicOr, AccessLogicAnd:
	default:
		return fmt.Errorf("unknown logic '%s'", r.Logic)
	}
	for j, pattern := range r.Patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("pattern[%d] '%s': %w", j, pattern, err)
		}
	}
	return nil
}
