// FILE: src/internal/config/auth.go
package config

// ScramConfig holds the SCRAM deployment policy.
type ScramConfig struct {
	// Lowest iteration count a client accepts from a server
	MinIterations int64 `toml:"min_iterations"`

	// Iteration count used when deriving new credentials
	DefaultIterations int64 `toml:"default_iterations"`

	SaltLength  int64 `toml:"salt_length"`
	NonceLength int64 `toml:"nonce_length"`

	// Attribute letters tolerated as trailing extensions, empty = any unreserved
	ExtensionAttrs string `toml:"extension_attrs"`

	// Answer unknown users with a decoy challenge instead of failing early
	MaskUnknownUsers bool `toml:"mask_unknown_users"`
}

// TokenConfig controls the session tokens issued after authentication.
type TokenConfig struct {
	// HMAC signing secret; generated at startup when empty
	Secret     string `toml:"secret"`
	Issuer     string `toml:"issuer"`
	Audience   string `toml:"audience"`
	TTLSeconds int64  `toml:"ttl_seconds"`
}

// RateLimitConfig limits authentication attempts per client IP.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	AttemptsPerMinute float64 `toml:"attempts_per_minute"`
	Burst             int64   `toml:"burst"`
	MaxTrackedIPs     int64   `toml:"max_tracked_ips"`
	IdleTimeoutSec    int64   `toml:"idle_timeout_sec"`
}

// UserConfig is one entry of the static user database.
type UserConfig struct {
	Username string `toml:"username"`

	// SCRAM verifiers, one per hash family:
	// "SCRAM-SHA-256$<iterations>:<salt>$<stored_key>:<server_key>"
	Scram []string `toml:"scram"`

	// Argon2id PHC or bcrypt hash checked by PLAIN and LOGIN
	PasswordHash string `toml:"password_hash"`

	// Admins may request any authorization identity
	Admin bool `toml:"admin"`
}

// Access rule types and combining logic
const (
	AccessTypeAllow = "allow"
	AccessTypeDeny  = "deny"

	AccessLogicOr  = "or"
	AccessLogicAnd = "and"
)

// AccessRule restricts who may complete authentication. Patterns are regular
// expressions matched against "mechanism=<m> authcid=<u> authzid=<z> addr=<ip>".
type AccessRule struct {
	// "allow" passes only matches, "deny" rejects matches
	Type string `toml:"type"`

	// "or" matches any pattern, "and" requires all
	Logic string `toml:"logic"`

	Patterns []string `toml:"patterns"`
}

// AuditConfig controls the authentication audit trail.
type AuditConfig struct {
	Enabled bool `toml:"enabled"`

	// "json", "txt" or "raw"
	Format string `toml:"format"`

	// Output file, empty = stdout
	Path string `toml:"path"`

	// JSON: indent output
	Pretty bool `toml:"pretty"`

	// txt: Go template over the event fields
	Template        string `toml:"template"`
	TimestampFormat string `toml:"timestamp_format"`
}
