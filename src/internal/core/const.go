// FILE: src/internal/core/const.go
package core

import "time"

// SCRAM parameters
const (
	ScramMinIterations     = 4096
	ScramDefaultIterations = 4096
	ScramSaltLen           = 16
	ScramNonceLen          = 24
)

// Argon2id parameters for PLAIN/LOGIN password hashes
const (
	Argon2Time    = 3
	Argon2Memory  = 64 * 1024 // 64 MB
	Argon2Threads = 4
	Argon2SaltLen = 16
	Argon2KeyLen  = 32
)

// Exchange limits
const (
	HandshakeTimeout  = 60 * time.Second
	MaxMessageLength  = 16 * 1024
	MaxExchangeSteps  = 16
	DefaultTokenTTL   = 1 * time.Hour
	DefaultTokenBytes = 32
)

// DefaultMechanisms is the preference list used when the configuration names none.
var DefaultMechanisms = []string{
	"SCRAM-SHA-512",
	"SCRAM-SHA-256",
	"SCRAM-SHA-1",
	"PLAIN",
	"LOGIN",
}
