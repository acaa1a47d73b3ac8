// FILE: src/internal/sasl/scram/credential.go
package scram

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"saslwisp/src/internal/primitive"
)

var (
	clientKeyLabel = []byte("Client Key")
	serverKeyLabel = []byte("Server Key")
)

// Credential is the server-side verifier for one user and hash family.
// It never contains the password or the salted password.
type Credential struct {
	Hash       string
	Salt       []byte
	Iterations int
	StoredKey  []byte
	ServerKey  []byte
}

// DeriveCredential creates a verifier from a plaintext password. The
// password is expected to be SASLprep-normalized already.
func DeriveCredential(p primitive.Provider, password []byte, salt []byte, iterations int) *Credential {
	salted := p.KDF(password, salt, iterations)
	defer primitive.Zero(salted)
	stored, server := keysFromSalted(p, salted)
	return &Credential{
		Hash:       p.Name(),
		Salt:       append([]byte(nil), salt...),
		Iterations: iterations,
		StoredKey:  stored,
		ServerKey:  server,
	}
}

// keysFromSalted computes StoredKey and ServerKey from SaltedPassword.
func keysFromSalted(p primitive.Provider, salted []byte) (stored, server []byte) {
	clientKey := p.HMAC(salted, clientKeyLabel)
	defer primitive.Zero(clientKey)
	return p.Hash(clientKey), p.HMAC(salted, serverKeyLabel)
}

// String renders the credential as
// "SCRAM-<hash>$<iterations>:<salt>$<storedkey>:<serverkey>" with base64 fields.
func (c *Credential) String() string {
	enc := base64.StdEncoding.EncodeToString
	return fmt.Sprintf("SCRAM-%s$%d:%s$%s:%s", c.Hash, c.Iterations, enc(c.Salt), enc(c.StoredKey), enc(c.ServerKey))
}

// ParseCredential reverses Credential.String.
func ParseCredential(s string) (*Credential, error) {
	rest, ok := strings.CutPrefix(s, "SCRAM-")
	if !ok {
		return nil, fmt.Errorf("credential must start with SCRAM-")
	}
	parts := strings.Split(rest, "$")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid credential format")
	}
	p, ok := primitive.ByName(parts[0])
	if !ok {
		return nil, fmt.Errorf("unsupported hash %q", parts[0])
	}

	iterStr, saltStr, ok := strings.Cut(parts[1], ":")
	if !ok {
		return nil, fmt.Errorf("missing salt")
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations < 1 {
		return nil, fmt.Errorf("invalid iteration count %q", iterStr)
	}
	salt, err := base64.StdEncoding.DecodeString(saltStr)
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("invalid salt encoding")
	}

	storedStr, serverStr, ok := strings.Cut(parts[2], ":")
	if !ok {
		return nil, fmt.Errorf("missing server key")
	}
	stored, err := base64.StdEncoding.DecodeString(storedStr)
	if err != nil || len(stored) != p.Size() {
		return nil, fmt.Errorf("invalid stored key")
	}
	server, err := base64.StdEncoding.DecodeString(serverStr)
	if err != nil || len(server) != p.Size() {
		return nil, fmt.Errorf("invalid server key")
	}

	return &Credential{
		Hash:       p.Name(),
		Salt:       salt,
		Iterations: iterations,
		StoredKey:  stored,
		ServerKey:  server,
	}, nil
}
