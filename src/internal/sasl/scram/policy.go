// FILE: src/internal/sasl/scram/policy.go
package scram

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"saslwisp/src/internal/core"
	"saslwisp/src/internal/primitive"
)

// Policy holds the deployment choices the protocol leaves open.
// A Policy is read-only once a mechanism has been built from it.
type Policy struct {
	// MinIterations is the lowest iteration count accepted from a server.
	// Counts of zero or below are always rejected.
	MinIterations int
	// DefaultIterations is used by servers that derive keys from a plaintext
	// password without a stored iteration count.
	DefaultIterations int
	// SaltLen is the length of generated salts.
	SaltLen int
	// NonceLen is the number of random bytes behind a generated nonce.
	NonceLen int
	// ExtensionAttrs lists the attribute letters tolerated (and ignored) as
	// trailing extensions. Empty means any letter the protocol does not
	// reserve. The mandatory-extension marker "m" is always rejected.
	ExtensionAttrs string
	// MaskUnknownUsers makes servers answer unknown users with a plausible
	// challenge and fail only at proof verification.
	MaskUnknownUsers bool
	// DecoyKey keys the salts shown for unknown users, so repeated attempts
	// for one name see the same salt. Empty uses a random per-process key.
	DecoyKey []byte

	// Nonce generates printable, comma free nonces. Nil uses crypto/rand.
	Nonce func(n int) (string, error)
}

// reservedAttrs are attribute letters with a defined meaning in some message.
const reservedAttrs = "anrcsipvem"

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		MinIterations:     core.ScramMinIterations,
		DefaultIterations: core.ScramDefaultIterations,
		SaltLen:           core.ScramSaltLen,
		NonceLen:          core.ScramNonceLen,
		MaskUnknownUsers:  true,
	}
}

// Validate checks the policy for inconsistent settings.
func (p *Policy) Validate() error {
	if p.MinIterations < 1 {
		return fmt.Errorf("min iterations must be positive: %d", p.MinIterations)
	}
	if p.DefaultIterations < p.MinIterations {
		return fmt.Errorf("default iterations %d below minimum %d", p.DefaultIterations, p.MinIterations)
	}
	if p.SaltLen < 8 {
		return fmt.Errorf("salt length too small: %d", p.SaltLen)
	}
	if p.NonceLen < 8 {
		return fmt.Errorf("nonce length too small: %d", p.NonceLen)
	}
	for _, c := range p.ExtensionAttrs {
		if !isAlpha(byte(c)) || c > 0x7f {
			return fmt.Errorf("extension attribute %q is not a letter", c)
		}
		if strings.ContainsRune(reservedAttrs, c) {
			return fmt.Errorf("extension attribute %q is reserved", c)
		}
	}
	return nil
}

// checkIterations applies the iteration floor to a received count.
func (p *Policy) checkIterations(n int) error {
	if n < 1 || n < p.MinIterations {
		return fmt.Errorf("iteration count %d below minimum %d", n, max(p.MinIterations, 1))
	}
	return nil
}

// ignorable reports whether an unknown trailing attribute may be skipped.
func (p *Policy) ignorable(key byte) bool {
	if strings.IndexByte(reservedAttrs, key) >= 0 {
		return false
	}
	if p.ExtensionAttrs == "" {
		return true
	}
	return strings.IndexByte(p.ExtensionAttrs, key) >= 0
}

func (p *Policy) nonce() (string, error) {
	gen := p.Nonce
	if gen == nil {
		gen = randomNonce
	}
	nonce, err := gen(p.NonceLen)
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	if !validNonce(nonce) {
		// A generator producing commas or control bytes is a programming error.
		panic(fmt.Sprintf("scram: generated nonce %q is not printable and comma free", nonce))
	}
	return nonce, nil
}

func (p *Policy) salt() ([]byte, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("salt generation failed: %w", err)
	}
	return salt, nil
}

var (
	decoyOnce sync.Once
	decoyKey  []byte
	decoyErr  error
)

// decoySalt derives a stable salt for an unknown username.
func (p *Policy) decoySalt(username string) ([]byte, error) {
	key := p.DecoyKey
	if len(key) == 0 {
		decoyOnce.Do(func() {
			decoyKey = make([]byte, 32)
			if _, err := rand.Read(decoyKey); err != nil {
				decoyErr = fmt.Errorf("decoy key generation failed: %w", err)
			}
		})
		if decoyErr != nil {
			return nil, decoyErr
		}
		key = decoyKey
	}

	salt := make([]byte, 0, p.SaltLen+primitive.SHA256.Size())
	for block := byte(0); len(salt) < p.SaltLen; block++ {
		salt = append(salt, primitive.SHA256.HMAC(key, append([]byte{block}, username...))...)
	}
	return salt[:p.SaltLen], nil
}

// randomNonce encodes n random bytes with the standard base64 alphabet,
// which never contains a comma.
func randomNonce(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

// validNonce accepts printable ASCII except ','.
func validNonce(nonce string) bool {
	if nonce == "" {
		return false
	}
	for i := 0; i < len(nonce); i++ {
		c := nonce[i]
		if c < 0x21 || c > 0x7e || c == ',' {
			return false
		}
	}
	return true
}
