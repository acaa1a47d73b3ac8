// FILE: src/internal/credential/store.go
package credential

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"sync"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/primitive"
	"saslwisp/src/internal/sasl"
	"saslwisp/src/internal/sasl/scram"

	"github.com/lixenwraith/log"
	"github.com/xdg-go/stringprep"
)

// User is one account with its verifiers. Plaintext passwords are never kept.
type User struct {
	Username     string
	Admin        bool
	PasswordHash string
	// Scram holds one verifier per hash family, keyed by hash name ("SHA-256")
	Scram map[string]*scram.Credential
}

// Store is the concurrent-safe user database backing server sessions.
type Store struct {
	users  map[string]*User
	mu     sync.RWMutex
	logger *log.Logger
}

// NewStore creates an empty store.
func NewStore(logger *log.Logger) *Store {
	return &Store{
		users:  make(map[string]*User),
		logger: logger,
	}
}

// ParseUser converts a configuration entry into a User.
func ParseUser(uc config.UserConfig) (*User, error) {
	u := &User{
		Username:     uc.Username,
		Admin:        uc.Admin,
		PasswordHash: uc.PasswordHash,
		Scram:        make(map[string]*scram.Credential),
	}
	for i, s := range uc.Scram {
		cred, err := scram.ParseCredential(s)
		if err != nil {
			return nil, fmt.Errorf("user '%s' scram[%d]: %w", uc.Username, i, err)
		}
		if _, dup := u.Scram[cred.Hash]; dup {
			return nil, fmt.Errorf("user '%s': two %s credentials", uc.Username, cred.Hash)
		}
		u.Scram[cred.Hash] = cred
	}
	return u, nil
}

// Replace swaps the whole user set. Nothing changes if any entry is invalid.
func (s *Store) Replace(users []config.UserConfig) error {
	parsed := make(map[string]*User, len(users))
	for _, uc := range users {
		u, err := ParseUser(uc)
		if err != nil {
			return err
		}
		parsed[u.Username] = u
	}

	s.mu.Lock()
	s.users = parsed
	s.mu.Unlock()

	s.logger.Info("msg", "User store loaded",
		"component", "credential",
		"users", len(parsed))
	return nil
}

// Add registers or replaces a single user.
func (s *Store) Add(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Username] = u
}

// Lookup returns the user record.
func (s *Store) Lookup(username string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	return u, ok
}

// IsAdmin reports whether username may act as any authorization identity.
func (s *Store) IsAdmin(username string) bool {
	u, ok := s.Lookup(username)
	return ok && u.Admin
}

// Len returns the number of users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Callback returns the property callback for a server session of the named
// mechanism. SCRAM sessions are served stored keys for the mechanism's hash;
// unknown users and missing verifiers are reported as absent.
func (s *Store) Callback(mechanism string) sasl.Callback {
	hash, isScram := scram.HashOf(mechanism)
	return func(p sasl.Property, known sasl.Lookup) ([]byte, bool, error) {
		if !isScram {
			return nil, false, nil
		}
		authid, ok := known.Get(sasl.AuthID)
		if !ok {
			return nil, false, nil
		}
		u, ok := s.Lookup(string(authid))
		if !ok {
			return nil, false, nil
		}
		cred, ok := u.Scram[hash.Name()]
		if !ok {
			return nil, false, nil
		}

		switch p {
		case sasl.ScramSalt:
			return cred.Salt, true, nil
		case sasl.ScramIterations:
			return []byte(strconv.Itoa(cred.Iterations)), true, nil
		case sasl.ScramStoredKey:
			return cred.StoredKey, true, nil
		case sasl.ScramServerKey:
			return cred.ServerKey, true, nil
		}
		return nil, false, nil
	}
}

var (
	dummyOnce sync.Once
	dummyHash string
	dummyErr  error

	// verifyHash is swapped out by tests to observe hash work.
	verifyHash = VerifyPassword
)

// decoyHash is an Argon2id hash of a random password with the parameters
// new users get.
func decoyHash() (string, error) {
	dummyOnce.Do(func() {
		secret := make([]byte, 32)
		if _, dummyErr = rand.Read(secret); dummyErr != nil {
			return
		}
		dummyHash, dummyErr = HashPassword(secret)
	})
	return dummyHash, dummyErr
}

// VerifyPassword checks a clear-text password for PLAIN and LOGIN. Users
// without a password hash are checked against their strongest SCRAM verifier.
// Unknown users cost the same Argon2id run as known ones.
func (s *Store) VerifyPassword(authcid string, password []byte) (bool, error) {
	u, ok := s.Lookup(authcid)
	if !ok {
		hash, err := decoyHash()
		if err != nil {
			return false, err
		}
		_, _ = verifyHash(hash, password)
		return false, nil
	}
	if u.PasswordHash != "" {
		return verifyHash(u.PasswordHash, password)
	}

	for _, hash := range []primitive.Provider{primitive.SHA512, primitive.SHA256, primitive.SHA1} {
		cred, ok := u.Scram[hash.Name()]
		if !ok {
			continue
		}
		prepared, err := stringprep.SASLprep.Prepare(string(password))
		if err != nil {
			return false, nil
		}
		derived := scram.DeriveCredential(hash, []byte(prepared), cred.Salt, cred.Iterations)
		return primitive.Equal(derived.StoredKey, cred.StoredKey), nil
	}
	return false, nil
}

// Generate derives every verifier for a new password: SCRAM credentials for
// all hash families and an Argon2id hash for PLAIN and LOGIN.
func Generate(username string, password []byte, iterations, saltLen int) (config.UserConfig, error) {
	prepared, err := stringprep.SASLprep.Prepare(string(password))
	if err != nil {
		return config.UserConfig{}, fmt.Errorf("password rejected by SASLprep: %w", err)
	}

	uc := config.UserConfig{Username: username}
	for _, hash := range []primitive.Provider{primitive.SHA1, primitive.SHA256, primitive.SHA512} {
		salt := make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return config.UserConfig{}, fmt.Errorf("failed to generate salt: %w", err)
		}
		uc.Scram = append(uc.Scram, scram.DeriveCredential(hash, []byte(prepared), salt, iterations).String())
	}

	if uc.PasswordHash, err = HashPassword(password); err != nil {
		return config.UserConfig{}, err
	}
	return uc, nil
}
