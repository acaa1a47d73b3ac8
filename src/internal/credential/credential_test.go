// FILE: src/internal/credential/credential_test.go
package credential

import (
	"strings"
	"testing"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/primitive"
	"saslwisp/src/internal/sasl"
	"saslwisp/src/internal/sasl/scram"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

func TestArgon2RoundTrip(t *testing.T) {
	hash, err := HashPassword([]byte("pencil"))
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$m=65536,t=3,p=4$")

	ok, err := VerifyPassword(hash, []byte("pencil"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword(hash, []byte("crayon"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcryptRoundTrip(t *testing.T) {
	hash, err := HashBcrypt([]byte("pencil"), 4)
	require.NoError(t, err)

	ok, err := VerifyPassword(hash, []byte("pencil"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword(hash, []byte("crayon"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordRejectsBadHashes(t *testing.T) {
	_, err := VerifyPassword("$1$md5crypt", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedHash)

	for _, bad := range []string{
		"$argon2id$v=19$m=65536,t=3,p=4$c2FsdA",
		"$argon2id$v=18$m=65536,t=3,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=0,t=3,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=3,p=4$!!!$aGFzaA",
	} {
		_, err := VerifyPassword(bad, []byte("x"))
		assert.Error(t, err, bad)
	}
}

func TestGenerate(t *testing.T) {
	uc, err := Generate("user", []byte("pencil"), 4096, 16)
	require.NoError(t, err)
	assert.Equal(t, "user", uc.Username)
	require.Len(t, uc.Scram, 3)

	u, err := ParseUser(uc)
	require.NoError(t, err)
	for _, name := range []string{"SHA-1", "SHA-256", "SHA-512"} {
		cred, ok := u.Scram[name]
		require.True(t, ok, name)
		assert.Equal(t, 4096, cred.Iterations)
		assert.Len(t, cred.Salt, 16)
	}

	ok, err := VerifyPassword(uc.PasswordHash, []byte("pencil"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseUserRejectsDuplicateFamily(t *testing.T) {
	cred := scram.DeriveCredential(primitive.SHA256, []byte("pencil"), []byte("salt"), 4096).String()
	_, err := ParseUser(config.UserConfig{Username: "u", Scram: []string{cred, cred}})
	assert.Error(t, err)

	_, err = ParseUser(config.UserConfig{Username: "u", Scram: []string{"SCRAM-SHA-256$x"}})
	assert.Error(t, err)
}

func TestStoreReplaceIsAtomic(t *testing.T) {
	s := NewStore(newTestLogger())
	uc, err := Generate("alice", []byte("secret"), 4096, 16)
	require.NoError(t, err)
	require.NoError(t, s.Replace([]config.UserConfig{uc}))
	assert.Equal(t, 1, s.Len())

	err = s.Replace([]config.UserConfig{
		{Username: "bob", PasswordHash: "$argon2id$x"},
		{Username: "carol", Scram: []string{"SCRAM-MD5$1:AA==$AA==:AA=="}},
	})
	require.Error(t, err)
	_, ok := s.Lookup("alice")
	assert.True(t, ok, "failed replace must keep the previous set")
	assert.Equal(t, 1, s.Len())
}

func TestStoreCallback(t *testing.T) {
	s := NewStore(newTestLogger())
	uc, err := Generate("alice", []byte("secret"), 4096, 16)
	require.NoError(t, err)
	require.NoError(t, s.Replace([]config.UserConfig{uc}))
	u, _ := s.Lookup("alice")

	known := sasl.NewProperties(nil)
	known.SetString(sasl.AuthID, "alice")

	cb := s.Callback("SCRAM-SHA-256-PLUS")
	v, ok, err := cb(sasl.ScramStoredKey, known)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, u.Scram["SHA-256"].StoredKey, v)

	v, ok, err = cb(sasl.ScramIterations, known)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "4096", string(v))

	v, ok, _ = s.Callback("SCRAM-SHA-1")(sasl.ScramSalt, known)
	require.True(t, ok)
	assert.Equal(t, u.Scram["SHA-1"].Salt, v)

	_, ok, _ = cb(sasl.Password, known)
	assert.False(t, ok, "store never serves plaintext passwords")

	_, ok, _ = s.Callback("PLAIN")(sasl.ScramStoredKey, known)
	assert.False(t, ok)

	stranger := sasl.NewProperties(nil)
	stranger.SetString(sasl.AuthID, "mallory")
	_, ok, _ = cb(sasl.ScramStoredKey, stranger)
	assert.False(t, ok)
}

func TestStoreVerifyPassword(t *testing.T) {
	s := NewStore(newTestLogger())
	withHash, err := Generate("alice", []byte("secret"), 4096, 16)
	require.NoError(t, err)

	scramOnly := config.UserConfig{
		Username: "bob",
		Scram:    []string{scram.DeriveCredential(primitive.SHA256, []byte("hunter2"), []byte("saltsalt"), 4096).String()},
	}
	require.NoError(t, s.Replace([]config.UserConfig{withHash, scramOnly}))

	tests := []struct {
		user, password string
		want           bool
	}{
		{"alice", "secret", true},
		{"alice", "wrong", false},
		{"bob", "hunter2", true},
		{"bob", "hunter3", false},
		{"nobody", "secret", false},
	}
	for _, tt := range tests {
		ok, err := s.VerifyPassword(tt.user, []byte(tt.password))
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "%s/%s", tt.user, tt.password)
	}
}

func TestStoreVerifyUnknownUserHashes(t *testing.T) {
	s := NewStore(newTestLogger())
	alice, err := Generate("alice", []byte("secret"), 4096, 16)
	require.NoError(t, err)
	require.NoError(t, s.Replace([]config.UserConfig{alice}))

	var seen []string
	orig := verifyHash
	verifyHash = func(encoded string, password []byte) (bool, error) {
		seen = append(seen, encoded)
		return orig(encoded, password)
	}
	t.Cleanup(func() { verifyHash = orig })

	ok, err := s.VerifyPassword("alice", []byte("wrong"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.VerifyPassword("nobody", []byte("secret"))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.VerifyPassword("nobody", []byte("secret"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, seen, 3)
	params := func(encoded string) string {
		parts := strings.Split(encoded, "$")
		require.Len(t, parts, 6)
		return strings.Join(parts[:4], "$")
	}
	// Unknown users run an Argon2id verify with the parameters of real hashes
	assert.Equal(t, params(seen[0]), params(seen[1]))
	assert.NotEqual(t, seen[0], seen[1])
	assert.Equal(t, seen[1], seen[2])
}

func TestStoreAdmin(t *testing.T) {
	s := NewStore(newTestLogger())
	s.Add(&User{Username: "root", Admin: true})
	s.Add(&User{Username: "guest"})
	assert.True(t, s.IsAdmin("root"))
	assert.False(t, s.IsAdmin("guest"))
	assert.False(t, s.IsAdmin("nobody"))
}
