// FILE: src/internal/sasl/scram/scram_test.go
package scram

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"saslwisp/src/internal/primitive"
	"saslwisp/src/internal/sasl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rfc7677ClientFirst = "n,,n=user,r=rOprNGfwEbeRWgbNEkqO"
	rfc7677ServerFirst = "r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"
	rfc7677ClientFinal = "c=biws,r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,p=dHzbZapWIk4jUhN+Ute9ytag9zjfMHgsqmmiz7AndVQ="
	rfc7677ServerFinal = "v=6rriTRBi23WpRR/wtup+mMhUZUn/dB5nLTJRsjl95G4="

	rfc5802ClientFirst = "n,,n=user,r=fyko+d2lbbFgONRv9qkxdawL"
	rfc5802ServerFirst = "r=fyko+d2lbbFgONRv9qkxdawL3rfcNHYJY1ZVvWVs7j,s=QSXCR+Q6sek8bf92,i=4096"
	rfc5802ClientFinal = "c=biws,r=fyko+d2lbbFgONRv9qkxdawL3rfcNHYJY1ZVvWVs7j,p=v0X8v3Bz2T0CJGbJQyF0X+HI4Ts="
	rfc5802ServerFinal = "v=rmF9pqV8S7suAoZWja4dJRkFsKQ="
)

func fixedNonce(nonce string) func(int) (string, error) {
	return func(int) (string, error) { return nonce, nil }
}

func policyWithNonce(nonce string) *Policy {
	p := DefaultPolicy()
	p.Nonce = fixedNonce(nonce)
	return p
}

func mustB64(t *testing.T, s string) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	return b
}

func userCallback(user, password string) sasl.Callback {
	return sasl.StaticCallback(map[sasl.Property]string{
		sasl.AuthID:   user,
		sasl.Password: password,
	})
}

// exchange runs a client against a server until both finish or one fails.
func exchange(t *testing.T, c, s sasl.Authenticator, cp, sp *sasl.Properties) (clientErr, serverErr error) {
	t.Helper()
	msg, _, err := c.Step(cp, nil)
	if err != nil {
		return err, nil
	}
	for i := 0; i < 4; i++ {
		reply, sDone, err := s.Step(sp, msg)
		if err != nil {
			if len(reply) > 0 {
				_, _, cerr := c.Step(cp, reply)
				return cerr, err
			}
			return nil, err
		}
		out, cDone, err := c.Step(cp, reply)
		if err != nil {
			return err, nil
		}
		if sDone && cDone {
			return nil, nil
		}
		msg = out
	}
	t.Fatal("exchange did not converge")
	return nil, nil
}

func TestClientVectors(t *testing.T) {
	tests := []struct {
		name                                        string
		hash                                        primitive.Provider
		nonce                                       string
		clientFirst, serverFirst, clientFinal, final string
	}{
		{"SHA-1", primitive.SHA1, "fyko+d2lbbFgONRv9qkxdawL", rfc5802ClientFirst, rfc5802ServerFirst, rfc5802ClientFinal, rfc5802ServerFinal},
		{"SHA-256", primitive.SHA256, "rOprNGfwEbeRWgbNEkqO", rfc7677ClientFirst, rfc7677ServerFirst, rfc7677ClientFinal, rfc7677ServerFinal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(tt.hash, false, policyWithNonce(tt.nonce))
			props := sasl.NewProperties(userCallback("user", "pencil"))

			out, done, err := c.Step(props, nil)
			require.NoError(t, err)
			assert.False(t, done)
			assert.Equal(t, tt.clientFirst, string(out))

			out, done, err = c.Step(props, []byte(tt.serverFirst))
			require.NoError(t, err)
			assert.False(t, done)
			assert.Equal(t, tt.clientFinal, string(out))

			out, done, err = c.Step(props, []byte(tt.final))
			require.NoError(t, err)
			assert.True(t, done)
			assert.Empty(t, out)
		})
	}
}

func TestServerVectors(t *testing.T) {
	tests := []struct {
		name                                        string
		hash                                        primitive.Provider
		suffix                                      string
		salt                                        string
		clientFirst, serverFirst, clientFinal, final string
	}{
		{"SHA-1", primitive.SHA1, "3rfcNHYJY1ZVvWVs7j", "QSXCR+Q6sek8bf92", rfc5802ClientFirst, rfc5802ServerFirst, rfc5802ClientFinal, rfc5802ServerFinal},
		{"SHA-256", primitive.SHA256, "%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0", "W22ZaJ0SNY7soEsUEjb6gQ==", rfc7677ClientFirst, rfc7677ServerFirst, rfc7677ClientFinal, rfc7677ServerFinal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(tt.hash, false, policyWithNonce(tt.suffix))
			props := sasl.NewProperties(sasl.StaticCallback(map[sasl.Property]string{
				sasl.Password:        "pencil",
				sasl.ScramSalt:       string(mustB64(t, tt.salt)),
				sasl.ScramIterations: "4096",
			}))

			out, done, err := s.Step(props, []byte(tt.clientFirst))
			require.NoError(t, err)
			assert.False(t, done)
			assert.Equal(t, tt.serverFirst, string(out))

			authid, ok := props.Get(sasl.AuthID)
			require.True(t, ok)
			assert.Equal(t, "user", string(authid))

			out, done, err = s.Step(props, []byte(tt.clientFinal))
			require.NoError(t, err)
			assert.True(t, done)
			assert.Equal(t, tt.final, string(out))
		})
	}
}

func TestStoredKeyCredential(t *testing.T) {
	salt := mustB64(t, "W22ZaJ0SNY7soEsUEjb6gQ==")
	cred := DeriveCredential(primitive.SHA256, []byte("pencil"), salt, 4096)

	s := newServer(primitive.SHA256, false, policyWithNonce("%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0"))
	props := sasl.NewProperties(sasl.StaticCallback(map[sasl.Property]string{
		sasl.ScramSalt:       string(cred.Salt),
		sasl.ScramIterations: "4096",
		sasl.ScramStoredKey:  string(cred.StoredKey),
		sasl.ScramServerKey:  string(cred.ServerKey),
	}))

	out, _, err := s.Step(props, []byte(rfc7677ClientFirst))
	require.NoError(t, err)
	assert.Equal(t, rfc7677ServerFirst, string(out))

	out, done, err := s.Step(props, []byte(rfc7677ClientFinal))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, rfc7677ServerFinal, string(out))

	t.Run("string form", func(t *testing.T) {
		parsed, err := ParseCredential(cred.String())
		require.NoError(t, err)
		assert.Equal(t, cred, parsed)

		_, err = ParseCredential("SCRAM-MD5$1:AAAA$AAAA:AAAA")
		assert.Error(t, err)
		_, err = ParseCredential("argon2id$whatever")
		assert.Error(t, err)
	})
}

func TestRoundTrip(t *testing.T) {
	for _, hash := range []primitive.Provider{primitive.SHA1, primitive.SHA256, primitive.SHA512} {
		t.Run(hash.Name(), func(t *testing.T) {
			policy := DefaultPolicy()
			c := newClient(hash, false, policy)
			s := newServer(hash, false, policy)
			cp := sasl.NewProperties(userCallback("alice", "correct horse"))
			sp := sasl.NewProperties(sasl.StaticCallback(map[sasl.Property]string{sasl.Password: "correct horse"}))

			cerr, serr := exchange(t, c, s, cp, sp)
			require.NoError(t, cerr)
			require.NoError(t, serr)
			assert.NotEmpty(t, c.authMessage)
			assert.Equal(t, c.authMessage, s.authMessage)
		})
	}
}

func TestRoundTripEscapedNames(t *testing.T) {
	policy := DefaultPolicy()
	c := newClient(primitive.SHA256, false, policy)
	s := newServer(primitive.SHA256, false, policy)
	cp := sasl.NewProperties(sasl.StaticCallback(map[sasl.Property]string{
		sasl.AuthID:   "we,ird=user",
		sasl.AuthzID:  "admin=root,x",
		sasl.Password: "pw",
	}))
	sp := sasl.NewProperties(sasl.StaticCallback(map[sasl.Property]string{sasl.Password: "pw"}))

	first, _, err := c.Step(cp, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(first), "n,a=admin=3Droot=2Cx,n=we=2Cird=3Duser,r="))

	reply, _, err := s.Step(sp, first)
	require.NoError(t, err)
	final, _, err := c.Step(cp, reply)
	require.NoError(t, err)
	verifier, done, err := s.Step(sp, final)
	require.NoError(t, err)
	assert.True(t, done)
	_, done, err = c.Step(cp, verifier)
	require.NoError(t, err)
	assert.True(t, done)

	authid, _ := sp.Get(sasl.AuthID)
	authzid, _ := sp.Get(sasl.AuthzID)
	assert.Equal(t, "we,ird=user", string(authid))
	assert.Equal(t, "admin=root,x", string(authzid))
}

func TestWrongPassword(t *testing.T) {
	policy := DefaultPolicy()
	c := newClient(primitive.SHA256, false, policy)
	s := newServer(primitive.SHA256, false, policy)
	cp := sasl.NewProperties(userCallback("alice", "wrong"))
	sp := sasl.NewProperties(sasl.StaticCallback(map[sasl.Property]string{sasl.Password: "right"}))

	cerr, serr := exchange(t, c, s, cp, sp)
	assert.ErrorIs(t, serr, sasl.ErrProofInvalid)
	assert.ErrorIs(t, cerr, sasl.ErrProofInvalid)
}

func TestTamperedProof(t *testing.T) {
	s := newServer(primitive.SHA256, false, policyWithNonce("%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0"))
	props := sasl.NewProperties(sasl.StaticCallback(map[sasl.Property]string{
		sasl.Password:        "pencil",
		sasl.ScramSalt:       string(mustB64(t, "W22ZaJ0SNY7soEsUEjb6gQ==")),
		sasl.ScramIterations: "4096",
	}))
	_, _, err := s.Step(props, []byte(rfc7677ClientFirst))
	require.NoError(t, err)

	proof := mustB64(t, strings.TrimPrefix(rfc7677ClientFinal[strings.LastIndex(rfc7677ClientFinal, ",p=")+1:], "p="))
	proof[0] ^= 0x01
	tampered := rfc7677ClientFinal[:strings.LastIndex(rfc7677ClientFinal, ",p=")] + ",p=" + base64.StdEncoding.EncodeToString(proof)

	out, _, err := s.Step(props, []byte(tampered))
	assert.ErrorIs(t, err, sasl.ErrProofInvalid)
	assert.Equal(t, "e=invalid-proof", string(out))
}

func TestTamperedServerSignature(t *testing.T) {
	c := newClient(primitive.SHA256, false, policyWithNonce("rOprNGfwEbeRWgbNEkqO"))
	props := sasl.NewProperties(userCallback("user", "pencil"))
	_, _, err := c.Step(props, nil)
	require.NoError(t, err)
	_, _, err = c.Step(props, []byte(rfc7677ServerFirst))
	require.NoError(t, err)

	v := mustB64(t, strings.TrimPrefix(rfc7677ServerFinal, "v="))
	v[len(v)-1] ^= 0x80
	_, done, err := c.Step(props, []byte("v="+base64.StdEncoding.EncodeToString(v)))
	assert.False(t, done)
	assert.ErrorIs(t, err, sasl.ErrServerAuthentication)
}

func TestNonceCheckedBeforeKDF(t *testing.T) {
	tests := []struct {
		name        string
		serverFirst string
	}{
		{"not extended", "r=rOprNGfwEbeRWgbNEkqO,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"},
		{"truncated", "r=rOprNGfwEbeRWgbNEk,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"},
		{"different prefix", "r=XOprNGfwEbeRWgbNEkqOabc,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"},
		{"empty", "r=,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asked := 0
			cb := func(p sasl.Property, _ sasl.Lookup) ([]byte, bool, error) {
				switch p {
				case sasl.AuthID:
					return []byte("user"), true, nil
				case sasl.Password, sasl.ScramSaltedPassword:
					asked++
					return []byte("pencil"), true, nil
				}
				return nil, false, nil
			}
			c := newClient(primitive.SHA256, false, policyWithNonce("rOprNGfwEbeRWgbNEkqO"))
			props := sasl.NewProperties(cb)
			_, _, err := c.Step(props, nil)
			require.NoError(t, err)

			_, _, err = c.Step(props, []byte(tt.serverFirst))
			assert.ErrorIs(t, err, sasl.ErrNonceMismatch)
			assert.Zero(t, asked)
		})
	}
}

func TestServerNonceMismatch(t *testing.T) {
	s := newServer(primitive.SHA256, false, policyWithNonce("%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0"))
	props := sasl.NewProperties(sasl.StaticCallback(map[sasl.Property]string{sasl.Password: "pencil"}))
	_, _, err := s.Step(props, []byte(rfc7677ClientFirst))
	require.NoError(t, err)

	out, _, err := s.Step(props, []byte("c=biws,r=rOprNGfwEbeRWgbNEkqO,p=dHzbZapWIk4jUhN+Ute9ytag9zjfMHgsqmmiz7AndVQ="))
	assert.ErrorIs(t, err, sasl.ErrNonceMismatch)
	assert.Equal(t, "e=other-error", string(out))
}

func TestIterationFloor(t *testing.T) {
	tests := []struct {
		name       string
		iterations string
		min        int
		wantErr    bool
	}{
		{"at floor", "4096", 4096, false},
		{"below floor", "4095", 4096, true},
		{"zero", "0", 1, true},
		{"negative", "-1", 1, true},
		{"padded", "04096", 1, true},
		{"not a number", "many", 1, true},
		{"overflow", "99999999999999999999999", 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultPolicy()
			policy.MinIterations = tt.min
			_, err := ParseServerFirst("r=abcdef,s=W22ZaJ0SNY7soEsUEjb6gQ==,i="+tt.iterations, policy)
			if tt.wantErr {
				assert.ErrorIs(t, err, sasl.ErrMalformedMessage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExtensions(t *testing.T) {
	t.Run("unknown trailing attribute is ignored", func(t *testing.T) {
		sf, err := ParseServerFirst("r=abcdef,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096,x=whatever", DefaultPolicy())
		require.NoError(t, err)
		assert.Equal(t, 4096, sf.Iterations)

		cf, err := ParseClientFirst("n,,n=user,r=abc,z=1", DefaultPolicy())
		require.NoError(t, err)
		assert.Equal(t, "n=user,r=abc,z=1", cf.Bare())
	})

	t.Run("mandatory extension is rejected", func(t *testing.T) {
		_, err := ParseClientFirst("n,,m=ext,n=user,r=abc", DefaultPolicy())
		assert.ErrorIs(t, err, sasl.ErrMalformedMessage)
		assert.True(t, errors.Is(err, errExtension))

		_, err = ParseServerFirst("r=abcdef,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096,m=x", DefaultPolicy())
		assert.ErrorIs(t, err, sasl.ErrMalformedMessage)
	})

	t.Run("restricted extension set", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.ExtensionAttrs = "x"
		require.NoError(t, policy.Validate())

		_, err := ParseServerFirst("r=abcdef,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096,x=1", policy)
		assert.NoError(t, err)
		_, err = ParseServerFirst("r=abcdef,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096,y=1", policy)
		assert.ErrorIs(t, err, sasl.ErrMalformedMessage)
	})

	t.Run("server reports unsupported extension", func(t *testing.T) {
		s := newServer(primitive.SHA256, false, DefaultPolicy())
		props := sasl.NewProperties(sasl.StaticCallback(map[sasl.Property]string{sasl.Password: "pencil"}))
		out, _, err := s.Step(props, []byte("n,,m=ext,n=user,r=abc"))
		assert.ErrorIs(t, err, sasl.ErrMalformedMessage)
		assert.Equal(t, "e=extensions-not-supported", string(out))
	})
}

func TestMalformedMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"empty", ""},
		{"bad flag", "x,,n=user,r=abc"},
		{"missing nonce", "n,,n=user"},
		{"order swapped", "n,,r=abc,n=user"},
		{"bad authzid", "n,b=admin,n=user,r=abc"},
		{"bad escape", "n,,n=us=2Xer,r=abc"},
		{"empty username", "n,,n=,r=abc"},
		{"bad cb name", "p=tls_unique!,,n=user,r=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(primitive.SHA256, false, DefaultPolicy())
			props := sasl.NewProperties(nil)
			out, _, err := s.Step(props, []byte(tt.msg))
			assert.ErrorIs(t, err, sasl.ErrMalformedMessage)
			assert.Equal(t, "e=invalid-encoding", string(out))
		})
	}

	t.Run("non canonical base64 proof", func(t *testing.T) {
		_, err := ParseClientFinal("c=biws,r=abc,p=dHzbZapWIk4jUhN+Ute9ytag9zjfMHgsqmmiz7AndVQ", DefaultPolicy())
		assert.ErrorIs(t, err, sasl.ErrMalformedMessage)
	})
}

func TestServerErrorMapping(t *testing.T) {
	tests := []struct {
		value string
		class error
	}{
		{"invalid-proof", sasl.ErrProofInvalid},
		{"unknown-user", sasl.ErrProofInvalid},
		{"other-error", sasl.ErrProofInvalid},
		{"channel-bindings-dont-match", sasl.ErrChannelBinding},
		{"server-does-support-channel-binding", sasl.ErrChannelBinding},
		{"invalid-encoding", sasl.ErrMalformedMessage},
		{"extensions-not-supported", sasl.ErrMalformedMessage},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			c := newClient(primitive.SHA256, false, policyWithNonce("rOprNGfwEbeRWgbNEkqO"))
			props := sasl.NewProperties(userCallback("user", "pencil"))
			_, _, err := c.Step(props, nil)
			require.NoError(t, err)
			_, _, err = c.Step(props, []byte(rfc7677ServerFirst))
			require.NoError(t, err)

			_, _, err = c.Step(props, []byte("e="+tt.value))
			assert.ErrorIs(t, err, tt.class)
		})
	}
}

func TestUnknownUser(t *testing.T) {
	noUser := func(p sasl.Property, _ sasl.Lookup) ([]byte, bool, error) { return nil, false, nil }

	t.Run("masked", func(t *testing.T) {
		policy := DefaultPolicy()
		c := newClient(primitive.SHA256, false, policy)
		s := newServer(primitive.SHA256, false, policy)
		cp := sasl.NewProperties(userCallback("ghost", "boo"))
		sp := sasl.NewProperties(noUser)

		first, _, err := c.Step(cp, nil)
		require.NoError(t, err)
		challenge, _, err := s.Step(sp, first)
		require.NoError(t, err)
		assert.Contains(t, string(challenge), ",i=4096")

		final, _, err := c.Step(cp, challenge)
		require.NoError(t, err)
		out, _, err := s.Step(sp, final)
		assert.ErrorIs(t, err, sasl.ErrProofInvalid)
		assert.Equal(t, "e=invalid-proof", string(out))
	})

	t.Run("decoy matches a real user across attempts", func(t *testing.T) {
		policy := DefaultPolicy()
		serverFirst := func(user string, cb sasl.Callback) *ServerFirst {
			s := newServer(primitive.SHA256, false, policy)
			out, _, err := s.Step(sasl.NewProperties(cb), []byte("n,,n="+user+",r=abcdefgh"))
			require.NoError(t, err)
			sf, err := ParseServerFirst(string(out), policy)
			require.NoError(t, err)
			return sf
		}

		stored := DeriveCredential(primitive.SHA256, []byte("pencil"), mustB64(t, "W22ZaJ0SNY7soEsUEjb6gQ=="), 4096)
		known := sasl.StaticCallback(map[sasl.Property]string{
			sasl.ScramSalt:       string(stored.Salt),
			sasl.ScramIterations: "4096",
			sasl.ScramStoredKey:  string(stored.StoredKey),
			sasl.ScramServerKey:  string(stored.ServerKey),
		})
		k1, k2 := serverFirst("user", known), serverFirst("user", known)
		assert.Equal(t, k1.Salt, k2.Salt)

		g1, g2 := serverFirst("ghost", noUser), serverFirst("ghost", noUser)
		assert.Equal(t, g1.Salt, g2.Salt)
		assert.Len(t, g1.Salt, policy.SaltLen)
		assert.Equal(t, k1.Iterations, g1.Iterations)
		assert.NotEqual(t, g1.Salt, serverFirst("phantom", noUser).Salt)

		// A different key gives different decoys
		other := DefaultPolicy()
		other.DecoyKey = []byte("another process")
		salt, err := other.decoySalt("ghost")
		require.NoError(t, err)
		assert.NotEqual(t, g1.Salt, salt)

		other.SaltLen = 40
		long, err := other.decoySalt("ghost")
		require.NoError(t, err)
		assert.Len(t, long, 40)
		assert.Equal(t, salt, long[:len(salt)])
	})

	t.Run("unmasked", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.MaskUnknownUsers = false
		s := newServer(primitive.SHA256, false, policy)
		out, _, err := s.Step(sasl.NewProperties(noUser), []byte(rfc7677ClientFirst))
		assert.ErrorIs(t, err, sasl.ErrMissingProperty)
		assert.Equal(t, "e=unknown-user", string(out))
	})
}

func TestChannelBinding(t *testing.T) {
	allBytes := make([]byte, 256)
	for i := range allBytes {
		allBytes[i] = byte(i)
	}

	plusProps := func(data []byte) *sasl.Properties {
		p := sasl.NewProperties(userCallback("user", "pencil"))
		p.Set(sasl.ChannelBindingData, data)
		return p
	}
	serverProps := func(data []byte) *sasl.Properties {
		p := sasl.NewProperties(sasl.StaticCallback(map[sasl.Property]string{sasl.Password: "pencil"}))
		if data != nil {
			p.Set(sasl.ChannelBindingData, data)
		}
		return p
	}

	t.Run("PLUS with every byte value", func(t *testing.T) {
		policy := DefaultPolicy()
		c := newClient(primitive.SHA256, true, policy)
		s := newServer(primitive.SHA256, true, policy)
		sp := serverProps(allBytes)

		cerr, serr := exchange(t, c, s, plusProps(allBytes), sp)
		require.NoError(t, cerr)
		require.NoError(t, serr)
		name, _ := sp.Get(sasl.ChannelBindingName)
		assert.Equal(t, DefaultCBName, string(name))
	})

	t.Run("PLUS data mismatch", func(t *testing.T) {
		policy := DefaultPolicy()
		c := newClient(primitive.SHA256, true, policy)
		s := newServer(primitive.SHA256, true, policy)
		cerr, serr := exchange(t, c, s, plusProps([]byte("client view")), serverProps([]byte("server view")))
		assert.ErrorIs(t, serr, sasl.ErrChannelBinding)
		assert.ErrorIs(t, cerr, sasl.ErrChannelBinding)
	})

	t.Run("PLUS server rejects unbound client", func(t *testing.T) {
		s := newServer(primitive.SHA256, true, DefaultPolicy())
		out, _, err := s.Step(serverProps([]byte("x")), []byte(rfc7677ClientFirst))
		assert.ErrorIs(t, err, sasl.ErrChannelBinding)
		assert.Equal(t, "e=channel-binding-not-supported", string(out))
	})

	t.Run("downgrade detected", func(t *testing.T) {
		policy := DefaultPolicy()
		c := newClient(primitive.SHA256, false, policy)
		s := newServer(primitive.SHA256, false, policy)
		cp := plusProps([]byte("binding"))
		first, _, err := c.Step(cp, nil)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(first), "y,,"))

		out, _, err := s.Step(serverProps([]byte("binding")), first)
		assert.ErrorIs(t, err, sasl.ErrChannelBinding)
		assert.Equal(t, "e=server-does-support-channel-binding", string(out))
	})

	t.Run("y accepted without server binding", func(t *testing.T) {
		policy := DefaultPolicy()
		c := newClient(primitive.SHA256, false, policy)
		s := newServer(primitive.SHA256, false, policy)
		cerr, serr := exchange(t, c, s, plusProps([]byte("binding")), serverProps(nil))
		require.NoError(t, cerr)
		require.NoError(t, serr)
	})

	t.Run("non-PLUS server rejects p", func(t *testing.T) {
		s := newServer(primitive.SHA256, false, DefaultPolicy())
		out, _, err := s.Step(serverProps(nil), []byte("p=tls-exporter,,n=user,r=abc"))
		assert.ErrorIs(t, err, sasl.ErrChannelBinding)
		assert.Equal(t, "e=channel-binding-not-supported", string(out))
	})

	t.Run("PLUS client without data", func(t *testing.T) {
		c := newClient(primitive.SHA256, true, DefaultPolicy())
		_, _, err := c.Step(sasl.NewProperties(userCallback("user", "pencil")), nil)
		assert.ErrorIs(t, err, sasl.ErrMissingProperty)
	})
}

func TestNoncePolicy(t *testing.T) {
	t.Run("generator output with comma panics", func(t *testing.T) {
		c := newClient(primitive.SHA256, false, policyWithNonce("abc,def"))
		assert.Panics(t, func() {
			_, _, _ = c.Step(sasl.NewProperties(userCallback("user", "pencil")), nil)
		})
	})

	t.Run("received nonce with comma is malformed", func(t *testing.T) {
		_, err := ParseClientFinal("c=biws,r=ab,cd,p=AAAA", DefaultPolicy())
		assert.ErrorIs(t, err, sasl.ErrMalformedMessage)
	})

	t.Run("random nonces differ", func(t *testing.T) {
		p := DefaultPolicy()
		a, err := p.nonce()
		require.NoError(t, err)
		b, err := p.nonce()
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
		assert.True(t, validNonce(a))
	})
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MinIterations = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.ExtensionAttrs = "r"
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.DefaultIterations = 100
	assert.Error(t, p.Validate())
}

func TestEscapeName(t *testing.T) {
	tests := []struct {
		raw, escaped string
	}{
		{"user", "user"},
		{"a,b", "a=2Cb"},
		{"a=b", "a=3Db"},
		{"=,=", "=3D=2C=3D"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.escaped, EscapeName(tt.raw))
			got, err := UnescapeName(tt.escaped)
			require.NoError(t, err)
			assert.Equal(t, tt.raw, got)
		})
	}

	for _, bad := range []string{"a,b", "a=", "a=2", "a=2c", "a=41"} {
		_, err := UnescapeName(bad)
		assert.ErrorIs(t, err, sasl.ErrMalformedMessage, bad)
	}
}

func TestMechanismDescriptors(t *testing.T) {
	mechs := Mechanisms(nil)
	require.Len(t, mechs, 6)

	names := make([]string, len(mechs))
	for i, m := range mechs {
		names[i] = m.Name
		assert.True(t, m.ClientFirst)
		assert.True(t, m.MutualAuth)
		assert.Equal(t, strings.HasSuffix(m.Name, "-PLUS"), m.ChannelBinding)
		assert.NoError(t, sasl.ValidateName(m.Name))
	}
	assert.Equal(t, []string{
		"SCRAM-SHA-1", "SCRAM-SHA-1-PLUS",
		"SCRAM-SHA-256", "SCRAM-SHA-256-PLUS",
		"SCRAM-SHA-512", "SCRAM-SHA-512-PLUS",
	}, names)
}
