// FILE: src/internal/transport/helpers_test.go
package transport

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"saslwisp/src/internal/auth"
	"saslwisp/src/internal/config"
	"saslwisp/src/internal/credential"
	"saslwisp/src/internal/sasl"
	"saslwisp/src/internal/sasl/scram"
	"saslwisp/src/internal/session"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/require"
)

var (
	usersOnce sync.Once
	testUsers []config.UserConfig
)

func fixtureUsers() []config.UserConfig {
	usersOnce.Do(func() {
		alice, err := credential.Generate("alice", []byte("secret"), 4096, 16)
		if err != nil {
			panic(err)
		}
		root, err := credential.Generate("root", []byte("toor"), 4096, 16)
		if err != nil {
			panic(err)
		}
		root.Admin = true
		testUsers = []config.UserConfig{alice, root}
	})
	return testUsers
}

type testStack struct {
	cfg      *config.Config
	logger   *log.Logger
	auth     *auth.Authenticator
	sessions *session.Manager
}

func newTestStack(t *testing.T, modify func(*config.Config)) *testStack {
	t.Helper()
	cfg := config.Defaults()
	cfg.Token.Secret = strings.Repeat("k", 32)
	cfg.RateLimit.Enabled = false
	cfg.TCP.Host = "127.0.0.1"
	cfg.HTTP.Host = "127.0.0.1"
	if modify != nil {
		modify(cfg)
	}
	require.NoError(t, cfg.Validate())

	logger := log.NewLogger()
	store := credential.NewStore(logger)
	require.NoError(t, store.Replace(fixtureUsers()))

	a, err := auth.New(cfg, store, logger)
	require.NoError(t, err)
	sessions := session.NewManager(time.Hour)
	t.Cleanup(func() {
		sessions.Stop()
		a.Shutdown()
	})

	return &testStack{cfg: cfg, logger: logger, auth: a, sessions: sessions}
}

func clientRegistry(t *testing.T) *sasl.Registry {
	t.Helper()
	reg, err := auth.ClientRegistry(scram.DefaultPolicy())
	require.NoError(t, err)
	return reg
}

func credentials(user, password string) sasl.Callback {
	return sasl.StaticCallback(map[sasl.Property]string{
		sasl.AuthID:   user,
		sasl.Password: password,
	})
}

// freePort reserves an ephemeral port and releases it for the server under test.
func freePort(t *testing.T) int64 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return int64(port)
}
