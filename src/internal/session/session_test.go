// FILE: src/internal/session/session_test.go
package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"saslwisp/src/internal/auth"
	"saslwisp/src/internal/config"
	"saslwisp/src/internal/credential"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthenticator(t *testing.T) *auth.Authenticator {
	t.Helper()
	cfg := config.Defaults()
	cfg.Token.Secret = strings.Repeat("k", 32)
	cfg.RateLimit.Enabled = false
	require.NoError(t, cfg.Validate())

	logger := log.NewLogger()
	a, err := auth.New(cfg, credential.NewStore(logger), logger)
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)
	return a
}

func newManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	m := NewManager(10 * time.Minute)
	t.Cleanup(m.Stop)
	now := time.Now()
	m.now = func() time.Time { return now }
	return m, &now
}

func TestTakeParkComplete(t *testing.T) {
	a := newAuthenticator(t)
	m, _ := newManager(t)

	ex, err := a.Begin("SCRAM-SHA-256", "192.0.2.1:1")
	require.NoError(t, err)
	s := m.Begin("192.0.2.1:1", SourceHTTP, ex)
	assert.Equal(t, 1, m.GetSessionCount())

	taken, ok := m.Take(s.ID)
	require.True(t, ok)
	assert.Same(t, s, taken)

	_, ok = m.Take(s.ID)
	assert.False(t, ok, "a taken session is owned by one caller")

	m.Park(taken)
	taken, ok = m.Take(s.ID)
	require.True(t, ok)

	m.Complete(taken, &auth.Identity{AuthID: "alice"})
	got, ok := m.GetSession(s.ID)
	require.True(t, ok)
	assert.True(t, got.Authenticated())
	assert.Nil(t, got.Exchange)

	_, ok = m.Take(s.ID)
	assert.False(t, ok, "authenticated sessions have no exchange to continue")

	stats := m.GetStats()
	assert.Equal(t, 1, stats["authenticated"])
	assert.Equal(t, 0, stats["pending"])
}

func TestTakeExpiredExchange(t *testing.T) {
	a := newAuthenticator(t)
	m, now := newManager(t)

	ex, err := a.Begin("PLAIN", "192.0.2.1:1")
	require.NoError(t, err)
	s := m.Begin("192.0.2.1:1", SourceHTTP, ex)

	*now = now.Add(a.Timeout() + time.Second)
	_, ok := m.Take(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.GetSessionCount())
	assert.Equal(t, int64(0), a.GetStats()["active_exchanges"])
}

func TestCleanupExpiresAndNotifies(t *testing.T) {
	a := newAuthenticator(t)
	m, now := newManager(t)

	var mu sync.Mutex
	expired := make(map[string]bool)
	done := make(chan struct{}, 2)
	m.RegisterExpiryCallback(SourceTCP, func(id, remoteAddr string) {
		mu.Lock()
		expired[id] = true
		mu.Unlock()
		done <- struct{}{}
	})

	ex, err := a.Begin("PLAIN", "192.0.2.1:1")
	require.NoError(t, err)
	pending := m.Begin("192.0.2.1:1", SourceHTTP, ex)
	idle := m.Register("192.0.2.2:1", SourceTCP, &auth.Identity{AuthID: "bob"})

	*now = now.Add(5 * time.Minute)
	fresh := m.Register("192.0.2.3:1", SourceTCP, &auth.Identity{AuthID: "carol"})

	*now = now.Add(6 * time.Minute)
	m.cleanupExpiredSessions()

	_, ok := m.GetSession(pending.ID)
	assert.False(t, ok, "pending exchange past its deadline")
	_, ok = m.GetSession(idle.ID)
	assert.False(t, ok, "idle authenticated session")
	_, ok = m.GetSession(fresh.ID)
	assert.True(t, ok)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry callback not called")
	}
	mu.Lock()
	assert.True(t, expired[idle.ID])
	mu.Unlock()
}

func TestTouch(t *testing.T) {
	m, now := newManager(t)
	s := m.Register("192.0.2.2:1", SourceTCP, &auth.Identity{AuthID: "bob"})

	*now = now.Add(9 * time.Minute)
	assert.True(t, m.Touch(s.ID))
	*now = now.Add(9 * time.Minute)
	assert.True(t, m.Touch(s.ID), "touch extends the idle window")
	*now = now.Add(11 * time.Minute)
	assert.False(t, m.Touch(s.ID))
	assert.False(t, m.Touch("unknown"))
}

func TestRemoveAndBySource(t *testing.T) {
	m, _ := newManager(t)
	a := m.Register("192.0.2.2:1", SourceTCP, &auth.Identity{AuthID: "a"})
	m.Register("192.0.2.3:1", SourceHTTP, &auth.Identity{AuthID: "b"})

	assert.Len(t, m.GetSessionsBySource(SourceTCP), 1)
	m.RemoveSession(a.ID)
	assert.Empty(t, m.GetSessionsBySource(SourceTCP))
	assert.Equal(t, 1, m.GetSessionCount())

	m.Stop()
	assert.Equal(t, 0, m.GetSessionCount())
}

func TestSessionIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := generateSessionID()
		require.False(t, seen[id])
		seen[id] = true
	}
}
