// FILE: src/internal/transport/tcp_test.go
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/sasl"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTCP(t *testing.T, modify func(*config.Config)) (*testStack, *TCPServer, string) {
	t.Helper()
	port := freePort(t)
	stack := newTestStack(t, func(c *config.Config) {
		c.TCP.Port = port
		if modify != nil {
			modify(c)
		}
	})

	srv := NewTCPServer(stack.cfg.TCP, stack.auth, stack.sessions, stack.logger)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return stack, srv, fmt.Sprintf("127.0.0.1:%d", port)
}

func dialTCP(t *testing.T, addr string) *TCPClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr, clientRegistry(t), 5*time.Second, log.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTCPNegotiatedLogin(t *testing.T) {
	stack, srv, addr := startTCP(t, nil)
	c := dialTCP(t, addr)

	assert.Equal(t, stack.auth.Mechanisms(), c.Mechanisms())

	res, err := c.Authenticate(context.Background(), "", credentials("alice", "secret"))
	require.NoError(t, err)
	assert.Equal(t, "SCRAM-SHA-512", res.Mechanism)

	claims, err := stack.auth.VerifyToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)

	cid, zid, err := c.Whoami()
	require.NoError(t, err)
	assert.Equal(t, "alice", cid)
	assert.Empty(t, zid)

	assert.Equal(t, 1, stack.sessions.GetSessionCount())
	assert.Equal(t, int64(1), srv.GetStats()["active_connections"])
}

func TestTCPEachMechanism(t *testing.T) {
	_, _, addr := startTCP(t, nil)

	for _, mech := range []string{"SCRAM-SHA-1", "SCRAM-SHA-256", "SCRAM-SHA-512", "PLAIN", "LOGIN"} {
		t.Run(mech, func(t *testing.T) {
			c := dialTCP(t, addr)
			res, err := c.Authenticate(context.Background(), mech, credentials("alice", "secret"))
			require.NoError(t, err)
			assert.Equal(t, mech, res.Mechanism)
			assert.NotEmpty(t, res.Token)
		})
	}
}

func TestTCPWrongPassword(t *testing.T) {
	_, _, addr := startTCP(t, nil)
	c := dialTCP(t, addr)

	_, err := c.Authenticate(context.Background(), "SCRAM-SHA-256", credentials("alice", "guess"))
	require.Error(t, err)

	var serr *ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "authentication-failed", serr.Reason)
	assert.ErrorIs(t, err, sasl.ErrProofInvalid)

	// The connection survives a failed exchange
	res, err := c.Authenticate(context.Background(), "SCRAM-SHA-256", credentials("alice", "secret"))
	require.NoError(t, err)
	assert.Equal(t, "SCRAM-SHA-256", res.Mechanism)
}

func TestTCPWhoamiBeforeLogin(t *testing.T) {
	_, _, addr := startTCP(t, nil)
	c := dialTCP(t, addr)

	_, _, err := c.Whoami()
	var serr *ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "not-authenticated", serr.Reason)
}

func TestTCPRawProtocol(t *testing.T) {
	_, _, addr := startTCP(t, func(c *config.Config) {
		c.TCP.MaxLineBytes = 512
	})

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	expect := func(prefix string) string {
		t.Helper()
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(line, prefix), "got %q, want prefix %q", line, prefix)
		return line
	}

	expect("MECHS ")

	fmt.Fprint(conn, "HELLO\n")
	expect("FAIL unknown-command")

	fmt.Fprint(conn, "RESP =\n")
	expect("FAIL invalid-state")

	fmt.Fprint(conn, "AUTH CRAM-MD5\n")
	expect("FAIL unknown-mechanism")

	fmt.Fprint(conn, "AUTH PLAIN !!!\n")
	expect("FAIL malformed-message")

	// LOGIN with no initial response gets a challenge, then cancels
	fmt.Fprint(conn, "AUTH LOGIN\n")
	expect("CHAL ")
	fmt.Fprint(conn, "CANCEL\n")
	expect("FAIL cancelled")

	// PLAIN in one round trip
	fmt.Fprintf(conn, "AUTH PLAIN %s\n", EncodeData([]byte("\x00alice\x00secret")))
	expect("OK = ")

	fmt.Fprint(conn, "AUTH PLAIN =\n")
	expect("FAIL invalid-state")

	fmt.Fprintf(conn, "%s\n", strings.Repeat("A", 1024))
	expect("FAIL line-too-long")
	_, err = r.ReadString('\n')
	assert.Error(t, err, "server closes after an oversized line")
}

func TestTCPRateLimitClosesConnection(t *testing.T) {
	_, _, addr := startTCP(t, func(c *config.Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.Burst = 1
		c.RateLimit.AttemptsPerMinute = 1
	})
	c := dialTCP(t, addr)

	_, err := c.Authenticate(context.Background(), "PLAIN", credentials("alice", "guess"))
	require.Error(t, err)

	_, err = c.Authenticate(context.Background(), "PLAIN", credentials("alice", "secret"))
	var serr *ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "rate-limited", serr.Reason)
}

func TestTCPHandshakeTimeout(t *testing.T) {
	_, _, addr := startTCP(t, func(c *config.Config) {
		c.TCP.HandshakeTimeoutSec = 1
	})

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "MECHS"))

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "FAIL timeout\n", line)

	_, err = r.ReadString('\n')
	assert.Error(t, err)
}

func TestTCPCloseRemovesSession(t *testing.T) {
	stack, _, addr := startTCP(t, nil)
	c := dialTCP(t, addr)

	_, err := c.Authenticate(context.Background(), "PLAIN", credentials("alice", "secret"))
	require.NoError(t, err)
	require.Equal(t, 1, stack.sessions.GetSessionCount())

	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool {
		return stack.sessions.GetSessionCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}
