// FILE: src/internal/auth/audit_test.go
package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/core"
	"saslwisp/src/internal/format"
	"saslwisp/src/internal/sasl"

	jsoniter "github.com/json-iterator/go"
	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is a bytes.Buffer safe for the auditor's writes and test reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimRight(b.buf.String(), "\n"), "\n")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func attachAuditor(t *testing.T, a *Authenticator) *lockedBuffer {
	t.Helper()
	buf := &lockedBuffer{}
	f, err := format.NewJSONFormatter(&config.AuditConfig{Format: "json"}, log.NewLogger())
	require.NoError(t, err)
	a.SetAuditor(NewWriterAuditor(buf, f, log.NewLogger()))
	return buf
}

func decodeRecord(t *testing.T, line string) map[string]string {
	t.Helper()
	var rec map[string]string
	require.NoError(t, jsoniter.Unmarshal([]byte(line), &rec))
	return rec
}

func TestAuditRecordsSuccessAndFailure(t *testing.T) {
	a := newTestAuthenticator(t, nil)
	buf := attachAuditor(t, a)

	_, _, err := runExchange(t, a, clientSession(t, "SCRAM-SHA-256", map[sasl.Property]string{
		sasl.AuthID: "alice", sasl.Password: "secret",
	}))
	require.NoError(t, err)

	_, _, err = runExchange(t, a, clientSession(t, "PLAIN", map[sasl.Property]string{
		sasl.AuthID: "alice", sasl.Password: "wrong",
	}))
	require.Error(t, err)

	lines := buf.Lines()
	require.Len(t, lines, 2)

	ok := decodeRecord(t, lines[0])
	assert.Equal(t, core.OutcomeSuccess, ok["outcome"])
	assert.Equal(t, "SCRAM-SHA-256", ok["mechanism"])
	assert.Equal(t, "alice", ok["authcid"])
	assert.Equal(t, "192.0.2.1:5000", ok["remote_addr"])
	assert.Empty(t, ok["reason"])

	failed := decodeRecord(t, lines[1])
	assert.Equal(t, core.OutcomeFailure, failed["outcome"])
	assert.Equal(t, "PLAIN", failed["mechanism"])
	assert.Equal(t, "authentication-failed", failed["reason"])

	stats := a.GetStats()["audit"].(map[string]any)
	assert.Equal(t, uint64(2), stats["written"])
}

func TestAuditRecordsTransport(t *testing.T) {
	a := newTestAuthenticator(t, nil)
	buf := attachAuditor(t, a)

	ex, err := a.Begin("LOGIN", "192.0.2.3:1")
	require.NoError(t, err)
	ex.SetTransport("tcp")
	require.ErrorIs(t, ex.Cancel(), sasl.ErrAuthenticationCancelled)

	rec := decodeRecord(t, buf.Lines()[0])
	assert.Equal(t, "tcp", rec["transport"])
	assert.Equal(t, "cancelled", rec["reason"])
}

func TestFinishedExchangeIsNotChargedTwice(t *testing.T) {
	a := newTestAuthenticator(t, nil)
	buf := attachAuditor(t, a)

	ex, err := a.Begin("PLAIN", "192.0.2.4:1")
	require.NoError(t, err)
	_, _, err = ex.Step([]byte("\x00alice\x00wrong"))
	require.ErrorIs(t, err, sasl.ErrProofInvalid)

	_, _, err = ex.Step([]byte("\x00alice\x00secret"))
	assert.ErrorIs(t, err, sasl.ErrInvalidState)
	assert.ErrorIs(t, ex.Cancel(), sasl.ErrInvalidState)

	assert.Len(t, buf.Lines(), 1)
	stats := a.GetStats()
	assert.Equal(t, uint64(1), stats["failures"])
	assert.Equal(t, uint64(0), stats["successes"])
	assert.Equal(t, int64(0), stats["active_exchanges"])
}

func TestAuditWriteErrorsAreCounted(t *testing.T) {
	f, err := format.New(&config.AuditConfig{Format: "raw"}, log.NewLogger())
	require.NoError(t, err)
	auditor := NewWriterAuditor(failingWriter{}, f, log.NewLogger())

	auditor.Record(core.AuthEvent{Outcome: core.OutcomeSuccess})
	stats := auditor.GetStats()
	assert.Equal(t, uint64(0), stats["written"])
	assert.Equal(t, uint64(1), stats["write_errors"])
}

func TestNilAuditorIsDisabled(t *testing.T) {
	auditor, err := NewAuditor(&config.AuditConfig{Enabled: false}, log.NewLogger())
	require.NoError(t, err)
	assert.Nil(t, auditor)

	auditor.Record(core.AuthEvent{})
	assert.Equal(t, false, auditor.GetStats()["enabled"])
	assert.NoError(t, auditor.Close())
}

func TestAuditorAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	cfg := &config.AuditConfig{Enabled: true, Format: "raw", Path: path}

	auditor, err := NewAuditor(cfg, log.NewLogger())
	require.NoError(t, err)
	auditor.Record(core.AuthEvent{Outcome: core.OutcomeFailure, AuthID: "mallory", Reason: "rate-limited"})
	require.NoError(t, auditor.Close())

	auditor, err = NewAuditor(cfg, log.NewLogger())
	require.NoError(t, err)
	auditor.Record(core.AuthEvent{Outcome: core.OutcomeSuccess, AuthID: "alice"})
	require.NoError(t, auditor.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "authcid=mallory")
	assert.Contains(t, lines[0], "reason=rate-limited")
	assert.Contains(t, lines[1], "outcome=success")
}

func TestAccessRulesDenyAfterAuthentication(t *testing.T) {
	a := newTestAuthenticator(t, func(c *config.Config) {
		c.Access = []config.AccessRule{
			// Plaintext mechanisms only for root
			{Type: config.AccessTypeDeny, Logic: config.AccessLogicAnd, Patterns: []string{"mechanism=(PLAIN|LOGIN) ", `authcid=alice\b`}},
		}
	})

	_, _, err := runExchange(t, a, clientSession(t, "PLAIN", map[sasl.Property]string{
		sasl.AuthID: "alice", sasl.Password: "secret",
	}))
	require.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, "not-authorized", Reason(err))

	id, _, err := runExchange(t, a, clientSession(t, "SCRAM-SHA-1", map[sasl.Property]string{
		sasl.AuthID: "alice", sasl.Password: "secret",
	}))
	require.NoError(t, err)
	assert.Equal(t, "alice", id.AuthID)

	id, _, err = runExchange(t, a, clientSession(t, "PLAIN", map[sasl.Property]string{
		sasl.AuthID: "root", sasl.Password: "toor",
	}))
	require.NoError(t, err)
	assert.Equal(t, "root", id.AuthID)

	access := a.GetStats()["access"].(map[string]any)
	assert.Equal(t, uint64(3), access["total_checked"])
	assert.Equal(t, uint64(2), access["total_allowed"])
}

func TestAccessRulesMatchAuthzID(t *testing.T) {
	a := newTestAuthenticator(t, func(c *config.Config) {
		c.Access = []config.AccessRule{
			{Type: config.AccessTypeDeny, Patterns: []string{`authzid=alice\b`}},
		}
	})

	_, _, err := runExchange(t, a, clientSession(t, "SCRAM-SHA-512", map[sasl.Property]string{
		sasl.AuthID: "root", sasl.Password: "toor", sasl.AuthzID: "alice",
	}))
	require.ErrorIs(t, err, ErrNotAuthorized)
}
