// FILE: src/internal/transport/tcpserver.go
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"saslwisp/src/internal/auth"
	"saslwisp/src/internal/config"
	"saslwisp/src/internal/session"

	"github.com/lixenwraith/log"
	"github.com/lixenwraith/log/compat"
	"github.com/panjf2000/gnet/v2"
)

// TCPServer runs SASL exchanges over the line protocol.
type TCPServer struct {
	cfg      *config.TCPConfig
	auth     *auth.Authenticator
	sessions *session.Manager
	logger   *log.Logger

	server   *tcpSASLServer
	engine   *gnet.Engine
	engineMu sync.Mutex
	wg       sync.WaitGroup

	// Statistics
	activeConns atomic.Int64
	totalConns  atomic.Uint64
	startTime   time.Time
}

// Represents a connected TCP client
type tcpClient struct {
	conn        gnet.Conn
	buffer      bytes.Buffer
	connectedAt time.Time

	// Event loop only
	exchange *auth.Exchange
	identity *auth.Identity
	session  *session.Session

	// Read by the ticker goroutine
	authenticated atomic.Bool
}

// Handles gnet events
type tcpSASLServer struct {
	gnet.BuiltinEventEngine
	owner   *TCPServer
	clients map[gnet.Conn]*tcpClient
	// session ID -> connection, for idle expiry
	bySession map[string]gnet.Conn
	mu        sync.RWMutex
}

// NewTCPServer creates the TCP listener; Start runs it.
func NewTCPServer(cfg *config.TCPConfig, a *auth.Authenticator, sessions *session.Manager, logger *log.Logger) *TCPServer {
	return &TCPServer{
		cfg:       cfg,
		auth:      a,
		sessions:  sessions,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Start launches the gnet engine and waits briefly for bind errors.
func (t *TCPServer) Start() error {
	t.server = &tcpSASLServer{
		owner:     t,
		clients:   make(map[gnet.Conn]*tcpClient),
		bySession: make(map[string]gnet.Conn),
	}
	t.sessions.RegisterExpiryCallback(session.SourceTCP, t.server.expire)

	addr := fmt.Sprintf("tcp://%s:%d", t.cfg.Host, t.cfg.Port)
	gnetLogger := compat.NewGnetAdapter(t.logger)

	errChan := make(chan error, 1)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.logger.Info("msg", "TCP server starting",
			"component", "tcp_server",
			"host", t.cfg.Host,
			"port", t.cfg.Port)

		err := gnet.Run(t.server, addr,
			gnet.WithLogger(gnetLogger),
			gnet.WithMulticore(true),
			gnet.WithReusePort(true),
			gnet.WithTicker(true),
		)
		if err != nil {
			t.logger.Error("msg", "TCP server failed",
				"component", "tcp_server",
				"port", t.cfg.Port,
				"error", err)
		}
		errChan <- err
	}()

	select {
	case err := <-errChan:
		t.wg.Wait()
		return err
	case <-time.After(100 * time.Millisecond):
		t.logger.Info("msg", "TCP server started",
			"component", "tcp_server",
			"port", t.cfg.Port)
		return nil
	}
}

// Stop shuts the engine down.
func (t *TCPServer) Stop() {
	t.logger.Info("msg", "Stopping TCP server", "component", "tcp_server")
	t.sessions.UnregisterExpiryCallback(session.SourceTCP)

	t.engineMu.Lock()
	engine := t.engine
	t.engineMu.Unlock()

	if engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		engine.Stop(ctx)
	}

	t.wg.Wait()
	t.logger.Info("msg", "TCP server stopped", "component", "tcp_server")
}

// GetStats returns listener statistics
func (t *TCPServer) GetStats() map[string]any {
	return map[string]any{
		"port":               t.cfg.Port,
		"active_connections": t.activeConns.Load(),
		"total_connections":  t.totalConns.Load(),
		"uptime_seconds":     int64(time.Since(t.startTime).Seconds()),
	}
}

func (s *tcpSASLServer) OnBoot(eng gnet.Engine) gnet.Action {
	s.owner.engineMu.Lock()
	s.owner.engine = &eng
	s.owner.engineMu.Unlock()

	s.owner.logger.Debug("msg", "TCP server booted",
		"component", "tcp_server",
		"port", s.owner.cfg.Port)
	return gnet.None
}

func (s *tcpSASLServer) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	client := &tcpClient{
		conn:        c,
		connectedAt: time.Now(),
	}

	s.mu.Lock()
	s.clients[c] = client
	s.mu.Unlock()

	s.owner.totalConns.Add(1)
	newCount := s.owner.activeConns.Add(1)
	s.owner.logger.Debug("msg", "TCP connection opened",
		"component", "tcp_server",
		"remote_addr", c.RemoteAddr().String(),
		"active_connections", newCount)

	return FormatLine(VerbMechs, s.owner.auth.MechanismsFor(false)...), gnet.None
}

func (s *tcpSASLServer) OnClose(c gnet.Conn, err error) gnet.Action {
	s.mu.Lock()
	client, exists := s.clients[c]
	delete(s.clients, c)
	if exists && client.session != nil {
		delete(s.bySession, client.session.ID)
	}
	s.mu.Unlock()

	if exists {
		if client.exchange != nil {
			client.exchange.Close()
		}
		if client.session != nil {
			s.owner.sessions.RemoveSession(client.session.ID)
		}
	}

	newCount := s.owner.activeConns.Add(-1)
	s.owner.logger.Debug("msg", "TCP connection closed",
		"component", "tcp_server",
		"remote_addr", c.RemoteAddr().String(),
		"active_connections", newCount,
		"error", err)
	return gnet.None
}

func (s *tcpSASLServer) OnTraffic(c gnet.Conn) gnet.Action {
	s.mu.RLock()
	client, exists := s.clients[c]
	s.mu.RUnlock()
	if !exists {
		return gnet.Close
	}

	data, err := c.Next(-1)
	if err != nil {
		s.owner.logger.Error("msg", "Error reading from connection",
			"component", "tcp_server",
			"error", err)
		return gnet.Close
	}
	client.buffer.Write(data)

	for {
		idx := bytes.IndexByte(client.buffer.Bytes(), '\n')
		if idx < 0 {
			break
		}
		if int64(idx) > s.owner.cfg.MaxLineBytes {
			return s.lineTooLong(c, client)
		}
		line := string(client.buffer.Next(idx + 1))

		reply, action := s.handle(client, line)
		if len(reply) > 0 {
			c.Write(reply)
		}
		if action != gnet.None {
			return action
		}
	}

	if int64(client.buffer.Len()) > s.owner.cfg.MaxLineBytes {
		return s.lineTooLong(c, client)
	}
	return gnet.None
}

func (s *tcpSASLServer) lineTooLong(c gnet.Conn, client *tcpClient) gnet.Action {
	s.owner.logger.Warn("msg", "Protocol line too long",
		"component", "tcp_server",
		"remote_addr", c.RemoteAddr().String(),
		"buffer_size", client.buffer.Len())
	s.abort(client)
	c.Write(FormatLine(VerbFail, "line-too-long"))
	return gnet.Close
}

// OnTick closes connections that did not authenticate within the handshake timeout.
func (s *tcpSASLServer) OnTick() (time.Duration, gnet.Action) {
	timeout := time.Duration(s.owner.cfg.HandshakeTimeoutSec) * time.Second
	now := time.Now()

	s.mu.RLock()
	var stale []gnet.Conn
	for c, client := range s.clients {
		if !client.authenticated.Load() && now.Sub(client.connectedAt) > timeout {
			stale = append(stale, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range stale {
		s.owner.logger.Warn("msg", "Authentication timeout",
			"component", "tcp_server",
			"remote_addr", c.RemoteAddr().String())
		c.AsyncWrite(FormatLine(VerbFail, auth.Reason(auth.ErrExchangeTimeout)), func(c gnet.Conn, _ error) error {
			return c.Close()
		})
	}
	return time.Second, gnet.None
}

// expire closes the connection of an idle authenticated session.
func (s *tcpSASLServer) expire(sessionID, remoteAddr string) {
	s.mu.RLock()
	c, ok := s.bySession[sessionID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.owner.logger.Debug("msg", "Closing idle authenticated connection",
		"component", "tcp_server",
		"remote_addr", remoteAddr)
	c.Close()
}

// handle processes one line; it runs on the connection's event loop.
func (s *tcpSASLServer) handle(client *tcpClient, raw string) ([]byte, gnet.Action) {
	line, err := ParseLine(raw)
	if err != nil {
		return nil, gnet.None
	}
	remoteAddr := client.conn.RemoteAddr().String()

	switch line.Verb {
	case VerbQuit:
		return nil, gnet.Close

	case VerbAuth:
		if client.identity != nil || client.exchange != nil {
			s.abort(client)
			return FormatLine(VerbFail, "invalid-state"), gnet.None
		}
		ex, err := s.owner.auth.Begin(line.Arg(0), remoteAddr)
		if err != nil {
			if errors.Is(err, auth.ErrRateLimited) {
				return FormatLine(VerbFail, auth.Reason(err)), gnet.Close
			}
			return FormatLine(VerbFail, auth.Reason(err)), gnet.None
		}
		ex.SetTransport(session.SourceTCP)
		client.exchange = ex

		var input []byte
		if len(line.Args) > 1 {
			if input, err = DecodeData(line.Arg(1)); err != nil {
				s.abort(client)
				return FormatLine(VerbFail, "malformed-message"), gnet.None
			}
		}
		return s.step(client, input), gnet.None

	case VerbResp:
		if client.exchange == nil {
			return FormatLine(VerbFail, "invalid-state"), gnet.None
		}
		input, err := DecodeData(line.Arg(0))
		if err != nil {
			s.abort(client)
			return FormatLine(VerbFail, "malformed-message"), gnet.None
		}
		return s.step(client, input), gnet.None

	case VerbCancel:
		if client.exchange == nil {
			return FormatLine(VerbFail, "invalid-state"), gnet.None
		}
		err := client.exchange.Cancel()
		client.exchange = nil
		return FormatLine(VerbFail, auth.Reason(err)), gnet.None

	case VerbWhoami:
		if client.identity == nil {
			return FormatLine(VerbFail, "not-authenticated"), gnet.None
		}
		s.owner.sessions.Touch(client.session.ID)
		return FormatLine(VerbID, EncodeData([]byte(client.identity.AuthID)), EncodeData([]byte(client.identity.AuthzID))), gnet.None
	}

	return FormatLine(VerbFail, "unknown-command"), gnet.None
}

// step runs one exchange step and renders the reply.
func (s *tcpSASLServer) step(client *tcpClient, input []byte) []byte {
	chal, id, err := client.exchange.Step(input)
	if err != nil {
		client.exchange = nil
		if len(chal) > 0 {
			return FormatLine(VerbFail, auth.Reason(err), EncodeData(chal))
		}
		return FormatLine(VerbFail, auth.Reason(err))
	}
	if id == nil {
		return FormatLine(VerbChal, EncodeData(chal))
	}

	client.exchange = nil
	client.identity = id
	client.session = s.owner.sessions.Register(client.conn.RemoteAddr().String(), session.SourceTCP, id)
	client.authenticated.Store(true)

	s.mu.Lock()
	s.bySession[client.session.ID] = client.conn
	s.mu.Unlock()

	return FormatLine(VerbOK, EncodeData(chal), id.Token)
}

// abort drops a running exchange after a protocol violation.
func (s *tcpSASLServer) abort(client *tcpClient) {
	if client.exchange != nil {
		client.exchange.Cancel()
		client.exchange = nil
	}
}
