// FILE: src/internal/transport/tcpclient.go
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"saslwisp/src/internal/sasl"

	"github.com/lixenwraith/log"
)

// ServerError is a FAIL reply. Err holds the mechanism's reading of the
// server's final message, when the server sent one.
type ServerError struct {
	Reason string
	Err    error
}

func (e *ServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("server rejected authentication: %s: %v", e.Reason, e.Err)
	}
	return "server rejected authentication: " + e.Reason
}

func (e *ServerError) Unwrap() error { return e.Err }

// Result is a successful client-side exchange.
type Result struct {
	Mechanism string
	Token     string
}

// TCPClient authenticates against a TCPServer.
type TCPClient struct {
	conn       net.Conn
	reader     *bufio.Reader
	registry   *sasl.Registry
	timeout    time.Duration
	logger     *log.Logger
	mechanisms []string
}

// Dial connects and reads the server's mechanism advertisement.
func Dial(ctx context.Context, address string, registry *sasl.Registry, timeout time.Duration, logger *log.Logger) (*TCPClient, error) {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	c := &TCPClient{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		registry: registry,
		timeout:  timeout,
		logger:   logger,
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.readLine()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if line.Verb != VerbMechs {
		conn.Close()
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrProtocol, VerbMechs, line.Verb)
	}
	c.mechanisms = line.Args
	conn.SetReadDeadline(time.Time{})

	logger.Debug("msg", "Connected to SASL server",
		"component", "tcp_client",
		"address", address,
		"mechanisms", c.mechanisms)
	return c, nil
}

// Mechanisms returns what the server advertised.
func (c *TCPClient) Mechanisms() []string {
	return c.mechanisms
}

// Authenticate runs one exchange. An empty mechanism negotiates the
// strongest one both sides support.
func (c *TCPClient) Authenticate(ctx context.Context, mechanism string, cb sasl.Callback) (*Result, error) {
	var sess *sasl.Session
	var err error
	if mechanism == "" {
		sess, err = sasl.NegotiateClientSession(c.registry, c.mechanisms, cb)
	} else {
		sess, err = sasl.NewClientSession(c.registry, mechanism, cb)
	}
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if sess.WeAreFirst() {
		out, _, err := sess.Step(nil)
		if err != nil {
			return nil, err
		}
		err = c.send(VerbAuth, sess.Mechanism(), EncodeData(out))
	} else {
		err = c.send(VerbAuth, sess.Mechanism())
	}
	if err != nil {
		return nil, err
	}

	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}

		switch line.Verb {
		case VerbChal:
			data, err := DecodeData(line.Arg(0))
			if err != nil {
				return nil, err
			}
			out, _, stepErr := sess.Step(data)
			if stepErr != nil {
				c.cancel()
				return nil, stepErr
			}
			if err := c.send(VerbResp, EncodeData(out)); err != nil {
				return nil, err
			}

		case VerbOK:
			data, err := DecodeData(line.Arg(0))
			if err != nil {
				return nil, err
			}
			if !sess.State().Complete() {
				_, done, err := sess.Step(data)
				if err != nil {
					return nil, err
				}
				if !done {
					return nil, fmt.Errorf("%w: server finished before %s did", ErrProtocol, sess.Mechanism())
				}
			} else if len(data) > 0 {
				return nil, fmt.Errorf("%w: unexpected data with %s", ErrProtocol, VerbOK)
			}

			c.logger.Debug("msg", "Authenticated",
				"component", "tcp_client",
				"mechanism", sess.Mechanism())
			return &Result{Mechanism: sess.Mechanism(), Token: line.Arg(1)}, nil

		case VerbFail:
			serr := &ServerError{Reason: line.Arg(0)}
			if len(line.Args) > 1 && !sess.State().Complete() {
				if data, err := DecodeData(line.Arg(1)); err == nil {
					_, _, serr.Err = sess.Step(data)
				}
			}
			return nil, serr

		default:
			return nil, fmt.Errorf("%w: unexpected %s", ErrProtocol, line.Verb)
		}
	}
}

// Whoami asks the server for the authenticated identity.
func (c *TCPClient) Whoami() (authcid, authzid string, err error) {
	c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.send(VerbWhoami); err != nil {
		return "", "", err
	}
	line, err := c.readLine()
	if err != nil {
		return "", "", err
	}
	switch line.Verb {
	case VerbID:
		cid, err := DecodeData(line.Arg(0))
		if err != nil {
			return "", "", err
		}
		zid, err := DecodeData(line.Arg(1))
		if err != nil {
			return "", "", err
		}
		return string(cid), string(zid), nil
	case VerbFail:
		return "", "", &ServerError{Reason: line.Arg(0)}
	}
	return "", "", fmt.Errorf("%w: unexpected %s", ErrProtocol, line.Verb)
}

// Close says goodbye and closes the connection.
func (c *TCPClient) Close() error {
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.send(VerbQuit)
	return c.conn.Close()
}

// cancel aborts the exchange and consumes the server's FAIL.
func (c *TCPClient) cancel() {
	if c.send(VerbCancel) == nil {
		_, _ = c.readLine()
	}
}

func (c *TCPClient) send(verb string, args ...string) error {
	if _, err := c.conn.Write(FormatLine(verb, args...)); err != nil {
		return fmt.Errorf("failed to send %s: %w", verb, err)
	}
	return nil
}

func (c *TCPClient) readLine() (Line, error) {
	raw, err := c.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return Line{}, fmt.Errorf("connection closed by server: %w", err)
		}
		return Line{}, fmt.Errorf("failed to read from server: %w", err)
	}
	return ParseLine(raw)
}
