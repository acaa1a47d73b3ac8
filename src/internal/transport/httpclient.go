// FILE: src/internal/transport/httpclient.go
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"saslwisp/src/internal/sasl"
	ltls "saslwisp/src/internal/tls"
	"saslwisp/src/internal/version"

	"github.com/lixenwraith/log"
	"github.com/valyala/fasthttp"
)

// HTTPClient authenticates against an HTTPServer. Over https it derives the
// tls-exporter binding of its connection, so -PLUS mechanisms work.
type HTTPClient struct {
	host       string
	client     *fasthttp.HostClient
	tlsConfig  *tls.Config
	registry   *sasl.Registry
	timeout    time.Duration
	logger     *log.Logger
	mechanisms []string

	mu      sync.Mutex
	binding []byte
}

// DialHTTP prepares a client for baseURL and fetches the mechanism list.
// tlsConfig is used for https URLs; nil means system roots.
func DialHTTP(ctx context.Context, baseURL string, registry *sasl.Registry, tlsConfig *tls.Config, timeout time.Duration, logger *log.Logger) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", baseURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: missing host", baseURL)
	}

	c := &HTTPClient{
		host:     u.Host,
		registry: registry,
		timeout:  timeout,
		logger:   logger,
	}

	switch u.Scheme {
	case "http":
	case "https":
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		} else {
			tlsConfig = tlsConfig.Clone()
		}
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = u.Hostname()
		}
		c.tlsConfig = tlsConfig
		if u.Port() == "" {
			c.host = net.JoinHostPort(u.Hostname(), "443")
		}
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Scheme == "http" && u.Port() == "" {
		c.host = net.JoinHostPort(u.Hostname(), "80")
	}

	// One connection, so the binding captured at dial time belongs to the
	// connection that carries the exchange.
	c.client = &fasthttp.HostClient{
		Addr:         c.host,
		Name:         version.ServerName(),
		MaxConns:     1,
		Dial:         c.dial,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	var body struct {
		Mechanisms []string `json:"mechanisms"`
	}
	status, err := c.do(ctx, fasthttp.MethodGet, pathMechanisms, "", nil, &body)
	if err != nil {
		c.Close()
		return nil, err
	}
	if status != fasthttp.StatusOK {
		c.Close()
		return nil, fmt.Errorf("unexpected status %d from %s", status, baseURL)
	}
	c.mechanisms = body.Mechanisms

	logger.Debug("msg", "Connected to SASL server",
		"component", "http_client",
		"address", c.host,
		"tls", c.tlsConfig != nil,
		"mechanisms", c.mechanisms)
	return c, nil
}

// Mechanisms returns what the server advertised for this connection.
func (c *HTTPClient) Mechanisms() []string {
	return c.mechanisms
}

// Binding returns the tls-exporter value of the current connection, or nil
// for plain http.
func (c *HTTPClient) Binding() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding
}

// Authenticate runs one exchange. An empty mechanism negotiates the
// strongest one both sides support.
func (c *HTTPClient) Authenticate(ctx context.Context, mechanism string, cb sasl.Callback) (*Result, error) {
	var plus bool
	bound := c.bindingCallback(cb, &plus)

	var sess *sasl.Session
	var err error
	if mechanism == "" {
		sess, err = sasl.NegotiateClientSession(c.registry, c.mechanisms, bound)
	} else {
		sess, err = sasl.NewClientSession(c.registry, mechanism, bound)
	}
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	if m, err := c.registry.Lookup(sess.Mechanism()); err == nil {
		plus = m.ChannelBinding
	}

	start := startRequest{Mechanism: sess.Mechanism()}
	if sess.WeAreFirst() {
		out, _, err := sess.Step(nil)
		if err != nil {
			return nil, err
		}
		initial := EncodeData(out)
		start.InitialResponse = &initial
	}

	var resp stepResponse
	status, err := c.do(ctx, fasthttp.MethodPost, pathAuth, "", start, &resp)
	for {
		if err != nil {
			return nil, err
		}

		if status != fasthttp.StatusOK {
			serr := &ServerError{Reason: resp.Error}
			if serr.Reason == "" {
				serr.Reason = fmt.Sprintf("status %d", status)
			}
			if resp.Challenge != "" && !sess.State().Complete() {
				if data, err := decodeJSONData(resp.Challenge); err == nil {
					_, _, serr.Err = sess.Step(data)
				}
			}
			return nil, serr
		}

		data, decodeErr := decodeJSONData(resp.Challenge)
		if decodeErr != nil {
			return nil, decodeErr
		}

		if resp.Done {
			if !sess.State().Complete() {
				_, done, err := sess.Step(data)
				if err != nil {
					return nil, err
				}
				if !done {
					return nil, fmt.Errorf("%w: server finished before %s did", ErrProtocol, sess.Mechanism())
				}
			} else if len(data) > 0 {
				return nil, fmt.Errorf("%w: unexpected data after completion", ErrProtocol)
			}

			c.logger.Debug("msg", "Authenticated",
				"component", "http_client",
				"mechanism", sess.Mechanism(),
				"bound", plus)
			return &Result{Mechanism: sess.Mechanism(), Token: resp.Token}, nil
		}

		if resp.ID == "" {
			return nil, fmt.Errorf("%w: challenge without exchange id", ErrProtocol)
		}
		out, _, stepErr := sess.Step(data)
		if stepErr != nil {
			c.cancel(resp.ID)
			return nil, stepErr
		}

		id := resp.ID
		resp = stepResponse{}
		status, err = c.do(ctx, fasthttp.MethodPost, pathAuth+"/"+url.PathEscape(id), "",
			continueRequest{Response: EncodeData(out)}, &resp)
	}
}

// Whoami asks the server who token belongs to.
func (c *HTTPClient) Whoami(ctx context.Context, token string) (authcid, authzid string, err error) {
	var resp struct {
		whoamiResponse
		Error string `json:"error"`
	}
	status, err := c.do(ctx, fasthttp.MethodGet, pathWhoami, token, nil, &resp)
	if err != nil {
		return "", "", err
	}
	if status != fasthttp.StatusOK {
		if resp.Error == "" {
			resp.Error = fmt.Sprintf("status %d", status)
		}
		return "", "", &ServerError{Reason: resp.Error}
	}
	return resp.AuthID, resp.AuthzID, nil
}

// Close drops the idle connection.
func (c *HTTPClient) Close() {
	c.client.CloseIdleConnections()
}

// bindingCallback supplies the connection's binding on top of cb. The data
// is offered to a -PLUS mechanism, or to a plain SCRAM mechanism when the
// server advertised no -PLUS variant so it can detect a stripped list.
func (c *HTTPClient) bindingCallback(cb sasl.Callback, plus *bool) sasl.Callback {
	return func(p sasl.Property, known sasl.Lookup) ([]byte, bool, error) {
		if p == sasl.ChannelBindingData {
			data := c.Binding()
			if data == nil || (!*plus && c.advertisesPlus()) {
				return nil, false, nil
			}
			return data, true, nil
		}
		if cb == nil {
			return nil, false, nil
		}
		return cb(p, known)
	}
}

func (c *HTTPClient) advertisesPlus() bool {
	for _, name := range c.mechanisms {
		if strings.HasSuffix(name, "-PLUS") {
			return true
		}
	}
	return false
}

// cancel aborts a parked exchange.
func (c *HTTPClient) cancel(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	var resp stepResponse
	if _, err := c.do(ctx, fasthttp.MethodDelete, pathAuth+"/"+url.PathEscape(id), "", nil, &resp); err != nil {
		c.logger.Debug("msg", "Cancel failed",
			"component", "http_client",
			"exchange_id", id,
			"error", err)
	}
}

// dial opens the single connection and, for https, runs the handshake so
// the binding can be read before any request is written.
func (c *HTTPClient) dial(addr string) (net.Conn, error) {
	conn, err := fasthttp.DialTimeout(addr, c.timeout)
	if err != nil {
		return nil, err
	}
	if c.tlsConfig == nil {
		return conn, nil
	}

	tlsConn := tls.Client(conn, c.tlsConfig)
	tlsConn.SetDeadline(time.Now().Add(c.timeout))
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake with %s failed: %w", addr, err)
	}
	tlsConn.SetDeadline(time.Time{})

	state := tlsConn.ConnectionState()
	data, err := ltls.ExporterBinding(&state)
	if err != nil {
		tlsConn.Close()
		return nil, err
	}
	c.mu.Lock()
	c.binding = data
	c.mu.Unlock()

	c.logger.Debug("msg", "TLS connection established",
		"component", "http_client",
		"address", addr,
		"tls_version", state.Version,
		"cipher_suite", tls.CipherSuiteName(state.CipherSuite))
	return tlsConn, nil
}

// do sends one JSON request and decodes any JSON reply into out.
func (c *HTTPClient) do(ctx context.Context, method, path, token string, in, out any) (int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	// TLS is handled by dial, so the request itself is plain http.
	req.SetRequestURI("http://" + c.host + path)
	req.Header.SetMethod(method)
	if token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return 0, fmt.Errorf("%s %s failed: %w", method, path, err)
	}

	if body := resp.Body(); len(body) > 0 && out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode(), fmt.Errorf("%w: invalid response to %s %s: %v", ErrProtocol, method, path, err)
		}
	}
	return resp.StatusCode(), nil
}
