// FILE: src/internal/transport/httpserver.go
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"saslwisp/src/internal/auth"
	"saslwisp/src/internal/config"
	"saslwisp/src/internal/sasl"
	"saslwisp/src/internal/sasl/scram"
	"saslwisp/src/internal/session"
	ltls "saslwisp/src/internal/tls"
	"saslwisp/src/internal/version"

	jsoniter "github.com/json-iterator/go"
	"github.com/lixenwraith/log"
	"github.com/lixenwraith/log/compat"
	"github.com/valyala/fasthttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	pathMechanisms = "/v1/mechanisms"
	pathAuth       = "/v1/auth"
	pathWhoami     = "/v1/whoami"
	pathStatus     = "/v1/status"
)

// startRequest begins an exchange. A nil InitialResponse means none was
// sent; "" or "=" is an empty one.
type startRequest struct {
	Mechanism       string  `json:"mechanism"`
	InitialResponse *string `json:"initial_response,omitempty"`
}

type continueRequest struct {
	Response string `json:"response"`
}

// stepResponse carries either the next challenge or the final outcome.
type stepResponse struct {
	ID        string `json:"id,omitempty"`
	Mechanism string `json:"mechanism,omitempty"`
	Done      bool   `json:"done"`
	Challenge string `json:"challenge,omitempty"`

	// Success
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	AuthID    string     `json:"authcid,omitempty"`
	AuthzID   string     `json:"authzid,omitempty"`

	// Failure; Challenge may still carry the server's final message
	Error string `json:"error,omitempty"`
}

type whoamiResponse struct {
	AuthID    string    `json:"authcid"`
	AuthzID   string    `json:"authzid,omitempty"`
	Identity  string    `json:"identity"`
	Mechanism string    `json:"mechanism"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HTTPServer exposes the exchange as a JSON API. Each step is one request;
// the exchange is parked in the session manager between requests. Over
// TLS the -PLUS mechanisms bind to the connection the exchange started on.
type HTTPServer struct {
	cfg        *config.HTTPConfig
	auth       *auth.Authenticator
	sessions   *session.Manager
	logger     *log.Logger
	server     *fasthttp.Server
	tlsManager *ltls.ServerManager
	bound      bool
	listener   net.Listener
	wg         sync.WaitGroup

	// Optional extra status sections
	statusFn func() map[string]any

	totalRequests atomic.Uint64
	startTime     time.Time
}

// NewHTTPServer creates the HTTP listener; Start runs it.
func NewHTTPServer(cfg *config.HTTPConfig, a *auth.Authenticator, sessions *session.Manager, logger *log.Logger) (*HTTPServer, error) {
	tlsManager, err := ltls.NewServerManager(cfg.TLS, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS manager: %w", err)
	}

	h := &HTTPServer{
		cfg:        cfg,
		auth:       a,
		sessions:   sessions,
		logger:     logger,
		tlsManager: tlsManager,
		bound:      tlsManager != nil && a.OffersChannelBinding(),
		startTime:  time.Now(),
	}
	h.server = &fasthttp.Server{
		Name:               version.ServerName(),
		Handler:            h.requestHandler,
		Logger:             compat.NewFastHTTPAdapter(logger),
		MaxRequestBodySize: int(cfg.MaxBodySize),
		ReadTimeout:        time.Duration(cfg.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:       time.Duration(cfg.WriteTimeoutMs) * time.Millisecond,
		CloseOnShutdown:    true,
	}
	return h, nil
}

// SetStatusProvider adds sections to the status endpoint.
func (h *HTTPServer) SetStatusProvider(fn func() map[string]any) {
	h.statusFn = fn
}

// Start binds the listener and serves in the background.
func (h *HTTPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", h.cfg.Host, h.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return h.Serve(ln)
}

// Serve serves on ln in the background, wrapping it in TLS when configured.
func (h *HTTPServer) Serve(ln net.Listener) error {
	if h.tlsManager != nil {
		ln = tls.NewListener(ln, h.tlsManager.GetHTTPConfig())
	}
	h.listener = ln

	h.logger.Info("msg", "HTTP server starting",
		"component", "http_server",
		"address", ln.Addr().String(),
		"tls", h.tlsManager != nil,
		"channel_binding", h.bound)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(ln); err != nil {
			h.logger.Error("msg", "HTTP server failed",
				"component", "http_server",
				"address", ln.Addr().String(),
				"error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once serving.
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop shuts the server down.
func (h *HTTPServer) Stop() {
	h.logger.Info("msg", "Stopping HTTP server", "component", "http_server")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.server.ShutdownWithContext(ctx); err != nil {
		h.logger.Error("msg", "Error shutting down HTTP server",
			"component", "http_server",
			"error", err)
	}
	h.wg.Wait()
	h.logger.Info("msg", "HTTP server stopped", "component", "http_server")
}

func (h *HTTPServer) requestHandler(ctx *fasthttp.RequestCtx) {
	h.totalRequests.Add(1)
	path := string(ctx.Path())
	method := string(ctx.Method())

	switch {
	case path == pathMechanisms && method == fasthttp.MethodGet:
		h.writeJSON(ctx, fasthttp.StatusOK, map[string]any{"mechanisms": h.mechanisms(ctx)})
	case path == pathAuth && method == fasthttp.MethodPost:
		h.handleStart(ctx)
	case strings.HasPrefix(path, pathAuth+"/") && method == fasthttp.MethodPost:
		h.handleContinue(ctx, strings.TrimPrefix(path, pathAuth+"/"))
	case strings.HasPrefix(path, pathAuth+"/") && method == fasthttp.MethodDelete:
		h.handleCancel(ctx, strings.TrimPrefix(path, pathAuth+"/"))
	case path == pathWhoami && method == fasthttp.MethodGet:
		h.handleWhoami(ctx)
	case path == pathStatus && method == fasthttp.MethodGet:
		h.handleStatus(ctx)
	default:
		h.writeJSON(ctx, fasthttp.StatusNotFound, map[string]string{
			"error": "Not Found",
			"hint":  fmt.Sprintf("POST %s to start an exchange", pathAuth),
		})
	}
}

func (h *HTTPServer) handleStart(ctx *fasthttp.RequestCtx) {
	var req startRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.Mechanism == "" {
		h.writeError(ctx, fasthttp.StatusBadRequest, "malformed-request")
		return
	}

	var input []byte
	if req.InitialResponse != nil {
		decoded, err := decodeJSONData(*req.InitialResponse)
		if err != nil {
			h.writeError(ctx, fasthttp.StatusBadRequest, "malformed-message")
			return
		}
		input = decoded
	}

	binding, err := h.binding(ctx)
	if err != nil {
		h.logger.Warn("msg", "Channel binding unavailable",
			"component", "http_server",
			"remote_addr", ctx.RemoteAddr().String(),
			"error", err)
	}

	ex, err := h.auth.BeginWith(req.Mechanism, ctx.RemoteAddr().String(), binding)
	if err != nil {
		h.writeFailure(ctx, err, nil)
		return
	}
	ex.SetTransport(session.SourceHTTP)

	s := h.sessions.Begin(ctx.RemoteAddr().String(), session.SourceHTTP, ex)
	taken, ok := h.sessions.Take(s.ID)
	if !ok {
		h.writeFailure(ctx, auth.ErrExchangeTimeout, nil)
		return
	}
	h.step(ctx, taken, input)
}

func (h *HTTPServer) handleContinue(ctx *fasthttp.RequestCtx, id string) {
	s, ok := h.sessions.Take(id)
	if !ok {
		h.writeError(ctx, fasthttp.StatusNotFound, "unknown-exchange")
		return
	}

	var req continueRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.Exchange.Cancel()
		h.writeError(ctx, fasthttp.StatusBadRequest, "malformed-request")
		return
	}
	input, err := decodeJSONData(req.Response)
	if err != nil {
		s.Exchange.Cancel()
		h.writeError(ctx, fasthttp.StatusBadRequest, "malformed-message")
		return
	}
	h.step(ctx, s, input)
}

func (h *HTTPServer) handleCancel(ctx *fasthttp.RequestCtx, id string) {
	s, ok := h.sessions.Take(id)
	if !ok {
		h.writeError(ctx, fasthttp.StatusNotFound, "unknown-exchange")
		return
	}
	err := s.Exchange.Cancel()
	h.writeJSON(ctx, fasthttp.StatusOK, stepResponse{ID: id, Done: true, Error: auth.Reason(err)})
}

// mechanisms lists what this connection can use. -PLUS mechanisms are
// offered only over TLS.
func (h *HTTPServer) mechanisms(ctx *fasthttp.RequestCtx) []string {
	return h.auth.MechanismsFor(h.bound && ctx.IsTLS())
}

// binding derives the tls-exporter channel binding of the request's
// connection. It is nil when the connection is not TLS or the daemon
// offers no -PLUS mechanism.
func (h *HTTPServer) binding(ctx *fasthttp.RequestCtx) (*auth.Binding, error) {
	if !h.bound || !ctx.IsTLS() {
		return nil, nil
	}
	data, err := ltls.ExporterBinding(ctx.TLSConnectionState())
	if err != nil {
		return nil, err
	}
	return &auth.Binding{Name: scram.DefaultCBName, Data: data}, nil
}

// step runs one exchange step for a taken session and parks or completes it.
func (h *HTTPServer) step(ctx *fasthttp.RequestCtx, s *session.Session, input []byte) {
	mech := s.Exchange.Mechanism()
	chal, id, err := s.Exchange.Step(input)
	if err != nil {
		h.writeFailure(ctx, err, chal)
		return
	}

	if id == nil {
		h.sessions.Park(s)
		h.writeJSON(ctx, fasthttp.StatusOK, stepResponse{
			ID:        s.ID,
			Mechanism: mech,
			Challenge: EncodeData(chal),
		})
		return
	}

	h.sessions.Complete(s, id)
	resp := stepResponse{
		ID:        s.ID,
		Mechanism: mech,
		Done:      true,
		Token:     id.Token,
		ExpiresAt: &id.ExpiresAt,
		AuthID:    id.AuthID,
		AuthzID:   id.AuthzID,
	}
	if len(chal) > 0 {
		resp.Challenge = EncodeData(chal)
	}
	h.writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (h *HTTPServer) handleWhoami(ctx *fasthttp.RequestCtx) {
	header := string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		ctx.Response.Header.Set(fasthttp.HeaderWWWAuthenticate, `Bearer realm="saslwisp"`)
		h.writeError(ctx, fasthttp.StatusUnauthorized, "missing-token")
		return
	}

	claims, err := h.auth.VerifyToken(strings.TrimSpace(token))
	if err != nil {
		h.logger.Debug("msg", "Token rejected",
			"component", "http_server",
			"remote_addr", ctx.RemoteAddr().String(),
			"error", err)
		ctx.Response.Header.Set(fasthttp.HeaderWWWAuthenticate, `Bearer realm="saslwisp", error="invalid_token"`)
		h.writeError(ctx, fasthttp.StatusUnauthorized, "invalid-token")
		return
	}

	h.writeJSON(ctx, fasthttp.StatusOK, whoamiResponse{
		AuthID:    claims.Subject,
		AuthzID:   claims.AuthzID,
		Identity:  claims.Identity(),
		Mechanism: claims.Mechanism,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

func (h *HTTPServer) handleStatus(ctx *fasthttp.RequestCtx) {
	status := map[string]any{
		"service":        "saslwisp",
		"version":        version.Short(),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"http": map[string]any{
			"port":           h.cfg.Port,
			"total_requests": h.totalRequests.Load(),
			"tls":            h.tlsManager.GetStats(),
		},
		"auth":     h.auth.GetStats(),
		"sessions": h.sessions.GetStats(),
	}
	if h.statusFn != nil {
		for k, v := range h.statusFn() {
			status[k] = v
		}
	}
	h.writeJSON(ctx, fasthttp.StatusOK, status)
}

func (h *HTTPServer) writeFailure(ctx *fasthttp.RequestCtx, err error, final []byte) {
	resp := stepResponse{Done: true, Error: auth.Reason(err)}
	if len(final) > 0 {
		resp.Challenge = EncodeData(final)
	}
	h.writeJSON(ctx, statusFor(err), resp)
}

func (h *HTTPServer) writeError(ctx *fasthttp.RequestCtx, status int, reason string) {
	h.writeJSON(ctx, status, map[string]string{"error": reason})
}

func (h *HTTPServer) writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		h.logger.Error("msg", "Failed to encode response",
			"component", "http_server",
			"error", err)
	}
}

// statusFor maps exchange errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		return fasthttp.StatusTooManyRequests
	case errors.Is(err, auth.ErrNotAuthorized):
		return fasthttp.StatusForbidden
	case errors.Is(err, sasl.ErrUnknownMechanism), errors.Is(err, sasl.ErrMalformedMessage):
		return fasthttp.StatusBadRequest
	case errors.Is(err, auth.ErrExchangeTimeout):
		return fasthttp.StatusRequestTimeout
	}
	return fasthttp.StatusUnauthorized
}

// decodeJSONData accepts "" as well as "=" for an empty payload.
func decodeJSONData(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}
	return DecodeData(s)
}
