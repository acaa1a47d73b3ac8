// FILE: src/internal/auth/authenticator.go
package auth

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/core"
	"saslwisp/src/internal/credential"
	"saslwisp/src/internal/filter"
	"saslwisp/src/internal/sasl"
	"saslwisp/src/internal/sasl/plain"
	"saslwisp/src/internal/sasl/scram"

	"github.com/lixenwraith/log"
)

var (
	// ErrNotAuthorized means the authenticated user may not act as the requested authzid.
	ErrNotAuthorized = errors.New("not authorized for requested identity")
	// ErrExchangeTimeout means the peer did not finish within the handshake timeout.
	ErrExchangeTimeout = errors.New("authentication exchange timed out")
)

// Identity is the outcome of a successful exchange.
type Identity struct {
	AuthID    string
	AuthzID   string
	Mechanism string
	Token     string
	ExpiresAt time.Time
}

// Authenticator runs server-side SASL exchanges for every transport.
type Authenticator struct {
	registry *sasl.Registry
	store    *credential.Store
	limiter  *Limiter
	tokens   *TokenIssuer
	access   *filter.Chain
	audit    *Auditor
	timeout  time.Duration
	logger   *log.Logger

	successes atomic.Uint64
	failures  atomic.Uint64
	active    atomic.Int64
}

// New creates an authenticator serving the configured mechanisms from store.
func New(cfg *config.Config, store *credential.Store, logger *log.Logger) (*Authenticator, error) {
	registry, err := ServerRegistry(cfg, store)
	if err != nil {
		return nil, err
	}
	tokens, err := NewTokenIssuer(cfg.Token)
	if err != nil {
		return nil, err
	}

	access, err := filter.NewChain(cfg.Access, logger)
	if err != nil {
		return nil, err
	}
	audit, err := NewAuditor(cfg.Audit, logger)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.TCP.HandshakeTimeoutSec) * time.Second
	if cfg.HTTP.HandshakeTimeoutSec > cfg.TCP.HandshakeTimeoutSec {
		timeout = time.Duration(cfg.HTTP.HandshakeTimeoutSec) * time.Second
	}

	a := &Authenticator{
		registry: registry,
		store:    store,
		limiter:  NewLimiter(cfg.RateLimit, logger),
		tokens:   tokens,
		access:   access,
		audit:    audit,
		timeout:  timeout,
		logger:   logger,
	}

	logger.Info("msg", "Authenticator initialized",
		"component", "auth",
		"mechanisms", registry.ServerNames(),
		"users", store.Len(),
		"access_rules", access.Len(),
		"rate_limit", cfg.RateLimit.Enabled)

	return a, nil
}

// PolicyFromConfig converts the [scram] section into a SCRAM policy.
func PolicyFromConfig(sc *config.ScramConfig) *scram.Policy {
	return &scram.Policy{
		MinIterations:     int(sc.MinIterations),
		DefaultIterations: int(sc.DefaultIterations),
		SaltLen:           int(sc.SaltLength),
		NonceLen:          int(sc.NonceLength),
		ExtensionAttrs:    sc.ExtensionAttrs,
		MaskUnknownUsers:  sc.MaskUnknownUsers,
	}
}

// available lists every mechanism this build can run, in registration order.
func available(policy *scram.Policy, verify plain.Verifier) []sasl.Mechanism {
	mechs := scram.Mechanisms(policy)
	return append(mechs, plain.Plain(verify), plain.Login(verify))
}

// ServerRegistry builds the registry advertised to clients. Only configured
// mechanisms are registered and their configured order becomes their rank.
func ServerRegistry(cfg *config.Config, store *credential.Store) (*sasl.Registry, error) {
	policy := PolicyFromConfig(cfg.Scram)
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("scram policy: %w", err)
	}

	byName := make(map[string]sasl.Mechanism)
	for _, m := range available(policy, store.VerifyPassword) {
		byName[m.Name] = m
	}

	b := sasl.NewRegistryBuilder()
	for i, name := range cfg.Mechanisms {
		m, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not implemented", sasl.ErrUnknownMechanism, name)
		}
		m.Rank = len(cfg.Mechanisms) - i
		b.Register(m)
	}
	return b.Build()
}

// ClientRegistry builds a registry of every mechanism with its natural rank,
// for clients that negotiate against a server's advertisement.
func ClientRegistry(policy *scram.Policy) (*sasl.Registry, error) {
	return sasl.NewRegistryBuilder().Register(available(policy, nil)...).Build()
}

// Binding is the channel binding of the transport an exchange runs on.
type Binding struct {
	Name string
	Data []byte
}

// Mechanisms returns the advertised mechanism names in preference order.
func (a *Authenticator) Mechanisms() []string {
	return a.registry.ServerNames()
}

// MechanismsFor returns the mechanisms a transport can offer. -PLUS
// mechanisms need a transport that provides channel binding.
func (a *Authenticator) MechanismsFor(bound bool) []string {
	names := a.registry.ServerNames()
	if bound {
		return names
	}
	offered := names[:0:0]
	for _, name := range names {
		if m, err := a.registry.Lookup(name); err == nil && !m.ChannelBinding {
			offered = append(offered, name)
		}
	}
	return offered
}

// OffersChannelBinding reports whether any configured mechanism binds to
// the channel.
func (a *Authenticator) OffersChannelBinding() bool {
	return len(a.MechanismsFor(true)) != len(a.MechanismsFor(false))
}

// Timeout is the time a client has to finish an exchange.
func (a *Authenticator) Timeout() time.Duration {
	return a.timeout
}

// Tokens exposes the token issuer for bearer verification.
func (a *Authenticator) Tokens() *TokenIssuer {
	return a.tokens
}

// Begin starts an exchange for remoteAddr on a transport without channel
// binding. The returned exchange must be closed by the caller.
func (a *Authenticator) Begin(mechanism, remoteAddr string) (*Exchange, error) {
	return a.BeginWith(mechanism, remoteAddr, nil)
}

// BeginWith starts an exchange bound to the transport's channel. A nil
// binding offers none: -PLUS mechanisms are refused and SCRAM clients
// that could bind are not treated as downgraded.
func (a *Authenticator) BeginWith(mechanism, remoteAddr string, binding *Binding) (*Exchange, error) {
	if err := a.limiter.Allow(remoteAddr); err != nil {
		a.failures.Add(1)
		a.audit.Record(core.AuthEvent{
			Time:       time.Now(),
			Outcome:    core.OutcomeFailure,
			Mechanism:  mechanism,
			RemoteAddr: remoteAddr,
			Reason:     Reason(err),
		})
		return nil, err
	}

	m, err := a.registry.Lookup(mechanism)
	if err == nil && m.ChannelBinding && binding == nil {
		err = fmt.Errorf("%w: %s needs channel binding", sasl.ErrUnknownMechanism, m.Name)
	}
	if err != nil {
		a.limiter.RecordFailure(remoteAddr)
		return nil, err
	}
	sess, err := sasl.NewServerSession(a.registry, m.Name, a.store.Callback(m.Name))
	if err != nil {
		return nil, err
	}
	if binding != nil {
		sess.Properties().SetString(sasl.ChannelBindingName, binding.Name)
		sess.Properties().Set(sasl.ChannelBindingData, binding.Data)
	}

	a.active.Add(1)
	a.logger.Debug("msg", "Exchange started",
		"component", "auth",
		"mechanism", m.Name,
		"remote_addr", remoteAddr)

	return &Exchange{
		auth:       a,
		sess:       sess,
		remoteAddr: remoteAddr,
		deadline:   time.Now().Add(a.timeout),
	}, nil
}

// SetAuditor replaces the audit trail, nil disables it.
func (a *Authenticator) SetAuditor(audit *Auditor) {
	a.audit = audit
}

// authorize finishes a successful exchange: the authzid check, access rules
// and token issuance.
func (a *Authenticator) authorize(sess *sasl.Session, remoteAddr string) (*Identity, error) {
	props := sess.Properties()
	authcid, _ := props.Get(sasl.AuthID)
	authzid, _ := props.Get(sasl.AuthzID)

	if len(authzid) > 0 && string(authzid) != string(authcid) && !a.store.IsAdmin(string(authcid)) {
		return nil, fmt.Errorf("%w: %s as %s", ErrNotAuthorized, authcid, authzid)
	}

	attempt := core.Attempt{
		Mechanism:  sess.Mechanism(),
		AuthID:     string(authcid),
		AuthzID:    string(authzid),
		RemoteAddr: remoteAddr,
	}
	if ok, rule := a.access.Allow(attempt); !ok {
		return nil, fmt.Errorf("%w: %s denied by access rule %d", ErrNotAuthorized, authcid, rule)
	}

	token, expires, err := a.tokens.Issue(string(authcid), string(authzid), sess.Mechanism())
	if err != nil {
		return nil, err
	}
	return &Identity{
		AuthID:    string(authcid),
		AuthzID:   string(authzid),
		Mechanism: sess.Mechanism(),
		Token:     token,
		ExpiresAt: expires,
	}, nil
}

// VerifyToken checks a bearer token issued by this authenticator.
func (a *Authenticator) VerifyToken(token string) (*Claims, error) {
	return a.tokens.Verify(token)
}

// GetStats returns authentication statistics
func (a *Authenticator) GetStats() map[string]any {
	return map[string]any{
		"mechanisms":       a.Mechanisms(),
		"users":            a.store.Len(),
		"successes":        a.successes.Load(),
		"failures":         a.failures.Load(),
		"active_exchanges": a.active.Load(),
		"tracked_ips":      a.limiter.Tracked(),
		"access":           a.access.GetStats(),
		"audit":            a.audit.GetStats(),
	}
}

// Shutdown stops background work and closes the audit trail.
func (a *Authenticator) Shutdown() {
	a.limiter.Shutdown()
	if err := a.audit.Close(); err != nil {
		a.logger.Warn("msg", "Failed to close audit trail",
			"component", "auth",
			"error", err)
	}
}

// Reason maps an exchange error to the short reason sent to clients. Reasons
// never reveal whether a user exists.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate-limited"
	case errors.Is(err, ErrNotAuthorized):
		return "not-authorized"
	case errors.Is(err, ErrExchangeTimeout):
		return "timeout"
	case errors.Is(err, sasl.ErrUnknownMechanism):
		return "unknown-mechanism"
	case errors.Is(err, sasl.ErrMalformedMessage):
		return "malformed-message"
	case errors.Is(err, sasl.ErrAuthenticationCancelled):
		return "cancelled"
	case errors.Is(err, sasl.ErrChannelBinding):
		return "channel-binding"
	case errors.Is(err, sasl.ErrInvalidState):
		return "invalid-state"
	}
	return "authentication-failed"
}

// Exchange is one server-side authentication in progress. It is not safe
// for concurrent use; transports serialize steps per connection or request.
type Exchange struct {
	auth       *Authenticator
	sess       *sasl.Session
	remoteAddr string
	transport  string
	deadline   time.Time
	closed     bool
}

// Mechanism returns the running mechanism name.
func (e *Exchange) Mechanism() string { return e.sess.Mechanism() }

// SetTransport names the transport in audit records.
func (e *Exchange) SetTransport(name string) { e.transport = name }

// Deadline is when the exchange times out.
func (e *Exchange) Deadline() time.Time { return e.deadline }

// Step feeds one client message. It returns the challenge to send and, once
// the exchange succeeded, the identity. A non-nil error is final; the
// challenge may still carry a final message for the client.
func (e *Exchange) Step(input []byte) (challenge []byte, id *Identity, err error) {
	if e.closed {
		return nil, nil, errExchangeClosed()
	}
	if time.Now().After(e.deadline) {
		e.sess.Close()
		return nil, nil, e.finish(ErrExchangeTimeout)
	}
	if e.sess.Steps() >= core.MaxExchangeSteps {
		e.sess.Close()
		return nil, nil, e.finish(sasl.Errorf(sasl.ErrMalformedMessage, "exchange exceeded %d steps", core.MaxExchangeSteps))
	}

	out, done, err := e.sess.Step(input)
	if err != nil {
		return out, nil, e.finish(err)
	}
	if !done {
		return out, nil, nil
	}

	id, err = e.auth.authorize(e.sess, e.remoteAddr)
	if err != nil {
		return out, nil, e.finish(err)
	}

	e.auth.successes.Add(1)
	e.auth.limiter.RecordSuccess(e.remoteAddr)
	e.auth.logger.Info("msg", "Authentication succeeded",
		"component", "auth",
		"mechanism", id.Mechanism,
		"authcid", id.AuthID,
		"authzid", id.AuthzID,
		"remote_addr", e.remoteAddr)
	e.auth.audit.Record(core.AuthEvent{
		Time:       time.Now(),
		Outcome:    core.OutcomeSuccess,
		Mechanism:  id.Mechanism,
		AuthID:     id.AuthID,
		AuthzID:    id.AuthzID,
		RemoteAddr: e.remoteAddr,
		Transport:  e.transport,
	})
	e.Close()
	return out, id, nil
}

// Cancel aborts the exchange at the client's request. A finished exchange
// is left as it is.
func (e *Exchange) Cancel() error {
	if e.closed {
		return errExchangeClosed()
	}
	e.sess.Close()
	return e.finish(fmt.Errorf("%w: cancelled by client", sasl.ErrAuthenticationCancelled))
}

// Close wipes the session secrets. Safe to call more than once.
func (e *Exchange) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.sess.Close()
	e.auth.active.Add(-1)
}

func errExchangeClosed() error {
	return sasl.Errorf(sasl.ErrInvalidState, "exchange already finished")
}

func (e *Exchange) finish(err error) error {
	e.auth.failures.Add(1)
	if !errors.Is(err, sasl.ErrAuthenticationCancelled) {
		e.auth.limiter.RecordFailure(e.remoteAddr)
	}
	e.auth.logger.Warn("msg", "Authentication failed",
		"component", "auth",
		"mechanism", e.sess.Mechanism(),
		"remote_addr", e.remoteAddr,
		"error", err)

	authcid, _ := e.sess.Properties().Get(sasl.AuthID)
	e.auth.audit.Record(core.AuthEvent{
		Time:       time.Now(),
		Outcome:    core.OutcomeFailure,
		Mechanism:  e.sess.Mechanism(),
		AuthID:     string(authcid),
		RemoteAddr: e.remoteAddr,
		Transport:  e.transport,
		Reason:     Reason(err),
	})
	e.Close()
	return err
}
