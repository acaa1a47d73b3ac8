// FILE: src/internal/sasl/session.go
package sasl

import (
	"encoding/base64"
	"fmt"
)

// State is the lifecycle position of a session.
type State int

const (
	NotStarted State = iota
	InProgress
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Complete reports whether the session reached a terminal state.
func (s State) Complete() bool {
	return s == Succeeded || s == Failed
}

// Session drives one mechanism run to completion. A session is single use
// and not safe for concurrent Step calls; independent sessions share nothing
// but the read-only registry.
type Session struct {
	role  Role
	mech  *Mechanism
	auth  Authenticator
	props *Properties
	state State
	err   error
	steps int
}

// NewClientSession starts a client run of the named mechanism.
func NewClientSession(reg *Registry, name string, cb Callback) (*Session, error) {
	return newSession(reg, name, Client, cb)
}

// NewServerSession starts a server run of the named mechanism.
func NewServerSession(reg *Registry, name string, cb Callback) (*Session, error) {
	return newSession(reg, name, Server, cb)
}

// NegotiateClientSession picks the strongest mechanism from the list a server
// advertised and starts a client run of it.
func NegotiateClientSession(reg *Registry, advertised []string, cb Callback) (*Session, error) {
	m, err := reg.Negotiate(advertised, Client)
	if err != nil {
		return nil, err
	}
	return start(m, Client, cb), nil
}

// NegotiateServerSession picks the strongest mechanism from the list a client
// offered and starts a server run of it.
func NegotiateServerSession(reg *Registry, offered []string, cb Callback) (*Session, error) {
	m, err := reg.Negotiate(offered, Server)
	if err != nil {
		return nil, err
	}
	return start(m, Server, cb), nil
}

func newSession(reg *Registry, name string, role Role, cb Callback) (*Session, error) {
	m, err := reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !m.Supports(role) {
		return nil, fmt.Errorf("%w: %s has no %s side", ErrUnknownMechanism, m.Name, role)
	}
	return start(m, role, cb), nil
}

func start(m *Mechanism, role Role, cb Callback) *Session {
	return &Session{
		role:  role,
		mech:  m,
		auth:  m.start(role),
		props: NewProperties(cb),
	}
}

// Mechanism returns the name of the selected mechanism.
func (s *Session) Mechanism() string { return s.mech.Name }

// Role returns the side this session plays.
func (s *Session) Role() Role { return s.role }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Err returns the terminal failure, nil unless State is Failed.
func (s *Session) Err() error { return s.err }

// Steps returns how many times Step ran the mechanism.
func (s *Session) Steps() int { return s.steps }

// Properties exposes the session's property bag, e.g. to preset channel
// binding data or read the authenticated identity after success.
func (s *Session) Properties() *Properties { return s.props }

// SetProperty is a shorthand for Properties().Set.
func (s *Session) SetProperty(p Property, value []byte) { s.props.Set(p, value) }

// WeAreFirst reports whether this side must call Step with no input to
// produce the opening message.
func (s *Session) WeAreFirst() bool {
	return (s.role == Client) == s.mech.ClientFirst
}

// Step feeds one peer message (nil when this side speaks first) and returns
// the message to send back, if any. done=true with a nil error means the
// exchange succeeded. Any error is terminal: the session moves to Failed and
// out may carry a final message the peer should still receive.
func (s *Session) Step(input []byte) (out []byte, done bool, err error) {
	if s.state.Complete() {
		return nil, true, &Error{Mechanism: s.mech.Name, Err: fmt.Errorf("%w: step after %s", ErrInvalidState, s.state)}
	}

	// A server running a client-first mechanism without an initial response
	// answers with an empty challenge and waits for the first real message.
	if s.state == NotStarted && s.role == Server && s.mech.ClientFirst && input == nil {
		s.state = InProgress
		return []byte{}, false, nil
	}

	s.state = InProgress
	s.steps++
	out, done, err = s.auth.Step(s.props, input)
	if err != nil {
		s.fail(err)
		return out, true, s.err
	}
	if done {
		s.state = Succeeded
	}
	return out, done, nil
}

// Step64 is Step for transports that carry base64 text. An empty input on
// the opening step means "no input" when this side speaks first, and on a
// server it means the client sent no initial response. The returned string
// is "" when there is nothing to send.
func (s *Session) Step64(input string) (string, bool, error) {
	var in []byte
	if !(s.state == NotStarted && input == "" && (s.WeAreFirst() || s.role == Server)) {
		decoded, err := base64.StdEncoding.DecodeString(input)
		if err != nil {
			if s.state.Complete() {
				_, done, err := s.Step(nil)
				return "", done, err
			}
			s.fail(fmt.Errorf("%w: invalid base64: %v", ErrMalformedMessage, err))
			return "", true, s.err
		}
		in = decoded
	}
	out, done, err := s.Step(in)
	return base64.StdEncoding.EncodeToString(out), done, err
}

// SecurityLayer returns the negotiated security layer once the session
// succeeded and the mechanism established one.
func (s *Session) SecurityLayer() (SecurityLayer, bool) {
	if s.state != Succeeded {
		return nil, false
	}
	if p, ok := s.auth.(SecurityLayerProvider); ok {
		return p.SecurityLayer()
	}
	return nil, false
}

// Close discards secret material. The session cannot be stepped afterwards.
func (s *Session) Close() {
	if w, ok := s.auth.(Wiper); ok {
		w.Wipe()
	}
	s.props.wipe()
	if !s.state.Complete() {
		s.fail(fmt.Errorf("%w: session closed", ErrAuthenticationCancelled))
	}
}

func (s *Session) fail(err error) {
	s.state = Failed
	if w, ok := s.auth.(Wiper); ok {
		w.Wipe()
	}
	if _, ok := err.(*Error); !ok {
		err = &Error{Mechanism: s.mech.Name, Err: err}
	}
	s.err = err
}
