// FILE: src/internal/sasl/scram/server.go
package scram

import (
	"errors"
	"strconv"

	"saslwisp/src/internal/primitive"
	"saslwisp/src/internal/sasl"

	"github.com/xdg-go/stringprep"
)

type serverState int

const (
	serverWaitClientFirst serverState = iota
	serverWaitClientFinal
	serverDone
)

// server runs the server side of one SCRAM exchange.
type server struct {
	hash   primitive.Provider
	plus   bool
	policy *Policy

	state       serverState
	first       *ClientFirst
	serverFirst *ServerFirst
	cbData      []byte
	cred        *Credential
	unknown     bool
	authMessage string
}

func newServer(hash primitive.Provider, plus bool, policy *Policy) *server {
	return &server{hash: hash, plus: plus, policy: policy}
}

func (s *server) Step(props *sasl.Properties, input []byte) ([]byte, bool, error) {
	switch s.state {
	case serverWaitClientFirst:
		out, err := s.serverFirstMessage(props, string(input))
		if err != nil {
			return s.reject(err), false, err
		}
		s.state = serverWaitClientFinal
		return out, false, nil

	case serverWaitClientFinal:
		out, err := s.serverFinal(string(input))
		s.state = serverDone
		s.Wipe()
		if err != nil {
			return s.reject(err), false, err
		}
		return out, true, nil
	}
	return nil, false, sasl.Errorf(sasl.ErrInvalidState, "scram server already finished")
}

func (s *server) serverFirstMessage(props *sasl.Properties, msg string) ([]byte, error) {
	first, err := ParseClientFirst(msg, s.policy)
	if err != nil {
		return nil, err
	}
	if err := s.checkBindingFlag(props, first); err != nil {
		return nil, err
	}

	username, err := stringprep.SASLprep.Prepare(first.Username)
	if err != nil {
		return nil, withValue(sasl.Errorf(sasl.ErrMalformedMessage, "username rejected by SASLprep: %v", err), ErrValueInvalidUsername)
	}
	props.SetString(sasl.AuthID, username)
	if first.AuthzID != "" {
		props.SetString(sasl.AuthzID, first.AuthzID)
	}

	cred, err := s.lookupCredential(props)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		if !s.policy.MaskUnknownUsers {
			return nil, withValue(sasl.Errorf(sasl.ErrMissingProperty, "no credential for %q", username), ErrValueUnknownUser)
		}
		if cred, err = s.decoyCredential(username); err != nil {
			return nil, err
		}
		s.unknown = true
	}

	suffix, err := s.policy.nonce()
	if err != nil {
		return nil, err
	}
	s.first = first
	s.cred = cred
	s.serverFirst = &ServerFirst{
		Nonce:      first.Nonce + suffix,
		Salt:       cred.Salt,
		Iterations: cred.Iterations,
	}
	return []byte(s.serverFirst.String()), nil
}

// checkBindingFlag applies the channel binding rules to the GS2 header.
func (s *server) checkBindingFlag(props *sasl.Properties, first *ClientFirst) error {
	if s.plus {
		if first.CBFlag != CBUsed {
			return withValue(sasl.Errorf(sasl.ErrChannelBinding, "-PLUS mechanism without channel binding"), ErrValueCBNotSupported)
		}
		if want, ok := props.Get(sasl.ChannelBindingName); ok && string(want) != first.CBName {
			return withValue(sasl.Errorf(sasl.ErrChannelBinding, "unsupported channel binding type %q", first.CBName), ErrValueUnsupportedCBType)
		}
		props.SetString(sasl.ChannelBindingName, first.CBName)
		data, err := props.Need(sasl.ChannelBindingData)
		if err != nil {
			return withValue(err, ErrValueUnsupportedCBType)
		}
		s.cbData = append([]byte(nil), data...)
		return nil
	}

	switch first.CBFlag {
	case CBUsed:
		return withValue(sasl.Errorf(sasl.ErrChannelBinding, "channel binding requested on a non-PLUS mechanism"), ErrValueCBNotSupported)
	case CBSupported:
		// The client could bind and thinks we cannot. If we can, a -PLUS
		// mechanism was stripped from the advertisement.
		_, ok, err := props.Maybe(sasl.ChannelBindingData)
		if err != nil {
			return err
		}
		if ok {
			return withValue(sasl.Errorf(sasl.ErrChannelBinding, "channel binding downgrade detected"), ErrValueServerDoesSupportCB)
		}
	}
	return nil
}

// lookupCredential asks for stored keys first and falls back to deriving
// them from a plaintext password. A nil credential means the user is unknown.
func (s *server) lookupCredential(props *sasl.Properties) (*Credential, error) {
	salt, hasSalt, err := props.Maybe(sasl.ScramSalt)
	if err != nil {
		return nil, err
	}
	iterations := s.policy.DefaultIterations
	if v, ok, err := props.Maybe(sasl.ScramIterations); err != nil {
		return nil, err
	} else if ok {
		if iterations, err = strconv.Atoi(string(v)); err != nil || iterations < 1 {
			return nil, sasl.Errorf(sasl.ErrCallback, "invalid iteration count %q", v)
		}
	}

	if hasSalt && len(salt) > 0 {
		stored, hasStored, err := props.Maybe(sasl.ScramStoredKey)
		if err != nil {
			return nil, err
		}
		server, hasServer, err := props.Maybe(sasl.ScramServerKey)
		if err != nil {
			return nil, err
		}
		if hasStored && hasServer {
			if len(stored) != s.hash.Size() || len(server) != s.hash.Size() {
				return nil, sasl.Errorf(sasl.ErrCallback, "stored keys do not match %s", s.hash.Name())
			}
			return &Credential{
				Hash:       s.hash.Name(),
				Salt:       append([]byte(nil), salt...),
				Iterations: iterations,
				StoredKey:  append([]byte(nil), stored...),
				ServerKey:  append([]byte(nil), server...),
			}, nil
		}
	}

	password, ok, err := props.Maybe(sasl.Password)
	if err != nil || !ok {
		return nil, err
	}
	prepared, err := stringprep.SASLprep.Prepare(string(password))
	if err != nil {
		return nil, sasl.Errorf(sasl.ErrCallback, "stored password rejected by SASLprep: %v", err)
	}
	if !hasSalt || len(salt) == 0 {
		if salt, err = s.policy.salt(); err != nil {
			return nil, err
		}
	}
	return DeriveCredential(s.hash, []byte(prepared), salt, iterations), nil
}

// decoyCredential stands in for an unknown user so the exchange looks the
// same until the proof is checked. The salt is stable per username and the
// iteration count is the one new credentials get.
func (s *server) decoyCredential(username string) (*Credential, error) {
	salt, err := s.policy.decoySalt(username)
	if err != nil {
		return nil, err
	}
	key, err := s.policy.salt()
	if err != nil {
		return nil, err
	}
	stored, server := keysFromSalted(s.hash, key)
	return &Credential{
		Hash:       s.hash.Name(),
		Salt:       salt,
		Iterations: s.policy.DefaultIterations,
		StoredKey:  stored,
		ServerKey:  server,
	}, nil
}

func (s *server) serverFinal(msg string) ([]byte, error) {
	final, err := ParseClientFinal(msg, s.policy)
	if err != nil {
		return nil, err
	}
	if final.Nonce != s.serverFirst.Nonce {
		return nil, withValue(sasl.Errorf(sasl.ErrNonceMismatch, "client-final nonce differs from server-first"), ErrValueOtherError)
	}

	expected := append([]byte(s.first.GS2Header()), s.cbData...)
	if !primitive.Equal(final.ChannelBinding, expected) {
		return nil, withValue(sasl.Errorf(sasl.ErrChannelBinding, "channel binding data mismatch"), ErrValueCBDontMatch)
	}

	s.authMessage = s.first.Bare() + "," + s.serverFirst.String() + "," + final.WithoutProof()
	invalid := withValue(sasl.Errorf(sasl.ErrProofInvalid, "authentication failed"), ErrValueInvalidProof)
	if len(final.Proof) != s.hash.Size() {
		return nil, invalid
	}

	clientSig := s.hash.HMAC(s.cred.StoredKey, []byte(s.authMessage))
	clientKey := primitive.XOR(final.Proof, clientSig)
	defer primitive.Zero(clientKey)
	if !primitive.Equal(s.hash.Hash(clientKey), s.cred.StoredKey) || s.unknown {
		return nil, invalid
	}

	verifier := s.hash.HMAC(s.cred.ServerKey, []byte(s.authMessage))
	return []byte((&ServerFinal{Verifier: verifier}).String()), nil
}

// reject renders the server-error message for a failure, if any.
func (s *server) reject(err error) []byte {
	var v *valuedError
	if errors.As(err, &v) {
		return []byte((&ServerFinal{Error: v.value}).String())
	}
	switch {
	case errors.Is(err, errExtension):
		return []byte((&ServerFinal{Error: ErrValueExtensionsNotSupported}).String())
	case errors.Is(err, sasl.ErrMalformedMessage):
		return []byte((&ServerFinal{Error: ErrValueInvalidEncoding}).String())
	}
	return []byte((&ServerFinal{Error: ErrValueOtherError}).String())
}

// Wipe discards the verifier keys and binding data.
func (s *server) Wipe() {
	if s.cred != nil {
		primitive.Zero(s.cred.StoredKey)
		primitive.Zero(s.cred.ServerKey)
	}
	primitive.Zero(s.cbData)
	s.cbData = nil
}

// valuedError attaches the server-error value sent to the client.
type valuedError struct {
	err   error
	value string
}

func (e *valuedError) Error() string { return e.err.Error() }
func (e *valuedError) Unwrap() error { return e.err }

func withValue(err error, value string) error {
	return &valuedError{err: err, value: value}
}
