// FILE: src/internal/sasl/plain/login.go
package plain

import (
	"saslwisp/src/internal/primitive"
	"saslwisp/src/internal/sasl"
)

// LOGIN challenges
const (
	LoginChallengeUsername = "Username:"
	LoginChallengePassword = "Password:"
)

// Login state constants
const (
	loginStateUsername = iota
	loginStatePassword
	loginStateDone
)

// Login returns the LOGIN mechanism. It is kept for legacy clients; PLAIN
// is preferred during negotiation.
func Login(verify Verifier) sasl.Mechanism {
	return sasl.Mechanism{
		Name:      "LOGIN",
		Rank:      5,
		PlainText: true,
		NewClient: func() sasl.Authenticator { return &loginClient{} },
		NewServer: func() sasl.Authenticator { return &loginServer{verify: verify} },
	}
}

type loginClient struct {
	state int
}

// Step answers the username challenge, then the password challenge. The
// challenge text itself is not checked since servers vary it.
func (c *loginClient) Step(props *sasl.Properties, input []byte) ([]byte, bool, error) {
	switch c.state {
	case loginStateUsername:
		authcid, err := props.Need(sasl.AuthID)
		if err != nil {
			return nil, false, err
		}
		c.state = loginStatePassword
		return append([]byte(nil), authcid...), false, nil
	case loginStatePassword:
		password, err := props.Need(sasl.Password)
		if err != nil {
			return nil, false, err
		}
		c.state = loginStateDone
		return append([]byte(nil), password...), true, nil
	}
	return nil, true, sasl.Errorf(sasl.ErrInvalidState, "LOGIN exchange finished")
}

type loginServer struct {
	verify   Verifier
	state    int
	started  bool
	username string
}

func (s *loginServer) Step(props *sasl.Properties, input []byte) ([]byte, bool, error) {
	if !s.started {
		s.started = true
		return []byte(LoginChallengeUsername), false, nil
	}

	switch s.state {
	case loginStateUsername:
		if len(input) == 0 {
			return nil, false, sasl.Errorf(sasl.ErrMalformedMessage, "empty username")
		}
		s.username = string(input)
		props.SetString(sasl.AuthID, s.username)
		s.state = loginStatePassword
		return []byte(LoginChallengePassword), false, nil

	case loginStatePassword:
		s.state = loginStateDone
		password := append([]byte(nil), input...)
		defer primitive.Zero(password)
		// LOGIN doesn't support authzid, so the authentication identity is the identity
		if err := check(s.verify, props, s.username, password); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}
	return nil, true, sasl.Errorf(sasl.ErrInvalidState, "LOGIN exchange finished")
}
