// FILE: src/internal/sasl/plain/plain.go
// Package plain implements the PLAIN (RFC 4616) and LOGIN mechanisms.
// Both send the password in clear text and belong on encrypted transports only.
package plain

import (
	"bytes"

	"saslwisp/src/internal/primitive"
	"saslwisp/src/internal/sasl"
)

// Verifier checks a password for an authentication identity. It returns
// false for unknown users and wrong passwords alike.
type Verifier func(authcid string, password []byte) (bool, error)

// Plain returns the PLAIN mechanism. With a nil verifier the server compares
// against the Password property supplied by the session callback.
func Plain(verify Verifier) sasl.Mechanism {
	return sasl.Mechanism{
		Name:        "PLAIN",
		ClientFirst: true,
		Rank:        10,
		PlainText:   true,
		NewClient:   func() sasl.Authenticator { return &plainClient{} },
		NewServer:   func() sasl.Authenticator { return &plainServer{verify: verify} },
	}
}

type plainClient struct {
	sent bool
}

// Step sends "authzid NUL authcid NUL passwd" once. The client is done
// after sending; the outcome arrives through the application protocol.
func (c *plainClient) Step(props *sasl.Properties, input []byte) ([]byte, bool, error) {
	if c.sent {
		return nil, true, sasl.Errorf(sasl.ErrInvalidState, "PLAIN response already sent")
	}
	authcid, err := props.Need(sasl.AuthID)
	if err != nil {
		return nil, false, err
	}
	password, err := props.Need(sasl.Password)
	if err != nil {
		return nil, false, err
	}
	authzid, _, err := props.Maybe(sasl.AuthzID)
	if err != nil {
		return nil, false, err
	}
	if bytes.IndexByte(authcid, 0) >= 0 || bytes.IndexByte(authzid, 0) >= 0 || bytes.IndexByte(password, 0) >= 0 {
		return nil, false, sasl.Errorf(sasl.ErrMalformedMessage, "PLAIN fields must not contain NUL")
	}

	out := make([]byte, 0, len(authzid)+len(authcid)+len(password)+2)
	out = append(out, authzid...)
	out = append(out, 0)
	out = append(out, authcid...)
	out = append(out, 0)
	out = append(out, password...)
	c.sent = true
	return out, true, nil
}

type plainServer struct {
	verify Verifier
}

func (s *plainServer) Step(props *sasl.Properties, input []byte) ([]byte, bool, error) {
	// Parse: authzid NUL authcid NUL passwd
	parts := bytes.Split(input, []byte{0})
	if len(parts) != 3 {
		return nil, false, sasl.Errorf(sasl.ErrMalformedMessage, "PLAIN message must have three fields")
	}
	authzid, authcid, password := parts[0], parts[1], parts[2]
	if len(authcid) == 0 {
		return nil, false, sasl.Errorf(sasl.ErrMalformedMessage, "empty authentication identity")
	}

	props.Set(sasl.AuthID, authcid)
	if len(authzid) > 0 {
		props.Set(sasl.AuthzID, authzid)
	}
	if err := check(s.verify, props, string(authcid), password); err != nil {
		return nil, false, err
	}
	return nil, true, nil
}

// check runs the verifier or falls back to the Password property.
func check(verify Verifier, props *sasl.Properties, authcid string, password []byte) error {
	if verify != nil {
		ok, err := verify(authcid, password)
		if err != nil {
			return sasl.Errorf(sasl.ErrCallback, "password verification: %v", err)
		}
		if !ok {
			return sasl.Errorf(sasl.ErrProofInvalid, "invalid credentials")
		}
		return nil
	}

	want, ok, err := props.Maybe(sasl.Password)
	if err != nil {
		return err
	}
	if !ok || !primitive.Equal(want, password) {
		return sasl.Errorf(sasl.ErrProofInvalid, "invalid credentials")
	}
	return nil
}
