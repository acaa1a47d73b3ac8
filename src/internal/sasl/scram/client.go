// FILE: src/internal/sasl/scram/client.go
package scram

import (
	"strconv"
	"strings"

	"saslwisp/src/internal/primitive"
	"saslwisp/src/internal/sasl"

	"github.com/xdg-go/stringprep"
)

// DefaultCBName is the channel binding type a -PLUS client uses when the
// application does not name one.
const DefaultCBName = "tls-exporter"

type clientState int

const (
	clientStart clientState = iota
	clientWaitServerFirst
	clientWaitServerFinal
	clientDone
)

// client runs the client side of one SCRAM exchange.
type client struct {
	hash   primitive.Provider
	plus   bool
	policy *Policy

	state       clientState
	first       *ClientFirst
	cbData      []byte
	serverSig   []byte
	authMessage string
}

func newClient(hash primitive.Provider, plus bool, policy *Policy) *client {
	return &client{hash: hash, plus: plus, policy: policy}
}

func (c *client) Step(props *sasl.Properties, input []byte) ([]byte, bool, error) {
	switch c.state {
	case clientStart:
		if len(input) != 0 {
			return nil, false, malformed("unexpected server data before client-first")
		}
		out, err := c.clientFirst(props)
		if err != nil {
			return nil, false, err
		}
		c.state = clientWaitServerFirst
		return out, false, nil

	case clientWaitServerFirst:
		out, err := c.clientFinal(props, string(input))
		if err != nil {
			return nil, false, err
		}
		c.state = clientWaitServerFinal
		return out, false, nil

	case clientWaitServerFinal:
		if err := c.verifyServer(string(input)); err != nil {
			return nil, false, err
		}
		c.state = clientDone
		c.Wipe()
		return nil, true, nil
	}
	return nil, false, sasl.Errorf(sasl.ErrInvalidState, "scram client already finished")
}

func (c *client) clientFirst(props *sasl.Properties) ([]byte, error) {
	authid, err := props.Need(sasl.AuthID)
	if err != nil {
		return nil, err
	}
	username, err := stringprep.SASLprep.Prepare(string(authid))
	if err != nil {
		return nil, malformed("username rejected by SASLprep: %v", err)
	}
	if username == "" {
		return nil, malformed("empty username")
	}

	first := &ClientFirst{CBFlag: CBNone, Username: username}
	if authz, ok, err := props.Maybe(sasl.AuthzID); err != nil {
		return nil, err
	} else if ok {
		first.AuthzID = string(authz)
	}

	if c.plus {
		name, ok, err := props.Maybe(sasl.ChannelBindingName)
		if err != nil {
			return nil, err
		}
		first.CBFlag = CBUsed
		first.CBName = DefaultCBName
		if ok && len(name) > 0 {
			first.CBName = string(name)
		}
		if !validCBName(first.CBName) {
			return nil, sasl.Errorf(sasl.ErrChannelBinding, "invalid channel binding name %q", first.CBName)
		}
		data, err := props.Need(sasl.ChannelBindingData)
		if err != nil {
			return nil, err
		}
		c.cbData = append([]byte(nil), data...)
	} else {
		// Having binding data while running a non-PLUS mechanism means the
		// client could bind but the server did not offer it.
		_, ok, err := props.Maybe(sasl.ChannelBindingData)
		if err != nil {
			return nil, err
		}
		if ok {
			first.CBFlag = CBSupported
		}
	}

	if first.Nonce, err = c.policy.nonce(); err != nil {
		return nil, err
	}
	c.first = first
	return []byte(first.String()), nil
}

func (c *client) clientFinal(props *sasl.Properties, msg string) ([]byte, error) {
	if strings.HasPrefix(msg, "e=") {
		return nil, serverErrorClass(msg[2:])
	}
	sf, err := ParseServerFirst(msg, c.policy)
	if err != nil {
		return nil, err
	}
	// Checked before any key derivation.
	if len(sf.Nonce) <= len(c.first.Nonce) || !strings.HasPrefix(sf.Nonce, c.first.Nonce) {
		return nil, sasl.Errorf(sasl.ErrNonceMismatch, "server nonce does not extend client nonce")
	}

	props.Set(sasl.ScramSalt, sf.Salt)
	props.SetString(sasl.ScramIterations, strconv.Itoa(sf.Iterations))
	salted, err := c.saltedPassword(props, sf)
	if err != nil {
		return nil, err
	}
	defer primitive.Zero(salted)

	final := &ClientFinal{
		ChannelBinding: append([]byte(c.first.GS2Header()), c.cbData...),
		Nonce:          sf.Nonce,
	}
	c.authMessage = c.first.Bare() + "," + sf.String() + "," + final.WithoutProof()

	clientKey := c.hash.HMAC(salted, clientKeyLabel)
	defer primitive.Zero(clientKey)
	storedKey := c.hash.Hash(clientKey)
	clientSig := c.hash.HMAC(storedKey, []byte(c.authMessage))
	final.Proof = primitive.XOR(clientKey, clientSig)

	serverKey := c.hash.HMAC(salted, serverKeyLabel)
	c.serverSig = c.hash.HMAC(serverKey, []byte(c.authMessage))
	primitive.Zero(serverKey)

	return []byte(final.String()), nil
}

// saltedPassword prefers a cached SaltedPassword, which a callback can
// serve for the salt and iteration count now in the property bag.
func (c *client) saltedPassword(props *sasl.Properties, sf *ServerFirst) ([]byte, error) {
	cached, ok, err := props.Maybe(sasl.ScramSaltedPassword)
	if err != nil {
		return nil, err
	}
	if ok && len(cached) == c.hash.Size() {
		return append([]byte(nil), cached...), nil
	}
	password, err := props.Need(sasl.Password)
	if err != nil {
		return nil, err
	}
	prepared, err := stringprep.SASLprep.Prepare(string(password))
	if err != nil {
		return nil, malformed("password rejected by SASLprep: %v", err)
	}
	salted := c.hash.KDF([]byte(prepared), sf.Salt, sf.Iterations)
	props.Set(sasl.ScramSaltedPassword, salted)
	return salted, nil
}

func (c *client) verifyServer(msg string) error {
	sf, err := ParseServerFinal(msg, c.policy)
	if err != nil {
		return err
	}
	if sf.Error != "" {
		return serverErrorClass(sf.Error)
	}
	if !primitive.Equal(sf.Verifier, c.serverSig) {
		return sasl.Errorf(sasl.ErrServerAuthentication, "server signature mismatch")
	}
	return nil
}

// Wipe discards the expected server signature and binding data.
func (c *client) Wipe() {
	primitive.Zero(c.serverSig)
	primitive.Zero(c.cbData)
	c.serverSig = nil
	c.cbData = nil
}

// serverErrorClass maps a server-error value onto an error class.
func serverErrorClass(value string) error {
	switch value {
	case ErrValueCBDontMatch, ErrValueServerDoesSupportCB, ErrValueCBNotSupported, ErrValueUnsupportedCBType:
		return sasl.Errorf(sasl.ErrChannelBinding, "server error: %s", value)
	case ErrValueInvalidEncoding, ErrValueExtensionsNotSupported, ErrValueInvalidUsername:
		return sasl.Errorf(sasl.ErrMalformedMessage, "server error: %s", value)
	default:
		return sasl.Errorf(sasl.ErrProofInvalid, "server error: %s", value)
	}
}
