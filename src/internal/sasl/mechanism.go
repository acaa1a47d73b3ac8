// FILE: src/internal/sasl/mechanism.go
package sasl

import (
	"fmt"
)

// Role is the side of the exchange a session plays.
type Role int

const (
	Client Role = iota
	Server
)

func (r Role) String() string {
	if r == Server {
		return "server"
	}
	return "client"
}

// Authenticator is the private state of one mechanism run. Step consumes
// one peer message (nil on the very first client step of a client-first
// mechanism) and produces at most one outbound message.
//
// done=true with a nil error is success. A non-nil error is terminal; out
// may still carry a message for the peer (e.g. a SCRAM "e=" reply).
type Authenticator interface {
	Step(props *Properties, input []byte) (out []byte, done bool, err error)
}

// Wiper is implemented by authenticators holding secret material.
type Wiper interface {
	Wipe()
}

// Mechanism describes a registered mechanism. It is immutable once registered
// and shared by every session that selects it.
type Mechanism struct {
	Name string
	// ClientFirst is set when the client sends the first message.
	ClientFirst bool
	// Rank orders mechanisms during negotiation; higher is stronger.
	Rank int

	PlainText      bool
	ChannelBinding bool
	MutualAuth     bool

	// NewClient and NewServer start a fresh run. Either may be nil when the
	// side is not implemented.
	NewClient func() Authenticator
	NewServer func() Authenticator
}

// Supports reports whether the mechanism can run as role.
func (m *Mechanism) Supports(role Role) bool {
	if role == Server {
		return m.NewServer != nil
	}
	return m.NewClient != nil
}

func (m *Mechanism) start(role Role) Authenticator {
	if role == Server {
		return m.NewServer()
	}
	return m.NewClient()
}

// ValidateName checks a mechanism name against the SASL naming rules:
// 1 to 20 characters from A-Z, 0-9, '-' and '_'.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > 20 {
		return fmt.Errorf("invalid mechanism name length %d: %q", len(name), name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("invalid character %q in mechanism name %q", c, name)
		}
	}
	return nil
}
