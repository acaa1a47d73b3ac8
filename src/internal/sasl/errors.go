// FILE: src/internal/sasl/errors.go
package sasl

import (
	"errors"
	"fmt"

	"saslwisp/src/internal/primitive"
)

// Error classes. Every error returned by a Session matches exactly one of
// these with errors.Is.
var (
	ErrUnknownMechanism        = errors.New("unknown mechanism")
	ErrNoCommonMechanism       = errors.New("no common mechanism")
	ErrInvalidState            = errors.New("invalid session state")
	ErrMissingProperty         = errors.New("missing property")
	ErrMalformedMessage        = errors.New("malformed message")
	ErrNonceMismatch           = errors.New("nonce mismatch")
	ErrProofInvalid            = errors.New("client proof invalid")
	ErrServerAuthentication    = errors.New("server authentication failed")
	ErrChannelBinding          = errors.New("channel binding mismatch")
	ErrAuthenticationCancelled = errors.New("authentication cancelled")
	ErrCallback                = errors.New("callback failed")

	// ErrPrimitiveFailure is the class of panics raised by the primitive layer.
	ErrPrimitiveFailure = primitive.ErrContract
)

var classes = []error{
	ErrUnknownMechanism,
	ErrNoCommonMechanism,
	ErrInvalidState,
	ErrMissingProperty,
	ErrMalformedMessage,
	ErrNonceMismatch,
	ErrProofInvalid,
	ErrServerAuthentication,
	ErrChannelBinding,
	ErrAuthenticationCancelled,
	ErrCallback,
	ErrPrimitiveFailure,
}

// Error is the terminal failure of a session, tagged with the mechanism that produced it.
type Error struct {
	Mechanism string
	Err       error
}

func (e *Error) Error() string {
	if e.Mechanism == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Mechanism, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Class returns the error class err belongs to, or nil if it is not a SASL error.
func Class(err error) error {
	for _, class := range classes {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}

// Errorf builds a classified error: class is wrapped so errors.Is(err, class) holds.
func Errorf(class error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", class, fmt.Sprintf(format, args...))
}
