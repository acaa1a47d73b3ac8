// FILE: src/internal/core/event.go
package core

import "time"

// Authentication outcomes recorded in the audit trail
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuthEvent describes one finished authentication exchange.
type AuthEvent struct {
	Time       time.Time
	Outcome    string
	Mechanism  string
	AuthID     string
	AuthzID    string
	RemoteAddr string
	Transport  string
	Reason     string
}

// Attempt is the subject an access rule is checked against.
type Attempt struct {
	Mechanism  string
	AuthID     string
	AuthzID    string
	RemoteAddr string
}
