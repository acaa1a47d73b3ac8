// FILE: src/internal/sasl/property.go
package sasl

import (
	"fmt"

	"saslwisp/src/internal/primitive"
)

// Property names an attribute a mechanism may need during an exchange.
type Property int

const (
	AuthID Property = iota + 1
	AuthzID
	Password
	Realm
	Service
	Hostname
	AnonymousToken
	ChannelBindingName
	ChannelBindingData
	ScramSalt
	ScramIterations
	ScramSaltedPassword
	ScramStoredKey
	ScramServerKey
)

var propertyNames = map[Property]string{
	AuthID:              "authid",
	AuthzID:             "authzid",
	Password:            "password",
	Realm:               "realm",
	Service:             "service",
	Hostname:            "hostname",
	AnonymousToken:      "anonymous_token",
	ChannelBindingName:  "cb_name",
	ChannelBindingData:  "cb_data",
	ScramSalt:           "scram_salt",
	ScramIterations:     "scram_iterations",
	ScramSaltedPassword: "scram_salted_password",
	ScramStoredKey:      "scram_stored_key",
	ScramServerKey:      "scram_server_key",
}

func (p Property) String() string {
	if name, ok := propertyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("property(%d)", int(p))
}

// secret reports whether the value must be wiped when the session is closed.
func (p Property) secret() bool {
	switch p {
	case Password, ScramSaltedPassword, ScramStoredKey, ScramServerKey:
		return true
	}
	return false
}

// Lookup is a read-only view of the properties already known to a session.
type Lookup interface {
	Get(p Property) ([]byte, bool)
}

// Callback supplies properties on demand. It returns ok=false when the
// property is not available; a non-nil error aborts the current step.
// The callback runs synchronously on the goroutine calling Session.Step.
type Callback func(p Property, known Lookup) (value []byte, ok bool, err error)

// Properties is the property bag owned by one session.
type Properties struct {
	values   map[Property][]byte
	callback Callback
}

// NewProperties creates an empty bag backed by cb, which may be nil.
func NewProperties(cb Callback) *Properties {
	return &Properties{
		values:   make(map[Property][]byte),
		callback: cb,
	}
}

// Get returns a property that was set or already fetched, without invoking the callback.
func (p *Properties) Get(prop Property) ([]byte, bool) {
	v, ok := p.values[prop]
	return v, ok
}

// Set stores a property value, replacing any previous one.
func (p *Properties) Set(prop Property, value []byte) {
	if old, ok := p.values[prop]; ok && prop.secret() {
		primitive.Zero(old)
	}
	p.values[prop] = append([]byte(nil), value...)
}

// SetString is Set for text values.
func (p *Properties) SetString(prop Property, value string) {
	p.Set(prop, []byte(value))
}

// Maybe returns the property from the bag or the callback; ok=false means neither had it.
func (p *Properties) Maybe(prop Property) ([]byte, bool, error) {
	if v, ok := p.values[prop]; ok {
		return v, true, nil
	}
	if p.callback == nil {
		return nil, false, nil
	}
	v, ok, err := p.callback(prop, p)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCallback, prop, err)
	}
	if !ok {
		return nil, false, nil
	}
	p.Set(prop, v)
	return p.values[prop], true, nil
}

// Need is Maybe where absence is an ErrMissingProperty failure.
func (p *Properties) Need(prop Property) ([]byte, error) {
	v, ok, err := p.Maybe(prop)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingProperty, prop)
	}
	return v, nil
}

// wipe zeroes secret values and forgets everything.
func (p *Properties) wipe() {
	for prop, v := range p.values {
		if prop.secret() {
			primitive.Zero(v)
		}
		delete(p.values, prop)
	}
}

// StaticCallback serves a fixed set of properties, mostly useful for clients.
func StaticCallback(values map[Property]string) Callback {
	return func(p Property, _ Lookup) ([]byte, bool, error) {
		v, ok := values[p]
		if !ok {
			return nil, false, nil
		}
		return []byte(v), true, nil
	}
}
