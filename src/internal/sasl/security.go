// FILE: src/internal/sasl/security.go
package sasl

// SecurityLayer protects application data after authentication using the
// per-direction keys a mechanism negotiated. Framing and buffering of the
// protected stream belong to the transport.
type SecurityLayer interface {
	Encode(plaintext []byte) ([]byte, error)
	Decode(protected []byte) ([]byte, error)
}

// SecurityLayerProvider is implemented by authenticators that negotiate
// confidentiality or integrity keys. It is consulted only after success.
type SecurityLayerProvider interface {
	SecurityLayer() (SecurityLayer, bool)
}
