// FILE: src/internal/tls/binding.go
package tls

import (
	"crypto/tls"
	"errors"
)

// RFC 9266 exporter label and length for tls-exporter channel binding
const (
	exporterLabel  = "EXPORTER-Channel-Binding"
	exporterLength = 32
)

// ErrNoHandshake means there is no completed TLS handshake to bind to.
var ErrNoHandshake = errors.New("no completed TLS handshake")

// ExporterBinding derives the tls-exporter channel binding data of a
// connection. Both peers of one connection derive the same bytes.
func ExporterBinding(state *tls.ConnectionState) ([]byte, error) {
	if state == nil || !state.HandshakeComplete {
		return nil, ErrNoHandshake
	}
	return state.ExportKeyingMaterial(exporterLabel, nil, exporterLength)
}
