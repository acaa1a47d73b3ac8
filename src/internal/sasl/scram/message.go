// FILE: src/internal/sasl/scram/message.go
package scram

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"saslwisp/src/internal/sasl"
)

// Channel binding flags of the GS2 header
const (
	CBNone      = 'n' // client does not support channel binding
	CBSupported = 'y' // client supports it but believes the server does not
	CBUsed      = 'p' // channel binding in use, CBName names the type
)

// Server error values
const (
	ErrValueInvalidEncoding        = "invalid-encoding"
	ErrValueExtensionsNotSupported = "extensions-not-supported"
	ErrValueInvalidProof           = "invalid-proof"
	ErrValueCBDontMatch            = "channel-bindings-dont-match"
	ErrValueServerDoesSupportCB    = "server-does-support-channel-binding"
	ErrValueCBNotSupported         = "channel-binding-not-supported"
	ErrValueUnsupportedCBType      = "unsupported-channel-binding-type"
	ErrValueUnknownUser            = "unknown-user"
	ErrValueInvalidUsername        = "invalid-username-encoding"
	ErrValueNoResources            = "no-resources"
	ErrValueOtherError             = "other-error"
)

// ClientFirst is "gs2-header client-first-message-bare".
type ClientFirst struct {
	CBFlag   byte
	CBName   string
	AuthzID  string
	Username string
	Nonce    string

	// bare is the client-first-message-bare exactly as transmitted.
	bare string
}

// GS2Header renders the header, escaping the authorization identity.
func (m *ClientFirst) GS2Header() string {
	var b strings.Builder
	switch m.CBFlag {
	case CBUsed:
		b.WriteString("p=")
		b.WriteString(m.CBName)
	default:
		b.WriteByte(m.CBFlag)
	}
	b.WriteByte(',')
	if m.AuthzID != "" {
		b.WriteString("a=")
		b.WriteString(EscapeName(m.AuthzID))
	}
	b.WriteByte(',')
	return b.String()
}

// Bare returns client-first-message-bare.
func (m *ClientFirst) Bare() string {
	if m.bare == "" {
		m.bare = "n=" + EscapeName(m.Username) + ",r=" + m.Nonce
	}
	return m.bare
}

func (m *ClientFirst) String() string {
	return m.GS2Header() + m.Bare()
}

// ParseClientFirst parses a complete client-first-message.
func ParseClientFirst(msg string, policy *Policy) (*ClientFirst, error) {
	cbField, rest, ok := strings.Cut(msg, ",")
	if !ok {
		return nil, malformed("missing gs2 header")
	}
	authzField, bare, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, malformed("truncated gs2 header")
	}

	m := &ClientFirst{bare: bare}
	switch {
	case cbField == "n":
		m.CBFlag = CBNone
	case cbField == "y":
		m.CBFlag = CBSupported
	case strings.HasPrefix(cbField, "p="):
		m.CBFlag = CBUsed
		m.CBName = cbField[2:]
		if !validCBName(m.CBName) {
			return nil, malformed("invalid channel binding name %q", m.CBName)
		}
	default:
		return nil, malformed("invalid channel binding flag %q", cbField)
	}

	if authzField != "" {
		if !strings.HasPrefix(authzField, "a=") {
			return nil, malformed("invalid authzid field")
		}
		authz, err := UnescapeName(authzField[2:])
		if err != nil {
			return nil, err
		}
		m.AuthzID = authz
	}

	attrs, err := splitAttrs(bare)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 && attrs[0].key == 'm' {
		return nil, fmt.Errorf("%w: %w: mandatory", sasl.ErrMalformedMessage, errExtension)
	}
	if len(attrs) < 2 || attrs[0].key != 'n' || attrs[1].key != 'r' {
		return nil, malformed("client-first must start with n= and r=")
	}
	if m.Username, err = UnescapeName(attrs[0].value); err != nil {
		return nil, err
	}
	if m.Username == "" {
		return nil, malformed("empty username")
	}
	m.Nonce = attrs[1].value
	if !validNonce(m.Nonce) {
		return nil, malformed("invalid client nonce")
	}
	if err := policy.skipExtensions(attrs[2:]); err != nil {
		return nil, err
	}
	return m, nil
}

// ServerFirst is "r=nonce,s=salt,i=iterations".
type ServerFirst struct {
	Nonce      string
	Salt       []byte
	Iterations int

	raw string
}

func (m *ServerFirst) String() string {
	if m.raw == "" {
		m.raw = fmt.Sprintf("r=%s,s=%s,i=%d", m.Nonce, base64.StdEncoding.EncodeToString(m.Salt), m.Iterations)
	}
	return m.raw
}

// ParseServerFirst parses a server-first-message. The iteration floor is
// enforced here so a client rejects weak parameters before any key derivation.
func ParseServerFirst(msg string, policy *Policy) (*ServerFirst, error) {
	attrs, err := splitAttrs(msg)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 && attrs[0].key == 'm' {
		return nil, fmt.Errorf("%w: %w: mandatory", sasl.ErrMalformedMessage, errExtension)
	}
	if len(attrs) < 3 || attrs[0].key != 'r' || attrs[1].key != 's' || attrs[2].key != 'i' {
		return nil, malformed("server-first must be r=,s=,i=")
	}

	// An empty nonce is left for the caller's nonce check.
	m := &ServerFirst{raw: msg, Nonce: attrs[0].value}
	if m.Nonce != "" && !validNonce(m.Nonce) {
		return nil, malformed("invalid server nonce")
	}
	if m.Salt, err = decodeB64(attrs[1].value, "salt"); err != nil {
		return nil, err
	}
	if len(m.Salt) == 0 {
		return nil, malformed("empty salt")
	}
	if m.Iterations, err = parseIterations(attrs[2].value); err != nil {
		return nil, err
	}
	if err := policy.checkIterations(m.Iterations); err != nil {
		return nil, malformed("%v", err)
	}
	if err := policy.skipExtensions(attrs[3:]); err != nil {
		return nil, err
	}
	return m, nil
}

// ClientFinal is "c=cbind,r=nonce[,ext],p=proof".
type ClientFinal struct {
	ChannelBinding []byte
	Nonce          string
	Proof          []byte

	withoutProof string
}

// WithoutProof returns client-final-message-without-proof.
func (m *ClientFinal) WithoutProof() string {
	if m.withoutProof == "" {
		m.withoutProof = "c=" + base64.StdEncoding.EncodeToString(m.ChannelBinding) + ",r=" + m.Nonce
	}
	return m.withoutProof
}

func (m *ClientFinal) String() string {
	return m.WithoutProof() + ",p=" + base64.StdEncoding.EncodeToString(m.Proof)
}

// ParseClientFinal parses a client-final-message.
func ParseClientFinal(msg string, policy *Policy) (*ClientFinal, error) {
	idx := strings.LastIndex(msg, ",p=")
	if idx < 0 {
		return nil, malformed("client-final without proof")
	}
	withoutProof := msg[:idx]

	attrs, err := splitAttrs(withoutProof)
	if err != nil {
		return nil, err
	}
	if len(attrs) < 2 || attrs[0].key != 'c' || attrs[1].key != 'r' {
		return nil, malformed("client-final must start with c= and r=")
	}

	m := &ClientFinal{withoutProof: withoutProof, Nonce: attrs[1].value}
	if m.ChannelBinding, err = decodeB64(attrs[0].value, "channel binding"); err != nil {
		return nil, err
	}
	if !validNonce(m.Nonce) {
		return nil, malformed("invalid nonce")
	}
	if err := policy.skipExtensions(attrs[2:]); err != nil {
		return nil, err
	}
	if m.Proof, err = decodeB64(msg[idx+3:], "proof"); err != nil {
		return nil, err
	}
	return m, nil
}

// ServerFinal carries either a verifier or an error value.
type ServerFinal struct {
	Verifier []byte
	Error    string
}

func (m *ServerFinal) String() string {
	if m.Error != "" {
		return "e=" + m.Error
	}
	return "v=" + base64.StdEncoding.EncodeToString(m.Verifier)
}

// ParseServerFinal parses a server-final-message.
func ParseServerFinal(msg string, policy *Policy) (*ServerFinal, error) {
	attrs, err := splitAttrs(msg)
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, malformed("empty server-final")
	}
	m := &ServerFinal{}
	switch attrs[0].key {
	case 'e':
		if attrs[0].value == "" {
			return nil, malformed("empty server error")
		}
		m.Error = attrs[0].value
	case 'v':
		if m.Verifier, err = decodeB64(attrs[0].value, "verifier"); err != nil {
			return nil, err
		}
	default:
		return nil, malformed("server-final must start with v= or e=")
	}
	if err := policy.skipExtensions(attrs[1:]); err != nil {
		return nil, err
	}
	return m, nil
}

// errExtension marks messages rejected only because of an extension attribute.
var errExtension = errors.New("unsupported extension")

type attr struct {
	key   byte
	value string
}

// splitAttrs splits "k=v,k=v". Keys are single ASCII letters.
func splitAttrs(msg string) ([]attr, error) {
	if msg == "" {
		return nil, malformed("empty message")
	}
	parts := strings.Split(msg, ",")
	attrs := make([]attr, 0, len(parts))
	for _, part := range parts {
		if len(part) < 2 || part[1] != '=' || !isAlpha(part[0]) {
			return nil, malformed("invalid attribute %q", truncate(part))
		}
		attrs = append(attrs, attr{key: part[0], value: part[2:]})
	}
	return attrs, nil
}

// skipExtensions accepts the trailing attributes the policy allows to ignore.
func (p *Policy) skipExtensions(attrs []attr) error {
	for _, a := range attrs {
		if a.key == 'm' {
			return fmt.Errorf("%w: %w: mandatory", sasl.ErrMalformedMessage, errExtension)
		}
		if !p.ignorable(a.key) {
			return fmt.Errorf("%w: %w: attribute %q", sasl.ErrMalformedMessage, errExtension, a.key)
		}
	}
	return nil
}

// parseIterations accepts a positive decimal integer without sign or padding.
func parseIterations(s string) (int, error) {
	if s == "" || s[0] == '0' {
		return 0, malformed("invalid iteration count %q", s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, malformed("invalid iteration count %q", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, malformed("iteration count out of range %q", s)
	}
	return n, nil
}

func decodeB64(s, field string) ([]byte, error) {
	b, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, malformed("invalid base64 in %s", field)
	}
	return b, nil
}

// EscapeName applies the saslname escaping: ',' becomes "=2C" and '=' becomes "=3D".
func EscapeName(name string) string {
	if !strings.ContainsAny(name, ",=") {
		return name
	}
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case ',':
			b.WriteString("=2C")
		case '=':
			b.WriteString("=3D")
		default:
			b.WriteByte(name[i])
		}
	}
	return b.String()
}

// UnescapeName reverses EscapeName. A raw ',' or an '=' not followed by
// "2C" or "3D" is malformed.
func UnescapeName(s string) (string, error) {
	if strings.IndexByte(s, ',') >= 0 {
		return "", malformed("unescaped comma in name")
	}
	if strings.IndexByte(s, '=') < 0 {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '=' {
			b.WriteByte(s[i])
			continue
		}
		if i+3 > len(s) {
			return "", malformed("truncated escape in name")
		}
		switch s[i+1 : i+3] {
		case "2C":
			b.WriteByte(',')
		case "3D":
			b.WriteByte('=')
		default:
			return "", malformed("invalid escape in name")
		}
		i += 2
	}
	return b.String(), nil
}

// validCBName allows US-ASCII alphanumerics, '.' and '-'.
func validCBName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !isAlpha(c) && !(c >= '0' && c <= '9') && c != '.' && c != '-' {
			return false
		}
	}
	return true
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func truncate(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}

func malformed(format string, args ...any) error {
	return sasl.Errorf(sasl.ErrMalformedMessage, format, args...)
}
