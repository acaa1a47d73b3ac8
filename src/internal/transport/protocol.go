// FILE: src/internal/transport/protocol.go
package transport

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Line protocol verbs. Every message is one LF-terminated line; binary
// payloads are base64, and "=" stands for an empty payload.
//
//	S: MECHS <mech> ...
//	C: AUTH <mech> [<data>]
//	S: CHAL <data>
//	C: RESP <data> | CANCEL
//	S: OK <data> <token> | FAIL <reason> [<data>]
//	C: WHOAMI | QUIT
//	S: ID <authcid> <authzid>      (both base64)
const (
	VerbMechs  = "MECHS"
	VerbAuth   = "AUTH"
	VerbChal   = "CHAL"
	VerbResp   = "RESP"
	VerbCancel = "CANCEL"
	VerbOK     = "OK"
	VerbFail   = "FAIL"
	VerbWhoami = "WHOAMI"
	VerbID     = "ID"
	VerbQuit   = "QUIT"
)

// emptyData marks an empty payload on the wire
const emptyData = "="

// ErrProtocol reports a line that does not follow the protocol.
var ErrProtocol = errors.New("protocol error")

// Line is one parsed protocol message.
type Line struct {
	Verb string
	Args []string
}

// ParseLine splits a line, without its terminator, into verb and arguments.
func ParseLine(raw string) (Line, error) {
	raw = strings.TrimRight(raw, "\r\n")
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return Line{}, fmt.Errorf("%w: empty line", ErrProtocol)
	}
	return Line{Verb: strings.ToUpper(fields[0]), Args: fields[1:]}, nil
}

// Arg returns argument i or "" when absent.
func (l Line) Arg(i int) string {
	if i < len(l.Args) {
		return l.Args[i]
	}
	return ""
}

// FormatLine renders a message with its LF terminator.
func FormatLine(verb string, args ...string) []byte {
	var b strings.Builder
	b.WriteString(verb)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// EncodeData renders a payload as a protocol argument.
func EncodeData(data []byte) string {
	if len(data) == 0 {
		return emptyData
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeData parses a payload argument. "=" yields an empty, non-nil slice.
func DecodeData(arg string) ([]byte, error) {
	if arg == emptyData {
		return []byte{}, nil
	}
	if arg == "" {
		return nil, fmt.Errorf("%w: missing payload", ErrProtocol)
	}
	data, err := base64.StdEncoding.Strict().DecodeString(arg)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 payload", ErrProtocol)
	}
	return data, nil
}
