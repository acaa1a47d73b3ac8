// FILE: src/internal/format/raw.go
package format

import (
	"strings"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/core"

	"github.com/lixenwraith/log"
)

// RawFormatter writes space separated key=value pairs, empty fields omitted
type RawFormatter struct {
	logger *log.Logger
}

// Creates a new raw formatter
func NewRawFormatter(cfg *config.AuditConfig, logger *log.Logger) (*RawFormatter, error) {
	return &RawFormatter{
		logger: logger,
	}, nil
}

// Returns the event as one line
func (f *RawFormatter) Format(event core.AuthEvent) ([]byte, error) {
	rec := toRecord(event)

	var b strings.Builder
	pairs := [][2]string{
		{"time", rec.Timestamp},
		{"outcome", rec.Outcome},
		{"mechanism", rec.Mechanism},
		{"authcid", rec.AuthID},
		{"authzid", rec.AuthzID},
		{"addr", rec.RemoteAddr},
		{"transport", rec.Transport},
		{"reason", rec.Reason},
	}
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(kv[1])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// Returns the formatter name
func (f *RawFormatter) Name() string {
	return "raw"
}
