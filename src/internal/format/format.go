// FILE: src/internal/format/format.go
package format

import (
	"fmt"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/core"

	"github.com/lixenwraith/log"
)

// Formatter renders an authentication event as one audit record.
type Formatter interface {
	// Format returns the record, newline terminated.
	Format(event core.AuthEvent) ([]byte, error)

	// Name returns the formatter type name
	Name() string
}

// New creates the formatter named by the audit configuration.
func New(cfg *config.AuditConfig, logger *log.Logger) (Formatter, error) {
	if cfg == nil {
		cfg = config.Defaults().Audit
	}

	switch cfg.Format {
	case "json":
		return NewJSONFormatter(cfg, logger)
	case "txt":
		return NewTextFormatter(cfg, logger)
	case "raw", "":
		return NewRawFormatter(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown formatter type: %s", cfg.Format)
	}
}
