// FILE: src/internal/auth/audit.go
package auth

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/core"
	"saslwisp/src/internal/format"

	"github.com/lixenwraith/log"
)

// Auditor appends one formatted record per finished exchange. A nil
// Auditor records nothing.
type Auditor struct {
	formatter format.Formatter
	mu        sync.Mutex
	out       io.Writer
	closer    io.Closer
	logger    *log.Logger

	written     atomic.Uint64
	writeErrors atomic.Uint64
}

// NewAuditor opens the audit output. It returns nil when auditing is disabled.
func NewAuditor(cfg *config.AuditConfig, logger *log.Logger) (*Auditor, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	formatter, err := format.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &Auditor{
		formatter: formatter,
		out:       os.Stdout,
		logger:    logger,
	}
	if cfg.Path != "" {
		file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		a.out = file
		a.closer = file
	}

	logger.Info("msg", "Audit trail enabled",
		"component", "audit",
		"format", formatter.Name(),
		"path", cfg.Path)
	return a, nil
}

// NewWriterAuditor records to w with the given formatter.
func NewWriterAuditor(w io.Writer, formatter format.Formatter, logger *log.Logger) *Auditor {
	return &Auditor{
		formatter: formatter,
		out:       w,
		logger:    logger,
	}
}

// Record writes the event. Failures are logged and counted, never returned.
func (a *Auditor) Record(event core.AuthEvent) {
	if a == nil {
		return
	}

	line, err := a.formatter.Format(event)
	if err != nil {
		a.writeErrors.Add(1)
		a.logger.Warn("msg", "Failed to format audit event",
			"component", "audit",
			"error", err)
		return
	}

	a.mu.Lock()
	_, err = a.out.Write(line)
	a.mu.Unlock()

	if err != nil {
		a.writeErrors.Add(1)
		a.logger.Error("msg", "Failed to write audit event",
			"component", "audit",
			"error", err)
		return
	}
	a.written.Add(1)
}

// GetStats returns audit counters.
func (a *Auditor) GetStats() map[string]any {
	if a == nil {
		return map[string]any{"enabled": false}
	}
	return map[string]any{
		"enabled":      true,
		"format":       a.formatter.Name(),
		"written":      a.written.Load(),
		"write_errors": a.writeErrors.Load(),
	}
}

// Close closes the audit file, if one was opened.
func (a *Auditor) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closer.Close()
}
