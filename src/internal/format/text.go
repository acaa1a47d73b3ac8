// FILE: src/internal/format/text.go
package format

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/core"

	"github.com/lixenwraith/log"
)

// Produces human-readable audit lines using templates
type TextFormatter struct {
	config   *config.AuditConfig
	template *template.Template
	logger   *log.Logger
}

// Creates a new text formatter
func NewTextFormatter(cfg *config.AuditConfig, logger *log.Logger) (*TextFormatter, error) {
	f := &TextFormatter{
		config: cfg,
		logger: logger,
	}

	funcMap := template.FuncMap{
		"FmtTime": func(t time.Time) string {
			return t.Format(f.timestampFormat())
		},
		"ToUpper":   strings.ToUpper,
		"ToLower":   strings.ToLower,
		"TrimSpace": strings.TrimSpace,
	}

	tmpl, err := template.New("audit").Funcs(funcMap).Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}

	f.template = tmpl
	return f, nil
}

func (f *TextFormatter) timestampFormat() string {
	if f.config.TimestampFormat == "" {
		return time.RFC3339
	}
	return f.config.TimestampFormat
}

// Formats the event using the template
func (f *TextFormatter) Format(event core.AuthEvent) ([]byte, error) {
	data := map[string]any{
		"Timestamp":  event.Time,
		"Outcome":    event.Outcome,
		"Mechanism":  event.Mechanism,
		"AuthID":     event.AuthID,
		"AuthzID":    event.AuthzID,
		"RemoteAddr": event.RemoteAddr,
		"Transport":  event.Transport,
		"Reason":     event.Reason,
	}

	var buf bytes.Buffer
	if err := f.template.Execute(&buf, data); err != nil {
		f.logger.Debug("msg", "Template execution failed, using fallback",
			"component", "text_formatter",
			"error", err)

		fallback := fmt.Sprintf("[%s] %s %s %s from %s\n",
			event.Time.Format(f.timestampFormat()),
			strings.ToUpper(event.Outcome),
			event.Mechanism,
			event.AuthID,
			event.RemoteAddr)
		return []byte(fallback), nil
	}

	result := buf.Bytes()
	if len(result) == 0 || result[len(result)-1] != '\n' {
		result = append(result, '\n')
	}
	return result, nil
}

// Returns the formatter name
func (f *TextFormatter) Name() string {
	return "txt"
}
