// FILE: src/internal/format/json.go
package format

import (
	"fmt"
	"time"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/core"

	jsoniter "github.com/json-iterator/go"
	"github.com/lixenwraith/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonRecord is the wire shape of one audit record.
type jsonRecord struct {
	Timestamp  string `json:"timestamp"`
	Outcome    string `json:"outcome"`
	Mechanism  string `json:"mechanism,omitempty"`
	AuthID     string `json:"authcid,omitempty"`
	AuthzID    string `json:"authzid,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Transport  string `json:"transport,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// JSONFormatter produces one JSON object per event.
type JSONFormatter struct {
	config *config.AuditConfig
	logger *log.Logger
}

// NewJSONFormatter creates a JSON formatter.
func NewJSONFormatter(cfg *config.AuditConfig, logger *log.Logger) (*JSONFormatter, error) {
	return &JSONFormatter{
		config: cfg,
		logger: logger,
	}, nil
}

// Format renders the event as a JSON object.
func (f *JSONFormatter) Format(event core.AuthEvent) ([]byte, error) {
	rec := toRecord(event)

	var result []byte
	var err error
	if f.config.Pretty {
		result, err = json.MarshalIndent(rec, "", "  ")
	} else {
		result, err = json.Marshal(rec)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return append(result, '\n'), nil
}

// Name returns the formatter's type name.
func (f *JSONFormatter) Name() string {
	return "json"
}

// FormatBatch renders events as a single JSON array.
func (f *JSONFormatter) FormatBatch(events []core.AuthEvent) ([]byte, error) {
	batch := make([]jsonRecord, 0, len(events))
	for _, event := range events {
		batch = append(batch, toRecord(event))
	}

	if f.config.Pretty {
		return json.MarshalIndent(batch, "", "  ")
	}
	return json.Marshal(batch)
}

func toRecord(event core.AuthEvent) jsonRecord {
	return jsonRecord{
		Timestamp:  event.Time.UTC().Format(time.RFC3339Nano),
		Outcome:    event.Outcome,
		Mechanism:  event.Mechanism,
		AuthID:     event.AuthID,
		AuthzID:    event.AuthzID,
		RemoteAddr: event.RemoteAddr,
		Transport:  event.Transport,
		Reason:     event.Reason,
	}
}
