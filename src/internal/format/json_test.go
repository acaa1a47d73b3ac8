// FILE: src/internal/format/json_test.go
package format

import (
	"strings"
	"testing"
	"time"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFormatter_Format(t *testing.T) {
	logger := newTestLogger()

	t.Run("BasicFormatting", func(t *testing.T) {
		formatter, err := NewJSONFormatter(&config.AuditConfig{}, logger)
		require.NoError(t, err)

		output, err := formatter.Format(testEvent())
		require.NoError(t, err)

		var result map[string]any
		require.NoError(t, json.Unmarshal(output, &result), "Output should be valid JSON")

		assert.Equal(t, testTime.Format(time.RFC3339Nano), result["timestamp"])
		assert.Equal(t, "failure", result["outcome"])
		assert.Equal(t, "SCRAM-SHA-256", result["mechanism"])
		assert.Equal(t, "alice", result["authcid"])
		assert.Equal(t, "192.0.2.7:40000", result["remote_addr"])
		assert.Equal(t, "tcp", result["transport"])
		assert.Equal(t, "authentication-failed", result["reason"])
		assert.True(t, strings.HasSuffix(string(output), "\n"), "Output should end with a newline")
	})

	t.Run("EmptyFieldsOmitted", func(t *testing.T) {
		formatter, err := NewJSONFormatter(&config.AuditConfig{}, logger)
		require.NoError(t, err)

		event := testEvent()
		event.Reason = ""
		event.Outcome = core.OutcomeSuccess
		output, err := formatter.Format(event)
		require.NoError(t, err)

		var result map[string]any
		require.NoError(t, json.Unmarshal(output, &result))
		_, hasReason := result["reason"]
		_, hasAuthz := result["authzid"]
		assert.False(t, hasReason)
		assert.False(t, hasAuthz)
	})

	t.Run("TimestampIsUTC", func(t *testing.T) {
		formatter, err := NewJSONFormatter(&config.AuditConfig{}, logger)
		require.NoError(t, err)

		event := testEvent()
		event.Time = testTime.In(time.FixedZone("UTC+2", 2*3600))
		output, err := formatter.Format(event)
		require.NoError(t, err)
		assert.Contains(t, string(output), `"timestamp":"2026-03-14T09:26:53Z"`)
	})

	t.Run("PrettyFormatting", func(t *testing.T) {
		formatter, err := NewJSONFormatter(&config.AuditConfig{Pretty: true}, logger)
		require.NoError(t, err)

		output, err := formatter.Format(testEvent())
		require.NoError(t, err)

		assert.Contains(t, string(output), `  "outcome": "failure"`)
		assert.True(t, strings.HasSuffix(string(output), "\n"))
	})
}

func TestJSONFormatter_FormatBatch(t *testing.T) {
	formatter, err := NewJSONFormatter(&config.AuditConfig{}, newTestLogger())
	require.NoError(t, err)

	ok := testEvent()
	ok.Outcome = core.OutcomeSuccess
	ok.Reason = ""

	output, err := formatter.FormatBatch([]core.AuthEvent{testEvent(), ok})
	require.NoError(t, err)

	var result []map[string]any
	require.NoError(t, json.Unmarshal(output, &result), "Batch output should be a valid JSON array")
	require.Len(t, result, 2)

	assert.Equal(t, "failure", result[0]["outcome"])
	assert.Equal(t, "success", result[1]["outcome"])
}
