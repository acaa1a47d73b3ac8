// FILE: src/internal/format/raw_test.go
package format

import (
	"testing"

	"saslwisp/src/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawFormatter_Format(t *testing.T) {
	formatter, err := NewRawFormatter(nil, newTestLogger())
	require.NoError(t, err)

	output, err := formatter.Format(testEvent())
	require.NoError(t, err)

	expected := "time=2026-03-14T09:26:53Z outcome=failure mechanism=SCRAM-SHA-256 authcid=alice addr=192.0.2.7:40000 transport=tcp reason=authentication-failed\n"
	assert.Equal(t, expected, string(output))
}

func TestRawFormatter_SkipsEmptyFields(t *testing.T) {
	formatter, err := NewRawFormatter(nil, newTestLogger())
	require.NoError(t, err)

	output, err := formatter.Format(core.AuthEvent{Time: testTime, Outcome: core.OutcomeSuccess})
	require.NoError(t, err)
	assert.Equal(t, "time=2026-03-14T09:26:53Z outcome=success\n", string(output))
}
