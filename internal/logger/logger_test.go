package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)

	l.LogBooking("CREATE", "b-1", "booking created")
	l.Warn("outbox", "sink slow")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "INFO", first.Level)
	assert.Equal(t, "BOOKING", first.Category)
	assert.Equal(t, "[CREATE] b-1 - booking created", first.Message)

	var second LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "WARN", second.Level)
	assert.Equal(t, "OUTBOX", second.Category)
	assert.Equal(t, "logger_test.go", second.File)
}

func TestNilLoggerIsNoop(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("X", "ignored")
		l.LogPayment("SETTLE", "tx-1", "ignored")
		l.Close()
	})
}
