package logger

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encode(t *testing.T, ent zapcore.Entry, fields ...zapcore.Field) string {
	t.Helper()
	enc := newMinimalEncoder()
	buf, err := enc.EncodeEntry(ent, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestEncodeEntryBasicLine(t *testing.T) {
	out := encode(t, zapcore.Entry{
		Time:    time.Date(2026, 3, 14, 13, 4, 35, 0, time.UTC),
		Level:   zapcore.InfoLevel,
		Message: "scheduler started",
	})

	assert.Contains(t, out, "13:04:35")
	assert.Contains(t, out, "scheduler started")
	assert.True(t, strings.HasSuffix(out, "\n"))
	// INFO level is implicit: no level tag in the line
	assert.NotContains(t, out, "INFO")
}

func TestEncodeEntryWarnAndErrorTags(t *testing.T) {
	warn := encode(t, zapcore.Entry{Time: time.Now(), Level: zapcore.WarnLevel, Message: "m"})
	assert.Contains(t, warn, "WARN")

	errLine := encode(t, zapcore.Entry{Time: time.Now(), Level: zapcore.ErrorLevel, Message: "m"})
	assert.Contains(t, errLine, "ERROR")

	debug := encode(t, zapcore.Entry{Time: time.Now(), Level: zapcore.DebugLevel, Message: "m"})
	assert.NotContains(t, debug, "DEBUG")
}

func TestEncodeEntryComponentAbbreviation(t *testing.T) {
	out := encode(t, zapcore.Entry{
		Time:       time.Now(),
		Level:      zapcore.InfoLevel,
		LoggerName: "scheduler.worker",
		Message:    "worker started",
	})

	assert.Contains(t, out, "s.worker")
	assert.NotContains(t, out, "scheduler.worker")
}

func TestAbbreviateName(t *testing.T) {
	assert.Equal(t, "scheduler", abbreviateName("scheduler"))
	assert.Equal(t, "s.worker", abbreviateName("scheduler.worker"))
	assert.Equal(t, "i.engine", abbreviateName("ingest.engine"))
	assert.Equal(t, "p.coordinator", abbreviateName("provider.coordinator"))
}

func TestColorizeMessageBrackets(t *testing.T) {
	out := colorizeMessage("[job:4f2a] dispatching [collect]")

	// Ids get the id color, stage markers the stage color
	assert.Contains(t, out, colorBlue+"[job:4f2a]"+colorReset)
	assert.Contains(t, out, colorGreen+"[collect]"+colorReset)
}

func TestColorizeMessageNoBrackets(t *testing.T) {
	out := colorizeMessage("plain message")
	assert.Contains(t, out, "plain message")
}

func TestExtractFieldValues(t *testing.T) {
	out := extractFieldValues([]zapcore.Field{
		zap.String(FieldSymbol, "AAPL"),
		zap.Int(FieldRows, 212),
		zap.Int64(FieldDurationMS, 3),
	})

	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "212")
	assert.Contains(t, out, "rows")
	assert.Contains(t, out, "3")
	assert.Contains(t, out, "ms")
}

func TestExtractFieldValuesIgnoresUnknownKeys(t *testing.T) {
	out := extractFieldValues([]zapcore.Field{
		zap.String("internal_detail", "noise"),
	})
	assert.Empty(t, out)
}

func TestExtractFieldValuesIDs(t *testing.T) {
	out := extractFieldValues([]zapcore.Field{
		zap.String(FieldJobID, "job-1"),
		zap.String(FieldExecutionID, "exec-9"),
	})

	assert.Contains(t, out, colorBlue+"job-1"+colorReset)
	assert.Contains(t, out, colorBlue+"exec-9"+colorReset)
}

func TestEncoderClone(t *testing.T) {
	enc := newMinimalEncoder()
	clone := enc.Clone()
	require.NotNil(t, clone)
	assert.NotSame(t, enc, clone)
}
