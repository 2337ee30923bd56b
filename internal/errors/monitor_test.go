package errors

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorMonitor_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	em, err := NewErrorMonitor(reg, "aihub")
	require.NoError(t, err)

	em.Record("record_usage", NewInvalidInputError("model_id", "unknown model"))
	em.Record("record_usage", NewInvalidInputError("status", "bad"))
	em.Record("record_usage", stderrors.New("connection reset"))
	em.Record("record_usage", nil)

	expected := `
# HELP aihub_errors_total Total number of errors by code and type
# TYPE aihub_errors_total counter
aihub_errors_total{code="INTERNAL_SERVER_ERROR",operation="record_usage",type="system"} 1
aihub_errors_total{code="INVALID_INPUT",operation="record_usage",type="validation"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "aihub_errors_total"))

	_, err = NewErrorMonitor(reg, "aihub")
	assert.Error(t, err)

	var nilMonitor *ErrorMonitor
	assert.NotPanics(t, func() { nilMonitor.Record("x", stderrors.New("boom")) })
}

func TestLogError_LevelByType(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	LogError(logger, "validation", NewInvalidInputError("period", "unknown unit"))
	LogError(logger, "conflict", NewStateConflictError("conversation is archived"))
	LogError(logger, "system", stderrors.New("disk full"), zap.Uint("user_id", 7))
	LogError(logger, "ignored", nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)

	fields := entries[2].ContextMap()
	assert.Equal(t, "INTERNAL_SERVER_ERROR", fields["error_code"])
	assert.Equal(t, "disk full", fields["cause"])
	assert.Equal(t, uint64(7), fields["user_id"])
	assert.Contains(t, fields, "stack_trace")
}
