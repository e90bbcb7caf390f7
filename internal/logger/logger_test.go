package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(Config{Level: LevelDebug, Format: FormatJSON}, &buf)

	log.Info("trial finished", "trial", 3, "objective", 1.25)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trial finished", entry["msg"])
	assert.Equal(t, float64(3), entry["trial"])
	assert.Equal(t, 1.25, entry["objective"])
}

func TestStructuredLoggerOddFieldsIgnored(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)

	log.Info("odd", "dangling")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, ok := entry["dangling"]
	assert.False(t, ok)
}

func TestStructuredLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(Config{Level: LevelWarn, Format: FormatText}, &buf)

	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, log.GetLevel())
	log.Debug("shown")
	assert.True(t, strings.Contains(buf.String(), "shown"))
}

func TestWithContextCarriesStudyFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)

	ctx := context.WithValue(context.Background(), StudyIDKey, "study-1")
	ctx = context.WithValue(ctx, TrialKey, 7)
	log.WithContext(ctx).Info("running")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "study-1", entry["study_id"])
	assert.Equal(t, float64(7), entry["trial"])
}

func TestPerformanceLoggerEscalates(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)
	perf := NewPerformanceLogger(log, time.Second)

	perf.LogPerformance("trial", 10*time.Millisecond, nil)
	assert.Empty(t, buf.String(), "fast operations log at debug")

	perf.LogPerformance("trial", 2*time.Second, map[string]interface{}{"trial": 1})
	assert.Contains(t, buf.String(), `"level":"warning"`)
}

func TestGlobalLoggerSwap(t *testing.T) {
	previous := GetGlobalLogger()
	defer SetGlobalLogger(previous)

	var buf bytes.Buffer
	SetGlobalLogger(NewLoggerWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf))

	Debug("hidden")
	WithField("component", "trial_store").Warn("fallback enabled", "reason", "save_trial")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "fallback enabled", entry["msg"])
	assert.Equal(t, "trial_store", entry["component"])
	assert.Equal(t, "save_trial", entry["reason"])
	assert.NotContains(t, buf.String(), "hidden")
}
