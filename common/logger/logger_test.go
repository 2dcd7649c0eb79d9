package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogger_CarriesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "json")

	log.WithSession("s-1").WithDataset("Alpha", "alpha-id").Info("fetching", "rows", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "fetching", line["msg"])
	assert.Equal(t, "s-1", line["session_id"])
	assert.Equal(t, "Alpha", line["dataset"])
	assert.Equal(t, "alpha-id", line["rid"])
	assert.EqualValues(t, 3, line["rows"])
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "json")

	ctx := IntoContext(context.Background(), "s-2")
	log.WithContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), `"session_id":"s-2"`)

	buf.Reset()
	log.WithContext(context.Background()).Info("hello")
	assert.NotContains(t, buf.String(), "session_id")
}

func TestError_AddsStack(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "json")

	log.Error("boom", "error", "x")
	assert.Contains(t, buf.String(), `"stack"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}
