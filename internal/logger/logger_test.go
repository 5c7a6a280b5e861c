package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(&buf, "info", "json")

	log.Info("user registered", slog.String("user_id", "u1"))
	log.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "user registered", entry["msg"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, "INFO", entry["level"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestSetup_TextDebug(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(&buf, "DEBUG", "text")

	log.Debug("token issued")
	assert.True(t, strings.Contains(buf.String(), "msg=\"token issued\""))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
