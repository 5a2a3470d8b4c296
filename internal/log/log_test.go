package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, lvl Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(lvl)
	t.Cleanup(func() { SetLevel(LevelInfo) })
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(l), &m), l)
		out = append(out, m)
	}
	return out
}

func TestStructuredFields(t *testing.T) {
	buf := capture(t, LevelDebug)

	Info("export done", "id", "abc", "bytes", 42)
	Error("export failed", errors.New("boom"), "renderer", "native", "cause", errors.New("disk full"))

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "info", got[0]["level"])
	assert.Equal(t, "export done", got[0]["message"])
	assert.Equal(t, "abc", got[0]["id"])
	assert.Equal(t, 42.0, got[0]["bytes"])

	assert.Equal(t, "error", got[1]["level"])
	assert.Equal(t, "boom", got[1]["err"])
	assert.Equal(t, "native", got[1]["renderer"])
	assert.Equal(t, "disk full", got[1]["cause"])
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LevelWarn)

	Debug("hidden")
	Info("hidden")
	Warn("shown", "odd")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "shown", got[0]["message"])
	assert.NotContains(t, got[0], "odd")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("loud"))
}
