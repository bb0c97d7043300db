package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestPrettyHandler_WritesAttrsAndGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log.With("component", "auth").WithGroup("req").Info("signed in", "user_id", "u1")

	out := buf.String()
	assert.Contains(t, out, "signed in")
	assert.Contains(t, out, "component")
	assert.Contains(t, out, "req.user_id")
}

func TestPrettyHandler_RespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, nil))

	log.Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestNew_JSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(&buf, "info", "json").Info("hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "v", line["k"])
}

func TestPrettyHandler_GroupOnlyPrefixesLaterAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, nil))

	log.With("component", "auth").WithGroup("req").Info("done", slog.Group("peer", "ip", "127.0.0.1"))

	out := buf.String()
	assert.NotContains(t, out, "req.component")
	assert.Contains(t, out, "req.peer.ip")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}
