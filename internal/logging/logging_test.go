package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New(nil, Options{Level: "loud"})
	require.Error(t, err)
}

func TestNewConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(&buf, Options{Level: "warn"})
	require.NoError(t, err)
	defer closeFn()

	logger.Info("hidden")
	logger.Warn("shown", "project_id", "p-1")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "p-1")
}

func TestNewFileSinkWritesLogfmt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "staffline.log")
	var console bytes.Buffer
	logger, closeFn, err := New(&console, Options{File: path})
	require.NoError(t, err)

	logger.Info("project status changed", "to", "ongoing")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=\"project status changed\"")
	assert.Contains(t, string(data), "to=ongoing")
	assert.Empty(t, console.String())
}
