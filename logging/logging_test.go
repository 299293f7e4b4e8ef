package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerIsCachedPerComponent(t *testing.T) {
	a := NewLogger("watcher")
	b := NewLogger("watcher")
	c := NewLogger("queue")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "watcher", a.Data["component"])
}

func TestLogImageProcessed(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	LogImageProcessed("/in/a.jpg", "ok", nil)
	LogImageProcessed("/in/b.jpg", "", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "PROCESSED")
	assert.Contains(t, out, "status=ok")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "boom")
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inspect.log")
	require.NoError(t, SetupLogger(path))
	LogWarning("disk %s almost full", "/data")
	CloseLogger()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "disk /data almost full"))
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	err := Configure(Options{Level: "loud"})
	assert.Error(t, err)
}
