package logrotate

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DriveDecoder/internal/logger"
)

func TestAttachTeesConsoleAndFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "drivedecoder.log")
	var console bytes.Buffer

	w, err := Attach(&console, logFile, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	logger.Info("decoded %d entries", 42)
	require.NoError(t, w.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "decoded 42 entries")
	assert.Contains(t, console.String(), "decoded 42 entries")
}

func TestWithDefaults(t *testing.T) {
	c := Config{MaxSize: 5}.withDefaults()
	assert.Equal(t, 5, c.MaxSize)
	assert.Equal(t, DefaultConfig.MaxAge, c.MaxAge)
	assert.Equal(t, DefaultConfig.MaxBackups, c.MaxBackups)
}
