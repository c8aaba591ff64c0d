package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	t.Cleanup(func() {
		Init(false, false)
		SetOutput(os.Stdout)
	})

	Init(false, false)
	SetOutput(&buf)
	Debug("hidden %d", 1)
	Info("scanned %d files", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "INFO")
	assert.Contains(t, buf.String(), "scanned 2 files")

	buf.Reset()
	Init(true, false)
	SetOutput(&buf)
	Debug("visible %d", 3)
	assert.Contains(t, buf.String(), "DEBUG")
	assert.True(t, IsVerbose())

	buf.Reset()
	Init(true, true)
	SetOutput(&buf)
	Info("quiet")
	Warn("quiet")
	Error("failed to open %s", "System.evtx")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "failed to open System.evtx")
	assert.True(t, IsSilent())
}
