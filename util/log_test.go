package util

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLog(t *testing.T) {
	logger := log.StandardLogger()
	prevOut, prevFormatter, prevLevel := logger.Out, logger.Formatter, logger.GetLevel()
	t.Cleanup(func() {
		logger.SetOutput(prevOut)
		logger.SetFormatter(prevFormatter)
		logger.SetLevel(prevLevel)
	})

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLevel(log.InfoLevel)

	err := InitLog("debug", LogConsole, "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown log format "xml"`)
	assert.Same(t, &buf, logger.Out, "an invalid format leaves the output alone")
	assert.Equal(t, log.InfoLevel, logger.GetLevel())

	logFile := filepath.Join(t.TempDir(), "otaguard.log")
	require.NoError(t, InitLog("debug", logFile, LogFormatJSON))
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, logger.Formatter)

	log.Info("signed artifact")
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"signed artifact"`)
}

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"text", "json"}, "json"))
	assert.False(t, Contains([]string{"text", "json"}, "JSON"))
	assert.False(t, Contains(nil, "text"))
}
