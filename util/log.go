package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/otaguard/otaguard/formatter"
)

const (
	// LogConsole routes logs to stderr
	LogConsole = "console"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

var logFormats = []string{LogFormatText, LogFormatJSON}

// InitLog parses and sets log-level input. logFormat is either text or json; empty means text.
// Nothing is changed when either value is invalid.
func InitLog(logLevel, logPath, logFormat string) error {
	if logFormat != "" && !Contains(logFormats, logFormat) {
		return fmt.Errorf("unknown log format %q, choose one of %v", logFormat, logFormats)
	}

	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	var w io.Writer = os.Stderr
	if logPath != "" && logPath != LogConsole {
		w = &lumberjack.Logger{
			// Log file absolute path, os agnostic
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	log.SetOutput(w)

	switch logFormat {
	case LogFormatJSON:
		formatter.SetJSONFormatter(log.StandardLogger())
	default:
		formatter.SetTextFormatter(log.StandardLogger())
	}
	log.SetLevel(level)
	return nil
}
