package formatter

import "github.com/sirupsen/logrus"

// SetTextFormatter set the formatter for given logger.
func SetTextFormatter(logger *logrus.Logger) {
	logger.Formatter = NewTextFormatter()
	logger.ReportCaller = true
	logger.AddHook(NewContextHook())
}

// SetJSONFormatter emits one JSON object per entry, for log shippers.
func SetJSONFormatter(logger *logrus.Logger) {
	logger.Formatter = &logrus.JSONFormatter{CallerPrettyfier: callerPrettyfier}
	logger.ReportCaller = true
}
