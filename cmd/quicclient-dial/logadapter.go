package main

import (
	logrus "github.com/sirupsen/logrus"

	"github.com/quicclient/quicclient/internal/utils"
)

// logrusLogger adapts a *logrus.Logger to the core's utils.Logger seam, the
// way configuration.go's logConf wires logrus into dtnd's core components.
type logrusLogger struct {
	entry *logrus.Entry
	level utils.LogLevel
}

func newLogrusLogger(l *logrus.Logger) utils.Logger {
	return &logrusLogger{entry: logrus.NewEntry(l), level: utils.LogLevelInfo}
}

func (l *logrusLogger) Debug() bool { return l.level >= utils.LogLevelDebug }

func (l *logrusLogger) Debugf(format string, args ...interface{}) {
	if l.level >= utils.LogLevelDebug {
		l.entry.Debugf(format, args...)
	}
}

func (l *logrusLogger) Infof(format string, args ...interface{}) {
	if l.level >= utils.LogLevelInfo {
		l.entry.Infof(format, args...)
	}
}

func (l *logrusLogger) Errorf(format string, args ...interface{}) {
	if l.level >= utils.LogLevelError {
		l.entry.Errorf(format, args...)
	}
}

func (l *logrusLogger) WithPrefix(prefix string) utils.Logger {
	return &logrusLogger{entry: l.entry.WithField("component", prefix), level: l.level}
}

func (l *logrusLogger) SetLogLevel(level utils.LogLevel) { l.level = level }

func (l *logrusLogger) SetLogTimeFormat(format string) {
	l.entry.Logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: format})
}
