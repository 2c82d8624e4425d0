package utils

import (
	"fmt"
	"log"
	"os"
)

// LogLevel controls the verbosity of a Logger.
type LogLevel uint8

const (
	LogLevelNothing LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Logger is the logging seam used throughout the core: the ackhandler, the
// handshake state machine and the dispatch loop all log exclusively through
// this interface, never a concrete logger, so embedders can plug in
// whatever structured-logging library they already use.
type Logger interface {
	Debug() bool
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithPrefix(prefix string) Logger
	SetLogLevel(LogLevel)
	SetLogTimeFormat(format string)
}

type defaultLogger struct {
	logger    *log.Logger
	logLevel  LogLevel
	prefix    string
	timeFormat string
}

// DefaultLogger writes to stderr using the standard library's log package.
// It exists so the core has a usable logger with no third-party dependency;
// embedders are expected to supply their own Logger (see cmd/quicclient-dial,
// which wires logrus) for anything beyond smoke-testing.
var DefaultLogger Logger = &defaultLogger{
	logger:   log.New(os.Stderr, "", log.Lmicroseconds),
	logLevel: LogLevelNothing,
}

func (l *defaultLogger) Debug() bool { return l.logLevel == LogLevelDebug }

func (l *defaultLogger) logMessage(level LogLevel, format string, args ...interface{}) {
	if l.logLevel < level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		msg = l.prefix + msg
	}
	l.logger.Println(msg)
}

func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	l.logMessage(LogLevelDebug, format, args...)
}

func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.logMessage(LogLevelInfo, format, args...)
}

func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	l.logMessage(LogLevelError, format, args...)
}

func (l *defaultLogger) WithPrefix(prefix string) Logger {
	if l.prefix != "" {
		prefix = l.prefix + prefix
	}
	return &defaultLogger{logger: l.logger, logLevel: l.logLevel, prefix: prefix + ": "}
}

func (l *defaultLogger) SetLogLevel(level LogLevel) { l.logLevel = level }

func (l *defaultLogger) SetLogTimeFormat(format string) {
	l.timeFormat = format
	if format == "" {
		l.logger.SetFlags(0)
		return
	}
	l.logger.SetFlags(log.Lmicroseconds)
}
