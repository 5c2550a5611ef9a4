// Package logger provides the structured logging call shape used
// throughout this repository: Info/Warn/Error/Debug paired with a Ctx
// map of fields, plus AddContext for binding fields onto a child logger.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Ctx is a set of structured fields attached to a single log line.
type Ctx map[string]any

// Logger is the interface satisfied by the package-level functions and by
// loggers returned from AddContext.
type Logger interface {
	Debug(msg string, ctx ...Ctx)
	Info(msg string, ctx ...Ctx)
	Warn(msg string, ctx ...Ctx)
	Error(msg string, ctx ...Ctx)
	AddContext(ctx Ctx) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

var std = logrus.New()

func init() {
	std.SetOutput(os.Stderr)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel adjusts the verbosity of the package-level logger.
func SetLevel(level logrus.Level) {
	std.SetLevel(level)
}

func fields(ctx []Ctx) logrus.Fields {
	f := logrus.Fields{}
	for _, c := range ctx {
		for k, v := range c {
			f[k] = v
		}
	}

	return f
}

// Debug logs a message at debug level.
func Debug(msg string, ctx ...Ctx) {
	std.WithFields(fields(ctx)).Debug(msg)
}

// Info logs a message at info level.
func Info(msg string, ctx ...Ctx) {
	std.WithFields(fields(ctx)).Info(msg)
}

// Warn logs a message at warning level.
func Warn(msg string, ctx ...Ctx) {
	std.WithFields(fields(ctx)).Warn(msg)
}

// Error logs a message at error level.
func Error(msg string, ctx ...Ctx) {
	std.WithFields(fields(ctx)).Error(msg)
}

// AddContext returns a Logger with ctx permanently bound to every
// subsequent call, so a sweep can stamp every line it emits with a
// sweep id without threading it through every function signature.
func AddContext(ctx Ctx) Logger {
	return &logrusLogger{entry: std.WithFields(fields([]Ctx{ctx}))}
}

func (l *logrusLogger) Debug(msg string, ctx ...Ctx) {
	l.entry.WithFields(fields(ctx)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, ctx ...Ctx) {
	l.entry.WithFields(fields(ctx)).Info(msg)
}

func (l *logrusLogger) Warn(msg string, ctx ...Ctx) {
	l.entry.WithFields(fields(ctx)).Warn(msg)
}

func (l *logrusLogger) Error(msg string, ctx ...Ctx) {
	l.entry.WithFields(fields(ctx)).Error(msg)
}

func (l *logrusLogger) AddContext(ctx Ctx) Logger {
	return &logrusLogger{entry: l.entry.WithFields(fields(ctx))}
}
