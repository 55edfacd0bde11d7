// Package logx is a thin structured-logging wrapper over logrus, matching
// the call shape used throughout the rest of this codebase:
// Debug/Info/Warn/Error with variadic key-value pairs, plus a
// LogDebugVerbose helper for high-volume debug events that carry a
// structured field map.
package logx

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a *logrus.Entry bound to a component name.
type Logger struct {
	entry *logrus.Entry
}

// New creates a Logger writing to stderr at the given level ("debug",
// "info", "warn", "error", "trace"). An unrecognized level falls back to
// "info".
func New(component, level string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)
	return &Logger{entry: base.WithField("component", component)}
}

// With returns a child Logger with additional fields attached to every
// subsequent call.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fieldsFromKV(kv))}
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.entry.WithFields(fieldsFromKV(kv)).Debug(msg)
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	l.entry.WithFields(fieldsFromKV(kv)).Info(msg)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.entry.WithFields(fieldsFromKV(kv)).Warn(msg)
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	l.entry.WithFields(fieldsFromKV(kv)).Error(msg)
}

// LogDebugVerbose logs a named event with a pre-built field map, the
// idiom used by the high-frequency source/engine debug call sites.
func (l *Logger) LogDebugVerbose(event string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Debug(event)
}

func fieldsFromKV(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}
