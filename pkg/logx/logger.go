package logx

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

// root yields the zerolog logger a Logger writes through at call time.
type root interface {
	current() zerolog.Logger
}

type fixed zerolog.Logger

func (f fixed) current() zerolog.Logger { return zerolog.Logger(f) }

// Logger is a structured logger value. Loggers obtained from a Service
// follow that Service's sinks and level across Apply calls. The zero
// Logger discards everything.
type Logger struct {
	root   root
	fields []Field
}

// Nop returns a logger that never writes.
func Nop() Logger { return Logger{root: fixed(zerolog.Nop())} }

// NewWriter returns a logger writing JSON lines to w at the given level
// (debug when level is empty or unknown).
func NewWriter(w io.Writer, level string) Logger {
	return Logger{root: fixed(newZerolog(w, parseLevel(level, zerolog.DebugLevel)))}
}

func (l Logger) IsZero() bool { return l.root == nil && len(l.fields) == 0 }

func (l Logger) zl() zerolog.Logger {
	if l.root == nil {
		return zerolog.Nop()
	}
	return l.root.current()
}

// Enabled reports whether a line at level would be written.
func (l Logger) Enabled(level zerolog.Level) bool {
	zl := l.zl()
	return zl.GetLevel() <= level && level != zerolog.Disabled
}

// With returns a logger that adds fields to every line.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := Logger{root: l.root, fields: make([]Field, 0, len(l.fields)+len(fields))}
	out.fields = append(append(out.fields, l.fields...), fields...)
	return out
}

func (l Logger) Trace(msg string, fields ...Field) { l.write(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.write(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(zerolog.ErrorLevel, msg, fields) }

func (l Logger) write(level zerolog.Level, msg string, fields []Field) {
	zl := l.zl()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// skip write and the level method
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, group := range [2][]Field{l.fields, fields} {
		for _, f := range group {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}
