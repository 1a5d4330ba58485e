package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes leveled messages followed by key/value pairs:
//
//	log.Info("cycle finished", "executed", 3, "failed", 0)
//
// Keys must be strings; a trailing key without a value is dropped.
type Logger struct {
	zl zerolog.Logger
}

var (
	mu  sync.RWMutex
	std = newZerolog(os.Stderr, "console")
)

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func newZerolog(w io.Writer, format string) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Setup replaces the process-wide logger. format is "console" (default)
// or "json".
func Setup(w io.Writer, format string, level Level) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	std = newZerolog(w, format)
	SetLevel(level)
}

// SetLevel changes the minimum level of every logger, including children
// created earlier with With.
func SetLevel(l Level) {
	zerolog.SetGlobalLevel(zerologLevel(l))
}

// ParseLevel maps a config/flag value to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func base() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &Logger{zl: std}
}

// With returns a logger that attaches kv to every line.
func With(kv ...any) *Logger {
	return base().With(kv...)
}

// With returns a child logger carrying kv in addition to l's fields.
func (l *Logger) With(kv ...any) *Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &Logger{zl: ctx.Logger()}
}

type ctxKey struct{}

// WithContext stores l in ctx; Ctx retrieves it.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Ctx returns the logger stored in ctx, or the process-wide logger.
func Ctx(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
			return l
		}
	}
	return base()
}

func (l *Logger) Debug(msg string, kv ...any) {
	write(l.zl.Debug(), msg, kv)
}

func (l *Logger) Info(msg string, kv ...any) {
	write(l.zl.Info(), msg, kv)
}

func (l *Logger) Warn(msg string, kv ...any) {
	write(l.zl.Warn(), msg, kv)
}

func (l *Logger) Error(msg string, err error, kv ...any) {
	write(l.zl.Error().Err(err), msg, kv)
}

func Debug(msg string, kv ...any) {
	base().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	base().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	base().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	base().Error(msg, err, kv...)
}

func write(ev *zerolog.Event, msg string, kv []any) {
	// Disabled levels yield a nil event.
	if ev == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case time.Time:
			ev = ev.Time(key, v)
		case time.Duration:
			ev = ev.Str(key, v.String())
		case string:
			ev = ev.Str(key, v)
		case fmt.Stringer:
			ev = ev.Stringer(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
