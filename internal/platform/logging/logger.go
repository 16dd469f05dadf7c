// Package logging wraps zap behind a slog-style key/value API. Every record
// logged with a context carries the active trace and span ids, and can be
// mirrored to a second sink (see SetMirror).
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level = zapcore.Level

const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
)

// Format selects the encoder used by New.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// ParseFormat maps LOG_FORMAT onto a Format. Anything but "console" is JSON.
func ParseFormat(v string) Format {
	if strings.EqualFold(strings.TrimSpace(v), string(FormatConsole)) {
		return FormatConsole
	}
	return FormatJSON
}

// MirrorFunc receives every record that passes the level check, including the
// key/value pairs bound with With.
type MirrorFunc func(ctx context.Context, level Level, msg string, args ...any)

var (
	fallback atomic.Pointer[Logger]
	mirrorFn atomic.Pointer[MirrorFunc]
)

func init() { fallback.Store(NewNop()) }

// SetMirror installs fn for every logger in the process. nil turns it off.
func SetMirror(fn MirrorFunc) {
	if fn == nil {
		mirrorFn.Store(nil)
		return
	}
	mirrorFn.Store(&fn)
}

func Default() *Logger { return fallback.Load() }

func SetDefault(l *Logger) {
	if l == nil {
		l = NewNop()
	}
	fallback.Store(l)
}

type Logger struct {
	z      *zap.Logger
	root   *zap.Logger // z without the bound fields
	bound  []any
	synced *atomic.Bool
}

// New writes to w, or stderr when w is nil. Console output is meant for a
// person watching a run; JSON for everything else.
func New(w io.Writer, format Format, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	core := zapcore.NewCore(newEncoder(format), zapcore.Lock(zapcore.AddSync(w)), level)
	// skip Logger.Info and Logger.emit
	return FromZap(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2), zap.AddStacktrace(zapcore.ErrorLevel)))
}

func newEncoder(format Format) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format != FormatConsole {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	return zapcore.NewConsoleEncoder(cfg)
}

func NewNop() *Logger { return FromZap(zap.NewNop()) }

func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z, root: z, synced: new(atomic.Bool)}
}

func (l *Logger) orDefault() *Logger {
	if l == nil || l.z == nil {
		return Default()
	}
	return l
}

func (l *Logger) derive(z, root *zap.Logger, extra []any) *Logger {
	bound := make([]any, 0, len(l.bound)+len(extra))
	bound = append(append(bound, l.bound...), extra...)
	return &Logger{z: z, root: root, bound: bound, synced: l.synced}
}

func (l *Logger) Zap() *zap.Logger { return l.orDefault().z }

// WrapCore returns a logger whose core is wrapped by fn. Fields bound with
// With are re-applied on top, so cores added by fn see them too.
func (l *Logger) WrapCore(fn func(zapcore.Core) zapcore.Core) *Logger {
	l = l.orDefault()
	root := l.root.WithOptions(zap.WrapCore(fn))
	return l.derive(root.With(fields(l.bound)...), root, nil)
}

// Sync flushes buffered output once; later calls on the logger or its
// children are no-ops.
func (l *Logger) Sync() error {
	if l == nil || l.z == nil || !l.synced.CompareAndSwap(false, true) {
		return nil
	}
	return l.z.Sync()
}

func (l *Logger) With(args ...any) *Logger {
	l = l.orDefault()
	return l.derive(l.z.With(fields(args)...), l.root, args)
}

// Named scopes the logger to a pipeline stage, e.g. "normalize" or "upsert".
func (l *Logger) Named(name string) *Logger {
	l = l.orDefault()
	return l.derive(l.z.Named(name), l.root.Named(name), nil)
}

func (l *Logger) Debug(msg string, args ...any) { l.emit(context.Background(), LevelDebug, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.emit(context.Background(), LevelInfo, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.emit(context.Background(), LevelWarn, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.emit(context.Background(), LevelError, msg, args) }

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, LevelDebug, msg, args)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, LevelInfo, msg, args)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, LevelWarn, msg, args)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, LevelError, msg, args)
}

func (l *Logger) emit(ctx context.Context, level Level, msg string, args []any) {
	l = l.orDefault()
	ce := l.z.Check(level, msg)
	if ce == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	out := fields(args)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out = append(out, zap.String("trace_id", sc.TraceID().String()), zap.String("span_id", sc.SpanID().String()))
	}
	ce.Write(out...)

	if fn := mirrorFn.Load(); fn != nil {
		all := args
		if len(l.bound) > 0 {
			all = append(append(make([]any, 0, len(l.bound)+len(args)), l.bound...), args...)
		}
		(*fn)(ctx, level, msg, all...)
	}
}

// fields converts alternating key/value args. A non-string key becomes "arg";
// a dangling key is logged as null.
func fields(args []any) []zap.Field {
	out := make([]zap.Field, 0, (len(args)+1)/2+2)
	for i := 0; i < len(args); i += 2 {
		key, _ := args[i].(string)
		if key == "" {
			key = "arg"
		}
		var value any
		if i+1 < len(args) {
			value = args[i+1]
		}
		if err, ok := value.(error); ok {
			out = append(out, zap.NamedError(key, err))
			continue
		}
		out = append(out, zap.Any(key, value))
	}
	return out
}
