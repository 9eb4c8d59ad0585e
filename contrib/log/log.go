// Package log wraps zap with the request-scoped Helper API the rest of
// this repository is written against: Infof/Warnf/Errorf/Debugf, With,
// and Context(ctx) for pulling request-scoped fields back out.
package log

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the minimal structured-logging sink the rest of the repo
// depends on.
type Logger interface {
	Log(level Level, keyvals ...any) error
}

type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// zapLogger adapts *zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (z *zapLogger) Log(level Level, keyvals ...any) error {
	switch level {
	case LevelDebug:
		z.s.Debugw("", keyvals...)
	case LevelWarn:
		z.s.Warnw("", keyvals...)
	case LevelError:
		z.s.Errorw("", keyvals...)
	case LevelFatal:
		z.s.Fatalw("", keyvals...)
	default:
		z.s.Infow("", keyvals...)
	}
	return nil
}

// Config controls rotation/retention, mirroring conf.Logger field by field.
type Config struct {
	Level      string
	Path       string
	Caller     bool
	MaxSize    int
	MaxAge     int
	MaxBackups int
	Compress   bool
}

// New builds a Logger from Config. An empty Path logs to stderr.
func New(c Config) Logger {
	var ws zapcore.WriteSyncer
	if c.Path == "" {
		ws = zapcore.AddSync(os.Stderr)
	} else {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.Path,
			MaxSize:    orDefault(c.MaxSize, 100),
			MaxAge:     orDefault(c.MaxAge, 7),
			MaxBackups: orDefault(c.MaxBackups, 5),
			Compress:   c.Compress,
		})
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), ws, parseLevel(c.Level))

	opts := []zap.Option{zap.AddCallerSkip(2)}
	if c.Caller {
		opts = append(opts, zap.AddCaller())
	}

	return &zapLogger{s: zap.New(core, opts...).Sugar()}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

var (
	global Logger = New(Config{})
)

// SetLogger installs the process-wide default logger.
func SetLogger(l Logger) { global = l }

// GetLogger returns the process-wide default logger.
func GetLogger() Logger { return global }

// With returns a Helper bound to l with the given static keyvals attached
// to every subsequent call.
func With(l Logger, keyvals ...any) *Helper {
	return &Helper{logger: l, keyvals: keyvals}
}

// Helper is a small sugar layer over Logger, offering printf-style and
// keyval-style logging plus a context carrier for request-scoped fields.
type Helper struct {
	logger  Logger
	keyvals []any
}

func NewHelper(l Logger) *Helper { return &Helper{logger: l} }

func (h *Helper) with(extra ...any) []any {
	if len(h.keyvals) == 0 {
		return extra
	}
	return append(append([]any{}, h.keyvals...), extra...)
}

func (h *Helper) Debugf(format string, args ...any) {
	_ = h.logger.Log(LevelDebug, h.with("msg", fmt.Sprintf(format, args...))...)
}
func (h *Helper) Infof(format string, args ...any) {
	_ = h.logger.Log(LevelInfo, h.with("msg", fmt.Sprintf(format, args...))...)
}
func (h *Helper) Warnf(format string, args ...any) {
	_ = h.logger.Log(LevelWarn, h.with("msg", fmt.Sprintf(format, args...))...)
}
func (h *Helper) Errorf(format string, args ...any) {
	_ = h.logger.Log(LevelError, h.with("msg", fmt.Sprintf(format, args...))...)
}
func (h *Helper) Fatalf(format string, args ...any) {
	_ = h.logger.Log(LevelFatal, h.with("msg", fmt.Sprintf(format, args...))...)
}
func (h *Helper) Errorw(keyvals ...any) {
	_ = h.logger.Log(LevelError, h.with(keyvals...)...)
}

type requestFieldsKey struct{}

// Context returns a Helper carrying any fields attached via WithContext,
// falling back to the global logger.
func Context(ctx context.Context) *Helper {
	if kv, ok := ctx.Value(requestFieldsKey{}).([]any); ok {
		return &Helper{logger: global, keyvals: kv}
	}
	return &Helper{logger: global}
}

// WithContext attaches keyvals to ctx for later retrieval via Context.
func WithContext(ctx context.Context, keyvals ...any) context.Context {
	return context.WithValue(ctx, requestFieldsKey{}, keyvals)
}

// package-level convenience wrappers over the global logger.

func Debugf(format string, args ...any) { NewHelper(global).Debugf(format, args...) }
func Infof(format string, args ...any)  { NewHelper(global).Infof(format, args...) }
func Warnf(format string, args ...any)  { NewHelper(global).Warnf(format, args...) }
func Errorf(format string, args ...any) { NewHelper(global).Errorf(format, args...) }
func Fatalf(format string, args ...any) { NewHelper(global).Fatalf(format, args...) }
func Fatal(args ...any)                 { NewHelper(global).Fatalf("%s", fmt.Sprint(args...)) }
func Debug(args ...any)                 { NewHelper(global).Debugf("%s", fmt.Sprint(args...)) }

func Enabled(level Level) bool { return true }
