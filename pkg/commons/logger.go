// Package commons holds the small set of cross-cutting types every package
// in this module depends on: the Logger interface, the error-kind taxonomy,
// and shared string constants.
package commons

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SEPARATOR delimits list-valued configuration strings (e.g. CORS origins).
const SEPARATOR = ","

// Logger is a structured, leveled logger. The sugared-zap call shape
// (key/value pairs after the message) is used throughout the codebase so
// that the zap and test-fake implementations are interchangeable.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})

	// With returns a child logger with the given key/value pairs attached
	// to every subsequent entry (e.g. session id).
	With(kv ...interface{}) Logger
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger builds a zap logger at the given level (debug|info|warn|error)
// writing JSON to stderr. When logFile is non-empty, entries are additionally
// teed to a rotating lumberjack file sink.
func NewLogger(level string, logFile string) (Logger, error) {
	zapLevel := zap.InfoLevel
	_ = zapLevel.UnmarshalText([]byte(level))

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if logFile != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), zapLevel)
	l := zap.New(core, zap.AddCaller())

	return &zapLogger{sugar: l.Sugar()}, nil
}

func (z *zapLogger) Debug(msg string) { z.sugar.Debug(msg) }
func (z *zapLogger) Info(msg string)  { z.sugar.Info(msg) }
func (z *zapLogger) Warn(msg string)  { z.sugar.Warn(msg) }
func (z *zapLogger) Error(msg string) { z.sugar.Error(msg) }

func (z *zapLogger) Debugf(format string, args ...interface{}) { z.sugar.Debugf(format, args...) }
func (z *zapLogger) Infof(format string, args ...interface{})  { z.sugar.Infof(format, args...) }
func (z *zapLogger) Warnf(format string, args ...interface{})  { z.sugar.Warnf(format, args...) }
func (z *zapLogger) Errorf(format string, args ...interface{}) { z.sugar.Errorf(format, args...) }

func (z *zapLogger) Debugw(msg string, kv ...interface{}) { z.sugar.Debugw(msg, kv...) }
func (z *zapLogger) Infow(msg string, kv ...interface{})  { z.sugar.Infow(msg, kv...) }
func (z *zapLogger) Warnw(msg string, kv ...interface{})  { z.sugar.Warnw(msg, kv...) }
func (z *zapLogger) Errorw(msg string, kv ...interface{}) { z.sugar.Errorw(msg, kv...) }

func (z *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{sugar: z.sugar.With(kv...)}
}
