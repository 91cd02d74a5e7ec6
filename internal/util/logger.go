package util

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger   *zap.Logger
	initOnce sync.Once
	loggerMu sync.RWMutex
)

// Init builds the process logger. Only the first call has an effect.
func Init(environment, level, format string) *zap.Logger {
	initOnce.Do(func() {
		var cfg zap.Config
		if environment == "production" {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "ts"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			cfg.DisableStacktrace = true
			cfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
		} else {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cfg.Level = zap.NewAtomicLevelAt(levelOf(level))

		cfg.Encoding = "console"
		if format == "json" {
			cfg.Encoding = "json"
			cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}

		l, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic("logger: " + err.Error())
		}
		l = l.With(zap.String("service", "travel-auth"))

		loggerMu.Lock()
		logger = l
		loggerMu.Unlock()
		zap.ReplaceGlobals(l)
	})
	return Get()
}

// Get returns the process logger, or a no-op logger before Init.
func Get() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// SetLogger swaps the process logger. Tests use it with zaptest/observer.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

func Sync() {
	_ = Get().Sync()
}

func levelOf(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { Get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { Get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }

func String(key, value string) zap.Field { return zap.String(key, value) }
func Bool(key string, value bool) zap.Field { return zap.Bool(key, value) }
func Int(key string, value int) zap.Field { return zap.Int(key, value) }
func Duration(key string, value time.Duration) zap.Field { return zap.Duration(key, value) }
func Time(key string, value time.Time) zap.Field { return zap.Time(key, value) }
func Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }

// ErrorField avoids clashing with the Error log function.
func ErrorField(err error) zap.Field { return zap.Error(err) }

// Phone logs a phone number with all but the last four digits masked.
func Phone(phone string) zap.Field { return zap.String("phone", MaskPhone(phone)) }
