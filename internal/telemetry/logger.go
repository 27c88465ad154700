// internal/telemetry/logger.go

// Package telemetry sets up logging, tracing and request logging shared by
// the relay and compass binaries.
package telemetry

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	Level string
	Dev   bool
}

// LogConfigFromEnv reads LOG_DEV and LOG_LEVEL.
func LogConfigFromEnv() LogConfig {
	dev := os.Getenv("LOG_DEV") == "1"
	lvl := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if lvl == "" {
		if dev {
			lvl = "debug"
		} else {
			lvl = "info"
		}
	}
	return LogConfig{Level: lvl, Dev: dev}
}

func levelFromString(l string) zapcore.Level {
	switch l {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds a console logger in dev mode and a JSON logger on stdout
// otherwise.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	lvl := levelFromString(cfg.Level)
	if cfg.Dev {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(lvl)
		return c.Build()
	}
	return zap.New(jsonCore(zapcore.AddSync(os.Stdout), lvl), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func jsonCore(ws zapcore.WriteSyncer, lvl zapcore.Level) zapcore.Core {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), ws, lvl)
}
