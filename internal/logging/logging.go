package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/thihaeung/balance-ledger/internal/config"
)

// New builds the process logger. Level and encoding come from LOG_LEVEL and
// LOG_ENCODING; defaults are info/json.
func New() (*zap.Logger, error) {
	level := config.Env("LOG_LEVEL", "info")
	encoding := config.Env("LOG_ENCODING", "json")

	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
