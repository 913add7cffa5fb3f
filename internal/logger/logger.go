package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Production gets JSON to stdout, everything
// else gets the development console encoder.
func New(env string) (*zap.Logger, error) {
	if env == "prod" || env == "production" {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.TimeKey = "time"
		return cfg.Build()
	}
	return zap.NewDevelopment()
}
