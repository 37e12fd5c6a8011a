// Package logging sets up the structured logger shared by every long-lived
// task (election, dispatch, adapter, hub). Built on zap, the logging
// library the retrieval pack reaches for wherever structured logging
// appears at all.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap.Logger (JSON encoding, ISO8601 timestamps).
// Falls back to a no-op logger if construction fails, matching the
// defensive fallback pattern used elsewhere in the pack when wiring a zap
// logger into a third-party client.
func New() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// NewAtLevel builds a production logger restricted to levelOrAbove (e.g.
// "error" to suppress noisy dependency warnings, the same pattern used to
// quiet an embedded client library's own logger).
func NewAtLevel(levelOrAbove string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zap.ParseAtomicLevel(levelOrAbove)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = lvl

	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
