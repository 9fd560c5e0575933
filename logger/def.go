package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logMu sync.RWMutex
	log   *zap.Logger
)

// Options selects the encoder and the minimum level of the process logger.
type Options struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func (o Options) zapConfig() (zap.Config, error) {
	cfg := zap.NewProductionConfig()
	if o.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if o.Level == "" {
		return cfg, nil
	}
	lvl, err := zapcore.ParseLevel(o.Level)
	if err != nil {
		return cfg, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg, nil
}

// Init builds the process logger from opts and installs it as the zap global,
// so zap.L() and Log() return the same instance.
func Init(opts Options) error {
	cfg, err := opts.zapConfig()
	if err != nil {
		return err
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	logMu.Lock()
	defer logMu.Unlock()
	if log != nil {
		_ = log.Sync()
	}
	zap.ReplaceGlobals(l)
	log = l
	return nil
}

// Log returns the process logger, or the zap global (a no-op until Init) when unset.
func Log() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		return log
	}
	return zap.L()
}

// Sync flushes buffered entries.
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
