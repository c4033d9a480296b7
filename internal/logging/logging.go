// Package logging builds the single *zap.SugaredLogger a ringsd process
// threads through its MessageHandler and Stabilizer as a field,
// never as a package global.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-profile logger when debug is false, or a more
// verbose development profile (caller info, debug level) when debug is
// true.
func New(debug bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Must is New, panicking on a build error. ringsd's main uses this during
// startup, where there's no logger yet to report the failure through.
func Must(debug bool) *zap.SugaredLogger {
	log, err := New(debug)
	if err != nil {
		panic(err)
	}
	return log
}
