// Package logging is a thin structured-logging facade over zap, kept
// narrow enough that call sites throughout handshake/coordinator/
// transport never need to know zap is behind it.
package logging

import (
	"go.uber.org/zap"
)

// Logger exposes three levels (each with a printf-style variant) plus
// structured With() context, the same shape used across the
// handshake, transport and coordinator packages.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	With(fields ...interface{}) Logger
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a development (console-encoded) logger when debug is
// true, otherwise a production JSON logger.
func New(debug bool) (Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: base.Sugar()}, nil
}

// NewNop is used by tests and by components constructed without an
// explicit logger.
func NewNop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debug(args ...interface{})                 { l.sugar.Debug(args...) }
func (l *zapLogger) Debugf(format string, args ...interface{})  { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Info(args ...interface{})                   { l.sugar.Info(args...) }
func (l *zapLogger) Infof(format string, args ...interface{})   { l.sugar.Infof(format, args...) }
func (l *zapLogger) Error(args ...interface{})                  { l.sugar.Error(args...) }
func (l *zapLogger) Errorf(format string, args ...interface{})  { l.sugar.Errorf(format, args...) }

func (l *zapLogger) With(fields ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(fields...)}
}
