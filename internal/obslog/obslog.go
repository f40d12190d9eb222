// Package obslog provides the wallet's structured-logging interface, backed
// by go.uber.org/zap. The coordinator logs state transitions and terminal
// errors through this interface; it never logs secret material.
package obslog

import "go.uber.org/zap"

// Logger is the logging surface the wallet core depends on. Concrete
// implementations (or a no-op one for tests) are supplied at construction.
type Logger interface {
	Debugw(msg string, kv ...any)
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a production zap logger (JSON encoding, Info level) wrapped in
// the Logger interface.
func New() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: l.Sugar()}, nil
}

func (z *zapLogger) Debugw(msg string, kv ...any) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Infow(msg string, kv ...any)  { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warnw(msg string, kv ...any)  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Errorw(msg string, kv ...any) { z.s.Errorw(msg, kv...) }

type nopLogger struct{}

// NewNop returns a Logger that discards everything, for use in tests.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debugw(string, ...any) {}
func (nopLogger) Infow(string, ...any)  {}
func (nopLogger) Warnw(string, ...any)  {}
func (nopLogger) Errorw(string, ...any) {}
