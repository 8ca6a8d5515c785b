// Package logger builds the process logger and the printf-style adapters
// the other packages take.
package logger

import (
	"fmt"
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a development logger when debug is set and a production
// one otherwise.
func New(debug bool) (*zap.Logger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("can't initialize zap logger: %w", err)
	}
	return l, nil
}

// Printf adapts l to the func(string, ...any) loggers used across the
// dashboard. Messages go out at info level under the given component.
func Printf(l *zap.Logger, component string) func(string, ...any) {
	s := l.Named(component).WithOptions(zap.AddCallerSkip(1)).Sugar()
	return s.Infof
}

// Std returns a standard library logger writing into l at error level,
// for http.Server.ErrorLog.
func Std(l *zap.Logger, component string) *log.Logger {
	std, err := zap.NewStdLogAt(l.Named(component), zapcore.ErrorLevel)
	if err != nil {
		return zap.NewStdLog(l.Named(component))
	}
	return std
}
