// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

package cmsmcp

import (
	"go.uber.org/zap"
)

// Logger defines the logging interface used throughout the server.
// Implementations must be safe for concurrent use.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// zapLogger adapts a zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (l *zapLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *zapLogger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *zapLogger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *zapLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{sugar: l.Sugar()}
}

var defaultLogger Logger = newDefaultLogger()

func newDefaultLogger() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails on invalid options; fall back
		// to a no-op core rather than panicking at init time.
		l = zap.NewNop()
	}
	return &zapLogger{sugar: l.Sugar()}
}

// GetDefaultLogger returns the process-wide default logger.
func GetDefaultLogger() Logger {
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide default logger. Intended
// for use at program startup, before any server is constructed.
func SetDefaultLogger(l Logger) {
	if l != nil {
		defaultLogger = l
	}
}
