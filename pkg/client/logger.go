package client

import (
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

// Logger receives what job workers can't return to a caller, failed completions mostly
type Logger interface {
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

type DefLogger struct {
	logger *slog.Logger
}

func (l *DefLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

func (l *DefLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// HclogLogger lets the client share the engine's hclog logger
type HclogLogger struct {
	Logger hclog.Logger
}

func (l HclogLogger) Error(msg string, args ...any) {
	l.Logger.Error(msg, args...)
}

func (l HclogLogger) Debug(msg string, args ...any) {
	l.Logger.Debug(msg, args...)
}
