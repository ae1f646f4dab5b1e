// Package log configures the process wide hclog logger of the host.
package log

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenbpm-embedded/internal/config"
)

type Option func(*hclog.LoggerOptions)

// WithOutput redirects the log, stderr is used by default
func WithOutput(w io.Writer) Option {
	return func(o *hclog.LoggerOptions) {
		o.Output = w
	}
}

// Init replaces the default hclog logger, every component logger is named from it
func Init(conf config.Log, name string, options ...Option) hclog.Logger {
	loggerOptions := &hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(conf.Level),
		JSONFormat: conf.Format == config.LogFormatJSON,
		Output:     os.Stderr,
	}
	if loggerOptions.Level == hclog.NoLevel {
		loggerOptions.Level = hclog.Info
	}
	for _, option := range options {
		option(loggerOptions)
	}
	logger := hclog.New(loggerOptions)
	hclog.SetDefault(logger)
	return logger
}

func Info(format string, args ...any) {
	hclog.Default().Info(fmt.Sprintf(format, args...))
}

// Infof logs with the name of the component stored in ctx by WithComponent
func Infof(ctx context.Context, format string, args ...any) {
	componentLogger(ctx).Info(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	hclog.Default().Error(fmt.Sprintf(format, args...))
}

func Errorf(ctx context.Context, format string, args ...any) {
	componentLogger(ctx).Error(fmt.Sprintf(format, args...))
}

type componentKey struct{}

// WithComponent names the logger used by Infof and Errorf for ctx
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey{}, component)
}

func componentLogger(ctx context.Context) hclog.Logger {
	if component, ok := ctx.Value(componentKey{}).(string); ok {
		return hclog.Default().Named(component)
	}
	return hclog.Default()
}
