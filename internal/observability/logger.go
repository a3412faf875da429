package observability

import (
	"io"
	"log/slog"
)

// LoggerConfig selects the handler and level for a service logger.
type LoggerConfig struct {
	ServiceName string
	Level       slog.Level
	JSON        bool
}

func NewLogger(cfg LoggerConfig, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Level})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Level})
	}
	return slog.New(handler).With(slog.String("service", cfg.ServiceName))
}
