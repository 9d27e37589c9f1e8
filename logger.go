package trafficlight

import (
	"context"
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)
var logger *slog.Logger

func init() {
	opts := slog.HandlerOptions{
		Level: logLevel,
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &opts))
	slog.SetDefault(logger)
}

type lightKeyType string

const lightKey lightKeyType = "light"

func withLight(ctx context.Context, t *TrafficLight) context.Context {
	return context.WithValue(ctx, lightKey, t)
}

func newLoggerFromContext(ctx context.Context) *slog.Logger {
	if v := ctx.Value(lightKey); v != nil {
		return v.(*TrafficLight).logger()
	}
	return logger
}

func (t *TrafficLight) logger() *slog.Logger {
	return logger.With("light", t.ID(), "phase", t.CurrentPhase())
}
