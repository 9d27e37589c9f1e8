package trafficlight

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alecthomas/kong"
)

var Version = "dev"

type CLI struct {
	Config    string           `help:"config file path or URL" short:"c"`
	Debug     bool             `help:"debug mode" short:"d" default:"false"`
	Vehicles  int              `help:"number of vehicles waiting for green" default:"1"`
	Crossings int64            `help:"stop after this many vehicles crossed, 0 means forever" default:"0"`
	Version   kong.VersionFlag `help:"show version"`
}

// Run starts a light and lets vehicles cross on every green until ctx is
// done or enough crossings happened.
func Run(ctx context.Context, cli *CLI) error {
	if cli.Debug {
		logLevel.Set(slog.LevelDebug)
	}
	cfg, err := LoadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	t, err := New(cfg)
	if err != nil {
		return err
	}
	return runVehicles(ctx, t, cli.Vehicles, cli.Crossings)
}

func runVehicles(ctx context.Context, t *TrafficLight, vehicles int, crossings int64) error {
	if vehicles < 1 {
		vehicles = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := t.Simulate(ctx); err != nil {
		return err
	}
	defer t.Stop()

	var crossed atomic.Int64
	wg := &sync.WaitGroup{}
	for i := 0; i < vehicles; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger := newLoggerFromContext(withLight(ctx, t)).With("vehicle", n)
			for {
				logger.Debug("waiting for green")
				if err := t.WaitForGreen(ctx); err != nil {
					if ctx.Err() == nil {
						logger.Warn("stopped waiting", "error", err)
					}
					return
				}
				total := crossed.Add(1)
				logger.Info("vehicle crossed", "crossings", total)
				if crossings > 0 && total >= crossings {
					cancel()
					return
				}
			}
		}(i)
	}
	wg.Wait()
	return nil
}
