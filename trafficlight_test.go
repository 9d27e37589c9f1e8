package trafficlight

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logLevel.Set(slog.LevelWarn)
	os.Exit(m.Run())
}

func shortConfig(mode string) *Config {
	cfg := DefaultConfig()
	cfg.Name = "test-" + mode
	cfg.Cycle.Min = 20 * time.Millisecond
	cfg.Cycle.Max = 40 * time.Millisecond
	cfg.Cycle.Mode = mode
	return cfg
}

func TestNewStartsRed(t *testing.T) {
	tl, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseRed, tl.CurrentPhase())
	assert.NotEmpty(t, tl.ID())

	tl, err = New(shortConfig(ModePoll))
	require.NoError(t, err)
	assert.Equal(t, "test-poll", tl.ID())
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cycle.Max = time.Second
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestTickAlternatesWithinCycleRange(t *testing.T) {
	tl, err := New(DefaultConfig())
	require.NoError(t, err)
	tl.cycle.rnd = rand.New(rand.NewSource(42))

	const toggles = 1000
	step := DefaultPollInterval
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tl.cycle.reset(now)

	last := now
	prev := tl.CurrentPhase()
	for n := 0; n < toggles; {
		now = now.Add(step)
		p, ok := tl.tick(now)
		if !ok {
			continue
		}
		n++
		require.NotEqual(t, prev, p, "toggle %d repeated phase %s", n, p)
		require.Equal(t, p, tl.CurrentPhase())

		interval := now.Sub(last)
		require.GreaterOrEqual(t, interval, DefaultCycleMin, "toggle %d", n)
		require.LessOrEqual(t, interval, DefaultCycleMax+step, "toggle %d", n)

		got, ok := tl.mailbox.TryReceive()
		require.True(t, ok)
		require.Equal(t, p, got)

		prev, last = p, now
	}
}

func TestTickBeforeExpiry(t *testing.T) {
	tl, err := New(DefaultConfig())
	require.NoError(t, err)
	now := time.Now()
	tl.cycle.reset(now)

	_, ok := tl.tick(now.Add(DefaultCycleMin - time.Millisecond))
	assert.False(t, ok)
	assert.Equal(t, PhaseRed, tl.CurrentPhase())
	_, ok = tl.mailbox.TryReceive()
	assert.False(t, ok, "nothing is sent without a toggle")
}

func TestWaitForGreen(t *testing.T) {
	for _, mode := range []string{ModePoll, ModeTimer} {
		t.Run(mode, func(t *testing.T) {
			tl, err := New(shortConfig(mode))
			require.NoError(t, err)
			require.NoError(t, tl.Simulate(context.Background()))
			defer tl.Stop()

			for i := 0; i < 3; i++ {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				err := tl.WaitForGreen(ctx)
				cancel()
				require.NoError(t, err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			require.NoError(t, tl.WaitForPhase(ctx, PhaseRed))
		})
	}
}

func TestWaitForGreenTimeout(t *testing.T) {
	tl, err := New(nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tl.WaitForGreen(ctx), context.DeadlineExceeded)
}

func TestSimulateTwice(t *testing.T) {
	tl, err := New(shortConfig(ModePoll))
	require.NoError(t, err)
	require.NoError(t, tl.Simulate(context.Background()))
	defer tl.Stop()
	assert.ErrorIs(t, tl.Simulate(context.Background()), ErrAlreadyStarted)
}

func TestStopReleasesWaiters(t *testing.T) {
	cfg := DefaultConfig()
	tl, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, tl.Simulate(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- tl.WaitForGreen(context.Background())
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, tl.Stop())
	require.NoError(t, tl.Stop())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released by stop")
	}
	assert.ErrorIs(t, tl.Simulate(context.Background()), ErrStopped)
	assert.ErrorIs(t, tl.WaitForGreen(context.Background()), ErrStopped)
}

func TestSimulateStopsWithContext(t *testing.T) {
	tl, err := New(shortConfig(ModeTimer))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tl.Simulate(ctx))
	cancel()

	select {
	case <-tl.done:
	case <-time.After(time.Second):
		t.Fatal("timing loop kept running after cancel")
	}
	require.NoError(t, tl.Stop())
}

func TestWaitAfterContextTeardown(t *testing.T) {
	tl, err := New(shortConfig(ModeTimer))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tl.Simulate(ctx))
	time.Sleep(100 * time.Millisecond)
	cancel()

	done := make(chan error, 1)
	go func() {
		for {
			// a phase published before the cancel may still be pending
			if err := tl.WaitForPhase(context.Background(), PhaseRed); err != nil {
				done <- err
				return
			}
		}
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter blocked after the timing loop exited")
	}
	assert.ErrorIs(t, tl.Simulate(context.Background()), ErrStopped)
	assert.NoError(t, tl.Stop())
}

func TestWaitForGreenWhenAlreadyGreen(t *testing.T) {
	tl, err := New(DefaultConfig())
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tl.cycle.reset(now)

	now = now.Add(DefaultCycleMax + time.Millisecond)
	p, ok := tl.tick(now)
	require.True(t, ok)
	require.Equal(t, PhaseGreen, p)

	// the pending green is delivered at once
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, tl.WaitForGreen(ctx))

	// green but already drained: wait for the next transition to green
	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tl.WaitForGreen(ctx), context.DeadlineExceeded)
	assert.Equal(t, PhaseGreen, tl.CurrentPhase())

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- tl.WaitForGreen(ctx)
	}()
	time.Sleep(10 * time.Millisecond)
	now = now.Add(DefaultCycleMax + time.Millisecond)
	p, ok = tl.tick(now)
	require.True(t, ok)
	require.Equal(t, PhaseRed, p)
	now = now.Add(DefaultCycleMax + time.Millisecond)
	p, ok = tl.tick(now)
	require.True(t, ok)
	require.Equal(t, PhaseGreen, p)
	assert.NoError(t, <-done)
}

func TestTickLogsLightAttributes(t *testing.T) {
	var buf bytes.Buffer
	orig := logger
	logger = slog.New(slog.NewJSONHandler(&buf, nil))
	defer func() { logger = orig }()

	cfg := DefaultConfig()
	cfg.Name = "main-street"
	tl, err := New(cfg)
	require.NoError(t, err)
	now := time.Now()
	tl.cycle.reset(now)
	_, ok := tl.tick(now.Add(DefaultCycleMax + time.Millisecond))
	require.True(t, ok)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "phase changed", line["msg"])
	assert.Equal(t, "main-street", line["light"])
	assert.Equal(t, "green", line["phase"])
	assert.Equal(t, "red", line["from"])
	assert.Equal(t, "green", line["to"])
}

func TestGreenWithinOneCycle(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a full 4-6s cycle")
	}
	tl, err := New(nil)
	require.NoError(t, err)
	require.Equal(t, PhaseRed, tl.CurrentPhase())
	require.NoError(t, tl.Simulate(context.Background()))
	defer tl.Stop()

	done := make(chan error, 1)
	start := time.Now()
	go func() {
		done <- tl.WaitForGreen(context.Background())
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(DefaultCycleMax + time.Second):
		t.Fatal("green did not arrive within one cycle")
	}
	assert.LessOrEqual(t, time.Since(start), DefaultCycleMax+500*time.Millisecond)
	assert.Equal(t, PhaseGreen, tl.CurrentPhase())
}
