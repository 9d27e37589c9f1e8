package trafficlight

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TrafficLight toggles between red and green on a random interval and lets
// callers wait for a phase.
type TrafficLight struct {
	Config *Config

	id      string
	mu      sync.RWMutex
	phase   Phase
	mailbox *Mailbox[Phase]
	cycle   *cycle
	hooks   *hookRunner

	runMu   sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{} // closed once the loop and hooks exited
	wg      sync.WaitGroup
}

func New(cfg *Config) (*TrafficLight, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	hooks, err := newHookRunner(cfg.Hooks)
	if err != nil {
		return nil, err
	}
	id := cfg.Name
	if id == "" {
		id = uuid.NewString()
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &TrafficLight{
		Config:  cfg,
		id:      id,
		phase:   PhaseRed,
		mailbox: NewMailbox[Phase](),
		cycle:   newCycle(cfg.Cycle.Min, cfg.Cycle.Max, rnd),
		hooks:   hooks,
	}, nil
}

func (t *TrafficLight) ID() string {
	return t.id
}

// CurrentPhase returns a snapshot of the phase. It never blocks on the
// timing loop.
func (t *TrafficLight) CurrentPhase() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase
}

func (t *TrafficLight) WaitForGreen(ctx context.Context) error {
	return t.WaitForPhase(ctx, PhaseGreen)
}

// WaitForPhase blocks until the timing loop switches to p. Phase changes
// published before the call are not replayed except the latest pending one.
func (t *TrafficLight) WaitForPhase(ctx context.Context, p Phase) error {
	for {
		got, err := t.mailbox.Receive(ctx)
		switch {
		case errors.Is(err, ErrMailboxClosed):
			return ErrStopped
		case err != nil:
			return err
		}
		if got == p {
			return nil
		}
	}
}

// Simulate starts the timing loop in the background. It runs until ctx is
// done or Stop is called. Either way the light is stopped afterwards and
// waiters get ErrStopped.
func (t *TrafficLight) Simulate(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	switch {
	case t.stopped:
		return ErrStopped
	case t.done != nil:
		return ErrAlreadyStarted
	}

	ctx, t.cancel = context.WithCancel(withLight(ctx, t))
	t.done = make(chan struct{})
	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.hooks.run(ctx, t.id)
	}()
	go func() {
		defer t.wg.Done()
		t.cycleThroughPhases(ctx)
	}()
	go func() {
		t.wg.Wait()
		t.teardown()
		close(t.done)
	}()
	return nil
}

// Stop ends the timing loop, waits for it, and releases every waiter with
// ErrStopped. It is safe to call more than once.
func (t *TrafficLight) Stop() error {
	t.runMu.Lock()
	cancel, done := t.cancel, t.done
	t.runMu.Unlock()

	if done == nil {
		t.teardown()
		return nil
	}
	cancel()
	<-done
	return nil
}

func (t *TrafficLight) teardown() {
	t.runMu.Lock()
	t.stopped = true
	t.runMu.Unlock()
	t.hooks.mailbox.Close()
	t.mailbox.Close()
}

func (t *TrafficLight) cycleThroughPhases(ctx context.Context) {
	logger := newLoggerFromContext(ctx)
	t.cycle.reset(time.Now())
	logger.Info("simulation started",
		"mode", t.Config.Cycle.Mode,
		"cycle_duration", t.cycle.duration,
	)
	defer logger.Info("simulation stopped")

	switch t.Config.Cycle.Mode {
	case ModeTimer:
		t.runTimer(ctx)
	default:
		t.runPoll(ctx)
	}
}

func (t *TrafficLight) runPoll(ctx context.Context) {
	ticker := time.NewTicker(t.Config.Cycle.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(time.Now())
		}
	}
}

func (t *TrafficLight) runTimer(ctx context.Context) {
	timer := time.NewTimer(t.cycle.remaining(time.Now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			now := time.Now()
			t.tick(now)
			timer.Reset(t.cycle.remaining(now))
		}
	}
}

// tick toggles the phase when the current cycle has expired at now, and
// reports the new phase.
func (t *TrafficLight) tick(now time.Time) (Phase, bool) {
	if !t.cycle.expired(now) {
		return "", false
	}
	t.mu.Lock()
	prev := t.phase
	t.phase = prev.Toggle()
	next := t.phase
	t.mu.Unlock()

	t.mailbox.Send(next)
	t.hooks.notify(next)
	t.cycle.reset(now)
	t.logger().Info("phase changed",
		"from", prev,
		"to", next,
		"next_cycle", t.cycle.duration,
	)
	return next, true
}
