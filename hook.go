package trafficlight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/Songmu/wrapcommander"
	"github.com/mattn/go-shellwords"
)

// Hook runs a command when the light changes to a phase.
type Hook struct {
	name     string
	on       Phase // empty matches every phase
	commands []string
	timeout  time.Duration
}

func NewHook(cfg *HookConfig) (*Hook, error) {
	cmds, err := shellwords.Parse(cfg.Run)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %s %w", cfg.Run, err)
	}
	h := &Hook{
		name:     cfg.Name,
		commands: cmds,
		timeout:  cfg.Timeout,
	}
	if h.timeout <= 0 {
		h.timeout = DefaultHookTimeout
	}
	if cfg.On != "" {
		if h.on, err = ParsePhase(cfg.On); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hook) Name() string {
	return h.name
}

func (h *Hook) Match(p Phase) bool {
	return h.on == "" || h.on == p
}

func (h *Hook) Run(ctx context.Context, name string, p Phase) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	logger := newLoggerFromContext(ctx).With(
		"name", h.name,
		"module", "hook",
		"commands", fmt.Sprintf("%v", h.commands),
	)
	logger.Debug("executing hook")
	var cmd *exec.Cmd
	switch len(h.commands) {
	case 0:
		return errors.New("no command")
	case 1:
		cmd = exec.CommandContext(ctx, h.commands[0])
	default:
		cmd = exec.CommandContext(ctx, h.commands[0], h.commands[1:]...)
	}
	cmd.Env = append(cmd.Env, os.Environ()...)
	cmd.Env = append(cmd.Env,
		"TRAFFICLIGHT_NAME="+name,
		"TRAFFICLIGHT_PHASE="+p.String(),
	)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 3 * time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		logger.Warn("hook failed",
			slog.Int("exit_code", wrapcommander.ResolveExitCode(err)),
			slog.String("output", string(out)),
			slog.String("error", err.Error()),
		)
		return err
	}
	logger.Debug("hook succeeded",
		slog.Int("exit_code", wrapcommander.ResolveExitCode(err)),
		slog.String("output", string(out)),
	)
	return nil
}

// hookRunner delivers phase changes to hooks off the timing loop. Only the
// latest phase is kept while a hook is still running.
type hookRunner struct {
	hooks   []*Hook
	mailbox *Mailbox[Phase]
}

func newHookRunner(cfgs []*HookConfig) (*hookRunner, error) {
	r := &hookRunner{mailbox: NewMailbox[Phase]()}
	for _, c := range cfgs {
		h, err := NewHook(c)
		if err != nil {
			return nil, err
		}
		r.hooks = append(r.hooks, h)
	}
	return r, nil
}

func (r *hookRunner) notify(p Phase) {
	if len(r.hooks) == 0 {
		return
	}
	r.mailbox.Send(p)
}

func (r *hookRunner) run(ctx context.Context, name string) {
	for {
		p, err := r.mailbox.Receive(ctx)
		if err != nil || ctx.Err() != nil {
			return
		}
		for _, h := range r.hooks {
			if !h.Match(p) {
				continue
			}
			// failures are logged by Run and never stop the light
			_ = h.Run(ctx, name, p)
		}
	}
}
