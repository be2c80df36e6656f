// Package volume mutes and restores the system audio output. Each platform
// maps an instruction to exactly one external command, run with a bounded
// timeout. Controllers remember the last instruction that succeeded and skip
// repeats, so Mute and Unmute are idempotent.
package volume

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/petems/admute/internal/config"
	"github.com/rs/zerolog"
)

// MuteState is the last instruction the controller applied successfully.
type MuteState int

const (
	Unknown MuteState = iota
	Unmuted
	Muted
)

func (s MuteState) String() string {
	switch s {
	case Muted:
		return "muted"
	case Unmuted:
		return "unmuted"
	default:
		return "unknown"
	}
}

// Controller mutes and unmutes the system output.
type Controller interface {
	Mute() error
	Unmute() error
	State() MuteState
}

// ErrUnsupported is returned by New on platforms without a mute command.
var ErrUnsupported = errors.New("volume: system mute not supported on this platform")

// ErrTimeout wraps an instruction that did not complete within the timeout.
var ErrTimeout = errors.New("volume: command timed out")

// runner executes one command. It must honour ctx.
type runner func(ctx context.Context, name string, args ...string) error

type commandSet struct {
	mute   []string
	unmute []string
}

type systemController struct {
	cmds    commandSet
	timeout time.Duration
	run     runner
	log     zerolog.Logger

	mu    sync.Mutex
	state MuteState
}

// New returns the controller selected by cfg.Backend.
func New(cfg config.VolumeConfig, log zerolog.Logger) (Controller, error) {
	log = log.With().Str("component", "volume").Logger()

	if cfg.Backend == config.VolumeBackendNone {
		log.Info().Msg("Volume control disabled, mute decisions are only logged")
		return NewNop(), nil
	}

	cmds, err := platformCommands(cfg)
	if err != nil {
		return nil, err
	}
	return newSystemController(cmds, cfg.Timeout, runCommand, log), nil
}

func newSystemController(cmds commandSet, timeout time.Duration, run runner, log zerolog.Logger) *systemController {
	return &systemController{
		cmds:    cmds,
		timeout: timeout,
		run:     run,
		log:     log,
	}
}

func (c *systemController) Mute() error {
	return c.apply(Muted, c.cmds.mute)
}

func (c *systemController) Unmute() error {
	return c.apply(Unmuted, c.cmds.unmute)
}

func (c *systemController) State() MuteState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *systemController) apply(target MuteState, argv []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == target {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	err := c.run(ctx, argv[0], argv[1:]...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %s: %v", ErrTimeout, c.timeout, strings.Join(argv, " "), err)
		} else {
			err = fmt.Errorf("volume: %s: %w", strings.Join(argv, " "), err)
		}
		c.log.Error().Err(err).Str("target", target.String()).Msg("Volume command failed")
		return err
	}

	c.log.Debug().
		Str("state", target.String()).
		Dur("took", time.Since(start)).
		Msg("Volume command applied")
	c.state = target
	return nil
}

// runCommand runs name with args and folds its output into the error.
func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	// Bound Wait even if a grandchild keeps the output pipe open
	cmd.WaitDelay = 500 * time.Millisecond

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// Nop tracks mute state without touching the system.
type Nop struct {
	mu    sync.Mutex
	state MuteState
}

func NewNop() *Nop {
	return &Nop{}
}

func (n *Nop) Mute() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = Muted
	return nil
}

func (n *Nop) Unmute() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = Unmuted
	return nil
}

func (n *Nop) State() MuteState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}
