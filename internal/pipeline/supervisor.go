// Package pipeline runs a listening session: a capture stage that records
// fixed-duration chunks into a bounded channel, and a processing stage that
// classifies them in order and mutes or unmutes the system output.
//
// A [Supervisor] owns one session at a time. Status is published on the
// channel returned by [Supervisor.Events]; slow readers lose events rather
// than stall the pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/classify"
	"github.com/petems/admute/internal/config"
	"github.com/petems/admute/internal/observe"
	"github.com/petems/admute/internal/volume"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidTransition is returned by Start while a session is running
	// or stopping.
	ErrInvalidTransition = errors.New("pipeline: invalid state transition")

	// ErrNotRunning is returned by Stop when there is no session to stop.
	ErrNotRunning = errors.New("pipeline: not running")
)

// State is the lifecycle state of the supervisor.
type State int

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options wires a Supervisor to its collaborators.
type Options struct {
	Source     audio.Source
	Device     audio.DeviceConfig
	Classifier classify.Classifier
	Volume     volume.Controller

	Pipeline        config.PipelineConfig
	ClassifyTimeout time.Duration

	Logger  zerolog.Logger
	Metrics *observe.Metrics
}

// Supervisor starts and stops listening sessions.
type Supervisor struct {
	opts    Options
	log     zerolog.Logger
	metrics *observe.Metrics
	events  *emitter

	mu      sync.Mutex
	state   State
	session string
	stop    *atomic.Bool
	done    chan struct{}
	err     error
}

func New(opts Options) *Supervisor {
	if opts.Metrics == nil {
		opts.Metrics = observe.NopMetrics()
	}
	if opts.Volume == nil {
		opts.Volume = volume.NewNop()
	}
	size := opts.Pipeline.EventBuffer
	if size <= 0 {
		size = 64
	}
	log := opts.Logger.With().Str("component", "supervisor").Logger()

	done := make(chan struct{})
	close(done)
	return &Supervisor{
		opts:    opts,
		log:     log,
		metrics: opts.Metrics,
		events:  newEmitter(size, log, opts.Metrics),
		state:   Idle,
		done:    done,
	}
}

// Start opens the input device and launches the capture and processing
// stages. The device is opened before any stage starts, so an open failure
// leaves the supervisor in its previous state.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running || s.state == Stopping {
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, s.state)
	}

	dev, err := s.opts.Source.Open(s.opts.Device)
	if err != nil {
		s.log.Error().Err(err).Str("device", s.opts.Device.DeviceID).Msg("Failed to open input device")
		return fmt.Errorf("pipeline: open device: %w", err)
	}

	session := uuid.NewString()
	stop := &atomic.Bool{}
	done := make(chan struct{})
	emit := func(ev Event) {
		ev.Session = session
		s.events.emit(ev)
	}

	tail := audio.DropTail
	if s.opts.Pipeline.PadTail {
		tail = audio.PadTail
	}

	ch := NewChannel(s.opts.Pipeline.QueueSize, s.opts.Pipeline.PushTimeout, s.metrics)
	capturer := audio.NewCapturer(s.opts.Device, s.opts.Logger)
	capturer.OnChunk = func(audio.Chunk) {
		s.metrics.ChunksCaptured.Add(context.Background(), 1)
	}
	processor := NewProcessor(ProcessorConfig{
		Segment:         s.opts.Pipeline.SegmentDuration,
		Tail:            tail,
		ClassifyTimeout: s.opts.ClassifyTimeout,
		PollInterval:    s.opts.Pipeline.PollInterval,
		Session:         session,
	}, s.opts.Classifier, s.opts.Volume, s.opts.Logger, s.metrics, emit)

	s.session = session
	s.stop = stop
	s.done = done
	s.err = nil
	s.state = Running
	emit(Event{Kind: SessionStarted})
	s.log.Info().Str("session", session).Msg("Listening session started")

	var g errgroup.Group
	g.Go(func() error {
		if err := capturer.Run(dev, ch, stop.Load); err != nil {
			stop.Store(true)
			s.mu.Lock()
			if s.state == Running {
				s.state = Stopping
			}
			s.mu.Unlock()
			emit(Event{Kind: DeviceError, Message: err.Error()})
			return err
		}
		return nil
	})
	g.Go(func() error {
		processor.Run(ch)
		return nil
	})

	go func() {
		err := g.Wait()

		s.mu.Lock()
		s.err = err
		s.state = Stopped
		s.mu.Unlock()

		ev := Event{Kind: Stopped}
		if err != nil {
			ev.Message = err.Error()
			s.log.Error().Err(err).Str("session", session).Msg("Listening session ended with error")
		} else {
			s.log.Info().Str("session", session).Msg("Listening session stopped")
		}
		emit(ev)
		close(done)
	}()

	return nil
}

// Stop asks the running session to finish and waits until both stages
// have exited. Chunks already queued are processed first. Returns the
// error that ended the session, if any. Calling Stop with no session
// running returns ErrNotRunning and has no other effect.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	switch s.state {
	case Running:
		s.state = Stopping
		s.stop.Store(true)
		s.log.Info().Str("session", s.session).Msg("Stop requested")
	case Stopping:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotRunning, state)
	}
	done := s.done
	s.mu.Unlock()

	<-done
	return s.Err()
}

// SetDevice replaces the input device settings used by the next Start.
func (s *Supervisor) SetDevice(dev audio.DeviceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running || s.state == Stopping {
		return fmt.Errorf("%w: change device while %s", ErrInvalidTransition, s.state)
	}
	s.opts.Device = dev
	return nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the id of the current or most recent session, or ""
// before the first Start.
func (s *Supervisor) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Err returns the error that ended the most recent session.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the current session has fully stopped. Before the
// first Start it is already closed.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Events returns the status event stream. The channel is shared by all
// sessions and never closed.
func (s *Supervisor) Events() <-chan Event {
	return s.events.ch
}
