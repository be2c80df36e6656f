package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/classify"
	"github.com/petems/admute/internal/config"
	"github.com/petems/admute/internal/observe"
	"github.com/petems/admute/internal/pipeline"
	"github.com/petems/admute/internal/volume"
	"github.com/rs/zerolog"
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetListening()
	SetMuted()
	SetError()
}

// EventSink receives every pipeline event, e.g. the control server's
// websocket hub.
type EventSink interface {
	Publish(ev pipeline.Event)
}

type Config struct {
	Source     audio.Source
	Classifier classify.Classifier
	Volume     volume.Controller
	Config     *config.Config
	ConfigPath string // where SetDevice persists the config; empty = default path
	Logger     zerolog.Logger
	Metrics    *observe.Metrics

	StatusUpdater StatusUpdater // Optional - can be nil
}

// Status is a snapshot of the listening state for front-ends.
type Status struct {
	State     string `json:"state"`
	Session   string `json:"session,omitempty"`
	Device    string `json:"device"`
	MuteState string `json:"mute_state"`
	Chunks    uint64 `json:"chunks_processed"`
	AdChunks  uint64 `json:"ad_chunks"`
	LastError string `json:"last_error,omitempty"`
	Listening bool   `json:"listening"`
}

type App struct {
	source audio.Source
	volume volume.Controller
	cfg    *config.Config
	path   string
	log    zerolog.Logger
	sup    *pipeline.Supervisor

	mu        sync.Mutex
	status    StatusUpdater
	sinks     []EventSink
	chunks    uint64
	adChunks  uint64
	lastError string

	done      chan struct{}
	forwarded chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *App {
	if cfg.Volume == nil {
		cfg.Volume = volume.NewNop()
	}
	a := &App{
		source:    cfg.Source,
		volume:    cfg.Volume,
		cfg:       cfg.Config,
		path:      cfg.ConfigPath,
		log:       cfg.Logger,
		status:    cfg.StatusUpdater,
		done:      make(chan struct{}),
		forwarded: make(chan struct{}),
	}
	a.sup = pipeline.New(pipeline.Options{
		Source:          cfg.Source,
		Device:          audio.NewDeviceConfig(cfg.Config.Audio),
		Classifier:      cfg.Classifier,
		Volume:          cfg.Volume,
		Pipeline:        cfg.Config.Pipeline,
		ClassifyTimeout: cfg.Config.Classifier.Timeout,
		Logger:          cfg.Logger,
		Metrics:         cfg.Metrics,
	})
	go a.forward()
	return a
}

// SetStatusUpdater attaches the tray once it exists (for circular
// dependency resolution).
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

// AddSink registers a receiver for pipeline events.
func (a *App) AddSink(s EventSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, s)
}

// forward fans supervisor events out to the status updater and the sinks
// until Shutdown.
func (a *App) forward() {
	defer close(a.forwarded)
	for {
		select {
		case <-a.done:
			for {
				select {
				case ev := <-a.sup.Events():
					a.handleEvent(ev)
				default:
					return
				}
			}
		case ev := <-a.sup.Events():
			a.handleEvent(ev)
		}
	}
}

func (a *App) handleEvent(ev pipeline.Event) {
	a.mu.Lock()
	status := a.status
	sinks := append([]EventSink(nil), a.sinks...)

	switch ev.Kind {
	case pipeline.SessionStarted:
		a.lastError = ""
	case pipeline.ChunkProcessed:
		a.chunks++
		if ev.Verdict == audio.Ad {
			a.adChunks++
		}
	case pipeline.ClassificationError, pipeline.VolumeError, pipeline.DeviceError:
		a.lastError = ev.Message
	case pipeline.Stopped:
		if ev.Message != "" {
			a.lastError = ev.Message
		}
	}
	a.mu.Unlock()

	a.log.Debug().
		Str("event", ev.Kind.String()).
		Str("session", ev.Session).
		Uint64("seq", ev.Seq).
		Msg("Pipeline event")

	if status != nil {
		switch ev.Kind {
		case pipeline.SessionStarted:
			status.SetListening()
		case pipeline.MuteStateChanged:
			if ev.State == volume.Muted {
				status.SetMuted()
			} else {
				status.SetListening()
			}
		case pipeline.DeviceError:
			status.SetError()
		case pipeline.Stopped:
			if ev.Message != "" {
				status.SetError()
			} else {
				status.SetIdle()
			}
		}
	}

	for _, s := range sinks {
		s.Publish(ev)
	}

	// covers sessions that end on a device failure
	if ev.Kind == pipeline.Stopped {
		a.restoreOutput()
	}
}

// StartListening begins a listening session.
func (a *App) StartListening() error {
	if err := a.sup.Start(); err != nil {
		if !errors.Is(err, pipeline.ErrInvalidTransition) {
			a.setError(err)
		}
		return err
	}
	a.log.Info().Str("session", a.sup.SessionID()).Msg("Listening")
	return nil
}

// StopListening ends the session, processing whatever was already
// captured, and leaves the output unmuted.
func (a *App) StopListening() error {
	err := a.sup.Stop()
	if errors.Is(err, pipeline.ErrNotRunning) {
		return err
	}
	a.restoreOutput()
	return err
}

// Toggle starts listening when idle and stops it otherwise.
func (a *App) Toggle() error {
	if a.IsListening() {
		return a.StopListening()
	}
	return a.StartListening()
}

// restoreOutput unmutes after a session; the processor is the only writer
// while one runs.
func (a *App) restoreOutput() {
	if a.sup.State() == pipeline.Running || a.volume.State() != volume.Muted {
		return
	}
	if err := a.volume.Unmute(); err != nil {
		a.log.Error().Err(err).Msg("Failed to restore output after stop")
		return
	}
	a.log.Info().Msg("Output restored after stop")
}

func (a *App) setError(err error) {
	a.mu.Lock()
	a.lastError = err.Error()
	status := a.status
	a.mu.Unlock()
	if status != nil {
		status.SetError()
	}
}

func (a *App) IsListening() bool {
	return a.sup.State() == pipeline.Running
}

func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.sup.State()
	return Status{
		State:     state.String(),
		Session:   a.sup.SessionID(),
		Device:    a.cfg.Audio.DeviceID,
		MuteState: a.volume.State().String(),
		Chunks:    a.chunks,
		AdChunks:  a.adChunks,
		LastError: a.lastError,
		Listening: state == pipeline.Running,
	}
}

func (a *App) ListDevices() ([]audio.AudioDevice, error) {
	return a.source.ListDevices()
}

// SetDevice selects the input device for the next session and persists the
// choice.
func (a *App) SetDevice(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	audioCfg := a.cfg.Audio
	audioCfg.DeviceID = id
	if err := a.sup.SetDevice(audio.NewDeviceConfig(audioCfg)); err != nil {
		return fmt.Errorf("cannot change device while listening: %w", err)
	}

	a.cfg.Audio.DeviceID = id
	a.log.Info().Str("device", id).Msg("Changed audio device")
	if a.path != "" {
		return a.cfg.SaveTo(a.path)
	}
	return a.cfg.Save()
}

// Shutdown stops a running session and the event fan-out. A session that
// does not drain before ctx ends is left to finish on its own.
func (a *App) Shutdown(ctx context.Context) error {
	stopped := make(chan error, 1)
	go func() {
		err := a.StopListening()
		if errors.Is(err, pipeline.ErrNotRunning) {
			err = nil
		}
		stopped <- err
	}()

	var err error
	select {
	case err = <-stopped:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown: %w", ctx.Err())
	}

	a.closeOnce.Do(func() { close(a.done) })
	<-a.forwarded
	return err
}
