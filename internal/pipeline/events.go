package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/observe"
	"github.com/petems/admute/internal/volume"
	"github.com/rs/zerolog"
)

// EventKind identifies a status notification.
type EventKind int

const (
	SessionStarted EventKind = iota
	ChunkProcessed
	MuteStateChanged
	ClassificationError
	VolumeError
	DeviceError
	Stopped
)

var eventKindNames = map[EventKind]string{
	SessionStarted:      "session_started",
	ChunkProcessed:      "chunk_processed",
	MuteStateChanged:    "mute_state_changed",
	ClassificationError: "classification_error",
	VolumeError:         "volume_error",
	DeviceError:         "device_error",
	Stopped:             "stopped",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is a status notification for front-ends. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind    EventKind
	Session string
	Time    time.Time

	Seq     uint64           // ChunkProcessed, ClassificationError, VolumeError
	Verdict audio.Verdict    // ChunkProcessed
	State   volume.MuteState // MuteStateChanged
	Message string           // errors, and Stopped after a failure
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind    string    `json:"kind"`
		Session string    `json:"session"`
		Time    time.Time `json:"time"`
		Seq     *uint64   `json:"seq,omitempty"`
		Verdict string    `json:"verdict,omitempty"`
		State   string    `json:"state,omitempty"`
		Message string    `json:"message,omitempty"`
	}{
		Kind:    e.Kind.String(),
		Session: e.Session,
		Time:    e.Time,
		Message: e.Message,
	}

	switch e.Kind {
	case ChunkProcessed:
		seq := e.Seq
		out.Seq = &seq
		out.Verdict = e.Verdict.String()
	case ClassificationError, VolumeError:
		seq := e.Seq
		out.Seq = &seq
	case MuteStateChanged:
		out.State = e.State.String()
	}
	return json.Marshal(out)
}

// emitter delivers events without ever blocking the pipeline. An event that
// finds the buffer full is dropped and counted.
type emitter struct {
	ch      chan Event
	log     zerolog.Logger
	metrics *observe.Metrics
}

func newEmitter(size int, log zerolog.Logger, metrics *observe.Metrics) *emitter {
	return &emitter{
		ch:      make(chan Event, size),
		log:     log,
		metrics: metrics,
	}
}

func (e *emitter) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case e.ch <- ev:
	default:
		e.metrics.EventsDropped.Add(context.Background(), 1)
		e.log.Warn().Str("event", ev.Kind.String()).Msg("Event buffer full, dropping event")
	}
}
