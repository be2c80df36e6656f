package audio

import (
	"time"

	"github.com/petems/admute/internal/config"
)

// Source opens input devices and enumerates them
type Source interface {
	Open(cfg DeviceConfig) (Device, error)
	ListDevices() ([]AudioDevice, error)
	Close() error
}

// Device is an opened input device in blocking-read mode
type Device interface {
	// Read blocks until one buffer of FrameSize frames is available and
	// returns a copy of it as interleaved samples.
	Read() ([]int16, error)
	Close() error
}

// Sink receives captured chunks in capture order. Push may block.
type Sink interface {
	Push(c Chunk) error
	Close()
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// DeviceConfig is fixed for the lifetime of a listening session.
type DeviceConfig struct {
	DeviceID      string
	SampleRate    int
	Channels      int
	FrameSize     int
	ChunkDuration time.Duration
}

// ChunkFrames is the number of frames that make up one chunk.
func (d DeviceConfig) ChunkFrames() int {
	return DurationToFrames(d.ChunkDuration, d.SampleRate)
}

// NewDeviceConfig maps the audio section of the config file.
func NewDeviceConfig(cfg config.AudioConfig) DeviceConfig {
	return DeviceConfig{
		DeviceID:      cfg.DeviceID,
		SampleRate:    cfg.SampleRate,
		Channels:      cfg.Channels,
		FrameSize:     cfg.FrameSize,
		ChunkDuration: cfg.ChunkDuration,
	}
}
