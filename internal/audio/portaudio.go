package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/admute/internal/config"
)

type portAudioSource struct{}

// New creates a new PortAudio-based audio source
func New(cfg config.AudioConfig) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioSource{}, nil
}

func (p *portAudioSource) Open(cfg DeviceConfig) (Device, error) {
	device, err := findDevice(cfg.DeviceID)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}

	if cfg.Channels > device.MaxInputChannels {
		return nil, &DeviceError{
			Op:  "open",
			Err: fmt.Errorf("device %q supports %d input channels, %d requested", device.Name, device.MaxInputChannels, cfg.Channels),
		}
	}

	// Blocking stream: interleaved int16, FrameSize frames per read
	buffer := make([]int16, cfg.FrameSize*cfg.Channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultHighInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FrameSize,
	}, buffer)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: fmt.Errorf("failed to open audio stream: %w", err)}
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &DeviceError{Op: "open", Err: fmt.Errorf("failed to start audio stream: %w", err)}
	}

	return &portAudioDevice{stream: stream, buffer: buffer}, nil
}

func findDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", deviceID)
}

func (p *portAudioSource) ListDevices() ([]AudioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *portAudioSource) Close() error {
	return portaudio.Terminate()
}

type portAudioDevice struct {
	stream    *portaudio.Stream
	buffer    []int16
	closeOnce sync.Once
	closeErr  error
}

func (d *portAudioDevice) Read() ([]int16, error) {
	if err := d.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("%w: %v", ErrInputOverflow, err)
		}
		return nil, fmt.Errorf("read frames: %w", err)
	}
	samples := make([]int16, len(d.buffer))
	copy(samples, d.buffer)
	return samples, nil
}

// Close stops and releases the stream. Safe to call more than once.
func (d *portAudioDevice) Close() error {
	d.closeOnce.Do(func() {
		if err := d.stream.Stop(); err != nil {
			d.closeErr = err
		}
		if err := d.stream.Close(); err != nil && d.closeErr == nil {
			d.closeErr = err
		}
	})
	return d.closeErr
}
