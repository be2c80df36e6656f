package audio

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Capturer turns a stream of device reads into fixed-duration chunks.
// One Capturer serves one listening session; sequence numbers start at 0.
type Capturer struct {
	cfg DeviceConfig
	log zerolog.Logger

	// OnChunk, when set, is called after each chunk has been pushed.
	OnChunk func(Chunk)

	seq uint64
}

func NewCapturer(cfg DeviceConfig, log zerolog.Logger) *Capturer {
	return &Capturer{
		cfg: cfg,
		log: log.With().Str("component", "capture").Logger(),
	}
}

// Run reads from dev until stopped reports true, pushing one chunk per
// ChunkDuration into sink. The stop flag is checked between chunks, never
// mid-read. Frames read past a chunk boundary start the next chunk.
//
// On return the device is closed and sink is closed, whatever the cause.
// A read or push failure is returned as a *DeviceError.
func (c *Capturer) Run(dev Device, sink Sink, stopped func() bool) error {
	defer sink.Close()
	defer func() {
		if err := dev.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to close input device")
		}
	}()

	want := c.cfg.ChunkFrames() * c.cfg.Channels
	if want <= 0 {
		return &DeviceError{Op: "read", Err: errors.New("chunk holds no samples")}
	}

	c.log.Info().
		Int("sample_rate", c.cfg.SampleRate).
		Int("channels", c.cfg.Channels).
		Dur("chunk", c.cfg.ChunkDuration).
		Msg("Capture started")

	var carry []int16
	for {
		if stopped() {
			c.log.Info().Uint64("chunks", c.seq).Msg("Capture stopped")
			return nil
		}

		buf := make([]int16, 0, want+c.cfg.FrameSize*c.cfg.Channels)
		buf = append(buf, carry...)
		carry = nil
		for len(buf) < want {
			block, err := dev.Read()
			if errors.Is(err, ErrInputOverflow) {
				c.log.Error().Err(err).Uint64("seq", c.seq).Msg("Input overflowed, processing is falling behind capture")
				return &DeviceError{Op: "overflow", Err: err}
			}
			if err != nil {
				c.log.Error().Err(err).Uint64("seq", c.seq).Msg("Device read failed")
				return &DeviceError{Op: "read", Err: err}
			}
			buf = append(buf, block...)
		}
		if len(buf) > want {
			carry = append(carry, buf[want:]...)
			buf = buf[:want:want]
		}

		chunk := Chunk{
			Seq:        c.seq,
			Samples:    buf,
			SampleRate: c.cfg.SampleRate,
			Channels:   c.cfg.Channels,
			Duration:   c.cfg.ChunkDuration,
			CapturedAt: time.Now(),
		}
		if err := sink.Push(chunk); err != nil {
			c.log.Error().Err(err).Uint64("seq", chunk.Seq).Msg("Failed to enqueue chunk")
			return &DeviceError{Op: "push", Err: err}
		}
		c.seq++

		c.log.Debug().Uint64("seq", chunk.Seq).Int("samples", len(chunk.Samples)).Msg("Chunk captured")
		if c.OnChunk != nil {
			c.OnChunk(chunk)
		}
	}
}
