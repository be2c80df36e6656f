package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrInputOverflow means the device buffer filled before it was read and
// samples were lost, typically because processing fell behind capture.
var ErrInputOverflow = errors.New("input overflowed, samples were lost")

// Verdict is the classification outcome for a segment or a whole chunk.
type Verdict int

const (
	NotAd Verdict = iota
	Ad
)

func (v Verdict) String() string {
	if v == Ad {
		return "ad"
	}
	return "content"
}

// Chunk is one fixed-duration block of captured audio. Samples are
// interleaved 16-bit PCM. A chunk must not be modified after it has been
// handed to the pipeline.
type Chunk struct {
	Seq        uint64
	Samples    []int16
	SampleRate int
	Channels   int
	Duration   time.Duration // nominal duration requested by the capture config
	CapturedAt time.Time
}

// Frames returns the number of sample frames (samples per channel).
func (c Chunk) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Length returns the effective duration of the samples held by the chunk.
func (c Chunk) Length() time.Duration {
	return framesToDuration(c.Frames(), c.SampleRate)
}

// Segment is a classifier-sized slice of exactly one chunk. Start and End
// are frame offsets into the chunk, End exclusive.
type Segment struct {
	ChunkSeq   uint64
	Index      int
	Start      int
	End        int
	Samples    []int16
	SampleRate int
	Channels   int
	Padded     bool // tail segment zero-filled up to the nominal length
}

// Frames returns the number of sample frames held by the segment.
func (s Segment) Frames() int {
	if s.Channels <= 0 {
		return 0
	}
	return len(s.Samples) / s.Channels
}

// Duration returns the effective duration of the segment's samples.
func (s Segment) Duration() time.Duration {
	return framesToDuration(s.Frames(), s.SampleRate)
}

func (s Segment) String() string {
	return fmt.Sprintf("chunk %d segment %d [%d,%d)", s.ChunkSeq, s.Index, s.Start, s.End)
}

// DeviceError reports a fatal failure of the input device.
type DeviceError struct {
	Op  string // "open", "read", "overflow", "push"
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

func framesToDuration(frames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(sampleRate))
}

// DurationToFrames converts d to a frame count at sampleRate, rounding to
// the nearest frame.
func DurationToFrames(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int((int64(d)*int64(sampleRate) + int64(time.Second)/2) / int64(time.Second))
}
