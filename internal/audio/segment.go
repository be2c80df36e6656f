package audio

import "time"

// TailPolicy decides what happens to the part of a chunk left over after
// the last full segment.
type TailPolicy int

const (
	// DropTail discards a tail shorter than the segment length.
	DropTail TailPolicy = iota
	// PadTail zero-fills a non-empty tail up to the segment length.
	PadTail
)

// Split partitions a chunk into consecutive segments of length segLen.
// Full segments share the chunk's backing array. The remainder, if any, is
// dropped or padded according to tail. A non-positive segLen yields no
// segments.
func Split(c Chunk, segLen time.Duration, tail TailPolicy) []Segment {
	segFrames := DurationToFrames(segLen, c.SampleRate)
	total := c.Frames()
	if segFrames <= 0 || c.Channels <= 0 || total == 0 {
		return nil
	}

	full := total / segFrames
	segments := make([]Segment, 0, full+1)
	for i := 0; i < full; i++ {
		start := i * segFrames
		end := start + segFrames
		segments = append(segments, Segment{
			ChunkSeq:   c.Seq,
			Index:      i,
			Start:      start,
			End:        end,
			Samples:    c.Samples[start*c.Channels : end*c.Channels],
			SampleRate: c.SampleRate,
			Channels:   c.Channels,
		})
	}

	rem := total - full*segFrames
	if rem > 0 && tail == PadTail {
		start := full * segFrames
		padded := make([]int16, segFrames*c.Channels)
		copy(padded, c.Samples[start*c.Channels:])
		segments = append(segments, Segment{
			ChunkSeq:   c.Seq,
			Index:      full,
			Start:      start,
			End:        total,
			Samples:    padded,
			SampleRate: c.SampleRate,
			Channels:   c.Channels,
			Padded:     true,
		})
	}

	return segments
}

// Remainder returns the duration of the tail that Split drops under
// DropTail.
func Remainder(c Chunk, segLen time.Duration) time.Duration {
	segFrames := DurationToFrames(segLen, c.SampleRate)
	if segFrames <= 0 {
		return c.Length()
	}
	return framesToDuration(c.Frames()%segFrames, c.SampleRate)
}
