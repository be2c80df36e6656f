// Package offline removes ads from a recorded file. The whole file is
// treated as one chunk and run through the same segmenting and classifier
// as a live session; segments judged to be ads are cut out.
package offline

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/classify"
)

// Options controls segmenting.
type Options struct {
	Segment time.Duration
	Tail    audio.TailPolicy
}

// Report summarises one filtering run.
type Report struct {
	Segments   int           `json:"segments"`
	AdsRemoved int           `json:"ads_removed"`
	Errors     int           `json:"classification_errors"`
	Input      time.Duration `json:"input"`
	Output     time.Duration `json:"output"`
	Dropped    time.Duration `json:"dropped_tail"`
}

// Filter reads inPath (WAV or MP3), removes ad segments and writes the rest
// to outPath as 16-bit PCM WAV.
func Filter(ctx context.Context, c classify.Classifier, inPath, outPath string, opts Options, log zerolog.Logger) (Report, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return Report{}, fmt.Errorf("offline: open input: %w", err)
	}
	defer in.Close()

	pcm, err := Decode(in)
	if err != nil {
		return Report{}, fmt.Errorf("offline: decode %q: %w", inPath, err)
	}

	kept, report, err := FilterPCM(ctx, c, pcm, opts, log)
	if err != nil {
		return report, err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return report, fmt.Errorf("offline: create output: %w", err)
	}
	w := bufio.NewWriter(out)
	if err := writeWAV(w, kept); err != nil {
		out.Close()
		return report, err
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return report, fmt.Errorf("offline: write output: %w", err)
	}
	if err := out.Close(); err != nil {
		return report, fmt.Errorf("offline: close output: %w", err)
	}

	log.Info().
		Str("input", inPath).
		Str("output", outPath).
		Int("segments", report.Segments).
		Int("ads_removed", report.AdsRemoved).
		Dur("kept", report.Output).
		Msg("Filtered recording")
	return report, nil
}

// Decode sniffs the stream and decodes WAV or MP3 into PCM.
func Decode(r io.Reader) (PCM, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return PCM{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if bytes.Equal(magic, []byte("RIFF")) {
		return readWAV(br)
	}
	return readMP3(br)
}

// FilterPCM classifies pcm segment by segment and returns the samples of
// every segment that is not an ad, in order. A classifier failure keeps the
// segment. Padded tail segments contribute only their real frames.
func FilterPCM(ctx context.Context, c classify.Classifier, pcm PCM, opts Options, log zerolog.Logger) (PCM, Report, error) {
	chunk := audio.Chunk{
		Samples:    pcm.Samples,
		SampleRate: pcm.SampleRate,
		Channels:   pcm.Channels,
		CapturedAt: time.Now(),
	}
	chunk.Duration = chunk.Length()

	report := Report{Input: chunk.Length()}
	if opts.Tail == audio.DropTail {
		report.Dropped = audio.Remainder(chunk, opts.Segment)
	}

	out := PCM{SampleRate: pcm.SampleRate, Channels: pcm.Channels}
	for _, seg := range audio.Split(chunk, opts.Segment, opts.Tail) {
		if err := ctx.Err(); err != nil {
			return PCM{}, report, err
		}
		report.Segments++

		v, err := c.Classify(ctx, seg)
		if err != nil {
			report.Errors++
			log.Warn().Err(err).Int("segment", seg.Index).Msg("Classification failed, keeping segment")
			v = audio.NotAd
		}
		if v == audio.Ad {
			report.AdsRemoved++
			log.Debug().Int("segment", seg.Index).Msg("Removing ad segment")
			continue
		}
		out.Samples = append(out.Samples, seg.Samples[:(seg.End-seg.Start)*seg.Channels]...)
	}

	report.Output = audio.Chunk{Samples: out.Samples, SampleRate: out.SampleRate, Channels: out.Channels}.Length()
	return out, report, nil
}
