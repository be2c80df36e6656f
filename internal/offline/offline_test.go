package offline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/classify"
	"github.com/rs/zerolog"
)

const rate = 100

// pcmOf returns mono audio where every sample of second i holds value i+1.
func pcmOf(seconds int, extraFrames int) PCM {
	p := PCM{SampleRate: rate, Channels: 1}
	for s := 0; s < seconds; s++ {
		for i := 0; i < rate; i++ {
			p.Samples = append(p.Samples, int16(s+1))
		}
	}
	for i := 0; i < extraFrames; i++ {
		p.Samples = append(p.Samples, int16(seconds+1))
	}
	return p
}

// adWhenValue flags segments whose first sample equals one of values.
func adWhenValue(values ...int16) classify.Classifier {
	return classify.Func(func(_ context.Context, seg audio.Segment) (audio.Verdict, error) {
		for _, v := range values {
			if seg.Samples[0] == v {
				return audio.Ad, nil
			}
		}
		return audio.NotAd, nil
	})
}

func TestWAVRoundTrip(t *testing.T) {
	in := PCM{Samples: []int16{1, -1, 32767, -32768, 0, 42}, SampleRate: 22050, Channels: 2}

	var buf bytes.Buffer
	if err := writeWAV(&buf, in); err != nil {
		t.Fatalf("writeWAV: %v", err)
	}
	if buf.Len() != 44+len(in.Samples)*2 {
		t.Fatalf("expected %d bytes, got %d", 44+len(in.Samples)*2, buf.Len())
	}

	out, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.SampleRate != in.SampleRate || out.Channels != in.Channels {
		t.Errorf("format mismatch: %+v", out)
	}
	for i := range in.Samples {
		if out.Samples[i] != in.Samples[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, in.Samples[i], out.Samples[i])
		}
	}
}

func TestReadWAVSkipsUnknownChunks(t *testing.T) {
	var buf bytes.Buffer
	_ = writeWAV(&buf, PCM{Samples: []int16{5, 6}, SampleRate: 8000, Channels: 1})
	raw := buf.Bytes()

	// insert a LIST chunk between fmt and data
	withList := append([]byte{}, raw[:36]...)
	withList = append(withList, 'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0)
	withList = append(withList, raw[36:]...)

	out, err := readWAV(bytes.NewReader(withList))
	if err != nil {
		t.Fatalf("readWAV: %v", err)
	}
	if len(out.Samples) != 2 || out.Samples[1] != 6 {
		t.Errorf("unexpected samples %v", out.Samples)
	}
}

func TestReadWAVRejectsNonPCM(t *testing.T) {
	var buf bytes.Buffer
	_ = writeWAV(&buf, PCM{Samples: []int16{1}, SampleRate: 8000, Channels: 1})
	raw := buf.Bytes()
	raw[20] = 3 // IEEE float

	if _, err := readWAV(bytes.NewReader(raw)); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

// TestReadWAVDataSizes covers data chunks whose header size is a streaming
// placeholder or disagrees with the bytes that follow.
func TestReadWAVDataSizes(t *testing.T) {
	in := PCM{Samples: make([]int16, 16000), SampleRate: 16000, Channels: 1}
	for i := range in.Samples {
		in.Samples[i] = int16(i)
	}

	tests := []struct {
		name string
		size uint32
		want int
	}{
		{"streamed", 0xFFFFFFFF, 16000},
		{"zero", 0, 16000},
		{"overlong", 1 << 30, 16000},
		{"short", 20, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := writeWAV(&buf, in); err != nil {
				t.Fatalf("writeWAV: %v", err)
			}
			raw := buf.Bytes()
			binary.LittleEndian.PutUint32(raw[40:44], tt.size)

			out, err := Decode(bytes.NewReader(raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(out.Samples) != tt.want {
				t.Fatalf("expected %d samples, got %d", tt.want, len(out.Samples))
			}
			if out.Samples[tt.want-1] != int16(tt.want-1) {
				t.Errorf("last sample: expected %d, got %d", tt.want-1, out.Samples[tt.want-1])
			}
		})
	}
}

func TestReadWAVRejectsHugeFmtChunk(t *testing.T) {
	var buf bytes.Buffer
	_ = writeWAV(&buf, PCM{Samples: []int16{1}, SampleRate: 8000, Channels: 1})
	raw := buf.Bytes()
	binary.LittleEndian.PutUint32(raw[16:20], 0xFFFFFFF0)

	if _, err := readWAV(bytes.NewReader(raw)); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestWAVDataSizeLimit(t *testing.T) {
	if size, err := wavDataSize(1000); err != nil || size != 2000 {
		t.Errorf("expected 2000, got %d %v", size, err)
	}
	if _, err := wavDataSize(maxWAVData/2 + 1); err == nil {
		t.Error("expected an error past the 4 GiB limit")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("no"))); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestFilterPCMRemovesAds(t *testing.T) {
	pcm := pcmOf(5, 0)
	out, report, err := FilterPCM(context.Background(), adWhenValue(2, 4), pcm, Options{Segment: time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatalf("FilterPCM: %v", err)
	}

	if report.Segments != 5 || report.AdsRemoved != 2 {
		t.Errorf("unexpected report %+v", report)
	}
	if report.Output != 3*time.Second || report.Input != 5*time.Second {
		t.Errorf("unexpected durations %+v", report)
	}
	var seconds []int16
	for i := 0; i < len(out.Samples); i += rate {
		seconds = append(seconds, out.Samples[i])
	}
	want := []int16{1, 3, 5}
	if len(seconds) != len(want) {
		t.Fatalf("expected seconds %v, got %v", want, seconds)
	}
	for i := range want {
		if seconds[i] != want[i] {
			t.Errorf("expected seconds %v, got %v", want, seconds)
			break
		}
	}
}

func TestFilterPCMTail(t *testing.T) {
	pcm := pcmOf(2, rate/2)

	_, report, _ := FilterPCM(context.Background(), adWhenValue(), pcm, Options{Segment: time.Second}, zerolog.Nop())
	if report.Segments != 2 || report.Dropped != 500*time.Millisecond {
		t.Errorf("drop tail: unexpected report %+v", report)
	}

	out, report, _ := FilterPCM(context.Background(), adWhenValue(), pcm, Options{Segment: time.Second, Tail: audio.PadTail}, zerolog.Nop())
	if report.Segments != 3 || report.Dropped != 0 {
		t.Errorf("pad tail: unexpected report %+v", report)
	}
	if len(out.Samples) != len(pcm.Samples) {
		t.Errorf("padding must not be written: expected %d samples, got %d", len(pcm.Samples), len(out.Samples))
	}
}

func TestFilterPCMFailsOpen(t *testing.T) {
	c := classify.Func(func(context.Context, audio.Segment) (audio.Verdict, error) {
		return audio.Ad, errors.New("model unavailable")
	})
	out, report, err := FilterPCM(context.Background(), c, pcmOf(3, 0), Options{Segment: time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatalf("FilterPCM: %v", err)
	}
	if report.Errors != 3 || report.AdsRemoved != 0 || len(out.Samples) != 3*rate {
		t.Errorf("expected every segment kept, got %+v with %d samples", report, len(out.Samples))
	}
}

func TestFilterPCMCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := FilterPCM(ctx, adWhenValue(), pcmOf(2, 0), Options{Segment: time.Second}, zerolog.Nop()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFilterFiles(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.wav")
	outPath := filepath.Join(dir, "out.wav")

	var buf bytes.Buffer
	if err := writeWAV(&buf, pcmOf(4, 0)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inPath, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := Filter(context.Background(), adWhenValue(1), inPath, outPath, Options{Segment: time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if report.AdsRemoved != 1 {
		t.Errorf("expected 1 ad removed, got %d", report.AdsRemoved)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	out, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode output: %v", err)
	}
	if len(out.Samples) != 3*rate || out.Samples[0] != 2 {
		t.Errorf("unexpected output: %d samples starting with %d", len(out.Samples), out.Samples[0])
	}
}

func TestFilterMissingInput(t *testing.T) {
	dir := t.TempDir()
	if _, err := Filter(context.Background(), adWhenValue(), filepath.Join(dir, "nope.wav"), filepath.Join(dir, "out.wav"), Options{Segment: time.Second}, zerolog.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
