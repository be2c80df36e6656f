package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/classify"
	"github.com/petems/admute/internal/observe"
	"github.com/petems/admute/internal/volume"
	"github.com/rs/zerolog"
)

const testRate = 10 // samples per second, keeps chunks tiny

// recordingVolume records every instruction it receives.
type recordingVolume struct {
	mu    sync.Mutex
	calls []string
	state volume.MuteState
	err   error
}

func (r *recordingVolume) Mute() error   { return r.do("mute", volume.Muted) }
func (r *recordingVolume) Unmute() error { return r.do("unmute", volume.Unmuted) }

func (r *recordingVolume) do(name string, target volume.MuteState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	if r.err != nil {
		return r.err
	}
	r.state = target
	return nil
}

func (r *recordingVolume) State() volume.MuteState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *recordingVolume) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// eventLog collects emitted events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []EventKind
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, k := range l.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func testChunk(seq uint64, seconds int) audio.Chunk {
	return audio.Chunk{
		Seq:        seq,
		Samples:    make([]int16, seconds*testRate),
		SampleRate: testRate,
		Channels:   1,
		Duration:   time.Duration(seconds) * time.Second,
	}
}

func adOnChunks(seqs ...uint64) classify.Classifier {
	return classify.Func(func(_ context.Context, seg audio.Segment) (audio.Verdict, error) {
		for _, s := range seqs {
			if seg.ChunkSeq == s {
				return audio.Ad, nil
			}
		}
		return audio.NotAd, nil
	})
}

func newTestProcessor(c classify.Classifier, v volume.Controller, log *eventLog) *Processor {
	return NewProcessor(ProcessorConfig{
		Segment:      time.Second,
		PollInterval: 10 * time.Millisecond,
		Session:      "test",
	}, c, v, zerolog.Nop(), observe.NopMetrics(), log.emit)
}

func TestProcessorOneInstructionPerChunkInOrder(t *testing.T) {
	vol := &recordingVolume{}
	events := &eventLog{}
	p := newTestProcessor(adOnChunks(2), vol, events)

	ch := NewChannel(8, 0, observe.NopMetrics())
	for i := uint64(0); i < 5; i++ {
		if err := ch.Push(testChunk(i, 1)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	ch.Close()
	p.Run(ch)

	want := []string{"unmute", "unmute", "mute", "unmute", "unmute"}
	if got := vol.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected calls %v, got %v", want, got)
	}

	var seqs []uint64
	var verdicts []audio.Verdict
	for _, ev := range events.events {
		if ev.Kind == ChunkProcessed {
			seqs = append(seqs, ev.Seq)
			verdicts = append(verdicts, ev.Verdict)
		}
	}
	if !reflect.DeepEqual(seqs, []uint64{0, 1, 2, 3, 4}) {
		t.Errorf("chunks processed out of order: %v", seqs)
	}
	if verdicts[2] != audio.Ad || verdicts[3] != audio.NotAd {
		t.Errorf("unexpected verdicts %v", verdicts)
	}
	// unmuted, muted, unmuted
	if n := events.count(MuteStateChanged); n != 3 {
		t.Errorf("expected 3 mute state changes, got %d", n)
	}
}

func TestProcessorShortCircuitsOnAd(t *testing.T) {
	var calls []int
	c := classify.Func(func(_ context.Context, seg audio.Segment) (audio.Verdict, error) {
		calls = append(calls, seg.Index)
		if seg.Index == 1 {
			return audio.Ad, nil
		}
		return audio.NotAd, nil
	})
	vol := &recordingVolume{}
	p := newTestProcessor(c, vol, &eventLog{})

	if v := p.Process(testChunk(0, 4)); v != audio.Ad {
		t.Fatalf("expected ad, got %s", v)
	}
	if !reflect.DeepEqual(calls, []int{0, 1}) {
		t.Errorf("expected segments 0 and 1 classified, got %v", calls)
	}
	if got := vol.Calls(); !reflect.DeepEqual(got, []string{"mute"}) {
		t.Errorf("expected a single mute, got %v", got)
	}
}

func TestProcessorSingleSegmentChunk(t *testing.T) {
	n := 0
	c := classify.Func(func(_ context.Context, seg audio.Segment) (audio.Verdict, error) {
		n++
		if seg.Frames() != testRate {
			t.Errorf("expected %d frames, got %d", testRate, seg.Frames())
		}
		return audio.NotAd, nil
	})
	vol := &recordingVolume{}
	p := newTestProcessor(c, vol, &eventLog{})

	p.Process(testChunk(0, 1))
	if n != 1 {
		t.Errorf("expected one classifier call, got %d", n)
	}
	if got := vol.Calls(); !reflect.DeepEqual(got, []string{"unmute"}) {
		t.Errorf("expected unmute, got %v", got)
	}
}

func TestProcessorFailsOpen(t *testing.T) {
	tests := []struct {
		name       string
		classifier classify.Classifier
	}{
		{
			name: "error",
			classifier: classify.Func(func(context.Context, audio.Segment) (audio.Verdict, error) {
				return audio.Ad, errors.New("model crashed")
			}),
		},
		{
			name: "panic",
			classifier: classify.Func(func(context.Context, audio.Segment) (audio.Verdict, error) {
				panic("boom")
			}),
		},
		{
			name: "timeout",
			classifier: classify.Func(func(ctx context.Context, _ audio.Segment) (audio.Verdict, error) {
				<-ctx.Done()
				return audio.Ad, ctx.Err()
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vol := &recordingVolume{}
			events := &eventLog{}
			p := NewProcessor(ProcessorConfig{
				Segment:         time.Second,
				ClassifyTimeout: 20 * time.Millisecond,
				Session:         "test",
			}, tt.classifier, vol, zerolog.Nop(), observe.NopMetrics(), events.emit)

			for i := uint64(0); i < 3; i++ {
				if v := p.Process(testChunk(i, 2)); v != audio.NotAd {
					t.Errorf("chunk %d: expected content, got %s", i, v)
				}
			}
			want := []string{"unmute", "unmute", "unmute"}
			if got := vol.Calls(); !reflect.DeepEqual(got, want) {
				t.Errorf("expected %v, got %v", want, got)
			}
			if n := events.count(ClassificationError); n != 6 {
				t.Errorf("expected 6 classification errors, got %d", n)
			}
		})
	}
}

func TestProcessorVolumeErrorContinues(t *testing.T) {
	vol := &recordingVolume{err: errors.New("amixer: no such control")}
	events := &eventLog{}
	p := newTestProcessor(adOnChunks(0), vol, events)

	ch := NewChannel(4, 0, observe.NopMetrics())
	_ = ch.Push(testChunk(0, 1))
	_ = ch.Push(testChunk(1, 1))
	ch.Close()
	p.Run(ch)

	if got := vol.Calls(); !reflect.DeepEqual(got, []string{"mute", "unmute"}) {
		t.Errorf("expected both chunks acted on, got %v", got)
	}
	if n := events.count(VolumeError); n != 2 {
		t.Errorf("expected 2 volume errors, got %d", n)
	}
	if n := events.count(ChunkProcessed); n != 2 {
		t.Errorf("expected 2 processed chunks, got %d", n)
	}
	if n := events.count(MuteStateChanged); n != 0 {
		t.Errorf("state must not change on failure, got %d changes", n)
	}
}

func TestProcessorChunkShorterThanSegment(t *testing.T) {
	called := false
	c := classify.Func(func(context.Context, audio.Segment) (audio.Verdict, error) {
		called = true
		return audio.Ad, nil
	})
	vol := &recordingVolume{}
	p := NewProcessor(ProcessorConfig{Segment: 5 * time.Second}, c, vol, zerolog.Nop(), observe.NopMetrics(), nil)

	if v := p.Process(testChunk(0, 2)); v != audio.NotAd {
		t.Errorf("expected content, got %s", v)
	}
	if called {
		t.Error("classifier must not see a chunk shorter than one segment")
	}
	if got := vol.Calls(); !reflect.DeepEqual(got, []string{"unmute"}) {
		t.Errorf("expected unmute, got %v", got)
	}
}

func TestProcessorRunWaitsForClose(t *testing.T) {
	vol := &recordingVolume{}
	p := newTestProcessor(adOnChunks(), vol, &eventLog{})
	ch := NewChannel(2, 0, observe.NopMetrics())

	done := make(chan struct{})
	go func() {
		p.Run(ch)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Run returned before the channel was closed")
	case <-time.After(50 * time.Millisecond):
	}

	_ = ch.Push(testChunk(0, 1))
	ch.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after close")
	}
	if len(vol.Calls()) != 1 {
		t.Errorf("expected the late chunk to be processed, got %v", vol.Calls())
	}
}
