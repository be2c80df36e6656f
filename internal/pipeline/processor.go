package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/classify"
	"github.com/petems/admute/internal/observe"
	"github.com/petems/admute/internal/volume"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Processor is the consuming stage: it classifies chunks in capture order
// and issues exactly one volume instruction per chunk. It is the only
// writer to its volume controller.
type Processor struct {
	classifier      classify.Classifier
	volume          volume.Controller
	segment         time.Duration
	tail            audio.TailPolicy
	classifyTimeout time.Duration
	pollInterval    time.Duration

	session string
	log     zerolog.Logger
	metrics *observe.Metrics
	emit    func(Event)

	lastState volume.MuteState
}

// ProcessorConfig carries the per-session settings of a Processor.
type ProcessorConfig struct {
	Segment         time.Duration
	Tail            audio.TailPolicy
	ClassifyTimeout time.Duration
	PollInterval    time.Duration
	Session         string
}

func NewProcessor(cfg ProcessorConfig, c classify.Classifier, v volume.Controller, log zerolog.Logger, metrics *observe.Metrics, emit func(Event)) *Processor {
	if emit == nil {
		emit = func(Event) {}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Processor{
		classifier:      c,
		volume:          v,
		segment:         cfg.Segment,
		tail:            cfg.Tail,
		classifyTimeout: cfg.ClassifyTimeout,
		pollInterval:    cfg.PollInterval,
		session:         cfg.Session,
		log:             log.With().Str("component", "processing").Logger(),
		metrics:         metrics,
		emit:            emit,
		lastState:       v.State(),
	}
}

// Run consumes ch until the producer has closed it and every queued chunk
// has been handled. The close is the only exit signal: the capturer closes
// ch once it sees the stop flag, so a chunk it completes after stop is
// still processed.
func (p *Processor) Run(ch *Channel) {
	p.log.Info().Msg("Processing started")
	var handled uint64
	for {
		chunk, err := ch.Pop(p.pollInterval)
		switch {
		case err == nil:
			p.Process(chunk)
			handled++
		case errors.Is(err, ErrChannelClosed):
			p.log.Info().Uint64("chunks", handled).Msg("Processing finished")
			return
		case errors.Is(err, ErrPopTimeout):
			// idle, keep waiting for capture
		}
	}
}

// Process classifies one chunk and applies the resulting volume
// instruction. Returns the chunk verdict.
func (p *Processor) Process(chunk audio.Chunk) audio.Verdict {
	ctx, span := observe.StartChunkSpan(context.Background(), p.session, chunk.Seq)
	defer span.End()

	log := p.log.With().Uint64("seq", chunk.Seq).Logger()

	segments := audio.Split(chunk, p.segment, p.tail)
	if len(segments) == 0 {
		log.Warn().
			Dur("chunk", chunk.Length()).
			Dur("segment", p.segment).
			Msg("Chunk shorter than one segment, nothing to classify")
	}

	verdict := audio.NotAd
	classified := 0
	for _, seg := range segments {
		classified++
		if p.classify(ctx, log, seg) == audio.Ad {
			verdict = audio.Ad
			break
		}
	}
	span.SetAttributes(
		attribute.String("verdict", verdict.String()),
		attribute.Int("segments", classified),
	)

	if err := p.apply(verdict); err != nil {
		span.SetStatus(codes.Error, err.Error())
		p.metrics.VolumeErrors.Add(ctx, 1)
		p.emit(Event{Kind: VolumeError, Session: p.session, Seq: chunk.Seq, Message: err.Error()})
		log.Error().Err(err).Str("verdict", verdict.String()).Msg("Volume instruction failed, audio state unchanged")
	}

	p.metrics.RecordChunk(ctx, verdict)
	p.emit(Event{Kind: ChunkProcessed, Session: p.session, Seq: chunk.Seq, Verdict: verdict})

	if verdict == audio.Ad {
		log.Info().Int("segments", classified).Msg("Ad detected")
	} else {
		log.Debug().Int("segments", classified).Msg("No ad detected")
	}
	return verdict
}

// classify runs the classifier on one segment. Any failure, including a
// panic inside the classifier, counts as content.
func (p *Processor) classify(ctx context.Context, log zerolog.Logger, seg audio.Segment) (v audio.Verdict) {
	if p.classifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.classifyTimeout)
		defer cancel()
	}

	start := time.Now()
	v, err := p.safeClassify(ctx, seg)
	p.metrics.ClassifyDuration.Record(ctx, time.Since(start).Seconds())
	p.metrics.SegmentsClassified.Add(ctx, 1)

	if err != nil {
		p.metrics.ClassifyErrors.Add(ctx, 1)
		p.emit(Event{Kind: ClassificationError, Session: p.session, Seq: seg.ChunkSeq, Message: err.Error()})
		log.Warn().Err(err).Int("segment", seg.Index).Msg("Classification failed, treating segment as content")
		return audio.NotAd
	}
	return v
}

func (p *Processor) safeClassify(ctx context.Context, seg audio.Segment) (v audio.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = audio.NotAd, fmt.Errorf("classifier panic: %v", r)
		}
	}()
	return p.classifier.Classify(ctx, seg)
}

func (p *Processor) apply(verdict audio.Verdict) error {
	var err error
	if verdict == audio.Ad {
		err = p.volume.Mute()
	} else {
		err = p.volume.Unmute()
	}
	if err != nil {
		return err
	}

	if state := p.volume.State(); state != p.lastState {
		p.lastState = state
		p.metrics.RecordMuteChange(context.Background(), state.String())
		p.emit(Event{Kind: MuteStateChanged, Session: p.session, State: state})
		p.log.Info().Str("state", state.String()).Msg("Output mute state changed")
	}
	return nil
}
