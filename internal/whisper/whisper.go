// Package whisper classifies audio segments by transcribing them with
// whisper.cpp and looking for spoken ad phrases in the text.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog"

	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/config"
)

// whisper.cpp expects 16 kHz mono float32 input.
const sampleRate = 16000

type transcribeFunc func(samples []float32) (string, error)

// ErrBusy is returned while an earlier inference, abandoned by its caller,
// is still running.
var ErrBusy = errors.New("whisper: previous inference still running")

// Classifier labels a segment as an ad when its transcript contains one of
// the configured phrases. Safe for concurrent use.
type Classifier struct {
	matcher    *Matcher
	transcribe transcribeFunc
	log        zerolog.Logger

	// busy holds a token while an inference runs; at most one runs at a
	// time, even after callers give up on it.
	busy chan struct{}

	mu     sync.RWMutex
	model  whisper.Model
	closed bool
}

// New loads the configured model, downloading it into the models directory
// on first use.
func New(ctx context.Context, cfg config.ClassifierConfig, log zerolog.Logger) (*Classifier, error) {
	modelPath := ModelPath(cfg.Model)

	if _, err := os.Stat(modelPath); errors.Is(err, os.ErrNotExist) {
		if err := downloadModel(ctx, cfg.Model, modelPath, log); err != nil {
			return nil, fmt.Errorf("failed to download model: %w", err)
		}
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	c := newClassifier(NewMatcher(cfg.Keywords, cfg.Threshold), nil, log)
	c.model = model
	c.transcribe = func(samples []float32) (string, error) {
		return c.infer(samples, cfg.Language, cfg.Threads)
	}
	log.Info().Str("model", cfg.Model).Int("phrases", len(c.matcher.phrases)).Msg("Classifier ready")
	return c, nil
}

func newClassifier(m *Matcher, transcribe transcribeFunc, log zerolog.Logger) *Classifier {
	return &Classifier{
		matcher:    m,
		transcribe: transcribe,
		log:        log.With().Str("component", "classifier").Logger(),
		busy:       make(chan struct{}, 1),
	}
}

// ModelPath returns where the named model is stored.
func ModelPath(model string) string {
	return filepath.Join(config.ModelsPath(), model+".bin")
}

// Classify transcribes seg and matches the text against the ad phrases.
// Inference cannot be interrupted; when ctx ends first the call returns
// ctx.Err() and the result is discarded. Until that inference finishes,
// later calls return ErrBusy without starting another.
func (c *Classifier) Classify(ctx context.Context, seg audio.Segment) (audio.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return audio.NotAd, err
	}

	samples := audio.MonoFloat32(seg, sampleRate)
	if len(samples) == 0 {
		return audio.NotAd, nil
	}

	type result struct {
		text string
		err  error
	}
	select {
	case c.busy <- struct{}{}:
	default:
		return audio.NotAd, ErrBusy
	}

	done := make(chan result, 1)
	go func() {
		defer func() { <-c.busy }()
		text, err := c.transcribe(samples)
		done <- result{text, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return audio.NotAd, ctx.Err()
	}
	if res.err != nil {
		return audio.NotAd, res.err
	}

	phrase, score, ok := c.matcher.Match(res.text)
	c.log.Debug().
		Uint64("seq", seg.ChunkSeq).
		Int("segment", seg.Index).
		Str("text", res.text).
		Msg("Segment transcribed")
	if !ok {
		return audio.NotAd, nil
	}
	c.log.Info().
		Uint64("seq", seg.ChunkSeq).
		Int("segment", seg.Index).
		Str("phrase", phrase).
		Float64("score", score).
		Msg("Ad phrase matched")
	return audio.Ad, nil
}

// infer runs whisper.cpp on one buffer with a fresh context. Contexts are
// not thread-safe, the model is.
func (c *Classifier) infer(samples []float32, language string, threads int) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", errors.New("whisper: classifier closed")
	}

	wctx, err := c.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if threads > 0 {
		wctx.SetThreads(uint(threads))
	}
	if language != "" && language != "auto" {
		if err := wctx.SetLanguage(language); err != nil {
			c.log.Warn().Err(err).Str("language", language).Msg("Failed to set language, using default")
		}
	}
	wctx.SetTranslate(false)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the model. In-flight inferences finish first.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model != nil && !c.closed {
		c.closed = true
		return c.model.Close()
	}
	return nil
}
