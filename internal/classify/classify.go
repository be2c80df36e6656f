// Package classify defines the boundary to the ad/content model.
package classify

import (
	"context"

	"github.com/petems/admute/internal/audio"
)

// Classifier labels one segment. Implementations are called from a single
// goroutine per pipeline but may be shared with offline runs, so they should
// be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, seg audio.Segment) (audio.Verdict, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, seg audio.Segment) (audio.Verdict, error)

func (f Func) Classify(ctx context.Context, seg audio.Segment) (audio.Verdict, error) {
	return f(ctx, seg)
}
