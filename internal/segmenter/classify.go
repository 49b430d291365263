package segmenter

import (
	"context"
	"time"

	"github.com/MrWong99/moodsense/internal/observe"
	"github.com/MrWong99/moodsense/pkg/classifier"
	"github.com/MrWong99/moodsense/pkg/emotion"
)

// Sink receives audio observations.
type Sink func(ctx context.Context, obs emotion.Observation)

// HandlerOption configures [ClassifyHandler].
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	now func() time.Time
}

// HandlerClock replaces time.Now for observation timestamps.
func HandlerClock(now func() time.Time) HandlerOption {
	return func(c *handlerConfig) { c.now = now }
}

// ClassifyHandler returns a [ChunkHandler] that classifies each chunk with c
// and forwards the label to sink as a [emotion.SourceAudio] observation.
// Failed classifications are logged and dropped. m may be nil.
func ClassifyHandler(c classifier.Classifier, sink Sink, m *observe.Metrics, opts ...HandlerOption) ChunkHandler {
	cfg := handlerConfig{now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	return func(ctx context.Context, path string) {
		ctx, call := observe.StartClassification(ctx, m, "audio")
		label, err := c.ClassifyAudio(ctx, path)
		call.End(label, err)
		if err != nil {
			observe.Logger(ctx).Warn("audio classification failed", "path", path, "err", err)
			return
		}
		observe.Logger(ctx).Debug("audio classified", "path", path, "label", label)
		sink(ctx, emotion.New(emotion.SourceAudio, label, cfg.now()))
	}
}
