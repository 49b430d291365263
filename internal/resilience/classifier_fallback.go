package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/moodsense/pkg/classifier"
)

var _ classifier.Classifier = (*ClassifierFallback)(nil)

// ClassifierFallback implements [classifier.Classifier] with failover across
// several backends. Each modality keeps its own [FallbackGroup], so a backend
// that only classifies text never affects the breakers guarding audio or
// images. Backends returning [classifier.ErrUnsupported] are passed over.
type ClassifierFallback struct {
	image *FallbackGroup[classifier.Classifier]
	audio *FallbackGroup[classifier.Classifier]
	text  *FallbackGroup[classifier.Classifier]
}

// NewClassifierFallback creates a [ClassifierFallback] with primary as the
// preferred backend.
func NewClassifierFallback(primary classifier.Classifier, primaryName string, cfg FallbackConfig) *ClassifierFallback {
	cfg.Skip = func(err error) bool { return errors.Is(err, classifier.ErrUnsupported) }
	return &ClassifierFallback{
		image: NewFallbackGroup(primary, primaryName, cfg),
		audio: NewFallbackGroup(primary, primaryName, cfg),
		text:  NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers another backend after those already added.
func (f *ClassifierFallback) AddFallback(name string, c classifier.Classifier) {
	f.image.AddFallback(name, c)
	f.audio.AddFallback(name, c)
	f.text.AddFallback(name, c)
}

// Backends returns backend names in try order.
func (f *ClassifierFallback) Backends() []string { return f.text.Names() }

// States returns the breaker states keyed by modality and backend name.
func (f *ClassifierFallback) States() map[string]map[string]State {
	return map[string]map[string]State{
		"image": f.image.States(),
		"audio": f.audio.States(),
		"text":  f.text.States(),
	}
}

// ClassifyImage implements [classifier.Classifier].
func (f *ClassifierFallback) ClassifyImage(ctx context.Context, image []byte) (string, error) {
	return ExecuteWithResult(f.image, func(c classifier.Classifier) (string, error) {
		return c.ClassifyImage(ctx, image)
	})
}

// ClassifyAudio implements [classifier.Classifier].
func (f *ClassifierFallback) ClassifyAudio(ctx context.Context, wavPath string) (string, error) {
	return ExecuteWithResult(f.audio, func(c classifier.Classifier) (string, error) {
		return c.ClassifyAudio(ctx, wavPath)
	})
}

// ClassifyText implements [classifier.Classifier].
func (f *ClassifierFallback) ClassifyText(ctx context.Context, title, digest string) (string, error) {
	return ExecuteWithResult(f.text, func(c classifier.Classifier) (string, error) {
		return c.ClassifyText(ctx, title, digest)
	})
}
