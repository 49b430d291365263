// Package classifier defines the emotion classification boundary. The
// inference itself runs in external services; this package only fixes the
// contract every backend implements.
//
// Image and audio classifiers return one of [emotion.Labels] (or a sentinel
// such as [emotion.Unknown]); the text path is open vocabulary.
package classifier

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by a backend for a signal kind it cannot
// classify (e.g. an LLM backend asked for audio).
var ErrUnsupported = errors.New("classifier: signal kind not supported")

// Classifier turns one captured signal into an emotion label.
//
// Implementations must be safe for concurrent use; callers submit work from
// many goroutines without waiting for earlier calls to finish.
type Classifier interface {
	// ClassifyImage classifies an encoded camera frame (JPEG or PNG).
	ClassifyImage(ctx context.Context, image []byte) (string, error)

	// ClassifyAudio classifies a finalised WAV clip on disk.
	ClassifyAudio(ctx context.Context, wavPath string) (string, error)

	// ClassifyText classifies a page title plus content digest.
	ClassifyText(ctx context.Context, title, digest string) (string, error)
}
