// Package mock provides a test double for [classifier.Classifier].
//
// Set the Label and Err fields before use; read the call records afterwards.
//
//	c := &mock.Classifier{TextLabel: "Happy"}
//	label, _ := c.ClassifyText(ctx, "title", "digest")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/moodsense/pkg/classifier"
)

var _ classifier.Classifier = (*Classifier)(nil)

// TextCall records one ClassifyText invocation.
type TextCall struct {
	Title  string
	Digest string
}

// Classifier is a mock [classifier.Classifier]. It is safe for concurrent use.
type Classifier struct {
	mu sync.Mutex

	ImageLabel string
	AudioLabel string
	TextLabel  string

	ImageErr error
	AudioErr error
	TextErr  error

	// Block, if non-nil, is received from before every call returns. Tests use
	// it to hold calls in flight.
	Block chan struct{}

	// Done, if non-nil, receives one value after every call completes.
	Done chan struct{}

	ImageCalls [][]byte
	AudioCalls []string
	TextCalls  []TextCall
}

// ClassifyImage implements [classifier.Classifier].
func (c *Classifier) ClassifyImage(ctx context.Context, image []byte) (string, error) {
	c.mu.Lock()
	c.ImageCalls = append(c.ImageCalls, append([]byte(nil), image...))
	label, err := c.ImageLabel, c.ImageErr
	c.mu.Unlock()
	return c.finish(ctx, label, err)
}

// ClassifyAudio implements [classifier.Classifier].
func (c *Classifier) ClassifyAudio(ctx context.Context, wavPath string) (string, error) {
	c.mu.Lock()
	c.AudioCalls = append(c.AudioCalls, wavPath)
	label, err := c.AudioLabel, c.AudioErr
	c.mu.Unlock()
	return c.finish(ctx, label, err)
}

// ClassifyText implements [classifier.Classifier].
func (c *Classifier) ClassifyText(ctx context.Context, title, digest string) (string, error) {
	c.mu.Lock()
	c.TextCalls = append(c.TextCalls, TextCall{Title: title, Digest: digest})
	label, err := c.TextLabel, c.TextErr
	c.mu.Unlock()
	return c.finish(ctx, label, err)
}

func (c *Classifier) finish(ctx context.Context, label string, err error) (string, error) {
	if c.Block != nil {
		select {
		case <-c.Block:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if c.Done != nil {
		defer func() { c.Done <- struct{}{} }()
	}
	return label, err
}

// AudioCallCount returns the number of ClassifyAudio calls so far.
func (c *Classifier) AudioCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.AudioCalls)
}

// TextCallsSnapshot returns a copy of the recorded ClassifyText calls.
func (c *Classifier) TextCallsSnapshot() []TextCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TextCall(nil), c.TextCalls...)
}

// ImageCallCount returns the number of ClassifyImage calls so far.
func (c *Classifier) ImageCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ImageCalls)
}

// Reset clears call records.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ImageCalls, c.AudioCalls, c.TextCalls = nil, nil, nil
}
