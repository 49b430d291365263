// Package llm implements a text-only [classifier.Classifier] on top of a chat
// completion model. The model is asked for exactly one of the canonical labels
// and its answer is snapped onto the label set with [emotion.Canonicalize].
//
// Two transports are available: the OpenAI SDK ([NewOpenAI]) and any-llm-go
// ([NewAnyLLM]), which covers Anthropic, Gemini, Ollama, Mistral and others.
// Image and audio classification return [classifier.ErrUnsupported].
package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/moodsense/pkg/classifier"
	"github.com/MrWong99/moodsense/pkg/emotion"
)

var _ classifier.Classifier = (*Classifier)(nil)

// maxPromptRunes bounds the digest forwarded to the model.
const maxPromptRunes = 2000

var systemPrompt = "You classify the emotional tone of web pages a person is reading. " +
	"Reply with exactly one word from this list and nothing else: " +
	strings.Join(emotion.Labels, ", ") + "."

// completer sends one system+user exchange and returns the reply text.
type completer interface {
	complete(ctx context.Context, system, user string) (string, error)
}

// Classifier classifies text through an LLM backend.
type Classifier struct {
	name    string
	backend completer
}

// Name returns the backend identifier, e.g. "openai" or "anyllm:ollama".
func (c *Classifier) Name() string { return c.name }

// ClassifyText implements [classifier.Classifier].
func (c *Classifier) ClassifyText(ctx context.Context, title, digest string) (string, error) {
	reply, err := c.backend.complete(ctx, systemPrompt, userPrompt(title, digest))
	if err != nil {
		return "", fmt.Errorf("llm classifier %s: %w", c.name, err)
	}
	return emotion.Canonicalize(firstWord(reply)), nil
}

// ClassifyImage implements [classifier.Classifier].
func (c *Classifier) ClassifyImage(context.Context, []byte) (string, error) {
	return "", classifier.ErrUnsupported
}

// ClassifyAudio implements [classifier.Classifier].
func (c *Classifier) ClassifyAudio(context.Context, string) (string, error) {
	return "", classifier.ErrUnsupported
}

func userPrompt(title, digest string) string {
	if utf8.RuneCountInString(digest) > maxPromptRunes {
		digest = string([]rune(digest)[:maxPromptRunes])
	}
	return "Title: " + title + "\n\nContent: " + digest
}

// firstWord returns the first whitespace-separated token of s.
func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
