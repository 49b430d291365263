package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

type anyllmBackend struct {
	provider anyllmlib.Provider
	model    string
}

// NewAnyLLM returns a Classifier backed by any-llm-go. provider is one of
// openai, anthropic, gemini, ollama, deepseek, mistral or groq. Without an
// explicit API key option the provider's usual environment variable is used.
func NewAnyLLM(provider, model string, opts ...anyllmlib.Option) (*Classifier, error) {
	if model == "" {
		return nil, errors.New("llm classifier: model must not be empty")
	}
	p, err := createProvider(provider, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm classifier: create %q backend: %w", provider, err)
	}
	return &Classifier{
		name:    "anyllm:" + strings.ToLower(provider),
		backend: &anyllmBackend{provider: p, model: model},
	}, nil
}

func createProvider(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q", name)
	}
}

func (b *anyllmBackend) complete(ctx context.Context, system, user string) (string, error) {
	temp := 0.0
	maxTokens := 8
	resp, err := b.provider.Completion(ctx, anyllmlib.CompletionParams{
		Model: b.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: system},
			{Role: anyllmlib.RoleUser, Content: user},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}
