package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// openaiConfig holds optional settings for [NewOpenAI].
type openaiConfig struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for [NewOpenAI].
type Option func(*openaiConfig)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *openaiConfig) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *openaiConfig) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries failed requests. Default 2.
func WithMaxRetries(n int) Option {
	return func(c *openaiConfig) { c.maxRetries = n }
}

type openaiBackend struct {
	client oai.Client
	model  string
}

// NewOpenAI returns a Classifier using the OpenAI chat completions API.
func NewOpenAI(apiKey, model string, opts ...Option) (*Classifier, error) {
	if apiKey == "" {
		return nil, errors.New("llm classifier: openai apiKey must not be empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	cfg := &openaiConfig{maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Classifier{
		name:    "openai",
		backend: &openaiBackend{client: oai.NewClient(reqOpts...), model: model},
	}, nil
}

func (b *openaiBackend) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(b.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
		Temperature:         param.NewOpt(0.0),
		MaxCompletionTokens: param.NewOpt(int64(8)),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
